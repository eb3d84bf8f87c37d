package commerce

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/moroshma/AssetRelay/pkg/logger"
)

// OutputTypeOrder asks the platform to produce a cancellation order
const OutputTypeOrder = "Order"

const cancellationDateLayout = "2006-01-02T15:04:05.000Z"

// CancellationRequest is the initiate-cancellation body
type CancellationRequest struct {
	AssetIDs               []string `json:"assetIds"`
	CancellationDate       string   `json:"cancellationDate"`
	CancellationOutputType string   `json:"cancellationOutputType"`
}

type cancellationResponse struct {
	RequestID string `json:"requestId"`
}

// CancellationDate turns the chosen calendar day into the effective
// timestamp: the day's 23:59:59 UTC, moved forward one day.
func CancellationDate(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC).AddDate(0, 0, 1)
}

// FormatCancellationDate renders t the way the platform expects
func FormatCancellationDate(t time.Time) string {
	return t.UTC().Format(cancellationDateLayout)
}

// InitiateCancellation submits a cancellation for one asset and returns
// the request id. The id only proves the request was accepted; the
// outcome arrives later as a platform event carrying the same id.
func (c *Client) InitiateCancellation(ctx context.Context, assetID string, day time.Time) (string, error) {
	if assetID == "" {
		return "", fmt.Errorf("asset id cannot be empty")
	}

	body := CancellationRequest{
		AssetIDs:               []string{assetID},
		CancellationDate:       FormatCancellationDate(CancellationDate(day)),
		CancellationOutputType: OutputTypeOrder,
	}

	var resp cancellationResponse
	endpoint := c.dataURL + "/asset-management/assets/collection/actions/initiate-cancellation"
	if err := c.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return "", fmt.Errorf("failed to initiate cancellation: %w", err)
	}
	if resp.RequestID == "" {
		return "", ErrMissingRequestID
	}

	c.logger.Info("Cancellation accepted",
		logger.String("asset_id", assetID),
		logger.String("request_id", resp.RequestID),
		logger.String("cancellation_date", body.CancellationDate),
	)
	return resp.RequestID, nil
}
