// Package commerce is a narrow client for the commerce platform REST API:
// asset cancellation, the current user and the asset list.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/moroshma/AssetRelay/pkg/logger"
)

var (
	// ErrUnauthorized means the access token was rejected
	ErrUnauthorized = errors.New("access token rejected")

	// ErrMissingRequestID means the platform accepted a cancellation
	// without returning a request id to correlate on
	ErrMissingRequestID = errors.New("response did not contain a request id")
)

// APIError is a non-success response from the platform
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("commerce api: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("commerce api: %d: %s", e.StatusCode, e.Message)
}

// Is reports a 401 as ErrUnauthorized
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Config represents commerce client configuration
type Config struct {
	InstanceURL string
	AccessToken string
	APIVersion  string
	Timeout     time.Duration

	// HTTPClient overrides the pooled client, mainly for tests
	HTTPClient *http.Client
}

// Client calls the platform REST API with a bearer token
type Client struct {
	instanceURL string
	dataURL     string
	token       string
	http        *http.Client
	logger      *logger.Logger
}

// NewClient creates a new commerce client
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.InstanceURL == "" {
		return nil, fmt.Errorf("instance url cannot be empty")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token cannot be empty")
	}
	if cfg.APIVersion == "" {
		return nil, fmt.Errorf("api version cannot be empty")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
		if cfg.Timeout > 0 {
			httpClient.Timeout = cfg.Timeout
		}
	}

	instance := strings.TrimRight(cfg.InstanceURL, "/")
	return &Client{
		instanceURL: instance,
		dataURL:     fmt.Sprintf("%s/services/data/v%s", instance, strings.TrimPrefix(cfg.APIVersion, "v")),
		token:       cfg.AccessToken,
		http:        httpClient,
		logger:      log,
	}, nil
}

// do sends a request and decodes a JSON response into out (if non-nil)
func (c *Client) do(ctx context.Context, method, rawURL string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("Commerce API call",
		logger.String("method", method),
		logger.String("path", req.URL.Path),
		logger.Int("status", resp.StatusCode),
		logger.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseAPIError reads either an error array or a single error object
func parseAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}

	type platformError struct {
		ErrorCode        string `json:"errorCode"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}

	var list []platformError
	var single platformError
	switch {
	case json.Unmarshal(body, &list) == nil && len(list) > 0:
		apiErr.Code, apiErr.Message = list[0].ErrorCode, list[0].Message
	case json.Unmarshal(body, &single) == nil && (single.ErrorCode != "" || single.Error != ""):
		apiErr.Code, apiErr.Message = single.ErrorCode, single.Message
		if apiErr.Code == "" {
			apiErr.Code, apiErr.Message = single.Error, single.ErrorDescription
		}
	default:
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
	}
	return apiErr
}

// queryResult is one page of a SOQL query
type queryResult struct {
	TotalSize      int               `json:"totalSize"`
	Done           bool              `json:"done"`
	NextRecordsURL string            `json:"nextRecordsUrl"`
	Records        []json.RawMessage `json:"records"`
}

// QueryAll runs a SOQL query, including deleted and archived rows, and
// follows pagination until every record is read
func (c *Client) QueryAll(ctx context.Context, soql string) ([]json.RawMessage, error) {
	next := c.dataURL + "/queryAll/?q=" + url.QueryEscape(soql)
	var records []json.RawMessage

	for next != "" {
		var page queryResult
		if err := c.do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		records = append(records, page.Records...)

		next = ""
		if !page.Done && page.NextRecordsURL != "" {
			next = c.instanceURL + page.NextRecordsURL
		}
	}
	return records, nil
}

// quote renders s as a SOQL string literal
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}
