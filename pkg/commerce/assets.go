package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const displayDateLayout = "Jan 02, 2006"

// Selling model types
const (
	SellingModelOneTime     = "OneTime"
	SellingModelEvergreen   = "Evergreen"
	SellingModelTermDefined = "TermDefined"
)

// Asset statuses derived for display
const (
	StatusActive    = "Active"
	StatusCancelled = "Cancelled"
)

// UserInfo is the subset of the OpenID userinfo response used here
type UserInfo struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Username       string `json:"preferred_username"`
	Email          string `json:"email"`
}

// SellingModel describes how an asset's product is sold
type SellingModel struct {
	Name             string `json:"Name"`
	PricingTerm      int    `json:"PricingTerm"`
	PricingTermUnit  string `json:"PricingTermUnit"`
	SellingModelType string `json:"SellingModelType"`
}

// Asset is one owned product with derived display fields
type Asset struct {
	ID                 string        `json:"Id"`
	Name               string        `json:"Name"`
	Price              float64       `json:"Price"`
	Product2ID         string        `json:"Product2Id"`
	CurrentQuantity    float64       `json:"CurrentQuantity"`
	LifecycleStartDate string        `json:"LifecycleStartDate"`
	LifecycleEndDate   string        `json:"LifecycleEndDate"`
	SellingModel       *SellingModel `json:"-"`
	Status             string        `json:"-"`
	Period             string        `json:"-"`
	NextBillingDate    string        `json:"-"`
}

// UserInfo returns the user that owns the access token
func (c *Client) UserInfo(ctx context.Context) (*UserInfo, error) {
	var info UserInfo
	if err := c.do(ctx, http.MethodGet, c.instanceURL+"/services/oauth2/userinfo", nil, &info); err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	if info.UserID == "" {
		return nil, fmt.Errorf("user info did not contain a user id")
	}
	return &info, nil
}

// ListAssets returns the assets created by userID, newest first. When
// pricebookID is set only assets with an active USD entry in that price
// book are listed, enriched with their selling model and billing date.
func (c *Client) ListAssets(ctx context.Context, userID, pricebookID string) ([]Asset, error) {
	soql := "SELECT Id, Name, Price, Product2Id, PurchaseDate, CurrentQuantity, LifecycleStartDate, LifecycleEndDate " +
		"FROM Asset WHERE CreatedById = " + quote(userID) + " ORDER BY LifecycleStartDate DESC"

	records, err := c.QueryAll(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}

	assets := make([]Asset, 0, len(records))
	for _, r := range records {
		var a Asset
		if err := json.Unmarshal(r, &a); err != nil {
			return nil, fmt.Errorf("failed to decode asset: %w", err)
		}
		assets = append(assets, a)
	}

	if pricebookID == "" {
		for i := range assets {
			assets[i].Status = deriveStatus(&assets[i])
			assets[i].Period = formatPeriod(&assets[i])
		}
		return assets, nil
	}

	models, err := c.sellingModels(ctx, pricebookID)
	if err != nil {
		return nil, err
	}

	listed := assets[:0]
	for _, a := range assets {
		model, ok := models[a.Product2ID]
		if !ok {
			continue
		}
		a.SellingModel = model
		a.Status = deriveStatus(&a)
		a.Period = formatPeriod(&a)
		listed = append(listed, a)
	}

	if err := c.fillNextBillingDates(ctx, listed); err != nil {
		return nil, err
	}
	return listed, nil
}

// sellingModels maps product ids to the selling model of their price book entry
func (c *Client) sellingModels(ctx context.Context, pricebookID string) (map[string]*SellingModel, error) {
	soql := "SELECT Id, Name, Product2Id, ProductSellingModelId, ProductSellingModel.Name, " +
		"ProductSellingModel.PricingTerm, ProductSellingModel.PricingTermUnit, ProductSellingModel.SellingModelType " +
		"FROM PricebookEntry WHERE Pricebook2Id = " + quote(pricebookID) +
		" AND IsActive = true AND CurrencyIsoCode = 'USD'"

	records, err := c.QueryAll(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("failed to query price book entries: %w", err)
	}

	models := make(map[string]*SellingModel, len(records))
	for _, r := range records {
		var entry struct {
			Product2ID          string        `json:"Product2Id"`
			ProductSellingModel *SellingModel `json:"ProductSellingModel"`
		}
		if err := json.Unmarshal(r, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode price book entry: %w", err)
		}
		if entry.ProductSellingModel == nil {
			entry.ProductSellingModel = &SellingModel{}
		}
		models[entry.Product2ID] = entry.ProductSellingModel
	}
	return models, nil
}

func (c *Client) fillNextBillingDates(ctx context.Context, assets []Asset) error {
	if len(assets) == 0 {
		return nil
	}

	ids := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = quote(a.ID)
		assets[i].NextBillingDate = "N/A"
	}

	soql := "SELECT Id, ReferenceEntity.Id, EffectiveNextBillingDate FROM BillingScheduleGroup " +
		"WHERE ReferenceEntity.Id IN (" + strings.Join(ids, ", ") + ")"

	records, err := c.QueryAll(ctx, soql)
	if err != nil {
		return fmt.Errorf("failed to query billing schedules: %w", err)
	}

	byID := make(map[string]*Asset, len(assets))
	for i := range assets {
		byID[assets[i].ID] = &assets[i]
	}
	for _, r := range records {
		var group struct {
			ReferenceEntity struct {
				ID string `json:"Id"`
			} `json:"ReferenceEntity"`
			EffectiveNextBillingDate string `json:"EffectiveNextBillingDate"`
		}
		if err := json.Unmarshal(r, &group); err != nil {
			return fmt.Errorf("failed to decode billing schedule: %w", err)
		}
		if a, ok := byID[group.ReferenceEntity.ID]; ok && group.EffectiveNextBillingDate != "" {
			a.NextBillingDate = formatDate(group.EffectiveNextBillingDate)
		}
	}
	return nil
}

// deriveStatus marks evergreen assets with an end date as cancelled
func deriveStatus(a *Asset) string {
	if a.LifecycleEndDate != "" && a.SellingModel != nil && a.SellingModel.SellingModelType == SellingModelEvergreen {
		return StatusCancelled
	}
	return StatusActive
}

func formatPeriod(a *Asset) string {
	period := formatDate(a.LifecycleStartDate) + " - "
	if a.LifecycleEndDate != "" {
		period += formatDate(a.LifecycleEndDate)
	}
	return period
}

// formatDate renders platform date or datetime strings for display
func formatDate(s string) string {
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(displayDateLayout)
		}
	}
	return s
}
