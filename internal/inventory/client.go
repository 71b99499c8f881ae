// Package inventory exposes the read-only stock lookup the validator needs.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Level is the stock position of one variant at one location.
type Level struct {
	LocationID string `json:"location_id"`
	Stocked    int64  `json:"stocked_quantity"`
	Reserved   int64  `json:"reserved_quantity"`
}

// Available sums sellable stock across locations as Σ max(0, stocked−reserved).
func Available(levels []Level) int64 {
	var total int64
	for _, l := range levels {
		if d := l.Stocked - l.Reserved; d > 0 {
			total += d
		}
	}
	return total
}

// Variant is the subset of catalog data the modification saga needs to
// price a newly added line item.
type Variant struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	UnitPrice        int64  `json:"unit_price"`
	UnitPriceInclTax int64  `json:"unit_price_incl_tax"`
}

// Client queries the inventory service for variant stock levels.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type levelsResponse struct {
	Levels []Level `json:"levels"`
}

// GetVariantLevels returns the stock levels of a variant across all locations.
func (c *Client) GetVariantLevels(ctx context.Context, variantID string) ([]Level, error) {
	url := c.baseURL + "/internal/variants/" + variantID + "/levels"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inventory request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inventory service returned %d", resp.StatusCode)
	}

	var decoded levelsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return decoded.Levels, nil
}

// GetVariant returns the catalog snapshot of a variant.
func (c *Client) GetVariant(ctx context.Context, variantID string) (*Variant, error) {
	url := c.baseURL + "/internal/variants/" + variantID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inventory request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("variant %s not found", variantID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inventory service returned %d", resp.StatusCode)
	}

	var variant Variant
	if err := json.Unmarshal(body, &variant); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &variant, nil
}
