// Package catalog talks to the external listing catalog. Approved
// member listings are pushed there for the public browse pages.
// Publication is deliberately outside the moderation transaction; on
// failure the item keeps a publication-failed flag for manual retry.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nhadatviet/walletops/internal/models"
)

// Publisher pushes an approved listing to the public catalog.
type Publisher interface {
	PublishListing(ctx context.Context, item *models.ModerationItem) error
}

type Client struct {
	http    *resty.Client
	baseURL string
}

func NewClient(baseURL string) *Client {
	return &Client{
		http:    resty.New().SetTimeout(10 * time.Second),
		baseURL: baseURL,
	}
}

type publishRequest struct {
	ItemID      string          `json:"item_id"`
	SubmitterID string          `json:"submitter_id"`
	ItemType    models.ItemType `json:"item_type"`
	Payload     json.RawMessage `json:"payload"`
}

func (c *Client) PublishListing(ctx context.Context, item *models.ModerationItem) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(publishRequest{
			ItemID:      item.ID,
			SubmitterID: item.SubmitterID,
			ItemType:    item.Type,
			Payload:     item.Payload,
		}).
		Post(c.baseURL + "/internal/listings")
	if err != nil {
		return fmt.Errorf("catalog publish request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("catalog publish rejected: %s", resp.Status())
	}
	return nil
}

// Noop is used when no catalog endpoint is configured (tickets-only
// deployments, tests).
type Noop struct{}

func (Noop) PublishListing(context.Context, *models.ModerationItem) error { return nil }
