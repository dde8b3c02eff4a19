// Package events emits decision events for downstream consumers
// (notification fan-out, reporting). Delivery is best effort: a publish
// failure is logged by the caller and never rolls back a decision.
package events

import (
	"context"
	"time"

	"github.com/nhadatviet/walletops/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// DepositDecided is emitted when a pending ledger entry reaches a
// terminal state.
type DepositDecided struct {
	EntryID    string             `json:"entry_id"`
	AccountID  string             `json:"account_id"`
	Amount     int64              `json:"amount"`
	Kind       models.EntryKind   `json:"kind"`
	Status     models.EntryStatus `json:"status"`
	DecidedBy  string             `json:"decided_by"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// ItemDecided is emitted when a moderation item reaches a terminal state.
type ItemDecided struct {
	ItemID      string            `json:"item_id"`
	SubmitterID string            `json:"submitter_id"`
	ItemType    models.ItemType   `json:"item_type"`
	Status      models.ItemStatus `json:"status"`
	DecidedBy   string            `json:"decided_by"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, any) error { return nil }
