// Package projection serves the read-only views both dashboards render:
// account summaries, transaction history, and the moderation queue. It
// never mutates state and can point at a read replica.
package projection

import (
	"context"
	"errors"

	"github.com/nhadatviet/walletops/internal/models"
	"github.com/nhadatviet/walletops/internal/store"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type Views struct {
	ledger store.LedgerStore
	items  store.ModerationStore
}

func NewViews(ledger store.LedgerStore, items store.ModerationStore) *Views {
	return &Views{ledger: ledger, items: items}
}

// AccountSummary combines the wallet balance with the member's item
// counts. A member who never touched the wallet gets a zero summary
// rather than a 404.
func (v *Views) AccountSummary(ctx context.Context, accountID string) (*models.AccountSummary, error) {
	summary := &models.AccountSummary{AccountID: accountID}

	acc, err := v.ledger.GetAccount(ctx, accountID)
	if err != nil && !errors.Is(err, store.ErrAccountNotFound) {
		return nil, err
	}
	if acc != nil {
		summary.Balance = acc.Balance

		_, pending, err := v.ledger.ListEntries(ctx, models.EntryFilter{
			AccountID: accountID,
			Status:    models.EntryPending,
			Kind:      models.KindDeposit,
			Page:      models.Page{Limit: 1},
		})
		if err != nil {
			return nil, err
		}
		summary.PendingDeposits = pending
	}

	counts, err := v.items.CountByStatus(ctx, accountID)
	if err != nil {
		return nil, err
	}
	summary.PendingItems = counts[models.ItemPending]
	summary.ApprovedItems = counts[models.ItemApproved]
	summary.RejectedItems = counts[models.ItemRejected]
	return summary, nil
}

// Transactions returns the entry history for the filter, newest first.
func (v *Views) Transactions(ctx context.Context, f models.EntryFilter) ([]models.LedgerEntry, int, error) {
	f.Page = ClampPage(f.Page)
	return v.ledger.ListEntries(ctx, f)
}

// Queue returns moderation items for the filter: pending first (oldest
// first), then decided items newest decision first.
func (v *Views) Queue(ctx context.Context, f models.ItemFilter) ([]models.ModerationItem, int, error) {
	f.Page = ClampPage(f.Page)
	return v.items.ListItems(ctx, f)
}

// ClampPage applies the default page size and caps oversized requests.
func ClampPage(p models.Page) models.Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}
