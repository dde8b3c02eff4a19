// Package store defines the persistence contracts for the wallet ledger
// and the moderation queue. Implementations must make every decision
// operation atomic with first-decision-wins semantics: a duplicate of an
// already-applied decision is a no-op, a conflicting decision fails with
// ErrAlreadyDecided.
package store

import (
	"context"
	"errors"

	"github.com/nhadatviet/walletops/internal/models"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrEntryNotFound     = errors.New("ledger entry not found")
	ErrEntryNotPending   = errors.New("ledger entry not pending")
	ErrItemNotFound      = errors.New("moderation item not found")
	ErrItemNotPending    = errors.New("moderation item not pending")
	ErrAlreadyDecided    = errors.New("already decided")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// LedgerStore owns accounts and the append-only entry log.
type LedgerStore interface {
	// EnsureAccount returns the account, creating it with a zero balance
	// on first wallet access.
	EnsureAccount(ctx context.Context, accountID string) (*models.Account, error)

	// GetAccount returns ErrAccountNotFound for unknown ids.
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)

	// InsertEntry appends a pending entry. The balance is untouched.
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error

	GetEntry(ctx context.Context, entryID string) (*models.LedgerEntry, error)

	// CommitEntry transitions pending -> completed and applies the signed
	// amount to the account balance in the same critical section.
	// Committing a debit that would drive the balance negative instead
	// transitions the entry to rejected and returns ErrInsufficientFunds.
	// An already-completed entry is a no-op; an already-rejected one
	// returns ErrAlreadyDecided.
	CommitEntry(ctx context.Context, entryID, decidedBy string) (*models.LedgerEntry, error)

	// RejectEntry transitions pending -> rejected with no balance change.
	// An already-rejected entry is a no-op; an already-completed one
	// returns ErrAlreadyDecided.
	RejectEntry(ctx context.Context, entryID, decidedBy, reason string) (*models.LedgerEntry, error)

	// AmendPendingAmount replaces the amount of a still-pending entry.
	// Returns ErrEntryNotPending once the entry has been decided.
	AmendPendingAmount(ctx context.Context, entryID string, amount int64) (*models.LedgerEntry, error)

	// ListEntries returns entries matching f, newest first, plus the
	// total match count before pagination. With f.AccountID set it
	// returns ErrAccountNotFound for unknown accounts.
	ListEntries(ctx context.Context, f models.EntryFilter) ([]models.LedgerEntry, int, error)
}

// ModerationStore owns the moderation queue.
type ModerationStore interface {
	InsertItem(ctx context.Context, item *models.ModerationItem) error

	GetItem(ctx context.Context, itemID string) (*models.ModerationItem, error)

	// DecideItem transitions pending -> status. The applied flag is true
	// only for the call that performed the transition, so callers can gate
	// decision side effects on it. A duplicate identical decision returns
	// the item with applied=false; a conflicting one returns
	// ErrAlreadyDecided.
	DecideItem(ctx context.Context, itemID string, status models.ItemStatus, decidedBy, notes string) (item *models.ModerationItem, applied bool, err error)

	// SetPublicationFailed flags an approved listing whose catalog publish
	// failed, for manual retry from the admin dashboard.
	SetPublicationFailed(ctx context.Context, itemID string, failed bool) error

	// DeleteItem removes a pending item. Decided items are retained for
	// audit; deleting one returns ErrItemNotPending.
	DeleteItem(ctx context.Context, itemID string) error

	// ListItems returns items matching f: pending items first, oldest
	// first, then decided items by decision time descending. The second
	// return is the total match count before pagination.
	ListItems(ctx context.Context, f models.ItemFilter) ([]models.ModerationItem, int, error)

	// CountByStatus returns per-status item counts for one submitter.
	CountByStatus(ctx context.Context, submitterID string) (map[models.ItemStatus]int, error)
}
