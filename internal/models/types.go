package models

import (
	"encoding/json"
	"time"
)

// EntryKind classifies a ledger entry's effect on the balance.
type EntryKind string

const (
	KindDeposit EntryKind = "deposit"
	KindDebit   EntryKind = "debit"
	KindRefund  EntryKind = "refund"
)

// EntryStatus is the lifecycle state of a ledger entry.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryRejected  EntryStatus = "rejected"
)

// ItemType classifies a moderation item.
type ItemType string

const (
	ItemProperty ItemType = "property"
	ItemLand     ItemType = "land"
	ItemSim      ItemType = "sim"
	ItemTicket   ItemType = "ticket"
)

// IsListing reports whether an approved item of this type must be
// published to the listing catalog.
func (t ItemType) IsListing() bool {
	return t == ItemProperty || t == ItemLand || t == ItemSim
}

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	return t == ItemProperty || t == ItemLand || t == ItemSim || t == ItemTicket
}

// ItemStatus is the lifecycle state of a moderation item.
type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemApproved ItemStatus = "approved"
	ItemRejected ItemStatus = "rejected"
)

// Account holds a member's materialized wallet balance.
// Balance is in integer minor currency units and never goes negative.
// Version is bumped on every balance mutation.
type Account struct {
	ID        string    `json:"account_id"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntry is one immutable row of the append-only money log.
// The sum of completed entries, signed by kind, equals the account balance.
type LedgerEntry struct {
	ID        string      `json:"entry_id"`
	AccountID string      `json:"account_id"`
	Amount    int64       `json:"amount"`
	Kind      EntryKind   `json:"kind"`
	Status    EntryStatus `json:"status"`
	Reference string      `json:"reference,omitempty"`
	ProofRef  string      `json:"proof_ref,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	DecidedAt *time.Time  `json:"decided_at,omitempty"`
	DecidedBy string      `json:"decided_by,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// Delta is the entry's signed effect on the balance once completed.
func (e *LedgerEntry) Delta() int64 {
	if e.Kind == KindDebit {
		return -e.Amount
	}
	return e.Amount
}

// ModerationItem is a member submission awaiting an admin decision:
// a listing (property, land, sim) or a support ticket.
type ModerationItem struct {
	ID                string          `json:"item_id"`
	SubmitterID       string          `json:"submitter_id"`
	Type              ItemType        `json:"item_type"`
	Payload           json.RawMessage `json:"payload"`
	Status            ItemStatus      `json:"status"`
	AdminNotes        string          `json:"admin_notes,omitempty"`
	LinkedEntryID     string          `json:"linked_ledger_entry_id,omitempty"`
	PublicationFailed bool            `json:"publication_failed,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	DecidedAt         *time.Time      `json:"decided_at,omitempty"`
	DecidedBy         string          `json:"decided_by,omitempty"`
}

// EntryFilter narrows ListEntries results. An empty AccountID matches
// entries across all accounts (admin views).
type EntryFilter struct {
	AccountID string
	Status    EntryStatus
	Kind      EntryKind
	Page      Page
}

// ItemFilter narrows ListItems results. An empty field matches everything.
type ItemFilter struct {
	SubmitterID       string
	Status            ItemStatus
	Type              ItemType
	PublicationFailed *bool
	Page              Page
}

// Page is skip/limit pagination as used by the dashboard clients.
type Page struct {
	Skip  int
	Limit int
}

// AccountSummary is the dashboard projection of one member's state.
type AccountSummary struct {
	AccountID       string `json:"account_id"`
	Balance         int64  `json:"balance"`
	PendingDeposits int    `json:"pending_deposits"`
	PendingItems    int    `json:"pending_items"`
	ApprovedItems   int    `json:"approved_items"`
	RejectedItems   int    `json:"rejected_items"`
}
