// Package moderation holds the pending/approved/rejected lifecycle for
// member-submitted listings and support tickets, including the linked
// posting-fee debit that must apply exactly once.
package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nhadatviet/walletops/internal/catalog"
	"github.com/nhadatviet/walletops/internal/events"
	"github.com/nhadatviet/walletops/internal/ledger"
	"github.com/nhadatviet/walletops/internal/models"
	"github.com/nhadatviet/walletops/internal/store"
)

var (
	ErrInvalidItemType = errors.New("unknown item type")
	ErrEmptyPayload    = errors.New("payload required")
	ErrNotRetryable    = errors.New("item has no failed publication to retry")
)

// systemActor marks decisions the engine made itself rather than an admin.
const systemActor = "system"

type Queue struct {
	items   store.ModerationStore
	ledger  *ledger.Service
	catalog catalog.Publisher
	events  events.Publisher
	logger  *logrus.Logger
}

func NewQueue(items store.ModerationStore, led *ledger.Service, cat catalog.Publisher, pub events.Publisher, logger *logrus.Logger) *Queue {
	return &Queue{
		items:   items,
		ledger:  led,
		catalog: cat,
		events:  pub,
		logger:  logger,
	}
}

// Submit creates a pending item. A positive feeAmount first opens a
// pending debit against the submitter's wallet; if the item cannot be
// stored the debit is rejected again so no half-submitted state
// survives.
func (q *Queue) Submit(ctx context.Context, submitterID string, itemType models.ItemType, payload json.RawMessage, feeAmount int64) (*models.ModerationItem, error) {
	if !itemType.Valid() {
		return nil, ErrInvalidItemType
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	var linkedEntryID string
	if feeAmount > 0 {
		entry, err := q.ledger.OpenPendingEntry(ctx, submitterID, feeAmount, models.KindDebit,
			fmt.Sprintf("posting fee: %s", itemType), "")
		if err != nil {
			return nil, err
		}
		linkedEntryID = entry.ID
	}

	item := &models.ModerationItem{
		ID:            uuid.NewString(),
		SubmitterID:   submitterID,
		Type:          itemType,
		Payload:       payload,
		Status:        models.ItemPending,
		LinkedEntryID: linkedEntryID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := q.items.InsertItem(ctx, item); err != nil {
		if linkedEntryID != "" {
			if _, rerr := q.ledger.RejectEntry(ctx, linkedEntryID, systemActor, "submission failed"); rerr != nil {
				q.logger.WithFields(logrus.Fields{
					"entry_id": linkedEntryID,
					"error":    rerr,
				}).Error("Failed to discard fee entry for failed submission")
			}
		}
		return nil, err
	}

	q.logger.WithFields(logrus.Fields{
		"item_id":      item.ID,
		"submitter_id": submitterID,
		"item_type":    itemType,
		"fee_amount":   feeAmount,
	}).Info("Moderation item submitted")
	return item, nil
}

// Approve commits the linked fee (if any) and transitions the item to
// approved. If the fee cannot be charged the item is forced to rejected
// with a system note and store.ErrInsufficientFunds is returned so the
// admin UI can explain the outcome. Re-approving an approved item is a
// no-op. Only the call that performed the transition publishes the
// listing, so concurrent approvals run the side effect exactly once.
func (q *Queue) Approve(ctx context.Context, itemID, adminID, notes string) (*models.ModerationItem, error) {
	item, err := q.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	switch item.Status {
	case models.ItemApproved:
		return item, nil
	case models.ItemRejected:
		return item, store.ErrAlreadyDecided
	}

	if item.LinkedEntryID != "" {
		if _, err := q.ledger.CommitEntry(ctx, item.LinkedEntryID, adminID); err != nil {
			if errors.Is(err, store.ErrInsufficientFunds) {
				return q.forceReject(ctx, item,
					"auto-rejected: posting fee could not be charged (insufficient funds)")
			}
			if errors.Is(err, store.ErrAlreadyDecided) {
				// Fee entry was already discarded outside the approve
				// path; an approval can no longer charge it.
				return q.forceReject(ctx, item,
					"auto-rejected: linked fee entry already discarded")
			}
			return item, err
		}
	}

	item, applied, err := q.items.DecideItem(ctx, itemID, models.ItemApproved, adminID, notes)
	if err != nil {
		return item, err
	}
	if !applied {
		// Lost the race against a concurrent identical decision.
		return item, nil
	}

	if item.Type.IsListing() {
		if perr := q.catalog.PublishListing(ctx, item); perr != nil {
			q.logger.WithFields(logrus.Fields{
				"item_id": item.ID,
				"error":   perr,
			}).Error("Listing publication failed, flagged for manual retry")
			if serr := q.items.SetPublicationFailed(ctx, item.ID, true); serr != nil {
				q.logger.WithFields(logrus.Fields{
					"item_id": item.ID,
					"error":   serr,
				}).Error("Failed to flag publication failure")
			}
			item.PublicationFailed = true
		}
	}

	q.logger.WithFields(logrus.Fields{
		"item_id":    item.ID,
		"item_type":  item.Type,
		"decided_by": adminID,
	}).Info("Moderation item approved")
	q.publishDecision(ctx, item)
	return item, nil
}

// Reject transitions the item to rejected, then settles the linked fee:
// a still-pending fee entry is discarded, a fee already committed by a
// racing or interrupted approval is reversed with a corrective refund.
// Only the call that won the transition touches the fee, so losing the
// race to an approval never reverses a collected fee. Re-rejecting a
// rejected item is a no-op.
func (q *Queue) Reject(ctx context.Context, itemID, adminID, reason string) (*models.ModerationItem, error) {
	item, err := q.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	switch item.Status {
	case models.ItemRejected:
		return item, nil
	case models.ItemApproved:
		return item, store.ErrAlreadyDecided
	}

	item, applied, err := q.items.DecideItem(ctx, itemID, models.ItemRejected, adminID, reason)
	if err != nil {
		return item, err
	}
	if !applied {
		return item, nil
	}

	if item.LinkedEntryID != "" {
		if _, err := q.ledger.RejectEntry(ctx, item.LinkedEntryID, adminID, "moderation rejected"); err != nil {
			if errors.Is(err, store.ErrAlreadyDecided) {
				if rerr := q.refundCommittedFee(ctx, item, adminID); rerr != nil {
					return item, rerr
				}
			} else {
				return item, err
			}
		}
	}

	q.logger.WithFields(logrus.Fields{
		"item_id":    item.ID,
		"item_type":  item.Type,
		"decided_by": adminID,
		"reason":     reason,
	}).Info("Moderation item rejected")
	q.publishDecision(ctx, item)
	return item, nil
}

// Delete removes a pending item. Decided items stay for audit.
func (q *Queue) Delete(ctx context.Context, itemID, adminID string) error {
	item, err := q.items.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if err := q.items.DeleteItem(ctx, itemID); err != nil {
		return err
	}
	if item.LinkedEntryID != "" {
		if _, err := q.ledger.RejectEntry(ctx, item.LinkedEntryID, adminID, "submission deleted"); err != nil &&
			!errors.Is(err, store.ErrAlreadyDecided) {
			q.logger.WithFields(logrus.Fields{
				"entry_id": item.LinkedEntryID,
				"error":    err,
			}).Error("Failed to discard fee entry for deleted submission")
		}
	}
	q.logger.WithFields(logrus.Fields{
		"item_id":    itemID,
		"deleted_by": adminID,
	}).Info("Pending moderation item deleted")
	return nil
}

// RetryPublication re-runs the catalog publish for an approved listing
// whose first publication failed.
func (q *Queue) RetryPublication(ctx context.Context, itemID, adminID string) (*models.ModerationItem, error) {
	item, err := q.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != models.ItemApproved || !item.PublicationFailed || !item.Type.IsListing() {
		return item, ErrNotRetryable
	}

	if err := q.catalog.PublishListing(ctx, item); err != nil {
		return item, err
	}
	if err := q.items.SetPublicationFailed(ctx, item.ID, false); err != nil {
		return item, err
	}
	item.PublicationFailed = false

	q.logger.WithFields(logrus.Fields{
		"item_id":  item.ID,
		"admin_id": adminID,
	}).Info("Listing publication retried successfully")
	return item, nil
}

// Get is a read-only lookup.
func (q *Queue) Get(ctx context.Context, itemID string) (*models.ModerationItem, error) {
	return q.items.GetItem(ctx, itemID)
}

// List is a read-only view: pending items oldest first, then decided
// items by decision time descending.
func (q *Queue) List(ctx context.Context, f models.ItemFilter) ([]models.ModerationItem, int, error) {
	return q.items.ListItems(ctx, f)
}

// forceReject settles an item whose fee could not be charged. If another
// decision already landed, that decision stands.
func (q *Queue) forceReject(ctx context.Context, item *models.ModerationItem, note string) (*models.ModerationItem, error) {
	decided, applied, err := q.items.DecideItem(ctx, item.ID, models.ItemRejected, systemActor, note)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyDecided) {
			return decided, store.ErrInsufficientFunds
		}
		return item, err
	}
	if applied {
		q.logger.WithFields(logrus.Fields{
			"item_id": decided.ID,
			"note":    note,
		}).Warn("Moderation item auto-rejected")
		q.publishDecision(ctx, decided)
	}
	return decided, store.ErrInsufficientFunds
}

func (q *Queue) refundCommittedFee(ctx context.Context, item *models.ModerationItem, adminID string) error {
	entry, err := q.ledger.GetEntry(ctx, item.LinkedEntryID)
	if err != nil {
		return err
	}
	if entry.Status != models.EntryCompleted {
		return nil
	}
	_, err = q.ledger.IssueRefund(ctx, entry.AccountID, entry.Amount,
		fmt.Sprintf("fee reversal for item %s", item.ID), adminID)
	return err
}

func (q *Queue) publishDecision(ctx context.Context, item *models.ModerationItem) {
	err := q.events.Publish(ctx, events.ItemDecided{
		ItemID:      item.ID,
		SubmitterID: item.SubmitterID,
		ItemType:    item.Type,
		Status:      item.Status,
		DecidedBy:   item.DecidedBy,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		q.logger.WithFields(logrus.Fields{
			"item_id": item.ID,
			"error":   err,
		}).Warn("Failed to publish moderation decision event")
	}
}
