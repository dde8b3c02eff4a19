// Package ledger is the authority for money movement: the append-only
// entry log, the materialized per-account balance, and the manual
// deposit workflow built on top of it.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nhadatviet/walletops/internal/events"
	"github.com/nhadatviet/walletops/internal/models"
	"github.com/nhadatviet/walletops/internal/store"
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrBelowMinimum  = errors.New("deposit below minimum amount")
	ErrMissingProof  = errors.New("transfer proof required")
)

type Service struct {
	store      store.LedgerStore
	events     events.Publisher
	logger     *logrus.Logger
	minDeposit int64
}

func NewService(s store.LedgerStore, pub events.Publisher, logger *logrus.Logger, minDeposit int64) *Service {
	return &Service{
		store:      s,
		events:     pub,
		logger:     logger,
		minDeposit: minDeposit,
	}
}

// OpenPendingEntry appends a pending entry without touching the balance.
// The account is provisioned on first wallet access.
func (s *Service) OpenPendingEntry(ctx context.Context, accountID string, amount int64, kind models.EntryKind, reference, proofRef string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := s.store.EnsureAccount(ctx, accountID); err != nil {
		return nil, err
	}

	entry := &models.LedgerEntry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Amount:    amount,
		Kind:      kind,
		Status:    models.EntryPending,
		Reference: reference,
		ProofRef:  proofRef,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"entry_id":   entry.ID,
		"account_id": accountID,
		"kind":       kind,
		"amount":     amount,
	}).Info("Opened pending ledger entry")
	return entry, nil
}

// CommitEntry transitions a pending entry to completed and applies it to
// the balance. Retrying a completed entry is a no-op. A debit that would
// drive the balance negative comes back rejected together with
// store.ErrInsufficientFunds.
func (s *Service) CommitEntry(ctx context.Context, entryID, decidedBy string) (*models.LedgerEntry, error) {
	entry, err := s.store.CommitEntry(ctx, entryID, decidedBy)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			s.logger.WithFields(logrus.Fields{
				"entry_id":   entryID,
				"account_id": entry.AccountID,
				"amount":     entry.Amount,
			}).Warn("Debit commit rejected for insufficient funds")
			s.publishDecision(ctx, entry)
		}
		return entry, err
	}

	s.logger.WithFields(logrus.Fields{
		"entry_id":   entry.ID,
		"account_id": entry.AccountID,
		"kind":       entry.Kind,
		"amount":     entry.Amount,
		"decided_by": decidedBy,
	}).Info("Ledger entry committed")
	s.publishDecision(ctx, entry)
	return entry, nil
}

// RejectEntry transitions a pending entry to rejected. Retrying a
// rejected entry is a no-op.
func (s *Service) RejectEntry(ctx context.Context, entryID, decidedBy, reason string) (*models.LedgerEntry, error) {
	entry, err := s.store.RejectEntry(ctx, entryID, decidedBy, reason)
	if err != nil {
		return entry, err
	}

	s.logger.WithFields(logrus.Fields{
		"entry_id":   entry.ID,
		"account_id": entry.AccountID,
		"decided_by": decidedBy,
		"reason":     reason,
	}).Info("Ledger entry rejected")
	s.publishDecision(ctx, entry)
	return entry, nil
}

// GetBalance returns the account, provisioning it on first access.
func (s *Service) GetBalance(ctx context.Context, accountID string) (*models.Account, error) {
	return s.store.EnsureAccount(ctx, accountID)
}

// GetEntry is a read-only lookup.
func (s *Service) GetEntry(ctx context.Context, entryID string) (*models.LedgerEntry, error) {
	return s.store.GetEntry(ctx, entryID)
}

// ListEntries is a read-only view over the entry log.
func (s *Service) ListEntries(ctx context.Context, f models.EntryFilter) ([]models.LedgerEntry, int, error) {
	return s.store.ListEntries(ctx, f)
}

// Deposit workflow

// RequestDeposit opens a pending deposit backed by a bank-transfer
// proof. The proof must already be stored; a request without one never
// reaches the pending state.
func (s *Service) RequestDeposit(ctx context.Context, accountID string, amount int64, proofRef, reference string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount < s.minDeposit {
		return nil, ErrBelowMinimum
	}
	if proofRef == "" {
		return nil, ErrMissingProof
	}
	return s.OpenPendingEntry(ctx, accountID, amount, models.KindDeposit, reference, proofRef)
}

// ApproveDeposit commits a pending deposit. When the admin verified a
// transfer for a different amount than requested, overrideAmount
// replaces the pending amount before the commit. If the entry was
// already decided the amend is skipped and CommitEntry resolves the
// retry idempotently.
func (s *Service) ApproveDeposit(ctx context.Context, entryID, adminID string, overrideAmount *int64) (*models.LedgerEntry, error) {
	if err := s.requireDeposit(ctx, entryID); err != nil {
		return nil, err
	}
	if overrideAmount != nil {
		if *overrideAmount <= 0 {
			return nil, ErrInvalidAmount
		}
		if _, err := s.store.AmendPendingAmount(ctx, entryID, *overrideAmount); err != nil {
			if !errors.Is(err, store.ErrEntryNotPending) {
				return nil, err
			}
		}
	}
	return s.CommitEntry(ctx, entryID, adminID)
}

// RejectDeposit discards a pending deposit; the balance is untouched.
func (s *Service) RejectDeposit(ctx context.Context, entryID, adminID, reason string) (*models.LedgerEntry, error) {
	if err := s.requireDeposit(ctx, entryID); err != nil {
		return nil, err
	}
	return s.RejectEntry(ctx, entryID, adminID, reason)
}

// requireDeposit keeps the deposit decision endpoints off other entry
// kinds: a moderation fee debit is only ever decided through its item.
func (s *Service) requireDeposit(ctx context.Context, entryID string) error {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Kind != models.KindDeposit {
		return store.ErrEntryNotFound
	}
	return nil
}

// IssueRefund credits an account with an immediately committed refund
// entry. Entries are never mutated after decision; refunds are the
// corrective append for wrongly charged fees.
func (s *Service) IssueRefund(ctx context.Context, accountID string, amount int64, reference, adminID string) (*models.LedgerEntry, error) {
	entry, err := s.OpenPendingEntry(ctx, accountID, amount, models.KindRefund, reference, "")
	if err != nil {
		return nil, err
	}
	return s.CommitEntry(ctx, entry.ID, adminID)
}

func (s *Service) publishDecision(ctx context.Context, entry *models.LedgerEntry) {
	err := s.events.Publish(ctx, events.DepositDecided{
		EntryID:    entry.ID,
		AccountID:  entry.AccountID,
		Amount:     entry.Amount,
		Kind:       entry.Kind,
		Status:     entry.Status,
		DecidedBy:  entry.DecidedBy,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"entry_id": entry.ID,
			"error":    err,
		}).Warn("Failed to publish ledger decision event")
	}
}
