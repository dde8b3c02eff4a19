// Package memory implements both store contracts in process memory.
// It backs the test suites and local development without postgres.
// Balance mutations serialize through a per-account mutex so two
// concurrent commits on the same account never interleave.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nhadatviet/walletops/internal/models"
	"github.com/nhadatviet/walletops/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	entries  map[string]*models.LedgerEntry
	items    map[string]*models.ModerationItem

	lockMu       sync.Mutex
	accountLocks map[string]*sync.Mutex
}

func New() *Store {
	return &Store{
		accounts:     make(map[string]*models.Account),
		entries:      make(map[string]*models.LedgerEntry),
		items:        make(map[string]*models.ModerationItem),
		accountLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) accountLock(accountID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if _, ok := s.accountLocks[accountID]; !ok {
		s.accountLocks[accountID] = &sync.Mutex{}
	}
	return s.accountLocks[accountID]
}

func copyEntry(e *models.LedgerEntry) *models.LedgerEntry {
	c := *e
	if e.DecidedAt != nil {
		t := *e.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

func copyItem(i *models.ModerationItem) *models.ModerationItem {
	c := *i
	if i.DecidedAt != nil {
		t := *i.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

// LedgerStore

func (s *Store) EnsureAccount(_ context.Context, accountID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		acc = &models.Account{ID: accountID, CreatedAt: time.Now().UTC()}
		s.accounts[accountID] = acc
	}
	c := *acc
	return &c, nil
}

func (s *Store) GetAccount(_ context.Context, accountID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	c := *acc
	return &c, nil
}

func (s *Store) InsertEntry(_ context.Context, entry *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[entry.AccountID]; !ok {
		return store.ErrAccountNotFound
	}
	s.entries[entry.ID] = copyEntry(entry)
	return nil
}

func (s *Store) GetEntry(_ context.Context, entryID string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryID]
	if !ok {
		return nil, store.ErrEntryNotFound
	}
	return copyEntry(e), nil
}

func (s *Store) CommitEntry(_ context.Context, entryID, decidedBy string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	e, ok := s.entries[entryID]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrEntryNotFound
	}

	lock := s.accountLock(e.AccountID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-read under the account lock: a concurrent decision may have won.
	e = s.entries[entryID]
	switch e.Status {
	case models.EntryCompleted:
		return copyEntry(e), nil
	case models.EntryRejected:
		return copyEntry(e), store.ErrAlreadyDecided
	}

	acc := s.accounts[e.AccountID]
	now := time.Now().UTC()

	if e.Kind == models.KindDebit && acc.Balance-e.Amount < 0 {
		e.Status = models.EntryRejected
		e.DecidedAt = &now
		e.DecidedBy = decidedBy
		e.Reason = "insufficient funds"
		return copyEntry(e), store.ErrInsufficientFunds
	}

	acc.Balance += e.Delta()
	acc.Version++
	e.Status = models.EntryCompleted
	e.DecidedAt = &now
	e.DecidedBy = decidedBy
	return copyEntry(e), nil
}

func (s *Store) RejectEntry(_ context.Context, entryID, decidedBy, reason string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	e, ok := s.entries[entryID]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrEntryNotFound
	}

	lock := s.accountLock(e.AccountID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	e = s.entries[entryID]
	switch e.Status {
	case models.EntryRejected:
		return copyEntry(e), nil
	case models.EntryCompleted:
		return copyEntry(e), store.ErrAlreadyDecided
	}

	now := time.Now().UTC()
	e.Status = models.EntryRejected
	e.DecidedAt = &now
	e.DecidedBy = decidedBy
	e.Reason = reason
	return copyEntry(e), nil
}

func (s *Store) AmendPendingAmount(_ context.Context, entryID string, amount int64) (*models.LedgerEntry, error) {
	s.mu.RLock()
	e, ok := s.entries[entryID]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrEntryNotFound
	}

	lock := s.accountLock(e.AccountID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	e = s.entries[entryID]
	if e.Status != models.EntryPending {
		return copyEntry(e), store.ErrEntryNotPending
	}
	e.Amount = amount
	return copyEntry(e), nil
}

func (s *Store) ListEntries(_ context.Context, f models.EntryFilter) ([]models.LedgerEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if f.AccountID != "" {
		if _, ok := s.accounts[f.AccountID]; !ok {
			return nil, 0, store.ErrAccountNotFound
		}
	}

	var matched []*models.LedgerEntry
	for _, e := range s.entries {
		if f.AccountID != "" && e.AccountID != f.AccountID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	matched = paginate(matched, f.Page)

	out := make([]models.LedgerEntry, 0, len(matched))
	for _, e := range matched {
		out = append(out, *copyEntry(e))
	}
	return out, total, nil
}

// ModerationStore

func (s *Store) InsertItem(_ context.Context, item *models.ModerationItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = copyItem(item)
	return nil
}

func (s *Store) GetItem(_ context.Context, itemID string) (*models.ModerationItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.items[itemID]
	if !ok {
		return nil, store.ErrItemNotFound
	}
	return copyItem(i), nil
}

func (s *Store) DecideItem(_ context.Context, itemID string, status models.ItemStatus, decidedBy, notes string) (*models.ModerationItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.items[itemID]
	if !ok {
		return nil, false, store.ErrItemNotFound
	}
	if i.Status != models.ItemPending {
		if i.Status == status {
			return copyItem(i), false, nil
		}
		return copyItem(i), false, store.ErrAlreadyDecided
	}

	now := time.Now().UTC()
	i.Status = status
	i.DecidedAt = &now
	i.DecidedBy = decidedBy
	if notes != "" {
		i.AdminNotes = notes
	}
	return copyItem(i), true, nil
}

func (s *Store) SetPublicationFailed(_ context.Context, itemID string, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.items[itemID]
	if !ok {
		return store.ErrItemNotFound
	}
	i.PublicationFailed = failed
	return nil
}

func (s *Store) DeleteItem(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.items[itemID]
	if !ok {
		return store.ErrItemNotFound
	}
	if i.Status != models.ItemPending {
		return store.ErrItemNotPending
	}
	delete(s.items, itemID)
	return nil
}

func (s *Store) ListItems(_ context.Context, f models.ItemFilter) ([]models.ModerationItem, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.ModerationItem
	for _, i := range s.items {
		if f.SubmitterID != "" && i.SubmitterID != f.SubmitterID {
			continue
		}
		if f.Status != "" && i.Status != f.Status {
			continue
		}
		if f.Type != "" && i.Type != f.Type {
			continue
		}
		if f.PublicationFailed != nil && i.PublicationFailed != *f.PublicationFailed {
			continue
		}
		matched = append(matched, i)
	}

	// Pending first, oldest first, for FIFO review fairness. Decided
	// items follow, newest decision first.
	sort.Slice(matched, func(a, b int) bool {
		ia, ib := matched[a], matched[b]
		pa, pb := ia.Status == models.ItemPending, ib.Status == models.ItemPending
		if pa != pb {
			return pa
		}
		if pa {
			if ia.CreatedAt.Equal(ib.CreatedAt) {
				return ia.ID < ib.ID
			}
			return ia.CreatedAt.Before(ib.CreatedAt)
		}
		if ia.DecidedAt.Equal(*ib.DecidedAt) {
			return ia.ID < ib.ID
		}
		return ia.DecidedAt.After(*ib.DecidedAt)
	})

	total := len(matched)
	matched = paginate(matched, f.Page)

	out := make([]models.ModerationItem, 0, len(matched))
	for _, i := range matched {
		out = append(out, *copyItem(i))
	}
	return out, total, nil
}

func (s *Store) CountByStatus(_ context.Context, submitterID string) (map[models.ItemStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.ItemStatus]int)
	for _, i := range s.items {
		if i.SubmitterID == submitterID {
			counts[i.Status]++
		}
	}
	return counts, nil
}

func paginate[T any](in []T, p models.Page) []T {
	if p.Skip > 0 {
		if p.Skip >= len(in) {
			return nil
		}
		in = in[p.Skip:]
	}
	if p.Limit > 0 && p.Limit < len(in) {
		in = in[:p.Limit]
	}
	return in
}
