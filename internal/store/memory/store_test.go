package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhadatviet/walletops/internal/models"
	"github.com/nhadatviet/walletops/internal/store"
)

func insertEntry(t *testing.T, s *Store, id, accountID string, amount int64, kind models.EntryKind) {
	t.Helper()
	_, err := s.EnsureAccount(context.Background(), accountID)
	require.NoError(t, err)
	require.NoError(t, s.InsertEntry(context.Background(), &models.LedgerEntry{
		ID:        id,
		AccountID: accountID,
		Amount:    amount,
		Kind:      kind,
		Status:    models.EntryPending,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestConcurrentCommitAppliesOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	insertEntry(t, s, "e1", "acc-1", 50000, models.KindDeposit)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CommitEntry(ctx, "e1", "admin-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	acc, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, int64(50000), acc.Balance)
	require.Equal(t, int64(1), acc.Version)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := New()
	ctx := context.Background()

	insertEntry(t, s, "seed", "acc-1", 50000, models.KindDeposit)
	_, err := s.CommitEntry(ctx, "seed", "admin-1")
	require.NoError(t, err)

	// Three 20k debits against a 50k balance: at most two can land.
	for i := 0; i < 3; i++ {
		insertEntry(t, s, fmt.Sprintf("d%d", i), "acc-1", 20000, models.KindDebit)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.CommitEntry(ctx, id, "admin-1")
		}(fmt.Sprintf("d%d", i))
	}
	wg.Wait()

	acc, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, int64(10000), acc.Balance)

	entries, _, err := s.ListEntries(ctx, models.EntryFilter{
		AccountID: "acc-1",
		Kind:      models.KindDebit,
		Status:    models.EntryRejected,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "insufficient funds", entries[0].Reason)
}

func TestConflictingDecisions(t *testing.T) {
	s := New()
	ctx := context.Background()
	insertEntry(t, s, "e1", "acc-1", 50000, models.KindDeposit)

	_, err := s.RejectEntry(ctx, "e1", "admin-1", "no transfer found")
	require.NoError(t, err)

	e, err := s.CommitEntry(ctx, "e1", "admin-2")
	require.ErrorIs(t, err, store.ErrAlreadyDecided)
	require.Equal(t, models.EntryRejected, e.Status)

	// Identical retry stays a no-op.
	e, err = s.RejectEntry(ctx, "e1", "admin-2", "again")
	require.NoError(t, err)
	require.Equal(t, "admin-1", e.DecidedBy)
}

func TestAmendPendingAmountGuards(t *testing.T) {
	s := New()
	ctx := context.Background()
	insertEntry(t, s, "e1", "acc-1", 50000, models.KindDeposit)

	e, err := s.AmendPendingAmount(ctx, "e1", 45000)
	require.NoError(t, err)
	require.Equal(t, int64(45000), e.Amount)

	_, err = s.CommitEntry(ctx, "e1", "admin-1")
	require.NoError(t, err)

	_, err = s.AmendPendingAmount(ctx, "e1", 30000)
	require.ErrorIs(t, err, store.ErrEntryNotPending)
}

func TestEntryListReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	insertEntry(t, s, "e1", "acc-1", 50000, models.KindDeposit)

	entries, _, err := s.ListEntries(ctx, models.EntryFilter{AccountID: "acc-1"})
	require.NoError(t, err)
	entries[0].Amount = 1

	stored, err := s.GetEntry(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, int64(50000), stored.Amount)
}

func TestPagination(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		insertEntry(t, s, fmt.Sprintf("e%d", i), "acc-1", 50000, models.KindDeposit)
		time.Sleep(2 * time.Millisecond)
	}

	entries, total, err := s.ListEntries(ctx, models.EntryFilter{
		AccountID: "acc-1",
		Page:      models.Page{Skip: 2, Limit: 2},
	})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, entries, 2)
	// Newest first, so skipping two of five lands on e2.
	require.Equal(t, "e2", entries[0].ID)

	entries, total, err = s.ListEntries(ctx, models.EntryFilter{
		AccountID: "acc-1",
		Page:      models.Page{Skip: 10},
	})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Empty(t, entries)
}
