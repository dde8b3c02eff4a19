package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nhadatviet/walletops/internal/events"
	"github.com/nhadatviet/walletops/internal/ledger"
	"github.com/nhadatviet/walletops/internal/models"
	"github.com/nhadatviet/walletops/internal/store"
	"github.com/nhadatviet/walletops/internal/store/memory"
)

// fakeCatalog counts publishes and can be told to fail.
type fakeCatalog struct {
	published int64
	fail      bool
}

func (f *fakeCatalog) PublishListing(context.Context, *models.ModerationItem) error {
	if f.fail {
		return errors.New("catalog unavailable")
	}
	atomic.AddInt64(&f.published, 1)
	return nil
}

type fixture struct {
	queue   *Queue
	ledger  *ledger.Service
	catalog *fakeCatalog
	store   *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	mem := memory.New()
	led := ledger.NewService(mem, events.Noop{}, logger, 10000)
	cat := &fakeCatalog{}
	return &fixture{
		queue:   NewQueue(mem, led, cat, events.Noop{}, logger),
		ledger:  led,
		catalog: cat,
		store:   mem,
	}
}

func (f *fixture) fund(t *testing.T, accountID string, amount int64) {
	t.Helper()
	entry, err := f.ledger.RequestDeposit(context.Background(), accountID, amount, "proofs/seed.jpg", "seed")
	require.NoError(t, err)
	_, err = f.ledger.CommitEntry(context.Background(), entry.ID, "admin-seed")
	require.NoError(t, err)
}

var payload = json.RawMessage(`{"title":"2BR apartment, district 7","price":2100000000}`)

func TestSubmitWithFeeOpensPendingDebit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fund(t, "member-1", 100000)
	item, err := f.queue.Submit(ctx, "member-1", models.ItemProperty, payload, 20000)
	require.NoError(t, err)
	require.Equal(t, models.ItemPending, item.Status)
	require.NotEmpty(t, item.LinkedEntryID)

	entry, err := f.ledger.GetEntry(ctx, item.LinkedEntryID)
	require.NoError(t, err)
	require.Equal(t, models.EntryPending, entry.Status)
	require.Equal(t, models.KindDebit, entry.Kind)

	// The pending fee must not touch the balance yet.
	acc, err := f.ledger.GetBalance(ctx, "member-1")
	require.NoError(t, err)
	require.Equal(t, int64(100000), acc.Balance)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.queue.Submit(ctx, "member-1", "news", payload, 0)
	require.ErrorIs(t, err, ErrInvalidItemType)

	_, err = f.queue.Submit(ctx, "member-1", models.ItemTicket, nil, 0)
	require.ErrorIs(t, err, ErrEmptyPayload)

	_, err = f.queue.Submit(ctx, "member-1", models.ItemSim, payload, -5)
	require.NoError(t, err) // non-positive fee means free submission
}

func TestApproveChargesFeeAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fund(t, "member-1", 100000)
	item, err := f.queue.Submit(ctx, "member-1", models.ItemLand, payload, 20000)
	require.NoError(t, err)

	approved, err := f.queue.Approve(ctx, item.ID, "admin-1", "looks good")
	require.NoError(t, err)
	require.Equal(t, models.ItemApproved, approved.Status)
	require.Equal(t, "looks good", approved.AdminNotes)
	require.False(t, approved.PublicationFailed)
	require.Equal(t, int64(1), atomic.LoadInt64(&f.catalog.published))

	entry, err := f.ledger.GetEntry(ctx, item.LinkedEntryID)
	require.NoError(t, err)
	require.Equal(t, models.EntryCompleted, entry.Status)

	acc, err := f.ledger.GetBalance(ctx, "member-1")
	require.NoError(t, err)
	require.Equal(t, int64(80000), acc.Balance)

	// Duplicate approval: no second publish, no second charge.
	again, err := f.queue.Approve(ctx, item.ID, "admin-2", "")
	require.NoError(t, err)
	require.Equal(t, models.ItemApproved, again.Status)
	require.Equal(t, int64(1), atomic.LoadInt64(&f.catalog.published))

	acc, err = f.ledger.GetBalance(ctx, "member-1")
	require.NoError(t, err)
	require.Equal(t, int64(80000), acc.Balance)
}

func TestApproveInsufficientFundsAutoRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fund(t, "member-1", 30000)
	item, err := f.queue.Submit(ctx, "member-1", models.ItemProperty, payload, 50000)
	require.NoError(t, err)

	decided, err := f.queue.Approve(ctx, item.ID, "admin-1", "")
	require.ErrorIs(t, err, store.ErrInsufficientFunds)
	require.Equal(t, models.ItemRejected, decided.Status)
	require.Equal(t, "system", decided.DecidedBy)
	require.Contains(t, decided.AdminNotes, "insufficient funds")
	require.Zero(t, atomic.LoadInt64(&f.catalog.published))

	// The fee was never charged.
	acc, err := f.ledger.GetBalance(ctx, "member-1")
	require.NoError(t, err)
	require.Equal(t, int64(30000), acc.Balance)

	entry, err := f.ledger.GetEntry(ctx, item.LinkedEntryID)
	require.NoError(t, err)
	require.Equal(t, models.EntryRejected, entry.Status)
}

func TestRejectDiscardsFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fund(t, "member-1", 100000)
	item, err := f.queue.Submit(ctx, "member-1", models.ItemSim, payload, 20000)
	require.NoError(t, err)

	rejected, err := f.queue.Reject(ctx, item.ID, "admin-1", "duplicate listing")
	require.NoError(t, err)
	require.Equal(t, models.ItemRejected, rejected.Status)
	require.Equal(t, "duplicate listing", rejected.AdminNotes)

	entry, err := f.ledger.GetEntry(ctx, item.LinkedEntryID)
	require.NoError(t, err)
	require.Equal(t, models.EntryRejected, entry.Status)

	acc, err := f.ledger.GetBalance(ctx, "member-1")
	require.NoError(t, err)
	require.Equal(t, int64(100000), acc.Balance)

	// Re-reject is a no-op; approve after reject is a conflict.
	_, err = f.queue.Reject(ctx, item.ID, "admin-2", "again")
	require.NoError(t, err)
	_, err = f.queue.Approve(ctx, item.ID, "admin-2", "")
	require.ErrorIs(t, err, store.ErrAlreadyDecided)
}

func TestTicketApprovalSkipsCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.queue.Submit(ctx, "member-1", models.ItemTicket, json.RawMessage(`{"subject":"cannot log in"}`), 0)
	require.NoError(t, err)
	require.Empty(t, item.LinkedEntryID)

	approved, err := f.queue.Approve(ctx, item.ID, "admin-1", "resolved")
	require.NoError(t, err)
	require.Equal(t, models.ItemApproved, approved.Status)
	require.Zero(t, atomic.LoadInt64(&f.catalog.published))
}

func TestDeleteOnlyWhilePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fund(t, "member-1", 100000)
	item, err := f.queue.Submit(ctx, "member-1", models.ItemProperty, payload, 20000)
	require.NoError(t, err)

	require.NoError(t, f.queue.Delete(ctx, item.ID, "admin-1"))

	// Deleting released the pending fee entry.
	entry, err := f.ledger.GetEntry(ctx, item.LinkedEntryID)
	require.NoError(t, err)
	require.Equal(t, models.EntryRejected, entry.Status)

	// Decided items are retained for audit.
	decided, err := f.queue.Submit(ctx, "member-1", models.ItemTicket, payload, 0)
	require.NoError(t, err)
	_, err = f.queue.Approve(ctx, decided.ID, "admin-1", "")
	require.NoError(t, err)

	err = f.queue.Delete(ctx, decided.ID, "admin-1")
	require.ErrorIs(t, err, store.ErrItemNotPending)
}

func TestPublicationFailureIsFlaggedAndRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.queue.Submit(ctx, "member-1", models.ItemProperty, payload, 0)
	require.NoError(t, err)

	f.catalog.fail = true
	approved, err := f.queue.Approve(ctx, item.ID, "admin-1", "")
	require.NoError(t, err)
	// Approval stands even though publication failed.
	require.Equal(t, models.ItemApproved, approved.Status)
	require.True(t, approved.PublicationFailed)

	_, err = f.queue.RetryPublication(ctx, item.ID, "admin-1")
	require.Error(t, err)

	f.catalog.fail = false
	retried, err := f.queue.RetryPublication(ctx, item.ID, "admin-1")
	require.NoError(t, err)
	require.False(t, retried.PublicationFailed)
	require.Equal(t, int64(1), atomic.LoadInt64(&f.catalog.published))

	// Nothing left to retry.
	_, err = f.queue.RetryPublication(ctx, item.ID, "admin-1")
	require.ErrorIs(t, err, ErrNotRetryable)
}

func TestConcurrentApprovalsPublishOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fund(t, "member-1", 100000)
	item, err := f.queue.Submit(ctx, "member-1", models.ItemLand, payload, 20000)
	require.NoError(t, err)

	const admins = 8
	errCh := make(chan error, admins)
	var wg sync.WaitGroup
	for i := 0; i < admins; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.queue.Approve(ctx, item.ID, "admin-1", "")
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	require.Equal(t, int64(1), atomic.LoadInt64(&f.catalog.published))

	// The fee applied exactly once.
	acc, err := f.ledger.GetBalance(ctx, "member-1")
	require.NoError(t, err)
	require.Equal(t, int64(80000), acc.Balance)
}

func TestConcurrentApproveAndRejectSettleConsistently(t *testing.T) {
	ctx := context.Background()

	// Repeat to exercise different interleavings of the two decisions.
	for run := 0; run < 25; run++ {
		f := newFixture(t)
		f.fund(t, "member-1", 100000)
		item, err := f.queue.Submit(ctx, "member-1", models.ItemLand, payload, 20000)
		require.NoError(t, err)

		errCh := make(chan error, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.queue.Approve(ctx, item.ID, "admin-1", "")
			errCh <- err
		}()
		go func() {
			defer wg.Done()
			_, err := f.queue.Reject(ctx, item.ID, "admin-2", "spam")
			errCh <- err
		}()
		wg.Wait()
		close(errCh)
		for err := range errCh {
			if err != nil {
				// The loser observes the winning decision.
				require.True(t,
					errors.Is(err, store.ErrAlreadyDecided) || errors.Is(err, store.ErrInsufficientFunds),
					"unexpected decision error: %v", err)
			}
		}

		final, err := f.queue.Get(ctx, item.ID)
		require.NoError(t, err)
		acc, err := f.ledger.GetBalance(ctx, "member-1")
		require.NoError(t, err)
		entry, err := f.ledger.GetEntry(ctx, item.LinkedEntryID)
		require.NoError(t, err)

		switch final.Status {
		case models.ItemApproved:
			// Fee collected once, never reversed.
			require.Equal(t, models.EntryCompleted, entry.Status)
			require.Equal(t, int64(80000), acc.Balance)
			require.Equal(t, int64(1), atomic.LoadInt64(&f.catalog.published))
		case models.ItemRejected:
			// Fee never effectively charged: either discarded while
			// pending or reversed by a corrective refund.
			require.Equal(t, int64(100000), acc.Balance)
			require.Zero(t, atomic.LoadInt64(&f.catalog.published))
		default:
			t.Fatalf("item left pending after concurrent decisions")
		}
	}
}

func TestListOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.queue.Submit(ctx, "member-1", models.ItemTicket, payload, 0)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := f.queue.Submit(ctx, "member-1", models.ItemTicket, payload, 0)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	third, err := f.queue.Submit(ctx, "member-1", models.ItemTicket, payload, 0)
	require.NoError(t, err)

	_, err = f.queue.Approve(ctx, first.ID, "admin-1", "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = f.queue.Reject(ctx, second.ID, "admin-1", "spam")
	require.NoError(t, err)

	items, total, err := f.queue.List(ctx, models.ItemFilter{SubmitterID: "member-1"})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, items, 3)

	// Pending first, then decided items by decision time descending.
	require.Equal(t, third.ID, items[0].ID)
	require.Equal(t, second.ID, items[1].ID)
	require.Equal(t, first.ID, items[2].ID)
}
