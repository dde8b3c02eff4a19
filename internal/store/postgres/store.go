// Package postgres is the production implementation of the store
// contracts. Decision paths run inside a transaction that locks the
// entry (or item) row and the owning account row with FOR UPDATE, so
// concurrent decisions on the same entity serialize and the balance
// read-modify-write never interleaves.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nhadatviet/walletops/internal/models"
	"github.com/nhadatviet/walletops/internal/store"
)

type Store struct {
	db *pgxpool.Pool
}

func New(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool}, nil
}

func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func (s *Store) Close() {
	s.db.Close()
}

const entryColumns = "id, account_id, amount, kind, status, reference, proof_ref, reason, created_at, decided_at, decided_by"

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Kind, &e.Status,
		&e.Reference, &e.ProofRef, &e.Reason, &e.CreatedAt, &e.DecidedAt, &e.DecidedBy)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const itemColumns = "id, submitter_id, item_type, payload, status, admin_notes, linked_entry_id, publication_failed, created_at, decided_at, decided_by"

func scanItem(row pgx.Row) (*models.ModerationItem, error) {
	var i models.ModerationItem
	err := row.Scan(&i.ID, &i.SubmitterID, &i.Type, &i.Payload, &i.Status,
		&i.AdminNotes, &i.LinkedEntryID, &i.PublicationFailed, &i.CreatedAt, &i.DecidedAt, &i.DecidedBy)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// LedgerStore

func (s *Store) EnsureAccount(ctx context.Context, accountID string) (*models.Account, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO accounts (id, balance, version)
		VALUES ($1, 0, 0)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING id, balance, version, created_at`,
		accountID)

	var acc models.Account
	if err := row.Scan(&acc.ID, &acc.Balance, &acc.Version, &acc.CreatedAt); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return &acc, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var acc models.Account
	err := s.db.QueryRow(ctx,
		"SELECT id, balance, version, created_at FROM accounts WHERE id = $1",
		accountID).Scan(&acc.ID, &acc.Balance, &acc.Version, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAccountNotFound
		}
		return nil, err
	}
	return &acc, nil
}

func (s *Store) InsertEntry(ctx context.Context, e *models.LedgerEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ledger_entries (id, account_id, amount, kind, status, reference, proof_ref, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8)`,
		e.ID, e.AccountID, e.Amount, e.Kind, e.Status, e.Reference, e.ProofRef, e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return store.ErrAccountNotFound
		}
		return fmt.Errorf("entry insert failed: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (*models.LedgerEntry, error) {
	e, err := scanEntry(s.db.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE id = $1", entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrEntryNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *Store) CommitEntry(ctx context.Context, entryID, decidedBy string) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	e, err := scanEntry(tx.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE id = $1 FOR UPDATE", entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrEntryNotFound
		}
		return nil, fmt.Errorf("entry lock failed: %w", err)
	}

	switch e.Status {
	case models.EntryCompleted:
		// Duplicate admin click, nothing to apply.
		return e, tx.Commit(ctx)
	case models.EntryRejected:
		return e, store.ErrAlreadyDecided
	}

	var balance int64
	err = tx.QueryRow(ctx,
		"SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", e.AccountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAccountNotFound
		}
		return nil, fmt.Errorf("account lock failed: %w", err)
	}

	// Sufficiency is checked here, inside the same critical section that
	// applies the mutation.
	if e.Kind == models.KindDebit && balance-e.Amount < 0 {
		e, err = scanEntry(tx.QueryRow(ctx, `
			UPDATE ledger_entries
			SET status = 'rejected', reason = 'insufficient funds', decided_at = now(), decided_by = $2
			WHERE id = $1
			RETURNING `+entryColumns, entryID, decidedBy))
		if err != nil {
			return nil, fmt.Errorf("entry auto-reject failed: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("tx commit failed: %w", err)
		}
		return e, store.ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx,
		"UPDATE accounts SET balance = balance + $1, version = version + 1 WHERE id = $2",
		e.Delta(), e.AccountID)
	if err != nil {
		return nil, fmt.Errorf("balance update failed: %w", err)
	}

	e, err = scanEntry(tx.QueryRow(ctx, `
		UPDATE ledger_entries
		SET status = 'completed', decided_at = now(), decided_by = $2
		WHERE id = $1
		RETURNING `+entryColumns, entryID, decidedBy))
	if err != nil {
		return nil, fmt.Errorf("entry commit failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return e, nil
}

func (s *Store) RejectEntry(ctx context.Context, entryID, decidedBy, reason string) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	e, err := scanEntry(tx.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE id = $1 FOR UPDATE", entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrEntryNotFound
		}
		return nil, fmt.Errorf("entry lock failed: %w", err)
	}

	switch e.Status {
	case models.EntryRejected:
		return e, tx.Commit(ctx)
	case models.EntryCompleted:
		return e, store.ErrAlreadyDecided
	}

	e, err = scanEntry(tx.QueryRow(ctx, `
		UPDATE ledger_entries
		SET status = 'rejected', reason = $2, decided_at = now(), decided_by = $3
		WHERE id = $1
		RETURNING `+entryColumns, entryID, reason, decidedBy))
	if err != nil {
		return nil, fmt.Errorf("entry reject failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return e, nil
}

func (s *Store) AmendPendingAmount(ctx context.Context, entryID string, amount int64) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	e, err := scanEntry(tx.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE id = $1 FOR UPDATE", entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrEntryNotFound
		}
		return nil, fmt.Errorf("entry lock failed: %w", err)
	}
	if e.Status != models.EntryPending {
		return e, store.ErrEntryNotPending
	}

	e, err = scanEntry(tx.QueryRow(ctx,
		"UPDATE ledger_entries SET amount = $2 WHERE id = $1 RETURNING "+entryColumns,
		entryID, amount))
	if err != nil {
		return nil, fmt.Errorf("entry amend failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return e, nil
}

func (s *Store) ListEntries(ctx context.Context, f models.EntryFilter) ([]models.LedgerEntry, int, error) {
	where := "WHERE 1=1"
	var args []interface{}
	if f.AccountID != "" {
		var exists bool
		if err := s.db.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", f.AccountID).Scan(&exists); err != nil {
			return nil, 0, err
		}
		if !exists {
			return nil, 0, store.ErrAccountNotFound
		}
		args = append(args, f.AccountID)
		where += fmt.Sprintf(" AND account_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		where += fmt.Sprintf(" AND kind = $%d", len(args))
	}

	var total int
	if err := s.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM ledger_entries "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + entryColumns + " FROM ledger_entries " + where +
		" ORDER BY created_at DESC, id DESC"
	if f.Page.Limit > 0 {
		args = append(args, f.Page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Page.Skip > 0 {
		args = append(args, f.Page.Skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *e)
	}
	return entries, total, rows.Err()
}

// ModerationStore

func (s *Store) InsertItem(ctx context.Context, i *models.ModerationItem) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO moderation_items (id, submitter_id, item_type, payload, status, admin_notes, linked_entry_id, publication_failed, created_at)
		VALUES ($1, $2, $3, $4, $5, '', $6, false, $7)`,
		i.ID, i.SubmitterID, i.Type, i.Payload, i.Status, i.LinkedEntryID, i.CreatedAt)
	if err != nil {
		return fmt.Errorf("item insert failed: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, itemID string) (*models.ModerationItem, error) {
	i, err := scanItem(s.db.QueryRow(ctx,
		"SELECT "+itemColumns+" FROM moderation_items WHERE id = $1", itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrItemNotFound
		}
		return nil, err
	}
	return i, nil
}

func (s *Store) DecideItem(ctx context.Context, itemID string, status models.ItemStatus, decidedBy, notes string) (*models.ModerationItem, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	i, err := scanItem(tx.QueryRow(ctx,
		"SELECT "+itemColumns+" FROM moderation_items WHERE id = $1 FOR UPDATE", itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, store.ErrItemNotFound
		}
		return nil, false, fmt.Errorf("item lock failed: %w", err)
	}

	if i.Status != models.ItemPending {
		if i.Status == status {
			return i, false, tx.Commit(ctx)
		}
		return i, false, store.ErrAlreadyDecided
	}

	i, err = scanItem(tx.QueryRow(ctx, `
		UPDATE moderation_items
		SET status = $2, decided_at = now(), decided_by = $3,
		    admin_notes = CASE WHEN $4 = '' THEN admin_notes ELSE $4 END
		WHERE id = $1
		RETURNING `+itemColumns, itemID, status, decidedBy, notes))
	if err != nil {
		return nil, false, fmt.Errorf("item decide failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("tx commit failed: %w", err)
	}
	return i, true, nil
}

func (s *Store) SetPublicationFailed(ctx context.Context, itemID string, failed bool) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE moderation_items SET publication_failed = $2 WHERE id = $1", itemID, failed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrItemNotFound
	}
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, itemID string) error {
	tag, err := s.db.Exec(ctx,
		"DELETE FROM moderation_items WHERE id = $1 AND status = 'pending'", itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM moderation_items WHERE id = $1)", itemID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return store.ErrItemNotPending
		}
		return store.ErrItemNotFound
	}
	return nil
}

func (s *Store) ListItems(ctx context.Context, f models.ItemFilter) ([]models.ModerationItem, int, error) {
	where := "WHERE 1=1"
	var args []interface{}
	if f.SubmitterID != "" {
		args = append(args, f.SubmitterID)
		where += fmt.Sprintf(" AND submitter_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		where += fmt.Sprintf(" AND item_type = $%d", len(args))
	}
	if f.PublicationFailed != nil {
		args = append(args, *f.PublicationFailed)
		where += fmt.Sprintf(" AND publication_failed = $%d", len(args))
	}

	var total int
	if err := s.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM moderation_items "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// Pending first in FIFO order, then decided items newest decision first.
	query := "SELECT " + itemColumns + " FROM moderation_items " + where + `
		ORDER BY (status = 'pending') DESC,
		         CASE WHEN status = 'pending' THEN created_at END ASC,
		         decided_at DESC, id ASC`
	if f.Page.Limit > 0 {
		args = append(args, f.Page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Page.Skip > 0 {
		args = append(args, f.Page.Skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []models.ModerationItem
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *i)
	}
	return items, total, rows.Err()
}

func (s *Store) CountByStatus(ctx context.Context, submitterID string) (map[models.ItemStatus]int, error) {
	rows, err := s.db.Query(ctx,
		"SELECT status, COUNT(*) FROM moderation_items WHERE submitter_id = $1 GROUP BY status",
		submitterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.ItemStatus]int)
	for rows.Next() {
		var status models.ItemStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
