package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aurumvault/gold-ledger/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All grams and USD values are stored as NUMERIC for exact decimal precision.
//
// Writers take a transaction-scoped advisory lock per owner and lock the
// lot and balance rows they read, so two spends of the same owner can never
// both observe the same remaining grams.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) WithTx(ctx context.Context, owners []string, fn func(context.Context, Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapPgError("begin", err)
	}
	defer tx.Rollback(ctx)

	// Sorted so concurrent multi-owner transfers acquire in the same order.
	keys := append([]string(nil), owners...)
	sort.Strings(keys)
	for i, owner := range keys {
		if i > 0 && owner == keys[i-1] {
			continue
		}
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, owner); err != nil {
			return mapPgError("owner lock", err)
		}
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapPgError("transaction", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError("commit", err)
	}
	return nil
}

func (s *PostgresStore) View(ctx context.Context, fn func(context.Context, Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return mapPgError("begin", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx, readOnly: true}); err != nil {
		return mapPgError("view", err)
	}
	return tx.Commit(ctx)
}

// mapPgError turns serialization, deadlock and lock-timeout failures into
// retryable conflicts. Other errors pass through unchanged.
func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return &model.ConcurrencyConflictError{Op: op, Err: err}
		}
	}
	return err
}

type pgTx struct {
	tx       pgx.Tx
	readOnly bool
}

const lotColumns = `id, owner_id, original_grams::TEXT, remaining_grams::TEXT,
	locked_price_usd_per_gram::TEXT, status, bucket, source_type,
	COALESCE(source_transaction_id, ''), COALESCE(from_owner_id, ''),
	COALESCE(parent_lot_id::TEXT, ''), COALESCE(notes, ''), created_at`

func (t *pgTx) InsertLot(ctx context.Context, l *model.Lot) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO lots (id, owner_id, original_grams, remaining_grams, locked_price_usd_per_gram,
		                   status, bucket, source_type, source_transaction_id, from_owner_id,
		                   parent_lot_id, notes, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7, $8,
		         NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), $13)`,
		l.ID, l.OwnerID, l.OriginalGrams.String(), l.RemainingGrams.String(), l.LockedPrice.String(),
		string(l.Status), string(l.Bucket), string(l.SourceType),
		l.SourceTransactionID, l.FromOwnerID, l.ParentLotID, l.Notes, l.CreatedAt,
	)
	return err
}

func (t *pgTx) UpdateLot(ctx context.Context, l *model.Lot) error {
	if t.readOnly {
		return ErrReadOnly
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE lots SET remaining_grams = $2::NUMERIC, status = $3, bucket = $4 WHERE id = $1`,
		l.ID, l.RemainingGrams.String(), string(l.Status), string(l.Bucket),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lot %s: %w", l.ID, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) GetLot(ctx context.Context, id string) (*model.Lot, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots, err := scanLots(rows)
	if err != nil {
		return nil, err
	}
	if len(lots) == 0 {
		return nil, fmt.Errorf("lot %s: %w", id, model.ErrNotFound)
	}
	return &lots[0], nil
}

func (t *pgTx) ActiveLots(ctx context.Context, owner string, bucket model.Bucket) ([]model.Lot, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+lotColumns+`
		 FROM lots
		 WHERE owner_id = $1 AND bucket = $2 AND status = 'ACTIVE'
		 ORDER BY created_at, id`+t.forUpdate(), owner, string(bucket))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLots(rows)
}

func (t *pgTx) OwnerLots(ctx context.Context, owner string) ([]model.Lot, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+lotColumns+`
		 FROM lots
		 WHERE owner_id = $1 AND status = 'ACTIVE'
		 ORDER BY created_at, id`+t.forUpdate(), owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLots(rows)
}

func (t *pgTx) LastActivity(ctx context.Context, owner string) (time.Time, error) {
	var last *time.Time
	err := t.tx.QueryRow(ctx,
		`SELECT GREATEST(
		        (SELECT max(created_at) FROM lots WHERE owner_id = $1),
		        (SELECT max(created_at) FROM ledger_entries WHERE owner_id = $1))`, owner).
		Scan(&last)
	if err != nil || last == nil {
		return time.Time{}, err
	}
	return last.UTC(), nil
}

func (t *pgTx) MarketBalance(ctx context.Context, owner string) (model.MarketBalance, error) {
	bal := model.MarketBalance{OwnerID: owner}
	var avail, pending, locked, reserved string

	err := t.tx.QueryRow(ctx,
		`SELECT available_grams::TEXT, pending_grams::TEXT,
		        locked_bnsl_grams::TEXT, reserved_trade_grams::TEXT, updated_at
		 FROM market_balances WHERE owner_id = $1`+t.forUpdate(), owner).
		Scan(&avail, &pending, &locked, &reserved, &bal.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return bal, nil
	}
	if err != nil {
		return bal, fmt.Errorf("get market balance %s: %w", owner, err)
	}

	bal.AvailableGrams, _ = decimal.NewFromString(avail)
	bal.PendingGrams, _ = decimal.NewFromString(pending)
	bal.LockedBNSLGrams, _ = decimal.NewFromString(locked)
	bal.ReservedTradeGrams, _ = decimal.NewFromString(reserved)
	return bal, nil
}

func (t *pgTx) SaveMarketBalance(ctx context.Context, b model.MarketBalance) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO market_balances (owner_id, available_grams, pending_grams,
		                              locked_bnsl_grams, reserved_trade_grams, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)
		 ON CONFLICT (owner_id) DO UPDATE
		 SET available_grams = EXCLUDED.available_grams,
		     pending_grams = EXCLUDED.pending_grams,
		     locked_bnsl_grams = EXCLUDED.locked_bnsl_grams,
		     reserved_trade_grams = EXCLUDED.reserved_trade_grams,
		     updated_at = EXCLUDED.updated_at`,
		b.OwnerID, b.AvailableGrams.String(), b.PendingGrams.String(),
		b.LockedBNSLGrams.String(), b.ReservedTradeGrams.String(), b.UpdatedAt,
	)
	return err
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	if t.readOnly {
		return ErrReadOnly
	}
	lotIDs := e.LotIDs
	if lotIDs == nil {
		lotIDs = []string{}
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, owner_id, action, gold_grams, price_per_gram_usd, value_usd,
		                             from_wallet, from_bucket, to_wallet, to_bucket,
		                             balance_after_grams, transaction_id, counterparty_id,
		                             lot_ids, notes, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
		         NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
		         $11::NUMERIC, $12, NULLIF($13, ''), $14, NULLIF($15, ''), $16)`,
		e.ID, e.OwnerID, string(e.Action),
		e.GoldGrams.String(), e.PricePerGramUSD.String(), e.ValueUSD.String(),
		string(e.FromWallet), string(e.FromBucket), string(e.ToWallet), string(e.ToBucket),
		e.BalanceAfterGrams.String(), e.TransactionID, e.CounterpartyID,
		lotIDs, e.Notes, e.CreatedAt,
	)
	return err
}

func (t *pgTx) LedgerEntries(ctx context.Context, owner string) ([]model.LedgerEntry, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, owner_id, action, gold_grams::TEXT, price_per_gram_usd::TEXT, value_usd::TEXT,
		        COALESCE(from_wallet, ''), COALESCE(from_bucket, ''),
		        COALESCE(to_wallet, ''), COALESCE(to_bucket, ''),
		        balance_after_grams::TEXT, transaction_id, COALESCE(counterparty_id, ''),
		        lot_ids, COALESCE(notes, ''), created_at
		 FROM ledger_entries WHERE owner_id = $1 ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (t *pgTx) forUpdate() string {
	if t.readOnly {
		return ""
	}
	return " FOR UPDATE"
}

// pgxRows is the subset of pgx.Rows used by the scanners.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanLots(rows pgxRows) ([]model.Lot, error) {
	var lots []model.Lot
	for rows.Next() {
		var l model.Lot
		var original, remaining, price, status, bucket, source string

		if err := rows.Scan(&l.ID, &l.OwnerID, &original, &remaining, &price,
			&status, &bucket, &source,
			&l.SourceTransactionID, &l.FromOwnerID, &l.ParentLotID, &l.Notes, &l.CreatedAt); err != nil {
			return nil, err
		}

		l.OriginalGrams, _ = decimal.NewFromString(original)
		l.RemainingGrams, _ = decimal.NewFromString(remaining)
		l.LockedPrice, _ = decimal.NewFromString(price)
		l.Status = model.LotStatus(status)
		l.Bucket = model.Bucket(bucket)
		l.SourceType = model.SourceType(source)

		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var action, grams, price, value, fromW, fromB, toW, toB, after string

		if err := rows.Scan(&e.ID, &e.OwnerID, &action, &grams, &price, &value,
			&fromW, &fromB, &toW, &toB,
			&after, &e.TransactionID, &e.CounterpartyID,
			&e.LotIDs, &e.Notes, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Action = model.Action(action)
		e.GoldGrams, _ = decimal.NewFromString(grams)
		e.PricePerGramUSD, _ = decimal.NewFromString(price)
		e.ValueUSD, _ = decimal.NewFromString(value)
		e.FromWallet = model.Wallet(fromW)
		e.FromBucket = model.Bucket(fromB)
		e.ToWallet = model.Wallet(toW)
		e.ToBucket = model.Bucket(toB)
		e.BalanceAfterGrams, _ = decimal.NewFromString(after)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
