// Package store defines the persistence interface for the gold ledger.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing); Redis provides a summary cache and commit fan-out.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aurumvault/gold-ledger/internal/model"
)

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("store: write attempted in read-only transaction")

// Store opens transactions. Every mutating operation runs inside exactly
// one WithTx call: lots, the balance row and ledger entries commit or roll
// back together.
type Store interface {
	// WithTx runs fn in one atomic unit, serialized against every other
	// writer touching any of owners. A non-nil error from fn rolls back.
	WithTx(ctx context.Context, owners []string, fn func(ctx context.Context, tx Tx) error) error

	// View runs fn against a consistent snapshot at the writers' isolation
	// level. Writes fail with ErrReadOnly.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of row operations available inside a transaction.
type Tx interface {
	// --- Lots ---

	// InsertLot persists a new lot.
	InsertLot(ctx context.Context, lot *model.Lot) error

	// UpdateLot overwrites remaining grams, status and bucket of a lot.
	UpdateLot(ctx context.Context, lot *model.Lot) error

	// GetLot retrieves a lot by ID.
	GetLot(ctx context.Context, id string) (*model.Lot, error)

	// ActiveLots returns the Active lots in bucket, ordered by (createdAt, id).
	// Rows are returned as stored; callers check model.Lot.Check. Inside
	// WithTx the rows are locked.
	ActiveLots(ctx context.Context, owner string, bucket model.Bucket) ([]model.Lot, error)

	// OwnerLots returns every Active lot of owner in FIFO order.
	OwnerLots(ctx context.Context, owner string) ([]model.Lot, error)

	// LastActivity returns the latest createdAt among owner's lots (any
	// status) and ledger entries; the zero time when there are none.
	LastActivity(ctx context.Context, owner string) (time.Time, error)

	// --- Market balance row ---

	// MarketBalance returns the MPGW row of owner; zeros when absent.
	MarketBalance(ctx context.Context, owner string) (model.MarketBalance, error)

	// SaveMarketBalance upserts the MPGW row.
	SaveMarketBalance(ctx context.Context, bal model.MarketBalance) error

	// --- Immutable ledger ---

	// InsertLedgerEntry appends an immutable entry.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// LedgerEntries returns all entries of owner in creation order.
	LedgerEntries(ctx context.Context, owner string) ([]model.LedgerEntry, error)
}

// NextStamp returns the createdAt for a new row of owner: now, or one
// microsecond past owner's last activity when the clock has not moved past
// it. FIFO and ledger order key on createdAt, so it must only grow.
func NextStamp(ctx context.Context, tx Tx, owner string, now time.Time) (time.Time, error) {
	last, err := tx.LastActivity(ctx, owner)
	if err != nil {
		return time.Time{}, fmt.Errorf("last activity of %s: %w", owner, err)
	}
	if now.After(last) {
		return now, nil
	}
	return last.Add(time.Microsecond), nil
}
