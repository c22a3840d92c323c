// Package lot implements the fixed-price lot engine: lot creation, FIFO
// consumption and bucket moves. Every function operates on a store.Tx and
// never commits; atomicity is the caller's transaction.
package lot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aurumvault/gold-ledger/internal/model"
	"github.com/aurumvault/gold-ledger/internal/store"
)

// Engine creates, consumes and moves lots.
type Engine struct {
	now func() time.Time
}

// NewEngine returns an Engine stamping lots with now. A nil now uses the
// wall clock truncated to microseconds (PostgreSQL timestamp precision).
// Stamps never go backwards for one owner, whatever the clock does.
func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	return &Engine{now: now}
}

// Spec describes a lot to create.
type Spec struct {
	OwnerID             string
	Grams               decimal.Decimal
	Price               decimal.Decimal
	Bucket              model.Bucket
	Source              model.SourceType
	SourceTransactionID string
	FromOwnerID         string
	ParentLotID         string
	Notes               string
}

// Create validates spec and inserts a new Active lot.
func (e *Engine) Create(ctx context.Context, tx store.Tx, spec Spec) (*model.Lot, error) {
	if err := model.ValidateOwner("owner_id", spec.OwnerID); err != nil {
		return nil, err
	}
	if err := model.ValidateGrams("grams", spec.Grams); err != nil {
		return nil, err
	}
	if err := model.ValidatePrice("price", spec.Price); err != nil {
		return nil, err
	}
	if !spec.Bucket.Valid() {
		return nil, &model.ValidationError{Field: "bucket", Reason: "unknown bucket " + string(spec.Bucket)}
	}
	if !spec.Source.Valid() {
		return nil, &model.ValidationError{Field: "source_type", Reason: "unknown source " + string(spec.Source)}
	}

	createdAt, err := store.NextStamp(ctx, tx, spec.OwnerID, e.now())
	if err != nil {
		return nil, err
	}

	l := &model.Lot{
		ID:                  newID(),
		OwnerID:             spec.OwnerID,
		OriginalGrams:       spec.Grams,
		RemainingGrams:      spec.Grams,
		LockedPrice:         spec.Price,
		Status:              model.LotActive,
		Bucket:              spec.Bucket,
		SourceType:          spec.Source,
		SourceTransactionID: spec.SourceTransactionID,
		FromOwnerID:         spec.FromOwnerID,
		ParentLotID:         spec.ParentLotID,
		Notes:               spec.Notes,
		CreatedAt:           createdAt,
	}
	if err := tx.InsertLot(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Fragment is the part of one lot taken by a consumption or a move.
type Fragment struct {
	LotID       string          `json:"lot_id"`
	Grams       decimal.Decimal `json:"grams"`
	LockedPrice decimal.Decimal `json:"locked_price"`
}

// Value is grams times the locked price, unrounded.
func (f Fragment) Value() decimal.Decimal {
	return f.Grams.Mul(f.LockedPrice)
}

func checkLot(l model.Lot) error { return l.Check() }

// available sums the remaining grams of lots after checking each one.
func available(lots []model.Lot) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, l := range lots {
		if err := checkLot(l); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(l.RemainingGrams)
	}
	return total, nil
}

func fragmentIDs(frags []Fragment) []string {
	ids := make([]string, 0, len(frags))
	for _, f := range frags {
		ids = append(ids, f.LotID)
	}
	return ids
}

// newID returns a time-ordered UUIDv7 so (createdAt, id) follows creation
// order even when two lots share a timestamp.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
