// Package ledger appends the immutable audit trail. One entry is written per
// affected owner per mutating operation, inside the operation's transaction.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aurumvault/gold-ledger/internal/balance"
	"github.com/aurumvault/gold-ledger/internal/model"
	"github.com/aurumvault/gold-ledger/internal/store"
)

// Recorder stamps and appends ledger entries.
type Recorder struct {
	now func() time.Time
}

// NewRecorder returns a Recorder using now for CreatedAt; nil means the wall
// clock truncated to microseconds.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	return &Recorder{now: now}
}

// Record validates e, fills ID, CreatedAt and BalanceAfterGrams from the
// post-operation state visible in tx, and appends it. It must be called
// after the mutation it describes.
func (r *Recorder) Record(ctx context.Context, tx store.Tx, e *model.LedgerEntry) error {
	if err := validate(e); err != nil {
		return err
	}

	s, err := balance.Summarize(ctx, tx, e.OwnerID)
	if err != nil {
		return fmt.Errorf("summarize for ledger: %w", err)
	}
	if s.TotalGrams.IsNegative() {
		return model.Invariantf("owner %s total %s is negative after %s", e.OwnerID, s.TotalGrams, e.Action)
	}

	at, err := store.NextStamp(ctx, tx, e.OwnerID, r.now())
	if err != nil {
		return fmt.Errorf("stamp ledger entry: %w", err)
	}

	e.ID = uuid.Must(uuid.NewV7()).String()
	e.CreatedAt = at
	e.BalanceAfterGrams = s.TotalGrams
	e.ValueUSD = model.USD(e.ValueUSD)

	if err := tx.InsertLedgerEntry(ctx, e); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// History returns every entry of owner in creation order.
func History(ctx context.Context, tx store.Tx, owner string) ([]model.LedgerEntry, error) {
	return tx.LedgerEntries(ctx, owner)
}

func validate(e *model.LedgerEntry) error {
	if err := model.ValidateOwner("owner_id", e.OwnerID); err != nil {
		return err
	}
	if !e.Action.Valid() {
		return &model.ValidationError{Field: "action", Reason: "unknown action " + string(e.Action)}
	}
	if err := model.ValidateGrams("gold_grams", e.GoldGrams); err != nil {
		return err
	}
	if e.TransactionID == "" {
		return &model.ValidationError{Field: "transaction_id", Reason: "is required"}
	}
	if e.FromWallet == "" && e.ToWallet == "" {
		return &model.ValidationError{Field: "wallet", Reason: "entry moves grams nowhere"}
	}
	if e.FromWallet != "" && (!e.FromWallet.Valid() || !e.FromBucket.Valid()) {
		return &model.ValidationError{Field: "from", Reason: fmt.Sprintf("invalid source %s/%s", e.FromWallet, e.FromBucket)}
	}
	if e.ToWallet != "" && (!e.ToWallet.Valid() || !e.ToBucket.Valid()) {
		return &model.ValidationError{Field: "to", Reason: fmt.Sprintf("invalid destination %s/%s", e.ToWallet, e.ToBucket)}
	}
	if e.PricePerGramUSD.IsNegative() {
		return &model.ValidationError{Field: "price_per_gram_usd", Reason: "must not be negative"}
	}
	return nil
}
