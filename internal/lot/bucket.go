package lot

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aurumvault/gold-ledger/internal/model"
	"github.com/aurumvault/gold-ledger/internal/store"
)

// Movement is the result of moving grams between buckets.
// Fragments name the lots that now hold the moved grams in the destination.
type Movement struct {
	From       model.Bucket    `json:"from_bucket"`
	To         model.Bucket    `json:"to_bucket"`
	Fragments  []Fragment      `json:"moved_lots"`
	TotalMoved decimal.Decimal `json:"total_moved"`
	Splits     int             `json:"splits"`
}

// LotIDs lists the destination lots in FIFO order.
func (m Movement) LotIDs() []string { return fragmentIDs(m.Fragments) }

// Value is the locked value of the moved grams, rounded to cents.
func (m Movement) Value() decimal.Decimal {
	v := decimal.Zero
	for _, f := range m.Fragments {
		v = v.Add(f.Value())
	}
	return model.USD(v)
}

// Move transfers grams of owner's lots from one bucket to another in FIFO
// order. A lot moved whole is re-bucketed in place; a lot moved in part is
// split, the child keeping the parent's locked price and pointing back at
// it through ParentLotID.
//
// Unlock is Move with the buckets swapped.
func (e *Engine) Move(ctx context.Context, tx store.Tx, owner string, from, to model.Bucket, grams decimal.Decimal) (Movement, error) {
	if err := model.ValidateOwner("owner_id", owner); err != nil {
		return Movement{}, err
	}
	if err := model.ValidateGrams("grams", grams); err != nil {
		return Movement{}, err
	}
	if !from.Valid() || !to.Valid() {
		return Movement{}, &model.ValidationError{Field: "bucket", Reason: "unknown bucket"}
	}
	if from == to {
		return Movement{}, &model.ValidationError{Field: "to_bucket", Reason: "must differ from from_bucket"}
	}

	lots, err := tx.ActiveLots(ctx, owner, from)
	if err != nil {
		return Movement{}, err
	}
	total, err := available(lots)
	if err != nil {
		return Movement{}, err
	}
	if total.LessThan(grams) {
		return Movement{}, &model.InsufficientBalanceError{
			Wallet:    model.WalletFixed,
			Bucket:    from,
			Requested: grams,
			Available: total,
		}
	}

	m := Movement{From: from, To: to, TotalMoved: grams}
	need := grams
	for i := range lots {
		if !need.IsPositive() {
			break
		}
		l := &lots[i]

		if l.RemainingGrams.LessThanOrEqual(need) {
			l.Bucket = to
			if err := tx.UpdateLot(ctx, l); err != nil {
				return Movement{}, err
			}
			m.Fragments = append(m.Fragments, Fragment{LotID: l.ID, Grams: l.RemainingGrams, LockedPrice: l.LockedPrice})
			need = need.Sub(l.RemainingGrams)
			continue
		}

		l.RemainingGrams = l.RemainingGrams.Sub(need)
		if err := checkLot(*l); err != nil {
			return Movement{}, err
		}
		if err := tx.UpdateLot(ctx, l); err != nil {
			return Movement{}, err
		}
		child, err := e.Create(ctx, tx, Spec{
			OwnerID:             owner,
			Grams:               need,
			Price:               l.LockedPrice,
			Bucket:              to,
			Source:              l.SourceType,
			SourceTransactionID: l.SourceTransactionID,
			FromOwnerID:         l.FromOwnerID,
			ParentLotID:         l.ID,
		})
		if err != nil {
			return Movement{}, err
		}
		m.Fragments = append(m.Fragments, Fragment{LotID: child.ID, Grams: need, LockedPrice: child.LockedPrice})
		m.Splits++
		need = decimal.Zero
	}

	if !need.IsZero() {
		return Movement{}, model.Invariantf("move of %s from %s left %s unsatisfied", grams, from, need)
	}
	return m, nil
}
