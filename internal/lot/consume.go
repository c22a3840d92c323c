package lot

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aurumvault/gold-ledger/internal/model"
	"github.com/aurumvault/gold-ledger/internal/store"
)

// Consumption is the result of depleting lots for a requested quantity.
type Consumption struct {
	Fragments        []Fragment      `json:"consumed_lots"`
	TotalConsumed    decimal.Decimal `json:"total_consumed"`
	WeightedValueUSD decimal.Decimal `json:"weighted_value_usd"`
}

// LotIDs lists the consumed lots in consumption order.
func (c Consumption) LotIDs() []string { return fragmentIDs(c.Fragments) }

// AveragePrice is the weighted value per gram, rounded to cents.
func (c Consumption) AveragePrice() decimal.Decimal {
	return model.WeightedAverage(c.WeightedValueUSD, c.TotalConsumed)
}

// Consume depletes owner's Active lots in bucket oldest-first until
// requested grams are taken.
//
// If the bucket holds less than requested, no lot is touched and an
// InsufficientBalanceError carrying the bucket total is returned.
func (e *Engine) Consume(ctx context.Context, tx store.Tx, owner string, bucket model.Bucket, requested decimal.Decimal) (Consumption, error) {
	if err := model.ValidateOwner("owner_id", owner); err != nil {
		return Consumption{}, err
	}
	if err := model.ValidateGrams("grams", requested); err != nil {
		return Consumption{}, err
	}
	if !bucket.Valid() {
		return Consumption{}, &model.ValidationError{Field: "bucket", Reason: "unknown bucket " + string(bucket)}
	}

	lots, err := tx.ActiveLots(ctx, owner, bucket)
	if err != nil {
		return Consumption{}, err
	}
	total, err := available(lots)
	if err != nil {
		return Consumption{}, err
	}
	if total.LessThan(requested) {
		return Consumption{}, &model.InsufficientBalanceError{
			Wallet:    model.WalletFixed,
			Bucket:    bucket,
			Requested: requested,
			Available: total,
		}
	}

	var (
		c      Consumption
		need   = requested
		weight = decimal.Zero
	)
	for i := range lots {
		if !need.IsPositive() {
			break
		}
		l := &lots[i]
		take := decimal.Min(l.RemainingGrams, need)

		l.RemainingGrams = l.RemainingGrams.Sub(take)
		if l.RemainingGrams.IsZero() {
			l.Status = model.LotConsumed
		}
		if err := checkLot(*l); err != nil {
			return Consumption{}, err
		}
		if err := tx.UpdateLot(ctx, l); err != nil {
			return Consumption{}, err
		}

		frag := Fragment{LotID: l.ID, Grams: take, LockedPrice: l.LockedPrice}
		c.Fragments = append(c.Fragments, frag)
		weight = weight.Add(frag.Value())
		need = need.Sub(take)
	}

	if !need.IsZero() {
		return Consumption{}, model.Invariantf("consumption of %s from %s left %s unsatisfied", requested, bucket, need)
	}

	c.TotalConsumed = requested
	c.WeightedValueUSD = model.USD(weight)
	return c, nil
}
