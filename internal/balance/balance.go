// Package balance derives per-bucket balance summaries from live state and
// from the ledger, and reconciles the two.
package balance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aurumvault/gold-ledger/internal/model"
	"github.com/aurumvault/gold-ledger/internal/store"
)

// Summarize computes the summary of owner from the lots and the MPGW row
// visible in tx. Callers outside a write transaction must use store.View so
// the read is a consistent snapshot.
func Summarize(ctx context.Context, tx store.Tx, owner string) (model.BalanceSummary, error) {
	s := model.BalanceSummary{OwnerID: owner}

	lots, err := tx.OwnerLots(ctx, owner)
	if err != nil {
		return s, fmt.Errorf("load lots of %s: %w", owner, err)
	}

	value := decimal.Zero
	for _, l := range lots {
		if err := l.Check(); err != nil {
			return s, err
		}
		s.Fixed = s.Fixed.Add(l.Bucket, l.RemainingGrams)
		value = value.Add(l.Value())
	}
	s.ActiveLotCount = len(lots)

	mb, err := tx.MarketBalance(ctx, owner)
	if err != nil {
		return s, fmt.Errorf("load market balance of %s: %w", owner, err)
	}
	for _, b := range model.Buckets {
		g := mb.Get(b)
		if g.IsNegative() {
			return s, model.Invariantf("market balance of %s has negative %s: %s", owner, b, g)
		}
		s.Market = s.Market.Add(b, g)
	}

	s.FixedTotalGrams = s.Fixed.Total()
	s.MarketTotalGrams = s.Market.Total()
	s.TotalGrams = s.FixedTotalGrams.Add(s.MarketTotalGrams)
	s.FixedCostBasisUSD = model.USD(value)
	s.FixedWeightedAvgUSD = model.WeightedAverage(value, s.FixedTotalGrams)
	return s, nil
}

// Replayed holds the bucket sums obtained by folding ledger entries.
type Replayed struct {
	OwnerID    string
	Market     model.BucketTotals
	Fixed      model.BucketTotals
	TotalGrams decimal.Decimal
	Entries    int
}

// Replay folds entries, in creation order, into per-wallet bucket sums.
// It also checks each entry's BalanceAfterGrams against the running total.
func Replay(owner string, entries []model.LedgerEntry) (Replayed, error) {
	r := Replayed{OwnerID: owner}
	for _, e := range entries {
		if e.OwnerID != owner {
			continue
		}
		for _, b := range model.Buckets {
			r.Market = r.Market.Add(b, e.Delta(model.WalletMarket, b))
			r.Fixed = r.Fixed.Add(b, e.Delta(model.WalletFixed, b))
		}
		r.TotalGrams = r.TotalGrams.Add(e.NetGrams())
		r.Entries++

		if !r.TotalGrams.Equal(e.BalanceAfterGrams) {
			return r, fmt.Errorf("entry %s: balance after %s, replay total %s",
				e.ID, e.BalanceAfterGrams, r.TotalGrams)
		}
	}
	return r, nil
}

// Mismatch is one bucket whose replayed sum differs from the live one.
type Mismatch struct {
	Wallet   model.Wallet    `json:"wallet"`
	Bucket   model.Bucket    `json:"bucket"`
	Live     decimal.Decimal `json:"live_grams"`
	Replayed decimal.Decimal `json:"replayed_grams"`
}

// Reconcile compares live and replayed bucket sums. An empty result means
// the ledger reproduces the live state exactly.
func Reconcile(live model.BalanceSummary, r Replayed) []Mismatch {
	var out []Mismatch
	for _, w := range []model.Wallet{model.WalletMarket, model.WalletFixed} {
		replayed := r.Market
		if w == model.WalletFixed {
			replayed = r.Fixed
		}
		for _, b := range model.Buckets {
			lv, rv := live.Wallet(w).Get(b), replayed.Get(b)
			if !lv.Equal(rv) {
				out = append(out, Mismatch{Wallet: w, Bucket: b, Live: lv, Replayed: rv})
			}
		}
	}
	return out
}
