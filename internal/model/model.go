// Package model defines the core domain types shared across the gold ledger.
// All grams and USD values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a quantity of fixed-price gold acquired at one locked price.
// Lots are never deleted; a fully depleted lot is marked Consumed.
type Lot struct {
	ID                  string          `json:"id" db:"id"`
	OwnerID             string          `json:"owner_id" db:"owner_id"`
	OriginalGrams       decimal.Decimal `json:"original_grams" db:"original_grams"`
	RemainingGrams      decimal.Decimal `json:"remaining_grams" db:"remaining_grams"`
	LockedPrice         decimal.Decimal `json:"locked_price_usd_per_gram" db:"locked_price_usd_per_gram"`
	Status              LotStatus       `json:"status" db:"status"`
	Bucket              Bucket          `json:"bucket" db:"bucket"`
	SourceType          SourceType      `json:"source_type" db:"source_type"`
	SourceTransactionID string          `json:"source_transaction_id,omitempty" db:"source_transaction_id"`
	FromOwnerID         string          `json:"from_owner_id,omitempty" db:"from_owner_id"`
	ParentLotID         string          `json:"parent_lot_id,omitempty" db:"parent_lot_id"`
	Notes               string          `json:"notes,omitempty" db:"notes"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// Value is the lot's remaining grams valued at its locked price.
func (l Lot) Value() decimal.Decimal {
	return l.RemainingGrams.Mul(l.LockedPrice)
}

// Check rejects a lot whose stored state breaks the lot invariants.
func (l Lot) Check() error {
	switch {
	case l.RemainingGrams.IsNegative():
		return Invariantf("lot %s has negative remaining grams %s", l.ID, l.RemainingGrams)
	case l.RemainingGrams.GreaterThan(l.OriginalGrams):
		return Invariantf("lot %s remaining %s exceeds original %s", l.ID, l.RemainingGrams, l.OriginalGrams)
	case l.RemainingGrams.IsZero() != (l.Status == LotConsumed):
		return Invariantf("lot %s status %s inconsistent with remaining %s", l.ID, l.Status, l.RemainingGrams)
	}
	return nil
}

// Before reports whether l precedes o in FIFO order: (createdAt, id) ascending.
func (l Lot) Before(o Lot) bool {
	if !l.CreatedAt.Equal(o.CreatedAt) {
		return l.CreatedAt.Before(o.CreatedAt)
	}
	return l.ID < o.ID
}

// MarketBalance is the single fungible MPGW row of one owner, mutated in place.
type MarketBalance struct {
	OwnerID            string          `json:"owner_id" db:"owner_id"`
	AvailableGrams     decimal.Decimal `json:"available_grams" db:"available_grams"`
	PendingGrams       decimal.Decimal `json:"pending_grams" db:"pending_grams"`
	LockedBNSLGrams    decimal.Decimal `json:"locked_bnsl_grams" db:"locked_bnsl_grams"`
	ReservedTradeGrams decimal.Decimal `json:"reserved_trade_grams" db:"reserved_trade_grams"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// Get returns the grams held in bucket b.
func (m MarketBalance) Get(b Bucket) decimal.Decimal {
	switch b {
	case BucketAvailable:
		return m.AvailableGrams
	case BucketPending:
		return m.PendingGrams
	case BucketLockedBNSL:
		return m.LockedBNSLGrams
	case BucketReservedTrade:
		return m.ReservedTradeGrams
	}
	return decimal.Zero
}

// Set overwrites the grams held in bucket b.
func (m *MarketBalance) Set(b Bucket, grams decimal.Decimal) {
	switch b {
	case BucketAvailable:
		m.AvailableGrams = grams
	case BucketPending:
		m.PendingGrams = grams
	case BucketLockedBNSL:
		m.LockedBNSLGrams = grams
	case BucketReservedTrade:
		m.ReservedTradeGrams = grams
	}
}

// Total is the sum of every bucket.
func (m MarketBalance) Total() decimal.Decimal {
	return m.AvailableGrams.Add(m.PendingGrams).Add(m.LockedBNSLGrams).Add(m.ReservedTradeGrams)
}

// LedgerEntry is an immutable record of one balance-affecting event.
// Once created, these are never modified or deleted.
//
// GoldGrams leave (FromWallet, FromBucket) when FromWallet is set and arrive
// in (ToWallet, ToBucket) when ToWallet is set.
type LedgerEntry struct {
	ID                string          `json:"id" db:"id"`
	OwnerID           string          `json:"owner_id" db:"owner_id"`
	Action            Action          `json:"action" db:"action"`
	GoldGrams         decimal.Decimal `json:"gold_grams" db:"gold_grams"`
	PricePerGramUSD   decimal.Decimal `json:"price_per_gram_usd" db:"price_per_gram_usd"`
	ValueUSD          decimal.Decimal `json:"value_usd" db:"value_usd"`
	FromWallet        Wallet          `json:"from_wallet,omitempty" db:"from_wallet"`
	FromBucket        Bucket          `json:"from_bucket,omitempty" db:"from_bucket"`
	ToWallet          Wallet          `json:"to_wallet,omitempty" db:"to_wallet"`
	ToBucket          Bucket          `json:"to_bucket,omitempty" db:"to_bucket"`
	BalanceAfterGrams decimal.Decimal `json:"balance_after_grams" db:"balance_after_grams"`
	TransactionID     string          `json:"transaction_id" db:"transaction_id"`
	CounterpartyID    string          `json:"counterparty_id,omitempty" db:"counterparty_id"`
	LotIDs            []string        `json:"lot_ids,omitempty" db:"lot_ids"`
	Notes             string          `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// Delta returns the signed grams this entry applies to (w, b).
func (e LedgerEntry) Delta(w Wallet, b Bucket) decimal.Decimal {
	d := decimal.Zero
	if e.FromWallet == w && e.FromBucket == b {
		d = d.Sub(e.GoldGrams)
	}
	if e.ToWallet == w && e.ToBucket == b {
		d = d.Add(e.GoldGrams)
	}
	return d
}

// NetGrams is the signed change to the owner's grand total.
func (e LedgerEntry) NetGrams() decimal.Decimal {
	d := decimal.Zero
	if e.FromWallet != "" {
		d = d.Sub(e.GoldGrams)
	}
	if e.ToWallet != "" {
		d = d.Add(e.GoldGrams)
	}
	return d
}

// BucketTotals holds grams per spendability bucket of one wallet.
type BucketTotals struct {
	Available     decimal.Decimal `json:"available_grams"`
	Pending       decimal.Decimal `json:"pending_grams"`
	LockedBNSL    decimal.Decimal `json:"locked_bnsl_grams"`
	ReservedTrade decimal.Decimal `json:"reserved_trade_grams"`
}

// Get returns the grams in bucket b.
func (t BucketTotals) Get(b Bucket) decimal.Decimal {
	switch b {
	case BucketAvailable:
		return t.Available
	case BucketPending:
		return t.Pending
	case BucketLockedBNSL:
		return t.LockedBNSL
	case BucketReservedTrade:
		return t.ReservedTrade
	}
	return decimal.Zero
}

// Add returns a copy with grams added to bucket b.
func (t BucketTotals) Add(b Bucket, grams decimal.Decimal) BucketTotals {
	switch b {
	case BucketAvailable:
		t.Available = t.Available.Add(grams)
	case BucketPending:
		t.Pending = t.Pending.Add(grams)
	case BucketLockedBNSL:
		t.LockedBNSL = t.LockedBNSL.Add(grams)
	case BucketReservedTrade:
		t.ReservedTrade = t.ReservedTrade.Add(grams)
	}
	return t
}

// Total is the sum of every bucket.
func (t BucketTotals) Total() decimal.Decimal {
	return t.Available.Add(t.Pending).Add(t.LockedBNSL).Add(t.ReservedTrade)
}

// BalanceSummary is the derived, never persisted, view of one owner.
type BalanceSummary struct {
	OwnerID             string          `json:"owner_id"`
	Market              BucketTotals    `json:"mpgw"`
	Fixed               BucketTotals    `json:"fpgw"`
	FixedWeightedAvgUSD decimal.Decimal `json:"fpgw_weighted_avg_price_usd"`
	FixedCostBasisUSD   decimal.Decimal `json:"fpgw_cost_basis_usd"`
	MarketTotalGrams    decimal.Decimal `json:"mpgw_total_grams"`
	FixedTotalGrams     decimal.Decimal `json:"fpgw_total_grams"`
	TotalGrams          decimal.Decimal `json:"total_grams"`
	ActiveLotCount      int             `json:"active_lot_count"`
}

// Wallet returns the bucket totals of w.
func (s BalanceSummary) Wallet(w Wallet) BucketTotals {
	if w == WalletFixed {
		return s.Fixed
	}
	return s.Market
}

// CommitEvent is emitted once per affected owner after a mutation commits.
type CommitEvent struct {
	OwnerID       string          `json:"owner_id"`
	Action        Action          `json:"action"`
	TransactionID string          `json:"transaction_id"`
	TotalGrams    decimal.Decimal `json:"total_grams"`
	At            time.Time       `json:"at"`
}
