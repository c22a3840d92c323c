package vault

import (
	"github.com/shopspring/decimal"

	"github.com/aurumvault/gold-ledger/internal/balance"
	"github.com/aurumvault/gold-ledger/internal/lot"
	"github.com/aurumvault/gold-ledger/internal/model"
)

// DepositRequest mints grams into a wallet.
// PriceUSD is required for FPGW (it becomes the lot's locked price) and
// optional for MPGW, where it only values the ledger entry.
type DepositRequest struct {
	OwnerID       string          `json:"owner_id" validate:"required"`
	Wallet        model.Wallet    `json:"wallet" validate:"required"`
	Grams         decimal.Decimal `json:"grams"`
	PriceUSD      decimal.Decimal `json:"price_usd"`
	Bucket        model.Bucket    `json:"bucket,omitempty"` // default AVAILABLE
	TransactionID string          `json:"transaction_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// WithdrawRequest burns grams from a wallet's Available bucket.
type WithdrawRequest struct {
	OwnerID       string          `json:"owner_id" validate:"required"`
	Wallet        model.Wallet    `json:"wallet" validate:"required"`
	Grams         decimal.Decimal `json:"grams"`
	Action        model.Action    `json:"action,omitempty"` // sell or withdraw (default)
	PriceUSD      decimal.Decimal `json:"price_usd"`        // MPGW valuation only
	TransactionID string          `json:"transaction_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// LockRequest moves grams between Available and a non-spendable bucket.
// For Lock, Bucket is the destination; for Unlock, the source.
type LockRequest struct {
	OwnerID       string          `json:"owner_id" validate:"required"`
	Wallet        model.Wallet    `json:"wallet" validate:"required"`
	Bucket        model.Bucket    `json:"bucket" validate:"required"`
	Grams         decimal.Decimal `json:"grams"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// SettleRequest burns grams held in a non-spendable bucket, e.g. a matured
// BNSL plan or a filled trade reservation.
type SettleRequest struct {
	OwnerID       string          `json:"owner_id" validate:"required"`
	Wallet        model.Wallet    `json:"wallet" validate:"required"`
	Bucket        model.Bucket    `json:"bucket" validate:"required"`
	Grams         decimal.Decimal `json:"grams"`
	Action        model.Action    `json:"action,omitempty"`
	PriceUSD      decimal.Decimal `json:"price_usd"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// TransferRequest moves grams from one owner to another within one wallet
// type. FPGW lots keep their locked price.
type TransferRequest struct {
	FromOwnerID   string          `json:"from_owner_id" validate:"required"`
	ToOwnerID     string          `json:"to_owner_id" validate:"required"`
	Wallet        model.Wallet    `json:"wallet" validate:"required"`
	Grams         decimal.Decimal `json:"grams"`
	PriceUSD      decimal.Decimal `json:"price_usd"` // MPGW valuation only
	TransactionID string          `json:"transaction_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// ConvertRequest moves grams between the two wallets of one owner.
// MarketPriceUSD is required for MPGW→FPGW and becomes the new lot's price.
type ConvertRequest struct {
	OwnerID        string          `json:"owner_id" validate:"required"`
	From           model.Wallet    `json:"from_wallet" validate:"required"`
	To             model.Wallet    `json:"to_wallet" validate:"required"`
	Grams          decimal.Decimal `json:"grams"`
	MarketPriceUSD decimal.Decimal `json:"market_price_usd"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

// Receipt describes a committed operation.
type Receipt struct {
	TransactionID string              `json:"transaction_id"`
	Entries       []model.LedgerEntry `json:"entries"`
	Consumption   *lot.Consumption    `json:"consumption,omitempty"`
	Movement      *lot.Movement       `json:"movement,omitempty"`
	CreatedLots   []model.Lot         `json:"created_lots,omitempty"`
}

// Reconciliation compares the live summary with a ledger replay taken from
// the same snapshot.
type Reconciliation struct {
	Summary    model.BalanceSummary `json:"summary"`
	Entries    int                  `json:"entries"`
	Mismatches []balance.Mismatch   `json:"mismatches"`
	ReplayErr  string               `json:"replay_error,omitempty"`
}

// Consistent reports whether the ledger reproduces the live state.
func (r Reconciliation) Consistent() bool {
	return r.ReplayErr == "" && len(r.Mismatches) == 0
}
