// Package spendguard is the single gate deciding whether grams may leave a
// wallet. Only the Available bucket is spendable; Pending, Locked_BNSL and
// Reserved_Trade count toward the owner's total but never toward a spend.
package spendguard

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aurumvault/gold-ledger/internal/model"
	"github.com/aurumvault/gold-ledger/internal/store"
)

// Result is the outcome of a spend check.
type Result struct {
	Valid          bool            `json:"valid"`
	AvailableGrams decimal.Decimal `json:"available_grams"`
	Err            error           `json:"-"`
}

// Reason is the rejection message, empty when valid.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ValidateSpend checks that owner can spend grams from wallet. Malformed
// input is rejected before tx is read. Inside a
// write transaction the rows read are locked, so the answer holds until
// commit.
func ValidateSpend(ctx context.Context, tx store.Tx, owner string, grams decimal.Decimal, wallet model.Wallet) Result {
	if err := model.ValidateOwner("owner_id", owner); err != nil {
		return Result{Err: err}
	}
	if !wallet.Valid() {
		return Result{Err: &model.ValidationError{Field: "wallet", Reason: "unknown wallet " + string(wallet)}}
	}

	if err := model.ValidateGrams("grams", grams); err != nil {
		return Result{Err: err}
	}

	avail, err := Available(ctx, tx, owner, wallet)
	if err != nil {
		return Result{Err: err}
	}
	if avail.LessThan(grams) {
		return Result{
			AvailableGrams: avail,
			Err: &model.InsufficientBalanceError{
				Wallet:    wallet,
				Bucket:    model.BucketAvailable,
				Requested: grams,
				Available: avail,
			},
		}
	}
	return Result{Valid: true, AvailableGrams: avail}
}

// ValidateInternalTransfer checks a move between two wallets of one owner.
func ValidateInternalTransfer(ctx context.Context, tx store.Tx, owner string, grams decimal.Decimal, from, to model.Wallet) Result {
	if !to.Valid() {
		return Result{Err: &model.ValidationError{Field: "to_wallet", Reason: "unknown wallet " + string(to)}}
	}
	if from == to {
		return Result{Err: &model.ValidationError{Field: "to_wallet", Reason: "must differ from from_wallet"}}
	}
	return ValidateSpend(ctx, tx, owner, grams, from)
}

// Available returns the spendable grams of owner in wallet.
func Available(ctx context.Context, tx store.Tx, owner string, wallet model.Wallet) (decimal.Decimal, error) {
	switch wallet {
	case model.WalletMarket:
		mb, err := tx.MarketBalance(ctx, owner)
		if err != nil {
			return decimal.Zero, err
		}
		return mb.AvailableGrams, nil
	case model.WalletFixed:
		lots, err := tx.ActiveLots(ctx, owner, model.BucketAvailable)
		if err != nil {
			return decimal.Zero, err
		}
		total := decimal.Zero
		for _, l := range lots {
			if err := l.Check(); err != nil {
				return decimal.Zero, err
			}
			total = total.Add(l.RemainingGrams)
		}
		return total, nil
	}
	return decimal.Zero, &model.ValidationError{Field: "wallet", Reason: "unknown wallet " + string(wallet)}
}
