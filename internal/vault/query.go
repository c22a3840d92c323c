package vault

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aurumvault/gold-ledger/internal/balance"
	"github.com/aurumvault/gold-ledger/internal/ledger"
	"github.com/aurumvault/gold-ledger/internal/model"
	"github.com/aurumvault/gold-ledger/internal/spendguard"
	"github.com/aurumvault/gold-ledger/internal/store"
)

// Summary returns owner's derived balance summary.
func (s *Service) Summary(ctx context.Context, owner string) (model.BalanceSummary, error) {
	if err := model.ValidateOwner("owner_id", owner); err != nil {
		return model.BalanceSummary{}, err
	}
	var out model.BalanceSummary
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		sum, err := balance.Summarize(ctx, tx, owner)
		out = sum
		return err
	})
	return out, err
}

// History returns owner's ledger entries oldest first.
func (s *Service) History(ctx context.Context, owner string) ([]model.LedgerEntry, error) {
	if err := model.ValidateOwner("owner_id", owner); err != nil {
		return nil, err
	}
	var out []model.LedgerEntry
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		entries, err := ledger.History(ctx, tx, owner)
		out = entries
		return err
	})
	return out, err
}

// Lots returns the active lots of owner in FIFO order.
func (s *Service) Lots(ctx context.Context, owner string) ([]model.Lot, error) {
	if err := model.ValidateOwner("owner_id", owner); err != nil {
		return nil, err
	}
	var out []model.Lot
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		lots, err := tx.OwnerLots(ctx, owner)
		out = lots
		return err
	})
	return out, err
}

// Reconcile replays owner's ledger and compares it with the live summary,
// both read from one snapshot.
func (s *Service) Reconcile(ctx context.Context, owner string) (Reconciliation, error) {
	if err := model.ValidateOwner("owner_id", owner); err != nil {
		return Reconciliation{}, err
	}
	var out Reconciliation
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		sum, err := balance.Summarize(ctx, tx, owner)
		if err != nil {
			return err
		}
		entries, err := ledger.History(ctx, tx, owner)
		if err != nil {
			return err
		}
		out.Summary = sum
		out.Entries = len(entries)
		replayed, err := balance.Replay(owner, entries)
		if err != nil {
			out.ReplayErr = err.Error()
		}
		out.Mismatches = balance.Reconcile(sum, replayed)
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	return out, nil
}

// ValidateSpend answers whether owner could spend grams from wallet right
// now. It is advisory: mutating operations re-check inside their own
// transaction.
func (s *Service) ValidateSpend(ctx context.Context, owner string, grams decimal.Decimal, wallet model.Wallet) (spendguard.Result, error) {
	var res spendguard.Result
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		res = spendguard.ValidateSpend(ctx, tx, owner, grams, wallet)
		return nil
	})
	return res, err
}
