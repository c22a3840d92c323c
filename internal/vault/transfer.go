package vault

import (
	"context"

	"github.com/aurumvault/gold-ledger/internal/lot"
	"github.com/aurumvault/gold-ledger/internal/model"
	"github.com/aurumvault/gold-ledger/internal/spendguard"
	"github.com/aurumvault/gold-ledger/internal/store"
)

// Transfer moves grams from one owner to another. For FPGW the sender's
// Available lots are consumed FIFO and every consumed fragment becomes a new
// Available lot of the recipient at the same locked price: cost basis
// follows the gold, not the transfer date.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*Receipt, error) {
	if err := validateOwnerWallet(req.FromOwnerID, req.Wallet); err != nil {
		return nil, err
	}
	if err := model.ValidateOwner("to_owner_id", req.ToOwnerID); err != nil {
		return nil, err
	}
	if req.FromOwnerID == req.ToOwnerID {
		return nil, &model.ValidationError{Field: "to_owner_id", Reason: "must differ from from_owner_id"}
	}
	if err := model.ValidateGrams("grams", req.Grams); err != nil {
		return nil, err
	}
	if err := validateOptionalPrice(false, req.PriceUSD); err != nil {
		return nil, err
	}
	txID := transactionID(req.TransactionID)
	owners := []string{req.FromOwnerID, req.ToOwnerID}

	return s.run(ctx, model.ActionTransferOut, owners, func(ctx context.Context, tx store.Tx) (*Receipt, error) {
		if err := s.guard(ctx, tx, req.FromOwnerID, req.Grams, req.Wallet); err != nil {
			return nil, err
		}

		r := &Receipt{TransactionID: txID}
		out := &model.LedgerEntry{
			OwnerID:         req.FromOwnerID,
			Action:          model.ActionTransferOut,
			GoldGrams:       req.Grams,
			PricePerGramUSD: req.PriceUSD,
			ValueUSD:        req.Grams.Mul(req.PriceUSD),
			FromWallet:      req.Wallet,
			FromBucket:      model.BucketAvailable,
			TransactionID:   txID,
			CounterpartyID:  req.ToOwnerID,
			Notes:           req.Notes,
		}
		in := &model.LedgerEntry{
			OwnerID:        req.ToOwnerID,
			Action:         model.ActionTransferIn,
			GoldGrams:      req.Grams,
			ToWallet:       req.Wallet,
			ToBucket:       model.BucketAvailable,
			TransactionID:  txID,
			CounterpartyID: req.FromOwnerID,
			Notes:          req.Notes,
		}

		switch req.Wallet {
		case model.WalletFixed:
			c, err := s.lots.Consume(ctx, tx, req.FromOwnerID, model.BucketAvailable, req.Grams)
			if err != nil {
				return nil, err
			}
			r.Consumption = &c
			for _, f := range c.Fragments {
				l, err := s.lots.Create(ctx, tx, lot.Spec{
					OwnerID:             req.ToOwnerID,
					Grams:               f.Grams,
					Price:               f.LockedPrice,
					Bucket:              model.BucketAvailable,
					Source:              model.SourceTransfer,
					SourceTransactionID: txID,
					FromOwnerID:         req.FromOwnerID,
					ParentLotID:         f.LotID,
					Notes:               req.Notes,
				})
				if err != nil {
					return nil, err
				}
				r.CreatedLots = append(r.CreatedLots, *l)
				in.LotIDs = append(in.LotIDs, l.ID)
			}
			out.PricePerGramUSD = c.AveragePrice()
			out.ValueUSD = c.WeightedValueUSD
			out.LotIDs = c.LotIDs()
		case model.WalletMarket:
			if err := s.adjustMarket(ctx, tx, req.FromOwnerID, model.BucketAvailable, req.Grams.Neg()); err != nil {
				return nil, err
			}
			if err := s.adjustMarket(ctx, tx, req.ToOwnerID, model.BucketAvailable, req.Grams); err != nil {
				return nil, err
			}
		}
		in.PricePerGramUSD = out.PricePerGramUSD
		in.ValueUSD = out.ValueUSD

		if err := s.record(ctx, tx, r, out); err != nil {
			return nil, err
		}
		return r, s.record(ctx, tx, r, in)
	})
}

// Convert moves grams between owner's two wallets.
//
// MPGW→FPGW debits MPGW and mints one lot at the supplied market price.
// FPGW→MPGW consumes lots FIFO and credits MPGW by grams only; the consumed
// weighted value is recorded in the ledger entry and nowhere else, since
// MPGW holds no price.
func (s *Service) Convert(ctx context.Context, req ConvertRequest) (*Receipt, error) {
	if err := validateOwnerWallet(req.OwnerID, req.From); err != nil {
		return nil, err
	}
	if !req.To.Valid() {
		return nil, &model.ValidationError{Field: "to_wallet", Reason: "unknown wallet " + string(req.To)}
	}
	if req.From == req.To {
		return nil, &model.ValidationError{Field: "to_wallet", Reason: "must differ from from_wallet"}
	}
	if err := model.ValidateGrams("grams", req.Grams); err != nil {
		return nil, err
	}
	if err := validateOptionalPrice(req.To == model.WalletFixed, req.MarketPriceUSD); err != nil {
		return nil, err
	}
	txID := transactionID(req.TransactionID)

	return s.run(ctx, model.ActionConvert, []string{req.OwnerID}, func(ctx context.Context, tx store.Tx) (*Receipt, error) {
		res := spendguard.ValidateInternalTransfer(ctx, tx, req.OwnerID, req.Grams, req.From, req.To)
		if !res.Valid {
			return nil, res.Err
		}

		r := &Receipt{TransactionID: txID}
		entry := &model.LedgerEntry{
			OwnerID:       req.OwnerID,
			Action:        model.ActionConvert,
			GoldGrams:     req.Grams,
			FromWallet:    req.From,
			FromBucket:    model.BucketAvailable,
			ToWallet:      req.To,
			ToBucket:      model.BucketAvailable,
			TransactionID: txID,
			Notes:         req.Notes,
		}

		switch req.From {
		case model.WalletMarket:
			if err := s.adjustMarket(ctx, tx, req.OwnerID, model.BucketAvailable, req.Grams.Neg()); err != nil {
				return nil, err
			}
			l, err := s.lots.Create(ctx, tx, lot.Spec{
				OwnerID:             req.OwnerID,
				Grams:               req.Grams,
				Price:               req.MarketPriceUSD,
				Bucket:              model.BucketAvailable,
				Source:              model.SourceConversion,
				SourceTransactionID: txID,
				Notes:               req.Notes,
			})
			if err != nil {
				return nil, err
			}
			r.CreatedLots = append(r.CreatedLots, *l)
			entry.PricePerGramUSD = req.MarketPriceUSD
			entry.ValueUSD = req.Grams.Mul(req.MarketPriceUSD)
			entry.LotIDs = []string{l.ID}
		case model.WalletFixed:
			c, err := s.lots.Consume(ctx, tx, req.OwnerID, model.BucketAvailable, req.Grams)
			if err != nil {
				return nil, err
			}
			r.Consumption = &c
			if err := s.adjustMarket(ctx, tx, req.OwnerID, model.BucketAvailable, req.Grams); err != nil {
				return nil, err
			}
			entry.PricePerGramUSD = c.AveragePrice()
			entry.ValueUSD = c.WeightedValueUSD
			entry.LotIDs = c.LotIDs()
		}

		return r, s.record(ctx, tx, r, entry)
	})
}
