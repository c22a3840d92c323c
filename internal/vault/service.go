// Package vault orchestrates the dual gold ledger: deposits, withdrawals,
// bucket locks, cross-owner transfers and wallet conversions.
//
// Every mutating operation runs in exactly one store transaction spanning
// lots, the MPGW balance row and the ledger append. Concurrency conflicts
// are retried as a whole a bounded number of times; nothing is ever
// partially committed.
package vault

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aurumvault/gold-ledger/internal/ledger"
	"github.com/aurumvault/gold-ledger/internal/lot"
	"github.com/aurumvault/gold-ledger/internal/metrics"
	"github.com/aurumvault/gold-ledger/internal/model"
	"github.com/aurumvault/gold-ledger/internal/ownerlock"
	"github.com/aurumvault/gold-ledger/internal/spendguard"
	"github.com/aurumvault/gold-ledger/internal/store"
)

// Notifier receives one event per affected owner after a commit.
type Notifier interface {
	Notify(ctx context.Context, ev model.CommitEvent)
}

// Notifiers fans an event out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, ev model.CommitEvent) {
	for _, n := range ns {
		n.Notify(ctx, ev)
	}
}

// Service is the only writer of lot, balance and ledger rows.
type Service struct {
	store      store.Store
	locker     ownerlock.Locker
	notifier   Notifier
	lots       *lot.Engine
	recorder   *ledger.Recorder
	now        func() time.Time
	maxRetries int
	retryBase  time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLocker adds a cross-instance owner lock in front of the store.
func WithLocker(l ownerlock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithNotifier sets the commit notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithRetries bounds conflict retries and sets the base backoff delay.
func WithRetries(n int, base time.Duration) Option {
	return func(s *Service) {
		s.maxRetries = n
		s.retryBase = base
	}
}

// WithClock overrides the clock used for lots, entries and events.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a ledger service over st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:      st,
		locker:     ownerlock.Nop{},
		maxRetries: 3,
		retryBase:  10 * time.Millisecond,
		now:        func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lots = lot.NewEngine(s.now)
	s.recorder = ledger.NewRecorder(s.now)
	return s
}

// --- Mint / burn boundaries ---

// Deposit mints grams into owner's wallet. FPGW deposits create one lot at
// the given price.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (*Receipt, error) {
	if req.Bucket == "" {
		req.Bucket = model.BucketAvailable
	}
	if err := validateOwnerWallet(req.OwnerID, req.Wallet); err != nil {
		return nil, err
	}
	if err := model.ValidateGrams("grams", req.Grams); err != nil {
		return nil, err
	}
	if !req.Bucket.Valid() {
		return nil, &model.ValidationError{Field: "bucket", Reason: "unknown bucket " + string(req.Bucket)}
	}
	if err := validateOptionalPrice(req.Wallet == model.WalletFixed, req.PriceUSD); err != nil {
		return nil, err
	}
	txID := transactionID(req.TransactionID)

	return s.run(ctx, model.ActionDeposit, []string{req.OwnerID}, func(ctx context.Context, tx store.Tx) (*Receipt, error) {
		r := &Receipt{TransactionID: txID}
		entry := &model.LedgerEntry{
			OwnerID:         req.OwnerID,
			Action:          model.ActionDeposit,
			GoldGrams:       req.Grams,
			PricePerGramUSD: req.PriceUSD,
			ValueUSD:        req.Grams.Mul(req.PriceUSD),
			ToWallet:        req.Wallet,
			ToBucket:        req.Bucket,
			TransactionID:   txID,
			Notes:           req.Notes,
		}

		switch req.Wallet {
		case model.WalletFixed:
			l, err := s.lots.Create(ctx, tx, lot.Spec{
				OwnerID:             req.OwnerID,
				Grams:               req.Grams,
				Price:               req.PriceUSD,
				Bucket:              req.Bucket,
				Source:              model.SourceDeposit,
				SourceTransactionID: txID,
				Notes:               req.Notes,
			})
			if err != nil {
				return nil, err
			}
			r.CreatedLots = append(r.CreatedLots, *l)
			entry.LotIDs = []string{l.ID}
		case model.WalletMarket:
			if err := s.adjustMarket(ctx, tx, req.OwnerID, req.Bucket, req.Grams); err != nil {
				return nil, err
			}
		}

		return r, s.record(ctx, tx, r, entry)
	})
}

// Withdraw burns grams from owner's Available bucket (sell or withdraw).
// FPGW withdrawals consume lots FIFO.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (*Receipt, error) {
	if req.Action == "" {
		req.Action = model.ActionWithdraw
	}
	if !req.Action.IsBurn() {
		return nil, &model.ValidationError{Field: "action", Reason: "must be sell or withdraw"}
	}
	if err := validateOwnerWallet(req.OwnerID, req.Wallet); err != nil {
		return nil, err
	}
	if err := model.ValidateGrams("grams", req.Grams); err != nil {
		return nil, err
	}
	if err := validateOptionalPrice(false, req.PriceUSD); err != nil {
		return nil, err
	}
	txID := transactionID(req.TransactionID)

	return s.run(ctx, req.Action, []string{req.OwnerID}, func(ctx context.Context, tx store.Tx) (*Receipt, error) {
		if err := s.guard(ctx, tx, req.OwnerID, req.Grams, req.Wallet); err != nil {
			return nil, err
		}
		return s.burn(ctx, tx, txID, req.OwnerID, req.Wallet, model.BucketAvailable, req.Grams, req.Action, req.PriceUSD, req.Notes)
	})
}

// Settle burns grams held in a non-spendable bucket. The spend guard does
// not apply: the grams were already reserved for this purpose.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (*Receipt, error) {
	if req.Action == "" {
		req.Action = model.ActionSell
	}
	if !req.Action.IsBurn() {
		return nil, &model.ValidationError{Field: "action", Reason: "must be sell or withdraw"}
	}
	if err := validateOwnerWallet(req.OwnerID, req.Wallet); err != nil {
		return nil, err
	}
	if err := validateHeldBucket(req.Bucket); err != nil {
		return nil, err
	}
	if err := model.ValidateGrams("grams", req.Grams); err != nil {
		return nil, err
	}
	if err := validateOptionalPrice(false, req.PriceUSD); err != nil {
		return nil, err
	}
	txID := transactionID(req.TransactionID)

	return s.run(ctx, req.Action, []string{req.OwnerID}, func(ctx context.Context, tx store.Tx) (*Receipt, error) {
		return s.burn(ctx, tx, txID, req.OwnerID, req.Wallet, req.Bucket, req.Grams, req.Action, req.PriceUSD, req.Notes)
	})
}

func (s *Service) burn(ctx context.Context, tx store.Tx, txID, owner string, w model.Wallet, b model.Bucket,
	grams decimal.Decimal, action model.Action, price decimal.Decimal, notes string) (*Receipt, error) {
	r := &Receipt{TransactionID: txID}
	entry := &model.LedgerEntry{
		OwnerID:         owner,
		Action:          action,
		GoldGrams:       grams,
		PricePerGramUSD: price,
		ValueUSD:        grams.Mul(price),
		FromWallet:      w,
		FromBucket:      b,
		TransactionID:   txID,
		Notes:           notes,
	}

	switch w {
	case model.WalletFixed:
		c, err := s.lots.Consume(ctx, tx, owner, b, grams)
		if err != nil {
			return nil, err
		}
		r.Consumption = &c
		entry.PricePerGramUSD = c.AveragePrice()
		entry.ValueUSD = c.WeightedValueUSD
		entry.LotIDs = c.LotIDs()
	case model.WalletMarket:
		if err := s.adjustMarket(ctx, tx, owner, b, grams.Neg()); err != nil {
			return nil, err
		}
	}

	return r, s.record(ctx, tx, r, entry)
}

// --- Bucket moves ---

// Lock moves grams from Available into a held bucket. It is a spend from
// the owner's point of view and passes the spend guard.
func (s *Service) Lock(ctx context.Context, req LockRequest) (*Receipt, error) {
	if err := s.validateLock(req); err != nil {
		return nil, err
	}
	txID := transactionID(req.TransactionID)

	return s.run(ctx, model.ActionLock, []string{req.OwnerID}, func(ctx context.Context, tx store.Tx) (*Receipt, error) {
		if err := s.guard(ctx, tx, req.OwnerID, req.Grams, req.Wallet); err != nil {
			return nil, err
		}
		return s.move(ctx, tx, txID, req, model.ActionLock, model.BucketAvailable, req.Bucket)
	})
}

// Unlock moves grams from a held bucket back to Available.
func (s *Service) Unlock(ctx context.Context, req LockRequest) (*Receipt, error) {
	if err := s.validateLock(req); err != nil {
		return nil, err
	}
	txID := transactionID(req.TransactionID)

	return s.run(ctx, model.ActionUnlock, []string{req.OwnerID}, func(ctx context.Context, tx store.Tx) (*Receipt, error) {
		return s.move(ctx, tx, txID, req, model.ActionUnlock, req.Bucket, model.BucketAvailable)
	})
}

func (s *Service) validateLock(req LockRequest) error {
	if err := validateOwnerWallet(req.OwnerID, req.Wallet); err != nil {
		return err
	}
	if err := validateHeldBucket(req.Bucket); err != nil {
		return err
	}
	return model.ValidateGrams("grams", req.Grams)
}

func (s *Service) move(ctx context.Context, tx store.Tx, txID string, req LockRequest, action model.Action, from, to model.Bucket) (*Receipt, error) {
	r := &Receipt{TransactionID: txID}
	entry := &model.LedgerEntry{
		OwnerID:       req.OwnerID,
		Action:        action,
		GoldGrams:     req.Grams,
		FromWallet:    req.Wallet,
		FromBucket:    from,
		ToWallet:      req.Wallet,
		ToBucket:      to,
		TransactionID: txID,
		Notes:         req.Notes,
	}

	switch req.Wallet {
	case model.WalletFixed:
		m, err := s.lots.Move(ctx, tx, req.OwnerID, from, to, req.Grams)
		if err != nil {
			return nil, err
		}
		r.Movement = &m
		entry.ValueUSD = m.Value()
		entry.PricePerGramUSD = model.WeightedAverage(entry.ValueUSD, req.Grams)
		entry.LotIDs = m.LotIDs()
	case model.WalletMarket:
		if err := s.adjustMarket(ctx, tx, req.OwnerID, from, req.Grams.Neg()); err != nil {
			return nil, err
		}
		if err := s.adjustMarket(ctx, tx, req.OwnerID, to, req.Grams); err != nil {
			return nil, err
		}
	}

	return r, s.record(ctx, tx, r, entry)
}

// --- Helpers shared by every operation ---

// guard runs the spend guard inside the mutating transaction.
func (s *Service) guard(ctx context.Context, tx store.Tx, owner string, grams decimal.Decimal, w model.Wallet) error {
	res := spendguard.ValidateSpend(ctx, tx, owner, grams, w)
	if !res.Valid {
		if !model.IsInvariant(res.Err) {
			metrics.SpendRejections.WithLabelValues(string(w)).Inc()
		}
		return res.Err
	}
	return nil
}

// adjustMarket adds delta grams to one bucket of owner's MPGW row.
func (s *Service) adjustMarket(ctx context.Context, tx store.Tx, owner string, b model.Bucket, delta decimal.Decimal) error {
	mb, err := tx.MarketBalance(ctx, owner)
	if err != nil {
		return err
	}
	cur := mb.Get(b)
	if cur.IsNegative() {
		return model.Invariantf("market balance of %s has negative %s: %s", owner, b, cur)
	}
	next := cur.Add(delta)
	if next.IsNegative() {
		return &model.InsufficientBalanceError{
			Wallet:    model.WalletMarket,
			Bucket:    b,
			Requested: delta.Neg(),
			Available: cur,
		}
	}
	mb.OwnerID = owner
	mb.Set(b, next)
	mb.UpdatedAt = s.now()
	return tx.SaveMarketBalance(ctx, mb)
}

// record appends entry and adds it to the receipt.
func (s *Service) record(ctx context.Context, tx store.Tx, r *Receipt, entry *model.LedgerEntry) error {
	if err := s.recorder.Record(ctx, tx, entry); err != nil {
		return err
	}
	r.Entries = append(r.Entries, *entry)
	return nil
}

// run executes fn in one transaction, retrying conflicts, and emits commit
// notifications on success.
func (s *Service) run(ctx context.Context, action model.Action, owners []string, fn func(context.Context, store.Tx) (*Receipt, error)) (*Receipt, error) {
	start := time.Now()
	defer func() {
		metrics.OperationLatency.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
	}()

	var receipt *Receipt
	err := retry(ctx, s.maxRetries, s.retryBase, func() error {
		return s.locker.WithLock(ctx, owners, func(ctx context.Context) error {
			return s.store.WithTx(ctx, owners, func(ctx context.Context, tx store.Tx) error {
				r, err := fn(ctx, tx)
				if err != nil {
					return err
				}
				receipt = r
				return nil
			})
		})
	}, func(attempt int, err error) {
		metrics.ConflictRetries.WithLabelValues(string(action)).Inc()
		slog.Warn("retrying after conflict", "action", action, "attempt", attempt, "err", err)
	})
	if err != nil {
		s.observeFailure(action, owners, err)
		return nil, err
	}

	metrics.OperationsTotal.WithLabelValues(string(action), "ok").Inc()
	for _, e := range receipt.Entries {
		if e.FromWallet != "" {
			metrics.GramsMoved.WithLabelValues(string(e.Action), string(e.FromWallet)).Add(e.GoldGrams.InexactFloat64())
		} else {
			metrics.GramsMoved.WithLabelValues(string(e.Action), string(e.ToWallet)).Add(e.GoldGrams.InexactFloat64())
		}
		slog.Info("ledger operation committed",
			"action", e.Action,
			"owner", e.OwnerID,
			"grams", e.GoldGrams.String(),
			"value_usd", e.ValueUSD.String(),
			"balance_after", e.BalanceAfterGrams.String(),
			"tx_id", e.TransactionID,
		)
		if s.notifier != nil {
			s.notifier.Notify(ctx, model.CommitEvent{
				OwnerID:       e.OwnerID,
				Action:        e.Action,
				TransactionID: e.TransactionID,
				TotalGrams:    e.BalanceAfterGrams,
				At:            e.CreatedAt,
			})
		}
	}
	return receipt, nil
}

func (s *Service) observeFailure(action model.Action, owners []string, err error) {
	switch {
	case model.IsInvariant(err):
		metrics.InvariantViolations.Inc()
		metrics.OperationsTotal.WithLabelValues(string(action), "invariant").Inc()
		slog.Error("invariant violation, transaction aborted", "action", action, "owners", owners, "err", err)
	case model.IsConflict(err):
		metrics.OperationsTotal.WithLabelValues(string(action), "conflict").Inc()
		slog.Warn("operation gave up after conflicts", "action", action, "owners", owners, "err", err)
	default:
		metrics.OperationsTotal.WithLabelValues(string(action), "rejected").Inc()
		slog.Info("operation rejected", "action", action, "owners", owners, "err", err)
	}
}

func validateOwnerWallet(owner string, w model.Wallet) error {
	if err := model.ValidateOwner("owner_id", owner); err != nil {
		return err
	}
	if !w.Valid() {
		return &model.ValidationError{Field: "wallet", Reason: "unknown wallet " + string(w)}
	}
	return nil
}

// validateHeldBucket accepts any bucket other than Available.
func validateHeldBucket(b model.Bucket) error {
	if !b.Valid() {
		return &model.ValidationError{Field: "bucket", Reason: "unknown bucket " + string(b)}
	}
	if b == model.BucketAvailable {
		return &model.ValidationError{Field: "bucket", Reason: "must not be AVAILABLE"}
	}
	return nil
}

// validateOptionalPrice requires a valid price when required is set, and
// otherwise accepts zero or a valid price.
func validateOptionalPrice(required bool, p decimal.Decimal) error {
	if !required && p.IsZero() {
		return nil
	}
	return model.ValidatePrice("price_usd", p)
}

func transactionID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
