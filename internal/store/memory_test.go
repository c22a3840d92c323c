package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurumvault/gold-ledger/internal/model"
	"github.com/aurumvault/gold-ledger/internal/store"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func lot(id, owner string, grams int64, at time.Time, b model.Bucket) *model.Lot {
	g := decimal.NewFromInt(grams)
	return &model.Lot{
		ID:             id,
		OwnerID:        owner,
		OriginalGrams:  g,
		RemainingGrams: g,
		LockedPrice:    decimal.NewFromInt(60),
		Status:         model.LotActive,
		Bucket:         b,
		SourceType:     model.SourceDeposit,
		CreatedAt:      at,
	}
}

func TestMemoryStore_CommitAndFIFOOrder(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	err := ms.WithTx(ctx, []string{"alice"}, func(ctx context.Context, tx store.Tx) error {
		// Inserted out of order on purpose.
		require.NoError(t, tx.InsertLot(ctx, lot("c", "alice", 1, t0.Add(2*time.Second), model.BucketAvailable)))
		require.NoError(t, tx.InsertLot(ctx, lot("a", "alice", 1, t0, model.BucketAvailable)))
		require.NoError(t, tx.InsertLot(ctx, lot("b", "alice", 1, t0, model.BucketLockedBNSL)))
		require.NoError(t, tx.InsertLot(ctx, lot("z", "bob", 1, t0, model.BucketAvailable)))
		return nil
	})
	require.NoError(t, err)

	err = ms.View(ctx, func(ctx context.Context, tx store.Tx) error {
		all, err := tx.OwnerLots(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})

		avail, err := tx.ActiveLots(ctx, "alice", model.BucketAvailable)
		require.NoError(t, err)
		require.Len(t, avail, 2)
		assert.Equal(t, "a", avail[0].ID)
		assert.Equal(t, "c", avail[1].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	boom := errors.New("boom")

	err := ms.WithTx(ctx, []string{"alice"}, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertLot(ctx, lot("a", "alice", 5, t0, model.BucketAvailable)))
		require.NoError(t, tx.SaveMarketBalance(ctx, model.MarketBalance{OwnerID: "alice", AvailableGrams: decimal.NewFromInt(3)}))
		require.NoError(t, tx.InsertLedgerEntry(ctx, &model.LedgerEntry{ID: "e1", OwnerID: "alice"}))

		// Staged writes are visible inside the transaction.
		lots, err := tx.OwnerLots(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, lots, 1)
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = ms.View(ctx, func(ctx context.Context, tx store.Tx) error {
		lots, err := tx.OwnerLots(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, lots)

		mb, err := tx.MarketBalance(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, mb.Total().IsZero())

		entries, err := tx.LedgerEntries(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_UpdateLotTouchesMutableFieldsOnly(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	require.NoError(t, ms.WithTx(ctx, nil, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertLot(ctx, lot("a", "alice", 5, t0, model.BucketAvailable))
	}))
	require.NoError(t, ms.WithTx(ctx, nil, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.GetLot(ctx, "a")
		require.NoError(t, err)
		l.RemainingGrams = decimal.Zero
		l.Status = model.LotConsumed
		l.LockedPrice = decimal.NewFromInt(1)
		return tx.UpdateLot(ctx, l)
	}))

	require.NoError(t, ms.View(ctx, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.GetLot(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, model.LotConsumed, l.Status)
		assert.True(t, l.LockedPrice.Equal(decimal.NewFromInt(60)), "locked price is immutable")

		lots, err := tx.OwnerLots(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, lots, "consumed lots are not active")
		return nil
	}))
}

func TestMemoryStore_ViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	err := ms.View(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertLot(ctx, lot("a", "alice", 1, t0, model.BucketAvailable))
	})
	assert.ErrorIs(t, err, store.ErrReadOnly)

	err = ms.View(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveMarketBalance(ctx, model.MarketBalance{OwnerID: "alice"})
	})
	assert.ErrorIs(t, err, store.ErrReadOnly)
}

func TestMemoryStore_GetLotNotFound(t *testing.T) {
	ms := store.NewMemoryStore()
	err := ms.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetLot(ctx, "missing")
		return err
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryStore_LedgerEntriesAreCopies(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	entry := &model.LedgerEntry{ID: "e1", OwnerID: "alice", LotIDs: []string{"a"}}
	require.NoError(t, ms.WithTx(ctx, nil, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertLedgerEntry(ctx, entry)
	}))
	entry.LotIDs[0] = "tampered"

	require.NoError(t, ms.View(ctx, func(ctx context.Context, tx store.Tx) error {
		entries, err := tx.LedgerEntries(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, []string{"a"}, entries[0].LotIDs)
		entries[0].LotIDs[0] = "tampered"
		return nil
	}))

	require.NoError(t, ms.View(ctx, func(ctx context.Context, tx store.Tx) error {
		entries, _ := tx.LedgerEntries(ctx, "alice")
		assert.Equal(t, []string{"a"}, entries[0].LotIDs)
		return nil
	}))
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := store.NewMemoryStore().WithTx(ctx, nil, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMemoryStore_LastActivityAndNextStamp(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	require.NoError(t, ms.WithTx(ctx, nil, func(ctx context.Context, tx store.Tx) error {
		last, err := tx.LastActivity(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, last.IsZero())

		consumed := lot("old", "alice", 1, t0.Add(time.Hour), model.BucketAvailable)
		consumed.RemainingGrams = decimal.Zero
		consumed.Status = model.LotConsumed
		require.NoError(t, tx.InsertLot(ctx, consumed))
		require.NoError(t, tx.InsertLot(ctx, lot("b", "bob", 1, t0.Add(2*time.Hour), model.BucketAvailable)))
		require.NoError(t, tx.InsertLedgerEntry(ctx, &model.LedgerEntry{
			ID: "e1", OwnerID: "alice", Action: model.ActionDeposit, GoldGrams: decimal.NewFromInt(1),
			CreatedAt: t0.Add(30 * time.Minute),
		}))

		// Staged rows count before commit.
		last, err = tx.LastActivity(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, t0.Add(time.Hour), last, "consumed lots still count; other owners do not")
		return nil
	}))

	require.NoError(t, ms.View(ctx, func(ctx context.Context, tx store.Tx) error {
		behind, err := store.NextStamp(ctx, tx, "alice", t0)
		require.NoError(t, err)
		assert.Equal(t, t0.Add(time.Hour+time.Microsecond), behind)

		ahead, err := store.NextStamp(ctx, tx, "alice", t0.Add(3*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, t0.Add(3*time.Hour), ahead)
		return nil
	}))
}
