//go:build integration

package vault_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aurumvault/gold-ledger/internal/model"
	"github.com/aurumvault/gold-ledger/internal/store"
	"github.com/aurumvault/gold-ledger/internal/vault"
)

// setupPostgres starts a disposable PostgreSQL container, applies the
// migrations and returns a pool connected to it.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(dsn))
	// Second run is a no-op.
	require.NoError(t, store.Migrate(dsn))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestIntegration_Postgres_LockUnlockSpendScenario(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	svc := newService(t, store.NewPostgresStore(pool))

	deposit(t, svc, "alice", model.WalletFixed, "10", "50")
	_, err := svc.Lock(ctx, vault.LockRequest{OwnerID: "alice", Wallet: model.WalletFixed, Bucket: model.BucketLockedBNSL, Grams: d("4")})
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, vault.WithdrawRequest{OwnerID: "alice", Wallet: model.WalletFixed, Grams: d("7")})
	assertInsufficient(t, err, "6")

	_, err = svc.Unlock(ctx, vault.LockRequest{OwnerID: "alice", Wallet: model.WalletFixed, Bucket: model.BucketLockedBNSL, Grams: d("4")})
	require.NoError(t, err)

	r, err := svc.Withdraw(ctx, vault.WithdrawRequest{OwnerID: "alice", Wallet: model.WalletFixed, Grams: d("7")})
	require.NoError(t, err)
	assert.True(t, r.Consumption.WeightedValueUSD.Equal(d("350")))

	requireConsistent(t, svc, "alice")
}

func TestIntegration_Postgres_TransferAndConvert(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	svc := newService(t, store.NewPostgresStore(pool))

	deposit(t, svc, "alice", model.WalletFixed, "1.5", "60")
	deposit(t, svc, "alice", model.WalletMarket, "2", "")

	r, err := svc.Transfer(ctx, vault.TransferRequest{FromOwnerID: "alice", ToOwnerID: "bob", Wallet: model.WalletFixed, Grams: d("1")})
	require.NoError(t, err)
	assert.Equal(t, "alice", r.CreatedLots[0].FromOwnerID)

	_, err = svc.Convert(ctx, vault.ConvertRequest{OwnerID: "alice", From: model.WalletMarket, To: model.WalletFixed, Grams: d("0.5"), MarketPriceUSD: d("64")})
	require.NoError(t, err)

	bob := summary(t, svc, "bob")
	assert.True(t, bob.FixedCostBasisUSD.Equal(d("60")))

	alice := summary(t, svc, "alice")
	assert.True(t, alice.Fixed.Available.Equal(d("1")))
	assert.True(t, alice.Market.Available.Equal(d("1.5")))

	lots, err := svc.Lots(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.NotEmpty(t, lots[0].ParentLotID)

	requireConsistent(t, svc, "alice")
	requireConsistent(t, svc, "bob")
}

func TestIntegration_Postgres_ConcurrentSpends(t *testing.T) {
	pool := setupPostgres(t)
	svc := newService(t, store.NewPostgresStore(pool), vault.WithRetries(10, 5*time.Millisecond))
	deposit(t, svc, "alice", model.WalletFixed, "5", "50")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Withdraw(context.Background(), vault.WithdrawRequest{OwnerID: "alice", Wallet: model.WalletFixed, Grams: d("1")})
			var ie *model.InsufficientBalanceError
			if err != nil && !errors.As(err, &ie) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	assert.True(t, summary(t, svc, "alice").TotalGrams.IsZero())
	requireConsistent(t, svc, "alice")
}

func TestIntegration_Postgres_LedgerIsAppendOnly(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	svc := newService(t, store.NewPostgresStore(pool))
	deposit(t, svc, "alice", model.WalletMarket, "1", "")

	_, err := pool.Exec(ctx, `UPDATE ledger_entries SET gold_grams = 2`)
	assert.Error(t, err)
	_, err = pool.Exec(ctx, `DELETE FROM ledger_entries`)
	assert.Error(t, err)

	entries, err := svc.History(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestIntegration_Postgres_LaggingClockKeepsOrder(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()

	clock := func(offset time.Duration) vault.Option {
		return vault.WithClock(func() time.Time {
			return time.Now().UTC().Add(offset).Truncate(time.Microsecond)
		})
	}
	ahead := newService(t, store.NewPostgresStore(pool), clock(0))
	// A second instance whose clock is a day behind.
	lagging := newService(t, store.NewPostgresStore(pool), clock(-24*time.Hour))

	older := deposit(t, ahead, "alice", model.WalletFixed, "1", "10").CreatedLots[0]
	newer := deposit(t, lagging, "alice", model.WalletFixed, "1", "20").CreatedLots[0]
	require.True(t, newer.CreatedAt.After(older.CreatedAt))

	r, err := lagging.Withdraw(ctx, vault.WithdrawRequest{OwnerID: "alice", Wallet: model.WalletFixed, Grams: d("1")})
	require.NoError(t, err)
	assert.Equal(t, []string{older.ID}, r.Consumption.LotIDs())
	requireConsistent(t, ahead, "alice")
}
