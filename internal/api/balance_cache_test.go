package api_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurumvault/gold-ledger/internal/api"
	"github.com/aurumvault/gold-ledger/internal/model"
	"github.com/aurumvault/gold-ledger/internal/store"
	"github.com/aurumvault/gold-ledger/internal/vault"
)

// With the summary cache as commit notifier, a balance read after a write
// never returns the pre-write summary.
func TestGetBalance_CacheInvalidatedByCommits(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cache := store.NewSummaryCache(rdb, time.Minute)
	svc := vault.NewService(store.NewMemoryStore(), vault.WithNotifier(cache))
	router := chi.NewRouter()
	router.Route("/api/v1", api.NewHandler(svc, cache).Routes)

	_, err := svc.Deposit(context.Background(), vault.DepositRequest{OwnerID: "alice", Wallet: model.WalletMarket, Grams: d("1")})
	require.NoError(t, err)

	w := do(t, router, "GET", "/api/v1/owners/alice/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[model.BalanceSummary](t, w).TotalGrams.Equal(d("1")))
	assert.True(t, mr.Exists("summary:alice"))

	w = do(t, router, "POST", "/api/v1/deposits", vault.DepositRequest{OwnerID: "alice", Wallet: model.WalletMarket, Grams: d("2")})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.False(t, mr.Exists("summary:alice"))

	w = do(t, router, "GET", "/api/v1/owners/alice/balance", nil)
	assert.True(t, decode[model.BalanceSummary](t, w).TotalGrams.Equal(d("3")))
}
