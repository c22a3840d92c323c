package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aurumvault/gold-ledger/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Writers hold the exclusive lock for the whole transaction and stage their
// changes; nothing is visible to readers until commit.
type MemoryStore struct {
	mu       sync.RWMutex
	lots     map[string]model.Lot
	byOwner  map[string][]string
	balances map[string]model.MarketBalance
	ledger   []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lots:     make(map[string]model.Lot),
		byOwner:  make(map[string][]string),
		balances: make(map[string]model.MarketBalance),
	}
}

func (s *MemoryStore) WithTx(ctx context.Context, _ []string, fn func(context.Context, Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newMemTx(s, false)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(context.Context, Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(ctx, newMemTx(s, true))
}

// memTx overlays staged writes on top of the committed maps.
type memTx struct {
	s        *MemoryStore
	readOnly bool
	lots     map[string]model.Lot
	inserted []string
	balances map[string]model.MarketBalance
	entries  []model.LedgerEntry
}

func newMemTx(s *MemoryStore, readOnly bool) *memTx {
	return &memTx{
		s:        s,
		readOnly: readOnly,
		lots:     make(map[string]model.Lot),
		balances: make(map[string]model.MarketBalance),
	}
}

func (t *memTx) commit() {
	for _, id := range t.inserted {
		lot := t.lots[id]
		t.s.byOwner[lot.OwnerID] = append(t.s.byOwner[lot.OwnerID], id)
	}
	for id, lot := range t.lots {
		t.s.lots[id] = lot
	}
	for owner, bal := range t.balances {
		t.s.balances[owner] = bal
	}
	t.s.ledger = append(t.s.ledger, t.entries...)
}

func (t *memTx) lot(id string) (model.Lot, bool) {
	if l, ok := t.lots[id]; ok {
		return l, true
	}
	l, ok := t.s.lots[id]
	return l, ok
}

func (t *memTx) InsertLot(_ context.Context, lot *model.Lot) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if _, exists := t.lot(lot.ID); exists {
		return fmt.Errorf("lot %s already exists", lot.ID)
	}
	t.lots[lot.ID] = *lot
	t.inserted = append(t.inserted, lot.ID)
	return nil
}

func (t *memTx) UpdateLot(_ context.Context, lot *model.Lot) error {
	if t.readOnly {
		return ErrReadOnly
	}
	cur, ok := t.lot(lot.ID)
	if !ok {
		return fmt.Errorf("lot %s: %w", lot.ID, model.ErrNotFound)
	}
	cur.RemainingGrams = lot.RemainingGrams
	cur.Status = lot.Status
	cur.Bucket = lot.Bucket
	t.lots[lot.ID] = cur
	return nil
}

func (t *memTx) GetLot(_ context.Context, id string) (*model.Lot, error) {
	l, ok := t.lot(id)
	if !ok {
		return nil, fmt.Errorf("lot %s: %w", id, model.ErrNotFound)
	}
	return &l, nil
}

func (t *memTx) ActiveLots(ctx context.Context, owner string, bucket model.Bucket) ([]model.Lot, error) {
	all, err := t.OwnerLots(ctx, owner)
	if err != nil {
		return nil, err
	}
	result := all[:0]
	for _, l := range all {
		if l.Bucket == bucket {
			result = append(result, l)
		}
	}
	return result, nil
}

func (t *memTx) OwnerLots(_ context.Context, owner string) ([]model.Lot, error) {
	ids := append([]string(nil), t.s.byOwner[owner]...)
	for _, id := range t.inserted {
		if t.lots[id].OwnerID == owner {
			ids = append(ids, id)
		}
	}

	var result []model.Lot
	for _, id := range ids {
		l, _ := t.lot(id)
		if l.Status == model.LotActive {
			result = append(result, l)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Before(result[j]) })
	return result, nil
}

func (t *memTx) LastActivity(_ context.Context, owner string) (time.Time, error) {
	var last time.Time
	ids := append([]string(nil), t.s.byOwner[owner]...)
	ids = append(ids, t.inserted...)
	for _, id := range ids {
		if l, _ := t.lot(id); l.OwnerID == owner && l.CreatedAt.After(last) {
			last = l.CreatedAt
		}
	}
	for _, src := range [][]model.LedgerEntry{t.s.ledger, t.entries} {
		for _, e := range src {
			if e.OwnerID == owner && e.CreatedAt.After(last) {
				last = e.CreatedAt
			}
		}
	}
	return last, nil
}

func (t *memTx) MarketBalance(_ context.Context, owner string) (model.MarketBalance, error) {
	if b, ok := t.balances[owner]; ok {
		return b, nil
	}
	if b, ok := t.s.balances[owner]; ok {
		return b, nil
	}
	return model.MarketBalance{OwnerID: owner}, nil
}

func (t *memTx) SaveMarketBalance(_ context.Context, bal model.MarketBalance) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.balances[bal.OwnerID] = bal
	return nil
}

func (t *memTx) InsertLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	if t.readOnly {
		return ErrReadOnly
	}
	e := *entry
	e.LotIDs = append([]string(nil), entry.LotIDs...)
	t.entries = append(t.entries, e)
	return nil
}

func (t *memTx) LedgerEntries(_ context.Context, owner string) ([]model.LedgerEntry, error) {
	var result []model.LedgerEntry
	for _, src := range [][]model.LedgerEntry{t.s.ledger, t.entries} {
		for _, e := range src {
			if e.OwnerID == owner {
				e.LotIDs = append([]string(nil), e.LotIDs...)
				result = append(result, e)
			}
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}
