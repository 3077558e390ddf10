package indexer

import (
	"context"
	"sort"
	"sync"

	"github.com/emperorhan/nft-indexer/internal/domain/model"
	"github.com/emperorhan/nft-indexer/internal/store"
	"github.com/google/uuid"
)

// memAssets enforces the (contract, token_id) uniqueness the Postgres
// schema does.
type memAssets struct {
	mu     sync.Mutex
	assets map[int64]model.Asset
	// raced ids report ErrDuplicate on Create, as if another writer won.
	raced map[int64]bool
	// creates counts Create calls per token id.
	creates map[int64]int
}

var _ store.AssetRepository = (*memAssets)(nil)

func newMemAssets() *memAssets {
	return &memAssets{
		assets:  make(map[int64]model.Asset),
		raced:   make(map[int64]bool),
		creates: make(map[int64]int),
	}
}

func (m *memAssets) FindTokenIDs(_ context.Context, contract string) (map[int64]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]struct{})
	for id, a := range m.assets {
		if a.Contract == contract {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (m *memAssets) Exists(_ context.Context, contract string, tokenID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[tokenID]
	return ok && a.Contract == contract, nil
}

func (m *memAssets) Create(_ context.Context, a *model.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates[a.TokenID]++
	if m.raced[a.TokenID] {
		return store.ErrDuplicate
	}
	if _, ok := m.assets[a.TokenID]; ok {
		return store.ErrDuplicate
	}
	a.ID = uuid.New()
	m.assets[a.TokenID] = *a
	return nil
}

func (m *memAssets) ListByContract(_ context.Context, contract string, limit, offset int) ([]model.Asset, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Asset
	for _, a := range m.assets {
		if a.Contract == contract {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return out[offset:end], total, nil
}

func (m *memAssets) ids() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.assets))
	for id := range m.assets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type orderKey struct {
	contract string
	tokenID  int64
	source   model.OrderSource
}

// memOrders applies the same strict created_date predicate as the SQL
// update.
type memOrders struct {
	mu     sync.Mutex
	orders map[orderKey]model.Order
}

var _ store.OrderRepository = (*memOrders)(nil)

func newMemOrders() *memOrders {
	return &memOrders{orders: make(map[orderKey]model.Order)}
}

func keyOf(o *model.Order) orderKey {
	return orderKey{o.Contract, o.TokenID, o.Source}
}

func (m *memOrders) Find(_ context.Context, contract string, tokenID int64, source model.OrderSource) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderKey{contract, tokenID, source}]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *memOrders) Create(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[keyOf(o)]; ok {
		return store.ErrDuplicate
	}
	o.ID = uuid.New()
	m.orders[keyOf(o)] = *o
	return nil
}

func (m *memOrders) UpdateIfNewer(_ context.Context, o *model.Order) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[keyOf(o)]
	if !ok || !o.CreatedDate.After(cur.CreatedDate) {
		return false, nil
	}
	cur.Price = o.Price
	cur.CreatedDate = o.CreatedDate
	cur.ClosingDate = o.ClosingDate
	m.orders[keyOf(o)] = cur
	return true, nil
}

func (m *memOrders) ListByContract(_ context.Context, contract string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Order
	for _, o := range m.orders {
		if o.Contract == contract {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOrders) get(contract string, tokenID int64) (model.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderKey{contract, tokenID, model.OrderSourceOpenSea}]
	return o, ok
}

func (m *memOrders) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// idRange returns [start, start+count).
func idRange(start, count int64) []int64 {
	ids := make([]int64, 0, count)
	for id := start; id < start+count; id++ {
		ids = append(ids, id)
	}
	return ids
}
