package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	chainmocks "github.com/emperorhan/nft-indexer/internal/chain/mocks"
	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/emperorhan/nft-indexer/internal/domain/model"
	"github.com/emperorhan/nft-indexer/internal/opensea"
	openseamocks "github.com/emperorhan/nft-indexer/internal/opensea/mocks"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func expectOwnedCollection(reader *chainmocks.MockTokenReader, supply, startID int64) {
	reader.EXPECT().TotalSupply(gomock.Any(), testContract).Return(supply, nil)
	reader.EXPECT().OwnerOf(gomock.Any(), testContract, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, id int64) (common.Address, error) {
			if id < startID || id >= startID+supply {
				return common.Address{}, errReverted
			}
			return owner, nil
		}).AnyTimes()
}

func apiOrder(tokenID int64, created time.Time, wei string) opensea.APIOrder {
	name := "Ape #" + strconv.FormatInt(tokenID, 10)
	return opensea.APIOrder{
		Asset:        opensea.APIAsset{Name: &name, TokenID: strconv.FormatInt(tokenID, 10)},
		CreatedDate:  created.UTC().Format("2006-01-02T15:04:05.999999"),
		CurrentPrice: json.Number(wei),
		Side:         1,
	}
}

var t0 = time.Date(2021, 9, 1, 10, 0, 0, 0, time.UTC)

func TestIndexOrders_ChunksTheRange(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	searcher := openseamocks.NewMockOrderSearcher(ctrl)
	orders := newMemOrders()

	expectOwnedCollection(reader, 65, 1)

	var (
		mu     sync.Mutex
		chunks [][]int64
	)
	searcher.EXPECT().SearchOrders(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, q opensea.Query) ([]opensea.APIOrder, error) {
			assert.Equal(t, testContract, q.Contract)
			assert.Equal(t, 30, q.Limit)
			mu.Lock()
			chunks = append(chunks, q.TokenIDs)
			mu.Unlock()
			out := make([]opensea.APIOrder, 0, len(q.TokenIDs))
			for _, id := range q.TokenIDs {
				out = append(out, apiOrder(id, t0, "1000000000000000000"))
			}
			return out, nil
		}).Times(3)

	ix := NewOrderIndexer(reader, searcher, orders, nil, nil, WithChunkSize(30), WithOrderWorkers(2))
	summary, err := ix.IndexOrders(context.Background(), testContractLower)
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.StartingID)
	assert.Equal(t, int64(3), summary.Chunks)
	assert.Equal(t, 65, summary.Created)
	assert.Equal(t, 65, orders.len())

	var seen []int64
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 30)
		seen = append(seen, c...)
	}
	assert.ElementsMatch(t, idRange(1, 65), seen)

	o, ok := orders.get(testContract, 65)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(1).Equal(o.Price))
	assert.Equal(t, model.OrderSourceOpenSea, o.Source)
}

func TestIndexOrders_FreshnessIsOrderIndependent(t *testing.T) {
	older := apiOrder(0, t0, "2000000000000000000")
	newer := apiOrder(0, t0.Add(time.Hour), "1500000000000000000")

	for name, sequence := range map[string][]opensea.APIOrder{
		"older then newer": {older, newer},
		"newer then older": {newer, older},
	} {
		t.Run(name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			reader := chainmocks.NewMockTokenReader(ctrl)
			searcher := openseamocks.NewMockOrderSearcher(ctrl)
			orders := newMemOrders()
			ix := NewOrderIndexer(reader, searcher, orders, nil, nil)

			for _, o := range sequence {
				expectOwnedCollection(reader, 1, 0)
				searcher.EXPECT().SearchOrders(gomock.Any(), gomock.Any()).Return([]opensea.APIOrder{o}, nil)
				_, err := ix.IndexOrders(context.Background(), testContract)
				require.NoError(t, err)
			}

			stored, ok := orders.get(testContract, 0)
			require.True(t, ok)
			assert.True(t, t0.Add(time.Hour).Equal(stored.CreatedDate))
			assert.Equal(t, "1.5", stored.Price.String())
			assert.Equal(t, 1, orders.len())
		})
	}
}

func TestIndexOrders_RepeatedRunIsNoOp(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	searcher := openseamocks.NewMockOrderSearcher(ctrl)
	orders := newMemOrders()
	ix := NewOrderIndexer(reader, searcher, orders, nil, nil)

	resp := []opensea.APIOrder{apiOrder(0, t0, "5"), apiOrder(1, t0, "6")}
	expectOwnedCollection(reader, 2, 0)
	expectOwnedCollection(reader, 2, 0)
	searcher.EXPECT().SearchOrders(gomock.Any(), gomock.Any()).Return(resp, nil).Times(2)

	first, err := ix.IndexOrders(context.Background(), testContract)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	second, err := ix.IndexOrders(context.Background(), testContract)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, 2, orders.len())
}

func TestIndexOrders_RateLimitAbortsRunKeepingPriorWrites(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	searcher := openseamocks.NewMockOrderSearcher(ctrl)
	orders := newMemOrders()

	expectOwnedCollection(reader, 9, 0)
	gomock.InOrder(
		searcher.EXPECT().SearchOrders(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, q opensea.Query) ([]opensea.APIOrder, error) {
				assert.Equal(t, []int64{0, 1, 2}, q.TokenIDs)
				return []opensea.APIOrder{apiOrder(0, t0, "1"), apiOrder(2, t0, "1")}, nil
			}),
		searcher.EXPECT().SearchOrders(gomock.Any(), gomock.Any()).
			Return(nil, indexerr.UpstreamRateLimited(testContract, "https://api.opensea.io/wyvern/v1/orders")),
	)

	ix := NewOrderIndexer(reader, searcher, orders, nil, nil, WithChunkSize(3), WithOrderWorkers(1))
	summary, err := ix.IndexOrders(context.Background(), testContract)
	require.ErrorIs(t, err, indexerr.ErrUpstreamRateLimited)
	assert.True(t, indexerr.IsFatal(err))
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 2, orders.len())
}

func TestIndexOrders_HugeSupplyChunksLazily(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	searcher := openseamocks.NewMockOrderSearcher(ctrl)

	expectOwnedCollection(reader, 1<<60, 0)
	searcher.EXPECT().SearchOrders(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, q opensea.Query) ([]opensea.APIOrder, error) {
			assert.Len(t, q.TokenIDs, 30)
			return nil, indexerr.UpstreamRateLimited(testContract, "https://api.opensea.io/wyvern/v1/orders")
		}).MinTimes(1).MaxTimes(2)

	ix := NewOrderIndexer(reader, searcher, newMemOrders(), nil, nil, WithOrderWorkers(1))
	summary, err := ix.IndexOrders(context.Background(), testContract)
	require.ErrorIs(t, err, indexerr.ErrUpstreamRateLimited)
	assert.Equal(t, int64((1<<60)/30+1), summary.Chunks)
}

func TestIndexOrders_OverflowingSupplyIsChainReadError(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)

	reader.EXPECT().TotalSupply(gomock.Any(), testContract).Return(int64(math.MaxInt64), nil)
	reader.EXPECT().OwnerOf(gomock.Any(), testContract, int64(0)).Return(common.Address{}, errReverted)
	reader.EXPECT().OwnerOf(gomock.Any(), testContract, int64(1)).Return(owner, nil)

	ix := NewOrderIndexer(reader, openseamocks.NewMockOrderSearcher(ctrl), newMemOrders(), nil, nil)
	_, err := ix.IndexOrders(context.Background(), testContract)
	require.ErrorIs(t, err, indexerr.ErrChainRead)
}

func TestIndexOrders_ChunkFailureIsLocal(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	searcher := openseamocks.NewMockOrderSearcher(ctrl)
	orders := newMemOrders()

	expectOwnedCollection(reader, 4, 0)
	searcher.EXPECT().SearchOrders(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, q opensea.Query) ([]opensea.APIOrder, error) {
			if q.TokenIDs[0] == 0 {
				return nil, &opensea.StatusError{StatusCode: http.StatusInternalServerError, Body: "boom"}
			}
			return []opensea.APIOrder{apiOrder(2, t0, "1"), {Asset: opensea.APIAsset{TokenID: "bad"}}}, nil
		}).Times(2)

	ix := NewOrderIndexer(reader, searcher, orders, nil, nil, WithChunkSize(2))
	summary, err := ix.IndexOrders(context.Background(), testContract)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FailedChunks)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Failed)
}

func TestIndexOrders_EmptyResponseIsNoOp(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	searcher := openseamocks.NewMockOrderSearcher(ctrl)
	orders := newMemOrders()

	expectOwnedCollection(reader, 3, 0)
	searcher.EXPECT().SearchOrders(gomock.Any(), gomock.Any()).Return(nil, nil)

	ix := NewOrderIndexer(reader, searcher, orders, nil, nil)
	summary, err := ix.IndexOrders(context.Background(), testContract)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Received)
	assert.Equal(t, 0, orders.len())
}

func TestIndexOrders_StartingIDUsesOwnerOf(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)

	reader.EXPECT().TotalSupply(gomock.Any(), testContract).Return(int64(3), nil)
	reader.EXPECT().OwnerOf(gomock.Any(), testContract, int64(0)).Return(common.Address{}, errReverted)
	reader.EXPECT().OwnerOf(gomock.Any(), testContract, int64(1)).Return(common.Address{}, errReverted)

	ix := NewOrderIndexer(reader, openseamocks.NewMockOrderSearcher(ctrl), newMemOrders(), nil, nil)
	_, err := ix.IndexOrders(context.Background(), testContract)
	require.ErrorIs(t, err, indexerr.ErrStartingIndexUndeterminable)
}

func TestIndexOrders_InvalidAddress(t *testing.T) {
	ctrl := gomock.NewController(t)
	ix := NewOrderIndexer(chainmocks.NewMockTokenReader(ctrl), openseamocks.NewMockOrderSearcher(ctrl), newMemOrders(), nil, nil)
	_, err := ix.IndexOrders(context.Background(), "0xnope")
	require.ErrorIs(t, err, indexerr.ErrInvalidAddress)
}

func TestReconcile_LostCreateRaceFallsBackToGuardedUpdate(t *testing.T) {
	orders := newMemOrders()
	stored := &model.Order{Contract: testContract, TokenID: 1, Source: model.OrderSourceOpenSea, CreatedDate: t0, Price: decimal.NewFromInt(3)}
	require.NoError(t, orders.Create(context.Background(), stored))

	racing := &racyOrders{memOrders: orders}
	ix := NewOrderIndexer(nil, nil, racing, nil, nil)

	fresher := &model.Order{Contract: testContract, TokenID: 1, Source: model.OrderSourceOpenSea, CreatedDate: t0.Add(time.Minute), Price: decimal.NewFromInt(2)}
	outcome, err := ix.reconcile(context.Background(), fresher)
	require.NoError(t, err)
	assert.Equal(t, outcomeUpdated, outcome)

	stale := &model.Order{Contract: testContract, TokenID: 1, Source: model.OrderSourceOpenSea, CreatedDate: t0, Price: decimal.NewFromInt(9)}
	outcome, err = ix.reconcile(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, outcomeSkipped, outcome)

	got, _ := orders.get(testContract, 1)
	assert.True(t, decimal.NewFromInt(2).Equal(got.Price))
}

func TestReconcile_FindFailure(t *testing.T) {
	ix := NewOrderIndexer(nil, nil, failingOrders{newMemOrders()}, nil, nil)
	outcome, err := ix.reconcile(context.Background(), &model.Order{Contract: testContract, TokenID: 1, Source: model.OrderSourceOpenSea})
	require.ErrorIs(t, err, indexerr.ErrPersistence)
	assert.Equal(t, outcomeFailed, outcome)
}

// racyOrders hides stored rows from Find, as if another writer inserted the
// row between Find and Create.
type racyOrders struct {
	*memOrders
}

func (r *racyOrders) Find(context.Context, string, int64, model.OrderSource) (*model.Order, error) {
	return nil, nil
}

type failingOrders struct {
	*memOrders
}

func (failingOrders) Find(context.Context, string, int64, model.OrderSource) (*model.Order, error) {
	return nil, errors.New("db down")
}
