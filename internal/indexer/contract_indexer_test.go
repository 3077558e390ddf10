package indexer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	chainmocks "github.com/emperorhan/nft-indexer/internal/chain/mocks"
	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/emperorhan/nft-indexer/internal/domain/model"
	metadatamocks "github.com/emperorhan/nft-indexer/internal/metadata/mocks"
	"github.com/emperorhan/nft-indexer/internal/store"
	storemocks "github.com/emperorhan/nft-indexer/internal/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	testContract      = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	testContractLower = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
)

var errReverted = indexerr.ChainRead(testContract, "tokenURI call failed", errors.New("execution reverted"))

// expectCollection wires a reader for an ERC-721 collection of supply tokens
// starting at startID. Reads outside the range revert.
func expectCollection(reader *chainmocks.MockTokenReader, supply, startID int64) {
	reader.EXPECT().TotalSupply(gomock.Any(), testContract).Return(supply, nil)
	reader.EXPECT().TokenURI(gomock.Any(), testContract, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, id int64) (string, error) {
			if id < startID || id >= startID+supply {
				return "", errReverted
			}
			return fmt.Sprintf("ipfs://QmCollection/%d", id), nil
		}).AnyTimes()
}

func fetchByURI(_ context.Context, uri string, tokenID int64) (*model.Metadata, error) {
	suffix := uri[strings.LastIndex(uri, "/")+1:]
	if suffix != strconv.FormatInt(tokenID, 10) {
		return nil, fmt.Errorf("uri %s does not match token %d", uri, tokenID)
	}
	return &model.Metadata{Name: "Token #" + suffix, TokenID: tokenID}, nil
}

func TestIndexContract_IndexesExactlyTheRange(t *testing.T) {
	for _, startID := range []int64{0, 1} {
		t.Run(fmt.Sprintf("start=%d", startID), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			reader := chainmocks.NewMockTokenReader(ctrl)
			source := metadatamocks.NewMockSource(ctrl)
			assets := newMemAssets()

			expectCollection(reader, 25, startID)
			source.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(fetchByURI).Times(25)

			ix := NewContractIndexer(reader, source, assets, nil, WithWorkers(4))
			summary, err := ix.IndexContract(context.Background(), testContractLower, model.StandardERC721, nil)
			require.NoError(t, err)

			assert.Equal(t, testContract, summary.Contract)
			assert.Equal(t, startID, summary.StartingID)
			assert.Equal(t, int64(25), summary.TotalSupply)
			assert.Equal(t, 25, summary.Indexed)
			assert.Equal(t, idRange(startID, 25), assets.ids())
			for id, n := range assets.creates {
				assert.Equal(t, 1, n, "token %d written more than once", id)
			}
		})
	}
}

func TestIndexContract_SecondRunOnlyFetchesDelta(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	source := metadatamocks.NewMockSource(ctrl)
	assets := newMemAssets()
	for id := int64(0); id < 8; id++ {
		require.NoError(t, assets.Create(context.Background(), &model.Asset{Contract: testContract, TokenID: id, Name: "seeded"}))
	}

	expectCollection(reader, 10, 0)
	source.EXPECT().Fetch(gomock.Any(), "ipfs://QmCollection/8", int64(8)).DoAndReturn(fetchByURI)
	source.EXPECT().Fetch(gomock.Any(), "ipfs://QmCollection/9", int64(9)).DoAndReturn(fetchByURI)

	ix := NewContractIndexer(reader, source, assets, nil)
	summary, err := ix.IndexContract(context.Background(), testContract, model.StandardERC721, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, summary.Skipped)
	assert.Equal(t, 2, summary.Indexed)
	assert.Equal(t, idRange(0, 10), assets.ids())
}

func TestIndexContract_RerunOfCompleteContractWritesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	source := metadatamocks.NewMockSource(ctrl)
	assets := newMemAssets()

	expectCollection(reader, 5, 1)
	expectCollection(reader, 5, 1)
	source.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(fetchByURI).Times(5)

	ix := NewContractIndexer(reader, source, assets, nil)
	_, err := ix.IndexContract(context.Background(), testContract, model.StandardERC721, nil)
	require.NoError(t, err)

	summary, err := ix.IndexContract(context.Background(), testContract, model.StandardERC721, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Indexed)
	assert.Equal(t, 5, summary.Skipped)
	assert.Equal(t, idRange(1, 5), assets.ids())
}

func TestIndexContract_TokenFailuresAreLocal(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	source := metadatamocks.NewMockSource(ctrl)
	assets := newMemAssets()

	expectCollection(reader, 6, 0)
	source.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, uri string, id int64) (*model.Metadata, error) {
			switch id {
			case 2:
				return nil, indexerr.MetadataFetch("https://ipfs.io/ipfs/QmCollection/2", "invalid ipfs path: x", "all ipfs gateways failed", nil)
			case 4:
				return &model.Metadata{Name: "", TokenID: id}, nil
			}
			return fetchByURI(ctx, uri, id)
		}).Times(6)

	ix := NewContractIndexer(reader, source, assets, nil)
	summary, err := ix.IndexContract(context.Background(), testContract, model.StandardERC721, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Indexed)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, []int64{0, 1, 3, 5}, assets.ids())
}

func TestIndexContract_DuplicateOnCreateIsSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	source := metadatamocks.NewMockSource(ctrl)
	assets := newMemAssets()
	assets.raced[1] = true

	expectCollection(reader, 3, 0)
	source.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(fetchByURI).Times(3)

	ix := NewContractIndexer(reader, source, assets, nil)
	summary, err := ix.IndexContract(context.Background(), testContract, model.StandardERC721, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Indexed)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 0, summary.Failed)
}

func TestIndexContract_PersistenceFailureIsLocal(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	source := metadatamocks.NewMockSource(ctrl)
	assets := storemocks.NewMockAssetRepository(ctrl)

	expectCollection(reader, 2, 0)
	source.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(fetchByURI).Times(2)
	assets.EXPECT().FindTokenIDs(gomock.Any(), testContract).Return(map[int64]struct{}{}, nil)
	assets.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, a *model.Asset) error {
		if a.TokenID == 0 {
			return errors.New("connection reset")
		}
		return nil
	}).Times(2)

	ix := NewContractIndexer(reader, source, assets, nil)
	summary, err := ix.IndexContract(context.Background(), testContract, model.StandardERC721, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, 1, summary.Failed)
}

func TestIndexContract_StartingIDUndeterminable(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	assets := storemocks.NewMockAssetRepository(ctrl)

	reader.EXPECT().TotalSupply(gomock.Any(), testContract).Return(int64(10), nil)
	reader.EXPECT().TokenURI(gomock.Any(), testContract, int64(0)).Return("", errReverted)
	reader.EXPECT().TokenURI(gomock.Any(), testContract, int64(1)).Return("", errReverted)

	ix := NewContractIndexer(reader, metadatamocks.NewMockSource(ctrl), assets, nil)
	_, err := ix.IndexContract(context.Background(), testContract, model.StandardERC721, nil)
	require.ErrorIs(t, err, indexerr.ErrStartingIndexUndeterminable)
	assert.True(t, indexerr.IsFatal(err))
	assert.Contains(t, err.Error(), testContract)
}

func TestIndexContract_TotalSupplyFailureIsFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	reader.EXPECT().TotalSupply(gomock.Any(), testContract).
		Return(int64(0), indexerr.ChainRead(testContract, "totalSupply call failed", errors.New("execution reverted")))

	ix := NewContractIndexer(reader, metadatamocks.NewMockSource(ctrl), storemocks.NewMockAssetRepository(ctrl), nil)
	_, err := ix.IndexContract(context.Background(), testContract, model.StandardERC721, nil)
	require.ErrorIs(t, err, indexerr.ErrChainRead)
}

func TestIndexContract_InvalidAddressMakesNoCalls(t *testing.T) {
	ctrl := gomock.NewController(t)
	ix := NewContractIndexer(
		chainmocks.NewMockTokenReader(ctrl),
		metadatamocks.NewMockSource(ctrl),
		storemocks.NewMockAssetRepository(ctrl),
		nil,
	)

	for _, raw := range []string{"", "0x123", "not-an-address"} {
		_, err := ix.IndexContract(context.Background(), raw, model.StandardERC721, nil)
		require.ErrorIs(t, err, indexerr.ErrInvalidAddress, raw)
	}
}

func TestIndexContract_ERC1155UsesExplicitIDs(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	source := metadatamocks.NewMockSource(ctrl)
	assets := newMemAssets()

	reader.EXPECT().URI(gomock.Any(), testContract, gomock.Any()).
		Return("https://api.example.com/meta/{id}.json", nil).Times(2)
	source.EXPECT().Fetch(gomock.Any(),
		"https://api.example.com/meta/000000000000000000000000000000000000000000000000000000000000000a.json", int64(10)).
		Return(&model.Metadata{Name: "Sword", TokenID: 10}, nil)
	source.EXPECT().Fetch(gomock.Any(),
		"https://api.example.com/meta/0000000000000000000000000000000000000000000000000000000000000003.json", int64(3)).
		Return(&model.Metadata{Name: "Shield", TokenID: 3}, nil)

	ix := NewContractIndexer(reader, source, assets, nil)
	summary, err := ix.IndexContract(context.Background(), testContract, model.StandardERC1155, []int64{10, 3, 10})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Indexed)
	assert.Equal(t, []int64{3, 10}, assets.ids())

	_, err = ix.IndexContract(context.Background(), testContract, model.StandardERC1155, nil)
	require.ErrorIs(t, err, ErrNoTokenIDs)
}

func TestIndexContract_ERC721ExplicitIDsStayInRange(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	source := metadatamocks.NewMockSource(ctrl)
	assets := newMemAssets()

	expectCollection(reader, 5, 1)
	source.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(fetchByURI).Times(2)

	ix := NewContractIndexer(reader, source, assets, nil)
	summary, err := ix.IndexContract(context.Background(), testContract, model.StandardERC721, []int64{0, 2, 5, 6, 99})
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Candidates)
	assert.Equal(t, []int64{2, 5}, assets.ids())
}

func TestIndexContract_EmptyCollection(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	reader.EXPECT().TotalSupply(gomock.Any(), testContract).Return(int64(0), nil)

	ix := NewContractIndexer(reader, metadatamocks.NewMockSource(ctrl), newMemAssets(), nil)
	summary, err := ix.IndexContract(context.Background(), testContract, model.StandardERC721, nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Candidates)
}

func TestIndexContract_IndexedSetReadFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	assets := storemocks.NewMockAssetRepository(ctrl)

	expectCollection(reader, 3, 0)
	assets.EXPECT().FindTokenIDs(gomock.Any(), testContract).Return(nil, errors.New("db down"))

	ix := NewContractIndexer(reader, metadatamocks.NewMockSource(ctrl), assets, nil)
	_, err := ix.IndexContract(context.Background(), testContract, model.StandardERC721, nil)
	require.ErrorIs(t, err, indexerr.ErrPersistence)
}

func TestIndexContract_CanceledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	source := metadatamocks.NewMockSource(ctrl)
	assets := newMemAssets()

	ctx, cancel := context.WithCancel(context.Background())
	expectCollection(reader, 50, 0)
	source.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, uri string, id int64) (*model.Metadata, error) {
			if id == 0 {
				cancel()
			}
			return fetchByURI(ctx, uri, id)
		}).MinTimes(1).MaxTimes(50)

	ix := NewContractIndexer(reader, source, assets, nil, WithWorkers(1))
	_, err := ix.IndexContract(ctx, testContract, model.StandardERC721, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, len(assets.ids()), 50)
}

func TestIndexContract_HugeSupplyStreamsIDs(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	source := metadatamocks.NewMockSource(ctrl)
	assets := newMemAssets()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	expectCollection(reader, 1<<60, 0)
	var fetched atomic.Int64
	source.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, uri string, id int64) (*model.Metadata, error) {
			if fetched.Add(1) == 5 {
				cancel()
			}
			return fetchByURI(ctx, uri, id)
		}).MinTimes(5).MaxTimes(20)

	ix := NewContractIndexer(reader, source, assets, nil, WithWorkers(2))
	summary, err := ix.IndexContract(ctx, testContract, model.StandardERC721, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1<<60), summary.TotalSupply)
	assert.Equal(t, int64(1<<60), summary.Candidates)
	assert.GreaterOrEqual(t, len(assets.ids()), 5)
}

func TestIndexContract_OverflowingSupplyIsChainReadError(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)

	reader.EXPECT().TotalSupply(gomock.Any(), testContract).Return(int64(math.MaxInt64), nil)
	reader.EXPECT().TokenURI(gomock.Any(), testContract, int64(0)).Return("", errReverted)
	reader.EXPECT().TokenURI(gomock.Any(), testContract, int64(1)).Return("ipfs://QmCollection/1", nil)

	ix := NewContractIndexer(reader, metadatamocks.NewMockSource(ctrl), storemocks.NewMockAssetRepository(ctrl), nil)
	_, err := ix.IndexContract(context.Background(), testContract, model.StandardERC721, nil)
	require.ErrorIs(t, err, indexerr.ErrChainRead)
	assert.Contains(t, err.Error(), "out of range")
}

func TestIndexContract_NegativeTokenIDRejectedBeforeReads(t *testing.T) {
	ctrl := gomock.NewController(t)
	ix := NewContractIndexer(
		chainmocks.NewMockTokenReader(ctrl),
		metadatamocks.NewMockSource(ctrl),
		storemocks.NewMockAssetRepository(ctrl),
		nil,
	)

	for _, standard := range []model.TokenStandard{model.StandardERC721, model.StandardERC1155} {
		_, err := ix.IndexContract(context.Background(), testContract, standard, []int64{4, -2})
		require.ErrorIs(t, err, ErrNegativeTokenID, standard.String())
	}
}

func TestIndexContract_ExplicitIDsCheckedIndividually(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := chainmocks.NewMockTokenReader(ctrl)
	source := metadatamocks.NewMockSource(ctrl)
	assets := storemocks.NewMockAssetRepository(ctrl)

	reader.EXPECT().URI(gomock.Any(), testContract, int64(7)).Return("ipfs://QmItems/7", nil)
	source.EXPECT().Fetch(gomock.Any(), "ipfs://QmItems/7", int64(7)).DoAndReturn(fetchByURI)
	assets.EXPECT().Exists(gomock.Any(), testContract, int64(5)).Return(true, nil)
	assets.EXPECT().Exists(gomock.Any(), testContract, int64(7)).Return(false, nil)
	assets.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

	ix := NewContractIndexer(reader, source, assets, nil)
	summary, err := ix.IndexContract(context.Background(), testContract, model.StandardERC1155, []int64{7, 5})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Indexed)
}

func TestIndexContract_ExplicitIDExistsFailureIsFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	assets := storemocks.NewMockAssetRepository(ctrl)
	assets.EXPECT().Exists(gomock.Any(), testContract, int64(3)).Return(false, errors.New("db down"))

	ix := NewContractIndexer(chainmocks.NewMockTokenReader(ctrl), metadatamocks.NewMockSource(ctrl), assets, nil)
	_, err := ix.IndexContract(context.Background(), testContract, model.StandardERC1155, []int64{3})
	require.ErrorIs(t, err, indexerr.ErrPersistence)
}

var _ store.AssetRepository = (*storemocks.MockAssetRepository)(nil)
