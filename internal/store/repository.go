package store

import (
	"context"
	"errors"

	"github.com/emperorhan/nft-indexer/internal/domain/model"
)

// ErrDuplicate is returned by Create when the record's natural key already
// exists. Indexers treat it as success.
var ErrDuplicate = errors.New("record already exists")

// AssetRepository stores one Asset per (contract, token id).
type AssetRepository interface {
	// FindTokenIDs returns the token ids already indexed for contract.
	FindTokenIDs(ctx context.Context, contract string) (map[int64]struct{}, error)
	Exists(ctx context.Context, contract string, tokenID int64) (bool, error)
	// Create inserts a, filling in its ID and timestamps.
	Create(ctx context.Context, a *model.Asset) error
	ListByContract(ctx context.Context, contract string, limit, offset int) ([]model.Asset, int, error)
}

// OrderRepository stores the freshest Order per (contract, token id, source).
type OrderRepository interface {
	// Find returns nil, nil when no order is stored.
	Find(ctx context.Context, contract string, tokenID int64, source model.OrderSource) (*model.Order, error)
	Create(ctx context.Context, o *model.Order) error
	// UpdateIfNewer overwrites price and dates only when o.CreatedDate is
	// strictly after the stored one, and reports whether a row changed.
	UpdateIfNewer(ctx context.Context, o *model.Order) (bool, error)
	ListByContract(ctx context.Context, contract string) ([]model.Order, error)
}
