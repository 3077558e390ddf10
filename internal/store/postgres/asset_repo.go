package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/emperorhan/nft-indexer/internal/domain/model"
	"github.com/emperorhan/nft-indexer/internal/store"
	"github.com/google/uuid"
)

type AssetRepo struct {
	db *DB
}

var _ store.AssetRepository = (*AssetRepo)(nil)

func NewAssetRepo(db *DB) *AssetRepo {
	return &AssetRepo{db: db}
}

func (r *AssetRepo) FindTokenIDs(ctx context.Context, contract string) (map[int64]struct{}, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT token_id FROM assets WHERE contract = $1`, contract)
	if err != nil {
		return nil, fmt.Errorf("find asset token ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan asset token id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset token ids: %w", err)
	}
	return ids, nil
}

func (r *AssetRepo) Exists(ctx context.Context, contract string, tokenID int64) (bool, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM assets WHERE contract = $1 AND token_id = $2)`, contract, tokenID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check asset exists: %w", err)
	}
	return exists, nil
}

// Create inserts a. A concurrent or repeated insert of the same
// (contract, token_id) yields store.ErrDuplicate and leaves the row intact.
func (r *AssetRepo) Create(ctx context.Context, a *model.Asset) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	traits := a.Traits
	if traits == nil {
		traits = []model.Trait{}
	}
	traitsJSON, err := json.Marshal(traits)
	if err != nil {
		return fmt.Errorf("marshal traits: %w", err)
	}

	id := uuid.New()
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO assets (id, contract, token_id, name, image, traits)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (contract, token_id) DO NOTHING
		RETURNING created_at, updated_at
	`, id, a.Contract, a.TokenID, a.Name, a.Image, traitsJSON,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return mapInsertError("create asset", err)
	}
	a.ID = id
	return nil
}

func (r *AssetRepo) ListByContract(ctx context.Context, contract string, limit, offset int) ([]model.Asset, int, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM assets WHERE contract = $1`, contract,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count assets: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, contract, token_id, name, image, traits, created_at, updated_at
		FROM assets
		WHERE contract = $1
		ORDER BY token_id
		LIMIT $2 OFFSET $3
	`, contract, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	assets := make([]model.Asset, 0, limit)
	for rows.Next() {
		var (
			a          model.Asset
			traitsJSON []byte
		)
		if err := rows.Scan(&a.ID, &a.Contract, &a.TokenID, &a.Name, &a.Image, &traitsJSON, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan asset: %w", err)
		}
		if err := json.Unmarshal(traitsJSON, &a.Traits); err != nil {
			return nil, 0, fmt.Errorf("unmarshal traits for token %d: %w", a.TokenID, err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate assets: %w", err)
	}
	return assets, total, nil
}
