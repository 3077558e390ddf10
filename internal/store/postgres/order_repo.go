package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emperorhan/nft-indexer/internal/domain/model"
	"github.com/emperorhan/nft-indexer/internal/store"
	"github.com/google/uuid"
)

type OrderRepo struct {
	db *DB
}

var _ store.OrderRepository = (*OrderRepo)(nil)

func NewOrderRepo(db *DB) *OrderRepo {
	return &OrderRepo{db: db}
}

const orderColumns = `id, contract, token_id, type, name, created_date, closing_date, price, side, sale_kind, last_updated, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o        model.Order
		saleKind sql.NullInt32
	)
	if err := row.Scan(
		&o.ID, &o.Contract, &o.TokenID, &o.Source, &o.Name,
		&o.CreatedDate, &o.ClosingDate, &o.Price, &o.Side, &saleKind,
		&o.LastUpdated, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if saleKind.Valid {
		v := int(saleKind.Int32)
		o.SaleKind = &v
	}
	o.CreatedDate = o.CreatedDate.UTC()
	if o.ClosingDate != nil {
		t := o.ClosingDate.UTC()
		o.ClosingDate = &t
	}
	return &o, nil
}

func (r *OrderRepo) Find(ctx context.Context, contract string, tokenID int64, source model.OrderSource) (*model.Order, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	o, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE contract = $1 AND token_id = $2 AND type = $3
	`, contract, tokenID, source))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return o, nil
}

// Create inserts o. An existing (contract, token_id, type) row yields
// store.ErrDuplicate.
func (r *OrderRepo) Create(ctx context.Context, o *model.Order) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	id := uuid.New()
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO orders (id, contract, token_id, type, name, created_date, closing_date, price, side, sale_kind, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (contract, token_id, type) DO NOTHING
		RETURNING last_updated, created_at, updated_at
	`, id, o.Contract, o.TokenID, o.Source, o.Name, o.CreatedDate, o.ClosingDate, o.Price, o.Side, o.SaleKind,
	).Scan(&o.LastUpdated, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return mapInsertError("create order", err)
	}
	o.ID = id
	return nil
}

// UpdateIfNewer applies o only if it is strictly fresher than the stored
// row; the predicate lives in the statement so concurrent writers cannot
// regress freshness.
func (r *OrderRepo) UpdateIfNewer(ctx context.Context, o *model.Order) (bool, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET
			price = $4,
			created_date = $5,
			closing_date = $6,
			last_updated = now(),
			updated_at = now()
		WHERE contract = $1 AND token_id = $2 AND type = $3 AND created_date < $5
	`, o.Contract, o.TokenID, o.Source, o.Price, o.CreatedDate, o.ClosingDate)
	if err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update order rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *OrderRepo) ListByContract(ctx context.Context, contract string) ([]model.Order, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE contract = $1
		ORDER BY price, token_id
	`, contract)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}
