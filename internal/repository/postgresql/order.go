package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/carstyle/backend/internal/db"
	"github.com/carstyle/backend/internal/repository"
	"github.com/carstyle/backend/internal/storage"
)

type OrderRepo struct {
	db db.DB
}

func NewOrderRepo(db db.DB) storage.OrderRepository {
	return &OrderRepo{db: db}
}

func (r *OrderRepo) CreateTx(ctx context.Context, tx db.Tx, order *repository.Order) (int64, error) {
	var id int64
	err := tx.Get(ctx, &id, `
        INSERT INTO orders (
            car_id, client_id, status_id, issue_date, return_date, price, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING order_id
    `, order.CarID, order.ClientID, order.StatusID, order.IssueDate, order.ReturnDate, order.Price, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order: %w", err)
	}
	return id, nil
}

func (r *OrderRepo) GetByID(ctx context.Context, id int64) (*repository.OrderDetail, error) {
	var order repository.OrderDetail
	err := r.db.Get(ctx, &order, `
        SELECT o.*, s.name AS status_name
        FROM orders o
        JOIN statuses s ON s.status_id = o.status_id
        WHERE o.order_id = $1
    `, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByIDForUpdate locks the order row for the duration of the transaction.
// A row currently locked by another transaction is skipped, so the caller
// must distinguish "missing" from "locked" via ExistsTx.
func (r *OrderRepo) GetByIDForUpdate(ctx context.Context, tx db.Tx, id int64) (*repository.Order, error) {
	var order repository.Order
	err := tx.Get(ctx, &order, `
        SELECT * FROM orders
        WHERE order_id = $1
        FOR UPDATE SKIP LOCKED
    `, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepo) ExistsTx(ctx context.Context, tx db.Tx, id int64) (bool, error) {
	var exists bool
	err := tx.Get(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM orders WHERE order_id = $1)", id)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *OrderRepo) UpdateStatusTx(ctx context.Context, tx db.Tx, order *repository.Order) error {
	tag, err := tx.Exec(ctx, `
        UPDATE orders
        SET status_id = $1, updated_at = $2
        WHERE order_id = $3
    `, order.StatusID, order.UpdatedAt, order.OrderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *OrderRepo) DeleteTx(ctx context.Context, tx db.Tx, id int64) error {
	tag, err := tx.Exec(ctx, "DELETE FROM orders WHERE order_id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *OrderRepo) GetByClientID(ctx context.Context, clientID int64, limit int, activeOnly bool) ([]*repository.OrderDetail, error) {
	query := `
        SELECT o.*, s.name AS status_name
        FROM orders o
        JOIN statuses s ON s.status_id = o.status_id
        WHERE o.client_id = $1
    `
	args := []interface{}{clientID}

	if activeOnly {
		query += " AND s.name IN ('pending', 'active', 'rented')"
	}

	query += " ORDER BY o.created_at DESC"

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	var orders []*repository.OrderDetail
	err := r.db.Select(ctx, &orders, query, args...)
	return orders, err
}
