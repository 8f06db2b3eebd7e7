package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"github.com/carstyle/backend/internal/db"
	"github.com/carstyle/backend/internal/repository"
	"github.com/carstyle/backend/internal/storage"
)

type OrderServicesRepo struct {
	db db.DB
}

func NewOrderServicesRepo(db db.DB) storage.OrderServicesRepository {
	return &OrderServicesRepo{db: db}
}

func (r *OrderServicesRepo) CreateTx(ctx context.Context, tx db.Tx, services *repository.OrderServices) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO order_services (
            order_id, insurance, child_seat, gps, additional_driver
        ) VALUES ($1, $2, $3, $4, $5)
    `, services.OrderID, services.Insurance, services.ChildSeat, services.GPS, services.AdditionalDriver)
	return err
}

func (r *OrderServicesRepo) GetByOrderID(ctx context.Context, orderID int64) (*repository.OrderServices, error) {
	var services repository.OrderServices
	err := r.db.Get(ctx, &services, "SELECT * FROM order_services WHERE order_id = $1", orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &services, nil
}

// DeleteTx removes the extension row. A missing row is not an error, the
// row is optional.
func (r *OrderServicesRepo) DeleteTx(ctx context.Context, tx db.Tx, orderID int64) error {
	_, err := tx.Exec(ctx, "DELETE FROM order_services WHERE order_id = $1", orderID)
	return err
}
