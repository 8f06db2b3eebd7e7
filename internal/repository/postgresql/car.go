package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"github.com/carstyle/backend/internal/db"
	"github.com/carstyle/backend/internal/repository"
	"github.com/carstyle/backend/internal/storage"
)

type CarRepo struct {
	db db.DB
}

func NewCarRepo(db db.DB) storage.CarRepository {
	return &CarRepo{db: db}
}

func (r *CarRepo) Create(ctx context.Context, car *repository.Car) (int64, error) {
	var id int64
	err := r.db.ExecQueryRow(ctx, `
        INSERT INTO cars (brand, model, year, price_per_day, available)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING car_id
    `, car.Brand, car.Model, car.Year, car.PricePerDay, car.Available).Scan(&id)
	return id, err
}

func (r *CarRepo) GetByID(ctx context.Context, id int64) (*repository.Car, error) {
	var car repository.Car
	err := r.db.Get(ctx, &car, "SELECT * FROM cars WHERE car_id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &car, nil
}

func (r *CarRepo) GetAll(ctx context.Context) ([]*repository.Car, error) {
	var cars []*repository.Car
	err := r.db.Select(ctx, &cars, "SELECT * FROM cars ORDER BY car_id ASC")
	return cars, err
}

func (r *CarRepo) Update(ctx context.Context, car *repository.Car) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE cars
        SET brand = $1, model = $2, year = $3, price_per_day = $4, available = $5
        WHERE car_id = $6
    `, car.Brand, car.Model, car.Year, car.PricePerDay, car.Available, car.CarID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *CarRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM cars WHERE car_id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}
