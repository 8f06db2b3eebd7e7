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

type StatusRepo struct {
	db db.DB
}

func NewStatusRepo(db db.DB) storage.StatusRepository {
	return &StatusRepo{db: db}
}

func (r *StatusRepo) GetByName(ctx context.Context, name string) (*repository.Status, error) {
	var status repository.Status
	err := r.db.Get(ctx, &status, "SELECT * FROM statuses WHERE name = $1", name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &status, nil
}

func (r *StatusRepo) GetByIDTx(ctx context.Context, tx db.Tx, id int64) (*repository.Status, error) {
	var status repository.Status
	err := tx.Get(ctx, &status, "SELECT * FROM statuses WHERE status_id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &status, nil
}

// ResolveTx returns the id of the named status row, creating it if the
// lookup table does not have one yet. Callers validate the name against
// the closed status set before resolving.
func (r *StatusRepo) ResolveTx(ctx context.Context, tx db.Tx, name string) (int64, error) {
	var status repository.Status
	err := tx.Get(ctx, &status, "SELECT * FROM statuses WHERE name = $1", name)
	if err == nil {
		return status.StatusID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to resolve status %q: %w", name, err)
	}

	var id int64
	err = tx.Get(ctx, &id, `
        INSERT INTO statuses (name) VALUES ($1)
        ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
        RETURNING status_id
    `, name)
	if err != nil {
		return 0, fmt.Errorf("failed to create status %q: %w", name, err)
	}
	return id, nil
}
