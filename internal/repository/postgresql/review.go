package postgresql

import (
	"context"

	"github.com/carstyle/backend/internal/db"
	"github.com/carstyle/backend/internal/repository"
	"github.com/carstyle/backend/internal/storage"
)

type ReviewRepo struct {
	db db.DB
}

func NewReviewRepo(db db.DB) storage.ReviewRepository {
	return &ReviewRepo{db: db}
}

func (r *ReviewRepo) Create(ctx context.Context, review *repository.Review) (int64, error) {
	var id int64
	err := r.db.ExecQueryRow(ctx, `
        INSERT INTO reviews (car_id, user_id, rating, comment, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING review_id
    `, review.CarID, review.UserID, review.Rating, review.Comment, review.CreatedAt).Scan(&id)
	return id, err
}

func (r *ReviewRepo) GetByCarID(ctx context.Context, carID int64) ([]*repository.Review, error) {
	var reviews []*repository.Review
	err := r.db.Select(ctx, &reviews, `
        SELECT * FROM reviews
        WHERE car_id = $1
        ORDER BY created_at DESC
    `, carID)
	return reviews, err
}
