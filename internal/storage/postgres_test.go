package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/carstyle/backend/internal/cache"
	mock_database "github.com/carstyle/backend/internal/db/mocks"
	"github.com/carstyle/backend/internal/repository"
	mock_storage "github.com/carstyle/backend/internal/storage/mocks"
)

type storageMocks struct {
	db       *mock_database.MockDB
	orders   *mock_storage.MockOrderRepository
	statuses *mock_storage.MockStatusRepository
	services *mock_storage.MockOrderServicesRepository
	cars     *mock_storage.MockCarRepository
	reviews  *mock_storage.MockReviewRepository
	history  *mock_storage.MockHistoryRepository
	outbox   *mock_storage.MockOutboxTaskRepository
}

func newTestStorage(ctrl *gomock.Controller) (*PostgresStorage, *storageMocks) {
	m := &storageMocks{
		db:       mock_database.NewMockDB(ctrl),
		orders:   mock_storage.NewMockOrderRepository(ctrl),
		statuses: mock_storage.NewMockStatusRepository(ctrl),
		services: mock_storage.NewMockOrderServicesRepository(ctrl),
		cars:     mock_storage.NewMockCarRepository(ctrl),
		reviews:  mock_storage.NewMockReviewRepository(ctrl),
		history:  mock_storage.NewMockHistoryRepository(ctrl),
		outbox:   mock_storage.NewMockOutboxTaskRepository(ctrl),
	}

	cfg := Config{
		MaxAttempts:       2,
		UpdateLockTimeout: 3 * time.Second,
		DeleteLockTimeout: 5 * time.Second,
	}

	stg := NewPostgresStorage(m.db, m.orders, m.statuses, m.services,
		m.cars, m.reviews, m.history, m.outbox,
		cache.NewCarCache(m.cars), cfg, zap.NewNop())
	return stg, m
}

// beginTx wires one transaction round on the db mock.
func beginTx(ctrl *gomock.Controller, m *storageMocks) *mock_database.MockTx {
	mockTx := mock_database.NewMockTx(ctrl)
	m.db.EXPECT().BeginTx(gomock.Any()).Return(mockTx, nil)
	mockTx.EXPECT().Exec(gomock.Any(), gomock.Any()).Return(nil, nil)
	mockTx.EXPECT().Rollback(gomock.Any()).Return(nil).AnyTimes()
	return mockTx
}

func TestPostgresStorage_UpdateOrderStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("pending to active", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, m := newTestStorage(ctrl)
		tx := beginTx(ctrl, m)
		tx.EXPECT().Commit(gomock.Any()).Return(nil)

		order := &repository.Order{OrderID: 1, StatusID: 10}
		m.orders.EXPECT().GetByIDForUpdate(gomock.Any(), tx, int64(1)).Return(order, nil)
		m.statuses.EXPECT().GetByIDTx(gomock.Any(), tx, int64(10)).
			Return(&repository.Status{StatusID: 10, Name: "pending"}, nil)
		m.statuses.EXPECT().ResolveTx(gomock.Any(), tx, "active").Return(int64(20), nil)
		m.orders.EXPECT().UpdateStatusTx(gomock.Any(), tx, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ interface{}, updated *repository.Order) error {
				assert.Equal(t, int64(20), updated.StatusID)
				return nil
			})
		m.history.EXPECT().CreateTx(gomock.Any(), tx, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ interface{}, entry *repository.HistoryEntry) error {
				assert.Equal(t, int64(1), entry.OrderID)
				assert.Equal(t, "active", entry.Status)
				return nil
			})

		err := stg.UpdateOrderStatus(ctx, 1, "active")
		assert.NoError(t, err)
	})

	t.Run("unknown status rejected before any transaction", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, _ := newTestStorage(ctrl)

		err := stg.UpdateOrderStatus(ctx, 1, "shipped")
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("illegal transition", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, m := newTestStorage(ctrl)
		tx := beginTx(ctrl, m)

		order := &repository.Order{OrderID: 1, StatusID: 40}
		m.orders.EXPECT().GetByIDForUpdate(gomock.Any(), tx, int64(1)).Return(order, nil)
		m.statuses.EXPECT().GetByIDTx(gomock.Any(), tx, int64(40)).
			Return(&repository.Status{StatusID: 40, Name: "completed"}, nil)

		err := stg.UpdateOrderStatus(ctx, 1, "active")
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, m := newTestStorage(ctrl)
		tx := beginTx(ctrl, m)
		tx.EXPECT().Commit(gomock.Any()).Return(nil)

		order := &repository.Order{OrderID: 1, StatusID: 20}
		m.orders.EXPECT().GetByIDForUpdate(gomock.Any(), tx, int64(1)).Return(order, nil)
		m.statuses.EXPECT().GetByIDTx(gomock.Any(), tx, int64(20)).
			Return(&repository.Status{StatusID: 20, Name: "active"}, nil)

		err := stg.UpdateOrderStatus(ctx, 1, "active")
		assert.NoError(t, err)
	})

	t.Run("order not found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, m := newTestStorage(ctrl)
		tx := beginTx(ctrl, m)

		m.orders.EXPECT().GetByIDForUpdate(gomock.Any(), tx, int64(404)).
			Return(nil, repository.ErrObjectNotFound)
		m.orders.EXPECT().ExistsTx(gomock.Any(), tx, int64(404)).Return(false, nil)

		err := stg.UpdateOrderStatus(ctx, 404, "active")
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("locked row retried then succeeds", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, m := newTestStorage(ctrl)

		// first attempt: row held by a concurrent transaction
		tx1 := beginTx(ctrl, m)
		m.orders.EXPECT().GetByIDForUpdate(gomock.Any(), tx1, int64(1)).
			Return(nil, repository.ErrObjectNotFound)
		m.orders.EXPECT().ExistsTx(gomock.Any(), tx1, int64(1)).Return(true, nil)

		// second attempt: lock acquired
		tx2 := beginTx(ctrl, m)
		tx2.EXPECT().Commit(gomock.Any()).Return(nil)
		order := &repository.Order{OrderID: 1, StatusID: 10}
		m.orders.EXPECT().GetByIDForUpdate(gomock.Any(), tx2, int64(1)).Return(order, nil)
		m.statuses.EXPECT().GetByIDTx(gomock.Any(), tx2, int64(10)).
			Return(&repository.Status{StatusID: 10, Name: "pending"}, nil)
		m.statuses.EXPECT().ResolveTx(gomock.Any(), tx2, "cancelled").Return(int64(50), nil)
		m.orders.EXPECT().UpdateStatusTx(gomock.Any(), tx2, gomock.Any()).Return(nil)
		m.history.EXPECT().CreateTx(gomock.Any(), tx2, gomock.Any()).Return(nil)

		err := stg.UpdateOrderStatus(ctx, 1, "cancelled")
		assert.NoError(t, err)
	})

	t.Run("retries exhausted under persistent contention", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, m := newTestStorage(ctrl)

		for i := 0; i < 2; i++ {
			tx := beginTx(ctrl, m)
			m.orders.EXPECT().GetByIDForUpdate(gomock.Any(), tx, int64(1)).
				Return(nil, repository.ErrObjectNotFound)
			m.orders.EXPECT().ExistsTx(gomock.Any(), tx, int64(1)).Return(true, nil)
		}

		err := stg.UpdateOrderStatus(ctx, 1, "active")

		var exhausted *RetryExhaustedError
		assert.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 2, exhausted.Attempts)
	})
}

func TestPostgresStorage_DeleteOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("pending order deleted with its services", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, m := newTestStorage(ctrl)
		tx := beginTx(ctrl, m)
		tx.EXPECT().Commit(gomock.Any()).Return(nil)

		order := &repository.Order{OrderID: 7, StatusID: 10}
		m.orders.EXPECT().GetByIDForUpdate(gomock.Any(), tx, int64(7)).Return(order, nil)
		m.statuses.EXPECT().GetByIDTx(gomock.Any(), tx, int64(10)).
			Return(&repository.Status{StatusID: 10, Name: "pending"}, nil)
		m.services.EXPECT().DeleteTx(gomock.Any(), tx, int64(7)).Return(nil)
		m.orders.EXPECT().DeleteTx(gomock.Any(), tx, int64(7)).Return(nil)

		err := stg.DeleteOrder(ctx, 7)
		assert.NoError(t, err)
	})

	t.Run("active order refused", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, m := newTestStorage(ctrl)
		tx := beginTx(ctrl, m)

		order := &repository.Order{OrderID: 7, StatusID: 20}
		m.orders.EXPECT().GetByIDForUpdate(gomock.Any(), tx, int64(7)).Return(order, nil)
		m.statuses.EXPECT().GetByIDTx(gomock.Any(), tx, int64(20)).
			Return(&repository.Status{StatusID: 20, Name: "active"}, nil)

		err := stg.DeleteOrder(ctx, 7)
		assert.ErrorIs(t, err, ErrOrderActive)
		assert.Contains(t, err.Error(), "активный")
	})

	t.Run("rented order refused", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, m := newTestStorage(ctrl)
		tx := beginTx(ctrl, m)

		order := &repository.Order{OrderID: 7, StatusID: 30}
		m.orders.EXPECT().GetByIDForUpdate(gomock.Any(), tx, int64(7)).Return(order, nil)
		m.statuses.EXPECT().GetByIDTx(gomock.Any(), tx, int64(30)).
			Return(&repository.Status{StatusID: 30, Name: "rented"}, nil)

		err := stg.DeleteOrder(ctx, 7)
		assert.ErrorIs(t, err, ErrOrderActive)
	})

	t.Run("order not found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, m := newTestStorage(ctrl)
		tx := beginTx(ctrl, m)

		m.orders.EXPECT().GetByIDForUpdate(gomock.Any(), tx, int64(404)).
			Return(nil, repository.ErrObjectNotFound)
		m.orders.EXPECT().ExistsTx(gomock.Any(), tx, int64(404)).Return(false, nil)

		err := stg.DeleteOrder(ctx, 404)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestPostgresStorage_CreateOrder(t *testing.T) {
	ctx := context.Background()

	issue := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ret := issue.Add(72 * time.Hour)

	t.Run("price covers whole days", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, m := newTestStorage(ctrl)

		car := &repository.Car{CarID: 3, Brand: "Kia", Model: "Rio", PricePerDay: 50, Available: true}
		m.cars.EXPECT().GetByID(gomock.Any(), int64(3)).Return(car, nil)

		tx := mock_database.NewMockTx(ctrl)
		m.db.EXPECT().BeginTx(gomock.Any()).Return(tx, nil)
		tx.EXPECT().Rollback(gomock.Any()).Return(nil).AnyTimes()
		tx.EXPECT().Commit(gomock.Any()).Return(nil)

		m.statuses.EXPECT().ResolveTx(gomock.Any(), tx, "pending").Return(int64(10), nil)
		m.orders.EXPECT().CreateTx(gomock.Any(), tx, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ interface{}, order *repository.Order) (int64, error) {
				assert.Equal(t, 150.0, order.Price)
				return 42, nil
			})
		m.history.EXPECT().CreateTx(gomock.Any(), tx, gomock.Any()).Return(nil)

		m.orders.EXPECT().GetByID(gomock.Any(), int64(42)).Return(&repository.OrderDetail{
			Order:      repository.Order{OrderID: 42, CarID: 3, ClientID: 9, Price: 150},
			StatusName: "pending",
		}, nil)
		m.services.EXPECT().GetByOrderID(gomock.Any(), int64(42)).
			Return(nil, repository.ErrObjectNotFound)

		order, err := stg.CreateOrder(ctx, NewOrder{
			CarID:      3,
			ClientID:   9,
			IssueDate:  issue,
			ReturnDate: ret,
		})

		assert.NoError(t, err)
		assert.Equal(t, int64(42), order.OrderID)
		assert.Equal(t, "pending", order.Status)
	})

	t.Run("unknown car", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, m := newTestStorage(ctrl)
		m.cars.EXPECT().GetByID(gomock.Any(), int64(99)).
			Return(nil, repository.ErrObjectNotFound)

		_, err := stg.CreateOrder(ctx, NewOrder{CarID: 99, ClientID: 9, IssueDate: issue, ReturnDate: ret})
		assert.ErrorIs(t, err, ErrCarNotFound)
	})

	t.Run("unavailable car", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, m := newTestStorage(ctrl)
		m.cars.EXPECT().GetByID(gomock.Any(), int64(3)).
			Return(&repository.Car{CarID: 3, Available: false}, nil)

		_, err := stg.CreateOrder(ctx, NewOrder{CarID: 3, ClientID: 9, IssueDate: issue, ReturnDate: ret})
		assert.ErrorIs(t, err, ErrCarUnavailable)
	})

	t.Run("return before issue", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, m := newTestStorage(ctrl)
		m.cars.EXPECT().GetByID(gomock.Any(), int64(3)).
			Return(&repository.Car{CarID: 3, Available: true, PricePerDay: 50}, nil)

		_, err := stg.CreateOrder(ctx, NewOrder{CarID: 3, ClientID: 9, IssueDate: ret, ReturnDate: issue})
		assert.ErrorIs(t, err, ErrInvalidPeriod)
	})
}

func TestPostgresStorage_AddReview(t *testing.T) {
	ctx := context.Background()

	t.Run("rating bounds", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		stg, _ := newTestStorage(ctrl)

		_, err := stg.AddReview(ctx, Review{CarID: 1, UserID: 2, Rating: 0})
		assert.ErrorIs(t, err, ErrInvalidRating)

		_, err = stg.AddReview(ctx, Review{CarID: 1, UserID: 2, Rating: 6})
		assert.ErrorIs(t, err, ErrInvalidRating)
	})
}
