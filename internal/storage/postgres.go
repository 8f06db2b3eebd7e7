//go:generate mockgen -source ./postgres.go -destination=./mocks/postgres.go -package=mock_storage
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carstyle/backend/internal/cache"
	"github.com/carstyle/backend/internal/db"
	"github.com/carstyle/backend/internal/metrics"
	"github.com/carstyle/backend/internal/repository"
)

type OrderRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, order *repository.Order) (int64, error)
	GetByID(ctx context.Context, id int64) (*repository.OrderDetail, error)
	GetByIDForUpdate(ctx context.Context, tx db.Tx, id int64) (*repository.Order, error)
	ExistsTx(ctx context.Context, tx db.Tx, id int64) (bool, error)
	UpdateStatusTx(ctx context.Context, tx db.Tx, order *repository.Order) error
	DeleteTx(ctx context.Context, tx db.Tx, id int64) error
	GetByClientID(ctx context.Context, clientID int64, limit int, activeOnly bool) ([]*repository.OrderDetail, error)
}

type StatusRepository interface {
	GetByName(ctx context.Context, name string) (*repository.Status, error)
	GetByIDTx(ctx context.Context, tx db.Tx, id int64) (*repository.Status, error)
	ResolveTx(ctx context.Context, tx db.Tx, name string) (int64, error)
}

type OrderServicesRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, services *repository.OrderServices) error
	GetByOrderID(ctx context.Context, orderID int64) (*repository.OrderServices, error)
	DeleteTx(ctx context.Context, tx db.Tx, orderID int64) error
}

type CarRepository interface {
	Create(ctx context.Context, car *repository.Car) (int64, error)
	GetByID(ctx context.Context, id int64) (*repository.Car, error)
	GetAll(ctx context.Context) ([]*repository.Car, error)
	Update(ctx context.Context, car *repository.Car) error
	Delete(ctx context.Context, id int64) error
}

type UserRepository interface {
	CreateUser(ctx context.Context, email, password, role string) (int64, error)
	GetByEmail(ctx context.Context, email string) (*repository.User, error)
	ValidateUser(ctx context.Context, email, password string) (*repository.User, error)
}

type ReviewRepository interface {
	Create(ctx context.Context, review *repository.Review) (int64, error)
	GetByCarID(ctx context.Context, carID int64) ([]*repository.Review, error)
}

type HistoryRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, entry *repository.HistoryEntry) error
	GetByOrderID(ctx context.Context, orderID int64) ([]*repository.HistoryEntry, error)
}

type OutboxTaskRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, task *repository.OutboxTask) error
	GetProcessableTasks(ctx context.Context, db db.DB, limit int) ([]*repository.OutboxTask, error)
	UpdateTaskStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error
	UpdateTaskStatus(ctx context.Context, db db.DB, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error
}

// Config bounds the retryable transactions of the order lifecycle.
type Config struct {
	MaxAttempts       int
	UpdateLockTimeout time.Duration
	DeleteLockTimeout time.Duration
}

type PostgresStorage struct {
	db       db.DB
	orders   OrderRepository
	statuses StatusRepository
	services OrderServicesRepository
	cars     CarRepository
	reviews  ReviewRepository
	history  HistoryRepository
	outbox   OutboxTaskRepository
	catalog  *cache.CarCache
	cfg      Config
	logger   *zap.Logger
}

func NewPostgresStorage(
	database db.DB,
	orders OrderRepository,
	statuses StatusRepository,
	services OrderServicesRepository,
	cars CarRepository,
	reviews ReviewRepository,
	history HistoryRepository,
	outbox OutboxTaskRepository,
	catalog *cache.CarCache,
	cfg Config,
	logger *zap.Logger,
) *PostgresStorage {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &PostgresStorage{
		db:       database,
		orders:   orders,
		statuses: statuses,
		services: services,
		cars:     cars,
		reviews:  reviews,
		history:  history,
		outbox:   outbox,
		catalog:  catalog,
		cfg:      cfg,
		logger:   logger,
	}
}

// lockOrder row-locks the target order, skipping rows held by another
// transaction. A skipped row is classified as transient contention so the
// retry loop picks it up; a genuinely missing row is terminal.
func (s *PostgresStorage) lockOrder(ctx context.Context, tx db.Tx, orderID int64) (*repository.Order, error) {
	order, err := s.orders.GetByIDForUpdate(ctx, tx, orderID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, repository.ErrObjectNotFound) {
		return nil, err
	}

	exists, exErr := s.orders.ExistsTx(ctx, tx, orderID)
	if exErr != nil {
		return nil, exErr
	}
	if exists {
		return nil, errRowLocked
	}
	return nil, ErrOrderNotFound
}

// UpdateOrderStatus moves an order to the target status atomically,
// tolerating transient lock contention from concurrent staff actions on
// the same row.
func (s *PostgresStorage) UpdateOrderStatus(ctx context.Context, orderID int64, statusName string) error {
	target, err := ParseStatus(statusName)
	if err != nil {
		return err
	}

	opts := txOptions{
		operation:   "update_order_status",
		maxAttempts: s.cfg.MaxAttempts,
		lockTimeout: s.cfg.UpdateLockTimeout,
	}
	err = withRetry(ctx, s.db, opts, func(ctx context.Context, tx db.Tx) error {
		order, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		currentRow, err := s.statuses.GetByIDTx(ctx, tx, order.StatusID)
		if err != nil {
			return fmt.Errorf("failed to resolve current status: %w", err)
		}
		current, err := ParseStatus(currentRow.Name)
		if err != nil {
			return fmt.Errorf("order %d carries unknown status %q: %w", orderID, currentRow.Name, err)
		}

		if current == target {
			return nil
		}
		if !current.CanTransitionTo(target) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, target)
		}

		statusID, err := s.statuses.ResolveTx(ctx, tx, string(target))
		if err != nil {
			return err
		}

		order.StatusID = statusID
		order.UpdatedAt = time.Now().UTC()
		if err := s.orders.UpdateStatusTx(ctx, tx, order); err != nil {
			return err
		}

		return s.history.CreateTx(ctx, tx, &repository.HistoryEntry{
			OrderID:   orderID,
			Status:    string(target),
			ChangedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("update_order_status").Inc()
		return err
	}

	metrics.StatusTransitionsTotal.WithLabelValues(string(target)).Inc()
	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("status", string(target)))
	return nil
}

// DeleteOrder removes an order and its service-extension row, refusing
// while the order is in an active rental state. The precondition failure
// is a business-rule rejection and is never retried.
func (s *PostgresStorage) DeleteOrder(ctx context.Context, orderID int64) error {
	opts := txOptions{
		operation:   "delete_order",
		maxAttempts: s.cfg.MaxAttempts,
		lockTimeout: s.cfg.DeleteLockTimeout,
	}
	err := withRetry(ctx, s.db, opts, func(ctx context.Context, tx db.Tx) error {
		order, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		currentRow, err := s.statuses.GetByIDTx(ctx, tx, order.StatusID)
		if err != nil {
			return fmt.Errorf("failed to resolve current status: %w", err)
		}
		current, err := ParseStatus(currentRow.Name)
		if err != nil {
			return fmt.Errorf("order %d carries unknown status %q: %w", orderID, currentRow.Name, err)
		}

		if !current.Deletable() {
			return ErrOrderActive
		}

		// Dependent extension row goes first, then the order itself.
		if err := s.services.DeleteTx(ctx, tx, orderID); err != nil {
			return err
		}
		return s.orders.DeleteTx(ctx, tx, orderID)
	})
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("delete_order").Inc()
		return err
	}

	metrics.OrdersDeletedTotal.Inc()
	s.logger.Info("Order deleted", zap.Int64("order_id", orderID))
	return nil
}

func (s *PostgresStorage) CreateOrder(ctx context.Context, req NewOrder) (*Order, error) {
	car, err := s.cars.GetByID(ctx, req.CarID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, ErrCarNotFound
		}
		return nil, err
	}
	if !car.Available {
		return nil, ErrCarUnavailable
	}
	if !req.ReturnDate.After(req.IssueDate) {
		return nil, ErrInvalidPeriod
	}

	days := int(math.Ceil(req.ReturnDate.Sub(req.IssueDate).Hours() / 24))
	if days < 1 {
		days = 1
	}
	price := float64(days) * car.PricePerDay

	var orderID int64
	now := time.Now().UTC()
	err = runInTx(ctx, s.db, 0, func(ctx context.Context, tx db.Tx) error {
		statusID, err := s.statuses.ResolveTx(ctx, tx, string(StatusPending))
		if err != nil {
			return err
		}

		id, err := s.orders.CreateTx(ctx, tx, &repository.Order{
			CarID:      req.CarID,
			ClientID:   req.ClientID,
			StatusID:   statusID,
			IssueDate:  req.IssueDate,
			ReturnDate: req.ReturnDate,
			Price:      price,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return err
		}
		orderID = id

		if req.Services != nil {
			err = s.services.CreateTx(ctx, tx, &repository.OrderServices{
				OrderID:          id,
				Insurance:        req.Services.Insurance,
				ChildSeat:        req.Services.ChildSeat,
				GPS:              req.Services.GPS,
				AdditionalDriver: req.Services.AdditionalDriver,
			})
			if err != nil {
				return err
			}
		}

		return s.history.CreateTx(ctx, tx, &repository.HistoryEntry{
			OrderID:   id,
			Status:    string(StatusPending),
			ChangedAt: now,
		})
	})
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("create_order").Inc()
		return nil, err
	}

	metrics.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", orderID),
		zap.Int64("car_id", req.CarID),
		zap.Int64("client_id", req.ClientID))

	return s.GetOrder(ctx, orderID)
}

func (s *PostgresStorage) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	detail, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	order := toDomainOrder(detail)

	services, err := s.services.GetByOrderID(ctx, orderID)
	if err != nil && !errors.Is(err, repository.ErrObjectNotFound) {
		return nil, err
	}
	if services != nil {
		order.Services = &OrderServices{
			Insurance:        services.Insurance,
			ChildSeat:        services.ChildSeat,
			GPS:              services.GPS,
			AdditionalDriver: services.AdditionalDriver,
		}
	}

	return order, nil
}

func (s *PostgresStorage) GetUserOrders(ctx context.Context, clientID int64, lastN int, activeOnly bool) ([]Order, error) {
	details, err := s.orders.GetByClientID(ctx, clientID, lastN, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}

	orders := make([]Order, len(details))
	for i, detail := range details {
		orders[i] = *toDomainOrder(detail)
	}
	return orders, nil
}

func (s *PostgresStorage) GetOrderHistory(ctx context.Context, orderID int64) ([]HistoryEntry, error) {
	entries, err := s.history.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}

	history := make([]HistoryEntry, len(entries))
	for i, entry := range entries {
		history[i] = HistoryEntry{
			OrderID:   entry.OrderID,
			Status:    entry.Status,
			ChangedAt: entry.ChangedAt,
		}
	}
	return history, nil
}

func (s *PostgresStorage) ListCars(ctx context.Context) ([]Car, error) {
	if cached, ok := s.catalog.GetAll(); ok {
		return toDomainCars(cached), nil
	}

	rows, err := s.cars.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cars: %w", err)
	}
	s.catalog.Load(rows)
	return toDomainCars(rows), nil
}

func (s *PostgresStorage) GetCar(ctx context.Context, carID int64) (*Car, error) {
	if row, ok := s.catalog.Get(carID); ok {
		car := toDomainCar(row)
		return &car, nil
	}

	row, err := s.cars.GetByID(ctx, carID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, ErrCarNotFound
		}
		return nil, err
	}
	s.catalog.Set(row)
	car := toDomainCar(row)
	return &car, nil
}

func (s *PostgresStorage) CreateCar(ctx context.Context, car Car) (*Car, error) {
	row := &repository.Car{
		Brand:       car.Brand,
		Model:       car.Model,
		Year:        car.Year,
		PricePerDay: car.PricePerDay,
		Available:   car.Available,
	}
	id, err := s.cars.Create(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("failed to create car: %w", err)
	}
	row.CarID = id
	s.catalog.Set(row)

	created := toDomainCar(row)
	return &created, nil
}

func (s *PostgresStorage) UpdateCar(ctx context.Context, car Car) error {
	row := &repository.Car{
		CarID:       car.CarID,
		Brand:       car.Brand,
		Model:       car.Model,
		Year:        car.Year,
		PricePerDay: car.PricePerDay,
		Available:   car.Available,
	}
	err := s.cars.Update(ctx, row)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return ErrCarNotFound
		}
		return err
	}
	s.catalog.Set(row)
	return nil
}

func (s *PostgresStorage) DeleteCar(ctx context.Context, carID int64) error {
	err := s.cars.Delete(ctx, carID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return ErrCarNotFound
		}
		return err
	}
	s.catalog.Delete(carID)
	return nil
}

func (s *PostgresStorage) AddReview(ctx context.Context, review Review) (*Review, error) {
	if review.Rating < 1 || review.Rating > 5 {
		return nil, ErrInvalidRating
	}
	if _, err := s.cars.GetByID(ctx, review.CarID); err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, ErrCarNotFound
		}
		return nil, err
	}

	row := &repository.Review{
		CarID:     review.CarID,
		UserID:    review.UserID,
		Rating:    review.Rating,
		Comment:   review.Comment,
		CreatedAt: time.Now().UTC(),
	}
	id, err := s.reviews.Create(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("failed to create review: %w", err)
	}

	review.ReviewID = id
	review.CreatedAt = row.CreatedAt
	return &review, nil
}

func (s *PostgresStorage) GetCarReviews(ctx context.Context, carID int64) ([]Review, error) {
	rows, err := s.reviews.GetByCarID(ctx, carID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reviews: %w", err)
	}

	reviews := make([]Review, len(rows))
	for i, row := range rows {
		reviews[i] = Review{
			ReviewID:  row.ReviewID,
			CarID:     row.CarID,
			UserID:    row.UserID,
			Rating:    row.Rating,
			Comment:   row.Comment,
			CreatedAt: row.CreatedAt,
		}
	}
	return reviews, nil
}

// EnqueueAuditTask stores an audit payload in the outbox; the publisher
// moves it to kafka asynchronously.
func (s *PostgresStorage) EnqueueAuditTask(ctx context.Context, topic string, payload []byte) error {
	return runInTx(ctx, s.db, 0, func(ctx context.Context, tx db.Tx) error {
		return s.outbox.CreateTx(ctx, tx, &repository.OutboxTask{
			Topic:   topic,
			Payload: payload,
		})
	})
}

func toDomainOrder(detail *repository.OrderDetail) *Order {
	return &Order{
		OrderID:    detail.OrderID,
		CarID:      detail.CarID,
		ClientID:   detail.ClientID,
		Status:     detail.StatusName,
		IssueDate:  detail.IssueDate,
		ReturnDate: detail.ReturnDate,
		Price:      detail.Price,
		CreatedAt:  detail.CreatedAt,
		UpdatedAt:  detail.UpdatedAt,
	}
}

func toDomainCar(row *repository.Car) Car {
	return Car{
		CarID:       row.CarID,
		Brand:       row.Brand,
		Model:       row.Model,
		Year:        row.Year,
		PricePerDay: row.PricePerDay,
		Available:   row.Available,
	}
}

func toDomainCars(rows []*repository.Car) []Car {
	cars := make([]Car, len(rows))
	for i, row := range rows {
		cars[i] = toDomainCar(row)
	}
	return cars
}
