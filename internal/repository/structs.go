package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrObjectNotFound = errors.New("not found")

type Order struct {
	OrderID    int64     `db:"order_id"`
	CarID      int64     `db:"car_id"`
	ClientID   int64     `db:"client_id"`
	StatusID   int64     `db:"status_id"`
	IssueDate  time.Time `db:"issue_date"`
	ReturnDate time.Time `db:"return_date"`
	Price      float64   `db:"price"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// OrderDetail is an order row joined with its status name.
type OrderDetail struct {
	Order
	StatusName string `db:"status_name"`
}

// OrderServices is the optional 1:1 extension row of an order.
type OrderServices struct {
	OrderID          int64 `db:"order_id"`
	Insurance        bool  `db:"insurance"`
	ChildSeat        bool  `db:"child_seat"`
	GPS              bool  `db:"gps"`
	AdditionalDriver bool  `db:"additional_driver"`
}

type Status struct {
	StatusID int64  `db:"status_id"`
	Name     string `db:"name"`
}

type Car struct {
	CarID       int64   `db:"car_id"`
	Brand       string  `db:"brand"`
	Model       string  `db:"model"`
	Year        int     `db:"year"`
	PricePerDay float64 `db:"price_per_day"`
	Available   bool    `db:"available"`
}

type User struct {
	ID       int64  `db:"id"`
	Email    string `db:"email"`
	Password string `db:"password"`
	Role     string `db:"role"`
}

type Review struct {
	ReviewID  int64     `db:"review_id"`
	CarID     int64     `db:"car_id"`
	UserID    int64     `db:"user_id"`
	Rating    int       `db:"rating"`
	Comment   string    `db:"comment"`
	CreatedAt time.Time `db:"created_at"`
}

type HistoryEntry struct {
	ID        int64     `db:"id"`
	OrderID   int64     `db:"order_id"`
	Status    string    `db:"status"`
	ChangedAt time.Time `db:"changed_at"`
}

type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "CREATED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusDone       TaskStatus = "DONE"
	TaskStatusFailed     TaskStatus = "FAILED"
)

type OutboxTask struct {
	ID          uuid.UUID  `db:"id"`
	Status      TaskStatus `db:"status"`
	Payload     []byte     `db:"payload"`
	Topic       string     `db:"topic"`
	Attempts    int        `db:"attempts"`
	LastError   *string    `db:"last_error"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	CompletedAt *time.Time `db:"completed_at"`
}
