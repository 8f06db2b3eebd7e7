package storage

import "time"

type Order struct {
	OrderID    int64          `json:"order_id"`
	CarID      int64          `json:"car_id"`
	ClientID   int64          `json:"client_id"`
	Status     string         `json:"status"`
	IssueDate  time.Time      `json:"issue_date"`
	ReturnDate time.Time      `json:"return_date"`
	Price      float64        `json:"price"`
	Services   *OrderServices `json:"services,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type OrderServices struct {
	Insurance        bool `json:"insurance"`
	ChildSeat        bool `json:"child_seat"`
	GPS              bool `json:"gps"`
	AdditionalDriver bool `json:"additional_driver"`
}

// NewOrder is the creation payload: price is derived server-side from the
// car's daily rate and the rental period.
type NewOrder struct {
	CarID      int64
	ClientID   int64
	IssueDate  time.Time
	ReturnDate time.Time
	Services   *OrderServices
}

type Car struct {
	CarID       int64   `json:"car_id"`
	Brand       string  `json:"brand"`
	Model       string  `json:"model"`
	Year        int     `json:"year"`
	PricePerDay float64 `json:"price_per_day"`
	Available   bool    `json:"available"`
}

type Review struct {
	ReviewID  int64     `json:"review_id"`
	CarID     int64     `json:"car_id"`
	UserID    int64     `json:"user_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

type HistoryEntry struct {
	OrderID   int64     `json:"order_id"`
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}
