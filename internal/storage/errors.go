package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrCarNotFound       = errors.New("car not found")
	ErrCarUnavailable    = errors.New("car is not available")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrInvalidPeriod     = errors.New("return date must be after issue date")

	// ErrOrderActive guards deletion of orders in an active rental state.
	// The message is what the storefront shows, hence the Russian copy.
	ErrOrderActive = errors.New("нельзя удалить активный заказ")

	// errRowLocked marks the case where the target row exists but is held
	// by a concurrent transaction. Retried like a lock timeout.
	errRowLocked = errors.New("row is locked by another transaction")
)

// pgLockNotAvailable is raised when lock_timeout expires while waiting
// for a row lock.
const pgLockNotAvailable = "55P03"

// RetryExhaustedError reports that every attempt of a retryable
// transaction failed on lock contention.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("transaction failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// isTransient classifies an error as retryable lock contention. Anything
// else is terminal and surfaced to the caller on the first attempt.
func isTransient(err error) bool {
	if errors.Is(err, errRowLocked) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvailable
	}
	return false
}
