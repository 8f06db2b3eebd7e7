package storage

import "fmt"

// Status is the closed vocabulary of order states. The database keeps a
// name-keyed lookup table, but unknown names are rejected at the boundary
// instead of being inserted on demand.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusRented    Status = "rented"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var allStatuses = map[Status]struct{}{
	StatusPending:   {},
	StatusActive:    {},
	StatusRented:    {},
	StatusCompleted: {},
	StatusCancelled: {},
}

// transitions is the allowed state machine:
// pending -> active -> rented -> completed, with cancellation possible
// from pending and active. completed and cancelled are terminal.
var transitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusCancelled},
	StatusActive:  {StatusRented, StatusCancelled},
	StatusRented:  {StatusCompleted},
}

func ParseStatus(name string) (Status, error) {
	s := Status(name)
	if _, ok := allStatuses[s]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, name)
	}
	return s, nil
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Deletable reports whether an order in this state may be physically
// removed. Orders in an active rental state must survive.
func (s Status) Deletable() bool {
	return s != StatusActive && s != StatusRented
}
