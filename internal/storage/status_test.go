package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStatus(t *testing.T) {
	t.Run("known statuses", func(t *testing.T) {
		for _, name := range []string{"pending", "active", "rented", "completed", "cancelled"} {
			status, err := ParseStatus(name)
			assert.NoError(t, err)
			assert.Equal(t, Status(name), status)
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		_, err := ParseStatus("shipped")
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("empty status", func(t *testing.T) {
		_, err := ParseStatus("")
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("case sensitive", func(t *testing.T) {
		_, err := ParseStatus("Pending")
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})
}

func TestStatus_CanTransitionTo(t *testing.T) {
	allowed := []struct {
		from, to Status
	}{
		{StatusPending, StatusActive},
		{StatusPending, StatusCancelled},
		{StatusActive, StatusRented},
		{StatusActive, StatusCancelled},
		{StatusRented, StatusCompleted},
	}

	for _, tc := range allowed {
		assert.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	forbidden := []struct {
		from, to Status
	}{
		{StatusPending, StatusRented},
		{StatusPending, StatusCompleted},
		{StatusActive, StatusPending},
		{StatusActive, StatusCompleted},
		{StatusRented, StatusCancelled},
		{StatusRented, StatusPending},
		{StatusCompleted, StatusPending},
		{StatusCompleted, StatusActive},
		{StatusCancelled, StatusPending},
		{StatusCancelled, StatusActive},
	}

	for _, tc := range forbidden {
		assert.False(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be rejected", tc.from, tc.to)
	}
}

func TestStatus_Deletable(t *testing.T) {
	assert.True(t, StatusPending.Deletable())
	assert.True(t, StatusCompleted.Deletable())
	assert.True(t, StatusCancelled.Deletable())

	assert.False(t, StatusActive.Deletable())
	assert.False(t, StatusRented.Deletable())
}
