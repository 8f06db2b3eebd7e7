package cache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carstyle/backend/internal/cache"
	"github.com/carstyle/backend/internal/repository"
	mock_storage "github.com/carstyle/backend/internal/storage/mocks"
)

func TestCarCache_LoadInitialData(t *testing.T) {
	ctx := context.Background()

	t.Run("warms the cache from the source", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		source := mock_storage.NewMockCarRepository(ctrl)
		source.EXPECT().GetAll(gomock.Any()).Return([]*repository.Car{
			{CarID: 2, Brand: "Kia", Model: "Rio"},
			{CarID: 1, Brand: "Lada", Model: "Vesta"},
		}, nil)

		c := cache.NewCarCache(source)
		require.NoError(t, c.LoadInitialData(ctx))

		cars, ok := c.GetAll()
		require.True(t, ok)
		require.Len(t, cars, 2)
		assert.Equal(t, int64(1), cars[0].CarID)
		assert.Equal(t, int64(2), cars[1].CarID)
	})

	t.Run("source failure leaves cache cold", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		source := mock_storage.NewMockCarRepository(ctrl)
		source.EXPECT().GetAll(gomock.Any()).Return(nil, errors.New("connection refused"))

		c := cache.NewCarCache(source)
		assert.Error(t, c.LoadInitialData(ctx))

		_, ok := c.GetAll()
		assert.False(t, ok)
	})
}

func TestCarCache_GetSetDelete(t *testing.T) {
	c := cache.NewCarCache(nil)

	_, found := c.Get(1)
	assert.False(t, found)

	c.Set(&repository.Car{CarID: 1, Brand: "Kia", Model: "Rio", Available: true})

	car, found := c.Get(1)
	require.True(t, found)
	assert.Equal(t, "Kia", car.Brand)

	// reads return copies, mutating one must not leak back
	car.Brand = "Mutated"
	fresh, _ := c.Get(1)
	assert.Equal(t, "Kia", fresh.Brand)

	c.Delete(1)
	_, found = c.Get(1)
	assert.False(t, found)
}

func TestCarCache_GetAllRequiresWarmup(t *testing.T) {
	c := cache.NewCarCache(nil)

	// single Set does not make the catalog authoritative
	c.Set(&repository.Car{CarID: 1})
	_, ok := c.GetAll()
	assert.False(t, ok)

	c.Load([]*repository.Car{{CarID: 1}, {CarID: 2}})
	cars, ok := c.GetAll()
	require.True(t, ok)
	assert.Len(t, cars, 2)
}
