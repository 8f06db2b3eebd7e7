package cache

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/carstyle/backend/internal/metrics"
	"github.com/carstyle/backend/internal/repository"
)

type CarSource interface {
	GetAll(ctx context.Context) ([]*repository.Car, error)
}

// CarCache keeps the catalog in memory so the browse endpoints do not hit
// the database on every request. All reads return copies.
type CarCache struct {
	mu     sync.RWMutex
	cache  map[int64]*repository.Car
	warmed bool
	source CarSource
}

func NewCarCache(source CarSource) *CarCache {
	return &CarCache{
		cache:  make(map[int64]*repository.Car),
		source: source,
	}
}

func (c *CarCache) LoadInitialData(ctx context.Context) error {
	cars, err := c.source.GetAll(ctx)
	if err != nil {
		return err
	}

	c.Load(cars)
	zap.L().Info("Car catalog cache warmed", zap.Int("count", len(cars)))
	return nil
}

// Load replaces the cache contents and marks the catalog warm.
func (c *CarCache) Load(cars []*repository.Car) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[int64]*repository.Car, len(cars))
	for _, car := range cars {
		carCopy := *car
		c.cache[car.CarID] = &carCopy
	}
	c.warmed = true
	metrics.CarCacheItems.Set(float64(len(c.cache)))
}

func (c *CarCache) Get(carID int64) (*repository.Car, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	car, found := c.cache[carID]
	if !found {
		return nil, false
	}
	carCopy := *car
	return &carCopy, true
}

// GetAll returns every cached car ordered by id. The second result is
// false until the cache has been warmed with a full catalog load.
func (c *CarCache) GetAll() ([]*repository.Car, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.warmed {
		return nil, false
	}

	cars := make([]*repository.Car, 0, len(c.cache))
	for _, car := range c.cache {
		carCopy := *car
		cars = append(cars, &carCopy)
	}
	sort.Slice(cars, func(i, j int) bool { return cars[i].CarID < cars[j].CarID })
	return cars, true
}

func (c *CarCache) Set(car *repository.Car) {
	c.mu.Lock()
	defer c.mu.Unlock()

	carCopy := *car
	c.cache[car.CarID] = &carCopy
	metrics.CarCacheItems.Set(float64(len(c.cache)))
}

func (c *CarCache) Delete(carID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, found := c.cache[carID]; found {
		delete(c.cache, carID)
		metrics.CarCacheItems.Set(float64(len(c.cache)))
	}
}
