package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]AuditLogEntry
}

func (s *recordingSink) EnqueueAuditTask(_ context.Context, _ string, payload []byte) error {
	var batch []AuditLogEntry
	if err := json.Unmarshal(payload, &batch); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *recordingSink) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestAuditManager_FlushesFullBatch(t *testing.T) {
	sink := &recordingSink{}
	m := NewAuditManager(2, 3, time.Minute, "order_audit", sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	for i := 0; i < 3; i++ {
		m.LogEntry(ctx, AuditLogEntry{Method: "PUT", Path: "/api/orders/1/status"})
	}

	require.Eventually(t, func() bool {
		return sink.entryCount() == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAuditManager_FlushesOnTimeout(t *testing.T) {
	sink := &recordingSink{}
	m := NewAuditManager(1, 100, 20*time.Millisecond, "order_audit", sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	m.LogEntry(ctx, AuditLogEntry{Method: "DELETE", Path: "/api/orders/7"})

	require.Eventually(t, func() bool {
		return sink.entryCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAuditManager_DrainsOnShutdown(t *testing.T) {
	sink := &recordingSink{}
	m := NewAuditManager(2, 100, time.Minute, "order_audit", sink)

	ctx := context.Background()
	m.Start(ctx)

	// no pause before Shutdown: entries may still sit in the input
	// channel and must survive the drain
	for i := 0; i < 5; i++ {
		m.LogEntry(ctx, AuditLogEntry{Method: "POST", Path: "/api/orders"})
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	m.Shutdown(shutdownCtx)

	assert.Equal(t, 5, sink.entryCount())
}
