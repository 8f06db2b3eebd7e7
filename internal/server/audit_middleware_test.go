package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/carstyle/backend/internal/auth"
	mock_server "github.com/carstyle/backend/internal/server/mocks"
	"github.com/carstyle/backend/internal/storage"
)

// runAuditedServer wires a Server with a running audit manager and captures
// every payload flushed into the outbox. The returned flush func shuts the
// manager down and hands back everything it enqueued.
func runAuditedServer(t *testing.T, ctrl *gomock.Controller) (http.Handler, *serverMocks, func() []string) {
	t.Helper()

	m := &serverMocks{
		storage: mock_server.NewMockStorage(ctrl),
		users:   mock_server.NewMockUserRepo(ctrl),
		tokens:  mock_server.NewMockTokenService(ctrl),
	}
	srv := New(m.storage, m.users, m.tokens, "order_audit", zap.NewNop())

	var mu sync.Mutex
	var payloads []string
	m.storage.EXPECT().EnqueueAuditTask(gomock.Any(), "order_audit", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, payload []byte) error {
			mu.Lock()
			defer mu.Unlock()
			payloads = append(payloads, string(payload))
			return nil
		}).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	srv.AuditManager.Start(ctx)
	t.Cleanup(cancel)

	flush := func() []string {
		srv.AuditManager.Shutdown(context.Background())
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), payloads...)
	}

	return srv.setupRoutes(), m, flush
}

func TestAuditMiddleware_SkipsAuthEndpoints(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	router, m, flush := runAuditedServer(t, ctrl)

	m.users.EXPECT().CreateUser(gomock.Any(), "client@example.com", "s3cretPassw0rd", auth.RoleClient).
		Return(int64(7), nil)

	rec := doRequest(router, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "client@example.com",
		"password": "s3cretPassw0rd",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	payloads := flush()
	for _, p := range payloads {
		assert.NotContains(t, p, "s3cretPassw0rd")
	}
	assert.Empty(t, payloads)
}

func TestAuditMiddleware_RecordsStatusChange(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	router, m, flush := runAuditedServer(t, ctrl)
	staffToken(m)

	m.storage.EXPECT().GetOrder(gomock.Any(), int64(1)).
		Return(&storage.Order{OrderID: 1, Status: "pending"}, nil).AnyTimes()
	m.storage.EXPECT().UpdateOrderStatus(gomock.Any(), int64(1), "active").Return(nil)

	rec := doRequest(router, http.MethodPut, "/api/orders/1/status", "staff-token", map[string]string{
		"status": "active",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	payloads := flush()
	require.NotEmpty(t, payloads)

	joined := strings.Join(payloads, "\n")
	assert.Contains(t, joined, `"old_status":"pending"`)
	assert.Contains(t, joined, `"new_status":"active"`)
	assert.Contains(t, joined, `"user_email":"employee@carstyle.ru"`)
}
