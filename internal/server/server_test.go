package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/carstyle/backend/internal/auth"
	"github.com/carstyle/backend/internal/repository"
	mock_server "github.com/carstyle/backend/internal/server/mocks"
	"github.com/carstyle/backend/internal/storage"
)

type serverMocks struct {
	storage *mock_server.MockStorage
	users   *mock_server.MockUserRepo
	tokens  *mock_server.MockTokenService
}

func newTestServer(ctrl *gomock.Controller) (http.Handler, *serverMocks) {
	m := &serverMocks{
		storage: mock_server.NewMockStorage(ctrl),
		users:   mock_server.NewMockUserRepo(ctrl),
		tokens:  mock_server.NewMockTokenService(ctrl),
	}
	srv := New(m.storage, m.users, m.tokens, "order_audit", zap.NewNop())
	return srv.setupRoutes(), m
}

func staffToken(m *serverMocks) {
	m.tokens.EXPECT().ParseToken("staff-token").Return(&auth.Claims{
		UserID: 1, Email: "employee@carstyle.ru", Role: auth.RoleEmployee,
	}, nil).AnyTimes()
}

func doRequest(router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleRegister(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		m.users.EXPECT().CreateUser(gomock.Any(), "client@example.com", "secret", auth.RoleClient).
			Return(int64(5), nil)

		rec := doRequest(router, http.MethodPost, "/api/auth/register", "", map[string]string{
			"email":    "client@example.com",
			"password": "secret",
		})

		assert.Equal(t, http.StatusCreated, rec.Code)
		resp := decodeResponse(t, rec)
		assert.True(t, resp.Success)
	})

	t.Run("missing fields", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, _ := newTestServer(ctrl)
		rec := doRequest(router, http.MethodPost, "/api/auth/register", "", map[string]string{
			"email": "client@example.com",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.False(t, decodeResponse(t, rec).Success)
	})
}

func TestHandleLogin(t *testing.T) {
	t.Run("success returns token and role", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		user := &repository.User{ID: 5, Email: "client@example.com", Role: auth.RoleClient}
		m.users.EXPECT().ValidateUser(gomock.Any(), "client@example.com", "secret").Return(user, nil)
		m.tokens.EXPECT().IssueToken(int64(5), "client@example.com", auth.RoleClient).
			Return("signed-token", nil)

		rec := doRequest(router, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "client@example.com",
			"password": "secret",
		})

		assert.Equal(t, http.StatusOK, rec.Code)
		resp := decodeResponse(t, rec)
		assert.True(t, resp.Success)

		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "signed-token", data["token"])
		assert.Equal(t, auth.RoleClient, data["role"])
	})

	t.Run("bad credentials", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		m.users.EXPECT().ValidateUser(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("invalid credentials"))

		rec := doRequest(router, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "client@example.com",
			"password": "wrong",
		})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandleUpdateOrderStatus(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		staffToken(m)
		m.storage.EXPECT().GetOrder(gomock.Any(), int64(1)).
			Return(&storage.Order{OrderID: 1, Status: "pending"}, nil).AnyTimes()
		m.storage.EXPECT().UpdateOrderStatus(gomock.Any(), int64(1), "active").Return(nil)

		rec := doRequest(router, http.MethodPut, "/api/orders/1/status", "staff-token",
			map[string]string{"status": "active"})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decodeResponse(t, rec).Success)
	})

	t.Run("unknown status", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		staffToken(m)
		m.storage.EXPECT().GetOrder(gomock.Any(), int64(1)).
			Return(&storage.Order{OrderID: 1, Status: "pending"}, nil).AnyTimes()
		m.storage.EXPECT().UpdateOrderStatus(gomock.Any(), int64(1), "shipped").
			Return(storage.ErrInvalidStatus)

		rec := doRequest(router, http.MethodPut, "/api/orders/1/status", "staff-token",
			map[string]string{"status": "shipped"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.False(t, decodeResponse(t, rec).Success)
	})

	t.Run("order not found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		staffToken(m)
		m.storage.EXPECT().GetOrder(gomock.Any(), int64(404)).
			Return(nil, storage.ErrOrderNotFound).AnyTimes()
		m.storage.EXPECT().UpdateOrderStatus(gomock.Any(), int64(404), "active").
			Return(storage.ErrOrderNotFound)

		rec := doRequest(router, http.MethodPut, "/api/orders/404/status", "staff-token",
			map[string]string{"status": "active"})

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("illegal transition", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		staffToken(m)
		m.storage.EXPECT().GetOrder(gomock.Any(), int64(1)).
			Return(&storage.Order{OrderID: 1, Status: "completed"}, nil).AnyTimes()
		m.storage.EXPECT().UpdateOrderStatus(gomock.Any(), int64(1), "active").
			Return(storage.ErrIllegalTransition)

		rec := doRequest(router, http.MethodPut, "/api/orders/1/status", "staff-token",
			map[string]string{"status": "active"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("retries exhausted reported as server error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		staffToken(m)
		m.storage.EXPECT().GetOrder(gomock.Any(), int64(1)).
			Return(&storage.Order{OrderID: 1, Status: "pending"}, nil).AnyTimes()
		m.storage.EXPECT().UpdateOrderStatus(gomock.Any(), int64(1), "active").
			Return(&storage.RetryExhaustedError{Attempts: 3, Last: errors.New("lock timeout")})

		rec := doRequest(router, http.MethodPut, "/api/orders/1/status", "staff-token",
			map[string]string{"status": "active"})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		resp := decodeResponse(t, rec)
		assert.Contains(t, resp.Message, "3 attempts")
	})

	t.Run("client role forbidden", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		m.tokens.EXPECT().ParseToken("client-token").Return(&auth.Claims{
			UserID: 9, Role: auth.RoleClient,
		}, nil).AnyTimes()
		m.storage.EXPECT().GetOrder(gomock.Any(), gomock.Any()).
			Return(&storage.Order{OrderID: 1, Status: "pending"}, nil).AnyTimes()

		rec := doRequest(router, http.MethodPut, "/api/orders/1/status", "client-token",
			map[string]string{"status": "active"})

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("no token", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		m.storage.EXPECT().GetOrder(gomock.Any(), gomock.Any()).
			Return(&storage.Order{OrderID: 1, Status: "pending"}, nil).AnyTimes()

		rec := doRequest(router, http.MethodPut, "/api/orders/1/status", "",
			map[string]string{"status": "active"})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandleDeleteOrder(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		staffToken(m)
		m.storage.EXPECT().DeleteOrder(gomock.Any(), int64(7)).Return(nil)

		rec := doRequest(router, http.MethodDelete, "/api/orders/7", "staff-token", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decodeResponse(t, rec).Success)
	})

	t.Run("active order rejected with russian message", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		staffToken(m)
		m.storage.EXPECT().DeleteOrder(gomock.Any(), int64(7)).Return(storage.ErrOrderActive)

		rec := doRequest(router, http.MethodDelete, "/api/orders/7", "staff-token", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeResponse(t, rec)
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Message, "активный")
	})

	t.Run("not found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		staffToken(m)
		m.storage.EXPECT().DeleteOrder(gomock.Any(), int64(404)).Return(storage.ErrOrderNotFound)

		rec := doRequest(router, http.MethodDelete, "/api/orders/404", "staff-token", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		staffToken(m)

		rec := doRequest(router, http.MethodDelete, "/api/orders/abc", "staff-token", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleCreateOrder(t *testing.T) {
	t.Run("client id comes from the token", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		m.tokens.EXPECT().ParseToken("client-token").Return(&auth.Claims{
			UserID: 9, Role: auth.RoleClient,
		}, nil).AnyTimes()

		m.storage.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ interface{}, req storage.NewOrder) (*storage.Order, error) {
				assert.Equal(t, int64(9), req.ClientID)
				assert.Equal(t, int64(3), req.CarID)
				return &storage.Order{OrderID: 42, CarID: 3, ClientID: 9, Status: "pending"}, nil
			})

		rec := doRequest(router, http.MethodPost, "/api/orders", "client-token", map[string]interface{}{
			"car_id":      3,
			"issue_date":  "2025-06-01",
			"return_date": "2025-06-04",
		})

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.True(t, decodeResponse(t, rec).Success)
	})

	t.Run("bad date format", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		m.tokens.EXPECT().ParseToken("client-token").Return(&auth.Claims{
			UserID: 9, Role: auth.RoleClient,
		}, nil).AnyTimes()

		rec := doRequest(router, http.MethodPost, "/api/orders", "client-token", map[string]interface{}{
			"car_id":      3,
			"issue_date":  "01.06.2025",
			"return_date": "2025-06-04",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleListUserOrders(t *testing.T) {
	t.Run("client may not list a stranger's orders", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		m.tokens.EXPECT().ParseToken("client-token").Return(&auth.Claims{
			UserID: 9, Role: auth.RoleClient,
		}, nil).AnyTimes()

		rec := doRequest(router, http.MethodGet, "/api/users/10/orders", "client-token", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("staff may list anyone's orders", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		staffToken(m)
		m.storage.EXPECT().GetUserOrders(gomock.Any(), int64(10), 5, true).
			Return([]storage.Order{{OrderID: 1, ClientID: 10, Status: "active"}}, nil)

		rec := doRequest(router, http.MethodGet, "/api/users/10/orders?last=5&active=true", "staff-token", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHandleCars(t *testing.T) {
	t.Run("listing is public", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		m.storage.EXPECT().ListCars(gomock.Any()).Return([]storage.Car{
			{CarID: 1, Brand: "Kia", Model: "Rio", Available: true},
		}, nil)

		rec := doRequest(router, http.MethodGet, "/api/cars", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("creation requires admin", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		m.tokens.EXPECT().ParseToken("staff-token").Return(&auth.Claims{
			UserID: 1, Role: auth.RoleEmployee,
		}, nil).AnyTimes()

		rec := doRequest(router, http.MethodPost, "/api/cars", "staff-token", map[string]interface{}{
			"brand": "Kia", "model": "Rio",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin creates a car", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		router, m := newTestServer(ctrl)
		m.tokens.EXPECT().ParseToken("admin-token").Return(&auth.Claims{
			UserID: 1, Role: auth.RoleAdmin,
		}, nil).AnyTimes()
		m.storage.EXPECT().CreateCar(gomock.Any(), gomock.Any()).
			Return(&storage.Car{CarID: 1, Brand: "Kia", Model: "Rio"}, nil)

		rec := doRequest(router, http.MethodPost, "/api/cars", "admin-token", map[string]interface{}{
			"brand": "Kia", "model": "Rio", "year": 2024, "price_per_day": 50.0,
		})
		assert.Equal(t, http.StatusCreated, rec.Code)
	})
}
