//go:generate mockgen -source ./server.go -destination=./mocks/server.go -package=mock_server
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/carstyle/backend/internal/auth"
	"github.com/carstyle/backend/internal/repository"
	"github.com/carstyle/backend/internal/storage"
)

type Storage interface {
	CreateOrder(ctx context.Context, req storage.NewOrder) (*storage.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*storage.Order, error)
	GetUserOrders(ctx context.Context, clientID int64, lastN int, activeOnly bool) ([]storage.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
	DeleteOrder(ctx context.Context, orderID int64) error
	GetOrderHistory(ctx context.Context, orderID int64) ([]storage.HistoryEntry, error)
	ListCars(ctx context.Context) ([]storage.Car, error)
	GetCar(ctx context.Context, carID int64) (*storage.Car, error)
	CreateCar(ctx context.Context, car storage.Car) (*storage.Car, error)
	UpdateCar(ctx context.Context, car storage.Car) error
	DeleteCar(ctx context.Context, carID int64) error
	AddReview(ctx context.Context, review storage.Review) (*storage.Review, error)
	GetCarReviews(ctx context.Context, carID int64) ([]storage.Review, error)
	EnqueueAuditTask(ctx context.Context, topic string, payload []byte) error
}

type UserRepo interface {
	CreateUser(ctx context.Context, email, password, role string) (int64, error)
	ValidateUser(ctx context.Context, email, password string) (*repository.User, error)
}

type TokenService interface {
	IssueToken(userID int64, email, role string) (string, error)
	ParseToken(tokenString string) (*auth.Claims, error)
}

type Server struct {
	storage      Storage
	users        UserRepo
	tokens       TokenService
	server       *http.Server
	logger       *zap.Logger
	AuditManager *AuditManager
}

func New(storage Storage, users UserRepo, tokens TokenService, auditTopic string, logger *zap.Logger) *Server {
	auditManager := NewAuditManager(2, 5, 500*time.Millisecond, auditTopic, storage)
	return &Server{
		storage:      storage,
		users:        users,
		tokens:       tokens,
		logger:       logger,
		AuditManager: auditManager,
	}
}

func (s *Server) Run(ctx context.Context, port string) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.AuditManager.Start(ctx)

	s.logger.Info("Server starting", zap.String("port", port))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	s.AuditManager.Shutdown(ctx)
	s.logger.Info("Server shutdown completed")
	return nil
}

func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	api.HandleFunc("/cars", s.handleListCars).Methods(http.MethodGet)
	api.HandleFunc("/cars/{carId}", s.handleGetCar).Methods(http.MethodGet)
	api.HandleFunc("/cars/{carId}/reviews", s.handleCarReviews).Methods(http.MethodGet)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.authMiddleware)

	authed.HandleFunc("/cars", s.requireRoles(s.handleCreateCar, auth.RoleAdmin)).Methods(http.MethodPost)
	authed.HandleFunc("/cars/{carId}", s.requireRoles(s.handleUpdateCar, auth.RoleAdmin)).Methods(http.MethodPut)
	authed.HandleFunc("/cars/{carId}", s.requireRoles(s.handleDeleteCar, auth.RoleAdmin)).Methods(http.MethodDelete)

	authed.HandleFunc("/reviews", s.handleAddReview).Methods(http.MethodPost)

	// Only order routes are audited. The auth endpoints in particular must
	// stay out: their bodies carry credentials.
	orders := authed.NewRoute().Subrouter()
	orders.Use(s.auditLogMiddleware)

	orders.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	orders.HandleFunc("/orders/{orderId}", s.requireStaff(s.handleGetOrder)).Methods(http.MethodGet)
	orders.HandleFunc("/orders/{orderId}/status", s.requireStaff(s.handleUpdateOrderStatus)).Methods(http.MethodPut)
	orders.HandleFunc("/orders/{orderId}", s.requireStaff(s.handleDeleteOrder)).Methods(http.MethodDelete)
	orders.HandleFunc("/orders/{orderId}/history", s.requireStaff(s.handleOrderHistory)).Methods(http.MethodGet)
	orders.HandleFunc("/users/{userId}/orders", s.handleListUserOrders).Methods(http.MethodGet)

	return router
}

type apiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func respondSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	respondJSON(w, status, apiResponse{Success: true, Message: message, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, apiResponse{Success: false, Message: message})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// respondOrderError maps the storage error taxonomy onto HTTP codes:
// validation and business-rule rejections are 400, missing orders 404,
// exhausted retries and everything unexpected 500.
func (s *Server) respondOrderError(w http.ResponseWriter, err error, operation string) {
	var exhausted *storage.RetryExhaustedError

	switch {
	case errors.Is(err, storage.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, storage.ErrInvalidStatus),
		errors.Is(err, storage.ErrIllegalTransition),
		errors.Is(err, storage.ErrOrderActive):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &exhausted):
		s.logger.Error("Operation exhausted retries",
			zap.String("operation", operation),
			zap.Int("attempts", exhausted.Attempts),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error("Operation failed", zap.String("operation", operation), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := s.users.CreateUser(r.Context(), req.Email, req.Password, auth.RoleClient)
	if err != nil {
		s.logger.Error("Failed to create user", zap.String("email", req.Email), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	respondSuccess(w, http.StatusCreated, "User registered successfully", map[string]int64{"id": id})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := s.users.ValidateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	token, err := s.tokens.IssueToken(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.Error("Failed to issue token", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	respondSuccess(w, http.StatusOK, "Login successful", map[string]string{
		"token": token,
		"role":  user.Role,
	})
}

func (s *Server) handleListCars(w http.ResponseWriter, r *http.Request) {
	cars, err := s.storage.ListCars(r.Context())
	if err != nil {
		s.logger.Error("Failed to list cars", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to list cars")
		return
	}

	respondJSON(w, http.StatusOK, cars)
}

func (s *Server) handleGetCar(w http.ResponseWriter, r *http.Request) {
	carID, err := pathID(r, "carId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid car ID")
		return
	}

	car, err := s.storage.GetCar(r.Context(), carID)
	if err != nil {
		if errors.Is(err, storage.ErrCarNotFound) {
			respondError(w, http.StatusNotFound, "Car not found")
			return
		}
		s.logger.Error("Failed to get car", zap.Int64("car_id", carID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get car")
		return
	}

	respondJSON(w, http.StatusOK, car)
}

func (s *Server) handleCreateCar(w http.ResponseWriter, r *http.Request) {
	var car storage.Car
	if err := json.NewDecoder(r.Body).Decode(&car); err != nil || car.Brand == "" || car.Model == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := s.storage.CreateCar(r.Context(), car)
	if err != nil {
		s.logger.Error("Failed to create car", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to create car")
		return
	}

	respondSuccess(w, http.StatusCreated, "Car created successfully", created)
}

func (s *Server) handleUpdateCar(w http.ResponseWriter, r *http.Request) {
	carID, err := pathID(r, "carId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid car ID")
		return
	}

	var car storage.Car
	if err := json.NewDecoder(r.Body).Decode(&car); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	car.CarID = carID

	if err := s.storage.UpdateCar(r.Context(), car); err != nil {
		if errors.Is(err, storage.ErrCarNotFound) {
			respondError(w, http.StatusNotFound, "Car not found")
			return
		}
		s.logger.Error("Failed to update car", zap.Int64("car_id", carID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to update car")
		return
	}

	respondSuccess(w, http.StatusOK, "Car updated successfully", nil)
}

func (s *Server) handleDeleteCar(w http.ResponseWriter, r *http.Request) {
	carID, err := pathID(r, "carId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid car ID")
		return
	}

	if err := s.storage.DeleteCar(r.Context(), carID); err != nil {
		if errors.Is(err, storage.ErrCarNotFound) {
			respondError(w, http.StatusNotFound, "Car not found")
			return
		}
		s.logger.Error("Failed to delete car", zap.Int64("car_id", carID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to delete car")
		return
	}

	respondSuccess(w, http.StatusOK, "Car deleted successfully", nil)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		CarID      int64                  `json:"car_id"`
		IssueDate  string                 `json:"issue_date"`
		ReturnDate string                 `json:"return_date"`
		Services   *storage.OrderServices `json:"services"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CarID <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	issueDate, err := time.Parse("2006-01-02", req.IssueDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid issue_date format. Use YYYY-MM-DD")
		return
	}
	returnDate, err := time.Parse("2006-01-02", req.ReturnDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid return_date format. Use YYYY-MM-DD")
		return
	}

	order, err := s.storage.CreateOrder(r.Context(), storage.NewOrder{
		CarID:      req.CarID,
		ClientID:   claims.UserID,
		IssueDate:  issueDate.UTC(),
		ReturnDate: returnDate.UTC(),
		Services:   req.Services,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCarNotFound):
			respondError(w, http.StatusNotFound, "Car not found")
		case errors.Is(err, storage.ErrCarUnavailable), errors.Is(err, storage.ErrInvalidPeriod):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("Failed to create order", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Failed to create order")
		}
		return
	}

	respondSuccess(w, http.StatusCreated, "Order created successfully", order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := s.storage.GetOrder(r.Context(), orderID)
	if err != nil {
		s.respondOrderError(w, err, "get_order")
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req struct {
		Status string `json:"status"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.storage.UpdateOrderStatus(r.Context(), orderID, req.Status); err != nil {
		s.respondOrderError(w, err, "update_order_status")
		return
	}

	respondSuccess(w, http.StatusOK, "Order status updated successfully", nil)
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	if err := s.storage.DeleteOrder(r.Context(), orderID); err != nil {
		s.respondOrderError(w, err, "delete_order")
		return
	}

	respondSuccess(w, http.StatusOK, "Order deleted successfully", nil)
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	history, err := s.storage.GetOrderHistory(r.Context(), orderID)
	if err != nil {
		s.logger.Error("Failed to get order history", zap.Int64("order_id", orderID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get order history")
		return
	}

	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleListUserOrders(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	userID, err := pathID(r, "userId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	// Clients may only list their own orders.
	if userID != claims.UserID && !claims.IsStaff() {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	lastN := 0
	activeOnly := false

	if lastNStr := r.URL.Query().Get("last"); lastNStr != "" {
		lastN, err = strconv.Atoi(lastNStr)
		if err != nil || lastN <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid value for 'last' parameter")
			return
		}
	}

	if activeStr := r.URL.Query().Get("active"); activeStr == "true" {
		activeOnly = true
	}

	orders, err := s.storage.GetUserOrders(r.Context(), userID, lastN, activeOnly)
	if err != nil {
		s.logger.Error("Failed to list user orders", zap.Int64("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to list orders")
		return
	}

	respondJSON(w, http.StatusOK, orders)
}

func (s *Server) handleAddReview(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		CarID   int64  `json:"car_id"`
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CarID <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	review, err := s.storage.AddReview(r.Context(), storage.Review{
		CarID:   req.CarID,
		UserID:  claims.UserID,
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidRating):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, storage.ErrCarNotFound):
			respondError(w, http.StatusNotFound, "Car not found")
		default:
			s.logger.Error("Failed to add review", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Failed to add review")
		}
		return
	}

	respondSuccess(w, http.StatusCreated, "Review added successfully", review)
}

func (s *Server) handleCarReviews(w http.ResponseWriter, r *http.Request) {
	carID, err := pathID(r, "carId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid car ID")
		return
	}

	reviews, err := s.storage.GetCarReviews(r.Context(), carID)
	if err != nil {
		s.logger.Error("Failed to get reviews", zap.Int64("car_id", carID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get reviews")
		return
	}

	respondJSON(w, http.StatusOK, reviews)
}
