package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// auditLogMiddleware records order route calls. It runs after the auth
// middleware, so the actor is taken from the request context.
func (s *Server) auditLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := AuditLogEntry{
			Timestamp: time.Now().UTC(),
			Method:    r.Method,
			Path:      r.URL.Path,
		}

		if claims, ok := claimsFromContext(r.Context()); ok {
			entry.UserID = claims.UserID
			entry.UserEmail = claims.Email
			entry.Role = claims.Role
		}

		if orderIDStr, ok := mux.Vars(r)["orderId"]; ok {
			if orderID, err := strconv.ParseInt(orderIDStr, 10, 64); err == nil {
				entry.OrderID = orderID
			}
		}

		if r.Body != nil {
			requestBody, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(requestBody))
			entry.Request = string(requestBody)

			if entry.OrderID != 0 && strings.HasSuffix(r.URL.Path, "/status") {
				var statusRequest struct {
					Status string `json:"status"`
				}
				if err := json.Unmarshal(requestBody, &statusRequest); err == nil {
					if order, err := s.storage.GetOrder(r.Context(), entry.OrderID); err == nil {
						entry.OldStatus = order.Status
						entry.NewStatus = statusRequest.Status
					}
				}
			}
		}

		rec := newAuditRecorder(w)

		next.ServeHTTP(rec, r)

		entry.StatusCode = rec.Status()
		entry.Response = string(rec.Body())

		s.AuditManager.LogEntry(r.Context(), entry)
	})
}
