package server

import (
	"bytes"
	"net/http"
)

// auditRecorder tees the handler's response so the audit middleware can
// attach the status code and body to its log entry.
type auditRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func newAuditRecorder(w http.ResponseWriter) *auditRecorder {
	return &auditRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (a *auditRecorder) WriteHeader(status int) {
	a.status = status
	a.ResponseWriter.WriteHeader(status)
}

func (a *auditRecorder) Write(b []byte) (int, error) {
	a.body.Write(b)
	return a.ResponseWriter.Write(b)
}

func (a *auditRecorder) Status() int {
	return a.status
}

func (a *auditRecorder) Body() []byte {
	return a.body.Bytes()
}
