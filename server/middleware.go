package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/openclaw/a2a"
	"github.com/openclaw/a2a/logstore"
)

// TraceHeader carries a caller-supplied trace id across hops. The server
// echoes it on every response.
const (
	TraceHeader   = "x-trace-id"
	RequestHeader = "x-request-id"
)

type ctxKey int

const (
	ctxTraceID ctxKey = iota
	ctxRequestID
)

// withTracing accepts or assigns the trace id, generates the request id and
// echoes both as response headers.
func (s *Server) withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = a2a.NewTraceID()
		}
		requestID := a2a.NewRequestID()

		w.Header().Set(TraceHeader, traceID)
		w.Header().Set(RequestHeader, requestID)

		ctx := context.WithValue(r.Context(), ctxTraceID, traceID)
		ctx = context.WithValue(ctx, ctxRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRecovery converts a handler panic into a 500 internal_error response.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if s.log != nil {
					s.log.WithFields(logrus.Fields{
						logstore.FieldEvent:   "handler_panic",
						logstore.FieldTraceID: traceID(r.Context()),
						"panic":               rec,
					}).Error("handler panicked")
				}
				s.writeError(w, r, a2a.NewAPIError(a2a.CodeInternalError, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withBodyLimit caps request bodies at maxBodySize.
func (s *Server) withBodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

func traceID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxTraceID).(string); ok {
		return v
	}
	return ""
}

func requestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestID).(string); ok {
		return v
	}
	return ""
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the uniform error body and logs the failure with the
// uppercased code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, apiErr *a2a.APIError) {
	ctx := r.Context()
	status := apiErr.Code.Status()

	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			logstore.FieldEvent:      "request_failed",
			logstore.FieldTraceID:    traceID(ctx),
			logstore.FieldRequestID:  requestID(ctx),
			logstore.FieldErrorCode:  string(apiErr.Code),
			logstore.FieldStatusCode: status,
			logstore.FieldHint:       apiErr.Hint,
			"path":                   r.URL.Path,
		}).Warn(apiErr.Message)
	}

	s.writeJSON(w, status, a2a.ErrorResponse{
		Success:   false,
		Error:     string(apiErr.Code),
		Message:   apiErr.Message,
		TraceID:   traceID(ctx),
		RequestID: requestID(ctx),
		Hint:      apiErr.Hint,
	})
}
