// Package http provides the HTTP API of the datagen service.
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	dgerrors "github.com/datagen/datagen/internal/errors"
	"github.com/datagen/datagen/internal/logging"
)

// Context keys for request metadata.
type contextKey string

const (
	// requestIDKey is the context key for the request ID.
	requestIDKey contextKey = "request_id"
	// correlationIDKey is the context key for the correlation ID.
	correlationIDKey contextKey = "correlation_id"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// RequestIDMiddleware adds a unique request_id to each request.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationIDMiddleware adds a correlation ID for distributed tracing.
func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			if reqID, ok := r.Context().Value(requestIDKey).(string); ok {
				correlationID = reqID
			} else {
				correlationID = uuid.New().String()
			}
		}

		w.Header().Set("X-Correlation-ID", correlationID)

		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RecoveryMiddleware recovers from panics and returns a 500 error.
func RecoveryMiddleware(next http.Handler) http.Handler {
	logger := logging.NewLogger("HttpApi")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				// The request ID middleware runs inside this one, so the ID
				// is only visible on the response headers.
				requestID, _ := r.Context().Value(requestIDKey).(string)
				if requestID == "" {
					requestID = w.Header().Get("X-Request-ID")
				}
				logger.Errorf("panic serving %s %s [%s]: %v", r.Method, r.URL.Path, requestID, err)
				writeError(w, http.StatusInternalServerError, "internal server error", requestID)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ContentTypeMiddleware defaults responses to JSON. Streaming handlers
// replace the header with the dataset's content type.
func ContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// ChainMiddleware chains multiple middleware functions together.
func ChainMiddleware(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// DefaultMiddleware returns the default middleware chain for API handlers.
func DefaultMiddleware() func(http.Handler) http.Handler {
	return ChainMiddleware(
		RecoveryMiddleware,
		RequestIDMiddleware,
		CorrelationIDMiddleware,
		ContentTypeMiddleware,
	)
}

// writeError writes an error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, message string, requestID ...string) {
	resp := ErrorResponse{
		Error: message,
	}
	if len(requestID) > 0 && requestID[0] != "" {
		resp.RequestID = requestID[0]
	}
	writeJSON(w, statusCode, resp)
}

// writeDatagenError maps err to a status code and writes it with its code and details.
func writeDatagenError(w http.ResponseWriter, err error, requestID string) {
	resp := ErrorResponse{
		Error:     err.Error(),
		RequestID: requestID,
	}
	var de *dgerrors.DatagenError
	if errors.As(err, &de) {
		resp.Error = de.Message
		resp.Code = de.Code
		resp.Details = de.Details
	}
	writeJSON(w, StatusFor(err), resp)
}

// StatusFor returns the HTTP status code for an error.
func StatusFor(err error) int {
	switch dgerrors.GetCode(err) {
	case dgerrors.CodeJobNotFound, dgerrors.CodeObjectNotFound:
		return http.StatusNotFound
	case dgerrors.CodeJobNotReady:
		return http.StatusConflict
	case dgerrors.CodeExportsDisabled, dgerrors.CodeShuttingDown:
		return http.StatusServiceUnavailable
	}
	switch dgerrors.GetCategory(err) {
	case dgerrors.ErrCategoryValidation:
		return http.StatusBadRequest
	case dgerrors.ErrCategoryStorage, dgerrors.ErrCategoryCatalog:
		if dgerrors.IsRetryable(err) {
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetCorrelationID retrieves the correlation ID from the context.
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
