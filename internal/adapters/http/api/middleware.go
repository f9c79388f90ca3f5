// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/keyguard/pkg/metrics"
)

// HTTP status code constants.
const (
	statusBadRequest      = 400
	statusNotFound        = 404
	statusTooManyRequests = 429
	statusUnprocessable   = 422
	statusInternalError   = 500
)

// MetricsMiddleware wraps HTTP handlers to record Prometheus metrics. A
// panicking handler is answered with 500 and counted like any other error.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				metrics.RecordErrorByComponent("http", "panic")
				if !wrapped.wroteHeader {
					writeError(wrapped, http.StatusInternalServerError, "internal", fmt.Errorf("%s: %w: %v", endpoint, ErrInternal, p))
				}
			}
			record(endpoint, r.Method, wrapped.statusCode, start)
		}()

		next.ServeHTTP(wrapped, r)
	}
}

// record emits the request, latency and error metrics for one response.
func record(endpoint, method string, statusCode int, start time.Time) {
	durationMs := float64(time.Since(start).Microseconds()) / 1000
	statusCodeStr := strconv.Itoa(statusCode)

	metrics.RecordHTTPRequest(endpoint, method, statusCodeStr)
	metrics.RecordHTTPRequestDuration(endpoint, method, statusCodeStr, durationMs)

	if statusCode >= statusBadRequest {
		errorType := getErrorType(statusCode)
		metrics.RecordErrorByEndpoint(endpoint, method, errorType)
		metrics.RecordErrorByType(errorType, getErrorSeverity(statusCode))
		metrics.RecordErrorLatency("http", errorType, durationMs)
	}
}

// getErrorType returns a standardized error type based on HTTP status code.
func getErrorType(statusCode int) string {
	switch {
	case statusCode >= statusInternalError:
		return "server_error"
	case statusCode == statusTooManyRequests:
		return "rate_limit"
	case statusCode == statusNotFound:
		return "not_found"
	case statusCode == statusUnprocessable:
		return "insufficient_sample"
	case statusCode >= statusBadRequest:
		return "client_error"
	default:
		return "unknown"
	}
}

// getErrorSeverity returns error severity based on HTTP status code.
func getErrorSeverity(statusCode int) string {
	switch {
	case statusCode >= statusInternalError:
		return "high"
	case statusCode >= statusBadRequest:
		return "medium"
	default:
		return "low"
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
