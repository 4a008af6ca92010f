package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Harshaan-Chugh/rabbitreels/internal/apierr"
)

// validate is a package-level, concurrency-safe validator instance, the
// same pattern wisbric-nightowl's internal/httpserver/validate.go uses.
var validate = validator.New(validator.WithRequiredStructEnabled())

// corsMiddleware mirrors the teacher's permissive development CORS
// middleware, generalized with github.com/go-chi/cors since this gateway
// is chi-routed rather than bare ServeMux-routed.
func corsMiddleware() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// tracingMiddleware wraps every handler with an OpenTelemetry span, a
// domain dependency the original had no equivalent of but which the pack's
// otelhttp instrumentation makes straightforward to add.
func tracingMiddleware(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "gateway.request")
}

// loggingMiddleware logs every HTTP request, a direct port of the
// teacher's LoggingMiddleware/responseWriter pair.
func loggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration_ms", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

type statusCapture struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusCapture) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// decodeJSON reads a JSON request body into dst with a body-size cap and
// strict unknown-field rejection, matching the teacher pack's Decode.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	const maxBody = 1 << 20 // 1 MiB
	body := http.MaxBytesReader(w, r.Body, maxBody)
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			writeErrorJSON(w, http.StatusBadRequest, "request body too large")
		case errors.Is(err, io.EOF):
			writeErrorJSON(w, http.StatusBadRequest, "request body is empty")
		default:
			writeErrorJSON(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		}
		return false
	}
	return true
}

// validateStruct runs struct-tag validation and writes a 400 on failure.
func validateStruct(w http.ResponseWriter, v any) bool {
	if err := validate.Struct(v); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// writeControlPlaneError dispatches to the shared apierr mapping for
// errors originating from the control plane's closed error taxonomy.
func writeControlPlaneError(w http.ResponseWriter, err error) {
	apierr.Write(w, err)
}
