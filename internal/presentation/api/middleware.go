package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/auth"
	"github.com/hilthontt/readalong/internal/infrastructure/json"
	"github.com/hilthontt/readalong/internal/infrastructure/logging"
	"github.com/hilthontt/readalong/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/readalong/internal/presentation/utils"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("responseWriter does not implement http.Hijacker")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// authMiddleware resolves the bearer credential into an Identity on the
// request context. Failures count against the caller's address under the
// auth policy; a success clears the count.
func (app *Application) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := utils.ClientIP(r)

		if !app.allowAuth(w, r, ip) {
			return
		}

		id, err := app.authenticator.Authenticate(r.Context(), auth.CredentialFromRequest(r))
		if err != nil {
			app.logger.Warn(logging.Auth, logging.ExternalService, "authentication failed", map[logging.ExtraKey]any{
				logging.ClientIp:     ip,
				logging.Path:         r.URL.Path,
				logging.ErrorMessage: err.Error(),
			})
			json.WriteDomainError(w, err)
			return
		}

		app.ratelimiter.Reset(ratelimiter.CategoryAuth, ip)
		next.ServeHTTP(w, r.WithContext(domain.WithIdentity(r.Context(), id)))
	})
}

// authLimitMiddleware applies the auth policy to endpoints that mint
// credentials.
func (app *Application) authLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !app.allowAuth(w, r, utils.ClientIP(r)) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (app *Application) allowAuth(w http.ResponseWriter, r *http.Request, ip string) bool {
	d := app.ratelimiter.Check(ratelimiter.CategoryAuth, ip)
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if d.Allowed {
		return true
	}

	app.metrics.RateLimited(string(ratelimiter.CategoryAuth))
	app.logger.Warn(logging.General, logging.RateLimiting, "rate limit exceeded", map[logging.ExtraKey]any{
		logging.ClientIp:   ip,
		logging.Path:       r.URL.Path,
		logging.Method:     r.Method,
		logging.RetryAfter: d.RetryAfterSeconds,
	})
	json.WriteRateLimitError(w, &domain.RateLimitError{
		Category:          string(ratelimiter.CategoryAuth),
		RetryAfterSeconds: d.RetryAfterSeconds,
		ResetAt:           d.ResetAt,
	})
	return false
}

func (app *Application) enableCors(next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]struct{}, len(app.config.HTTP.AllowedOrigins))
	for _, o := range app.config.HTTP.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}

	headers := "Content-Type, Authorization, X-Request-ID"
	if len(app.config.HTTP.AllowedHeaders) > 0 {
		headers = strings.Join(app.config.HTTP.AllowedHeaders, ", ")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			if _, ok := allowed[strings.ToLower(origin)]; ok || allowAll {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", headers)
		w.Header().Set("Access-Control-Expose-Headers", "X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		// allow preflight requests from the browser API
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (app *Application) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := newResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		extra := map[logging.ExtraKey]any{
			logging.Method:     r.Method,
			logging.Path:       r.URL.Path,
			logging.StatusCode: wrapped.statusCode,
			logging.Latency:    time.Since(start).Milliseconds(),
			logging.BodySize:   wrapped.bytes,
			logging.ClientIp:   utils.ClientIP(r),
			logging.RequestID:  middleware.GetReqID(r.Context()),
		}

		switch {
		case wrapped.statusCode >= 500:
			app.logger.Error(logging.RequestResponse, logging.ExternalService, "request completed with server error", extra)
		case wrapped.statusCode >= 400:
			app.logger.Warn(logging.RequestResponse, logging.ExternalService, "request completed with client error", extra)
		default:
			app.logger.Debug(logging.RequestResponse, logging.ExternalService, "request completed", extra)
		}
	})
}
