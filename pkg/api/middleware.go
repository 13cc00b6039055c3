package api

import (
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/casagrid/gatehouse/pkg/audit"
	"github.com/casagrid/gatehouse/pkg/authz"
	"github.com/casagrid/gatehouse/pkg/observability"
)

// Identity headers set by the platform's authenticating proxy.
const (
	HeaderUserID    = "X-Gatehouse-User-Id"
	HeaderUserEmail = "X-Gatehouse-User-Email"
	HeaderRequestID = "X-Request-ID"
)

// chain applies middlewares outermost-first around the final handler.
func chain(final http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		final = middlewares[i](final)
	}
	return final
}

// recoveryMiddleware turns handler panics into JSON 500 responses.
func recoveryMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithFields(map[string]interface{}{
						"panic":  rec,
						"method": r.Method,
						"path":   r.URL.Path,
						"stack":  string(debug.Stack()),
					}).Error("panic in HTTP handler")
					writeInternalError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestIDMiddleware assigns a request id, echoes it on the response,
// and stamps the context so audit events and log lines correlate.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.CaptureRequest(r.Context(), r)
		requestID := audit.RequestIDFromContext(ctx)
		ctx = observability.WithRequestID(ctx, requestID)

		w.Header().Set(HeaderRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principalMiddleware reads the proxy identity headers into the request
// principal. A missing or malformed user id leaves the request
// unauthenticated; the route guards reject it with a 401.
func principalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idHeader := r.Header.Get(HeaderUserID)
		if idHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := strconv.ParseInt(idHeader, 10, 64)
		if err != nil || userID <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		user := authz.User{
			ID:    userID,
			Email: r.Header.Get(HeaderUserEmail),
		}
		next.ServeHTTP(w, r.WithContext(authz.WithPrincipal(r.Context(), user)))
	})
}
