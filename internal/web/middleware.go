package web

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/infodancer/groupmail/internal/logging"
	"github.com/infodancer/groupmail/internal/oauth"
)

type identityKey struct{}

// credential is the authenticated caller plus the token they presented.
type credential struct {
	oauth.Identity
	Token string
}

func requestLogger(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context())
}

// withLogger attaches a per-request logger to the request context.
func withLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logging.WithRequest(base, r.RemoteAddr)
			logger.Debug("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path))
			next.ServeHTTP(w, r.WithContext(logging.NewContext(r.Context(), logger)))
		})
	}
}

// requireXHR rejects requests not made by the send form's script.
func requireXHR(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
			http.Error(w, "Only XML HTTP requests are supported.", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireBearer authenticates the caller from the Authorization header.
func requireBearer(agent oauth.Agent) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSON(w, r, http.StatusUnauthorized, failed("Authentication required."))
				return
			}

			id, err := agent.Authenticate(r.Context(), token)
			if err != nil {
				requestLogger(r).Info("bearer authentication failed", slog.String("error", err.Error()))
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeJSON(w, r, http.StatusUnauthorized, failed("Authentication required."))
				return
			}

			logger := requestLogger(r).With(slog.String("user", id.Account))
			ctx := logging.NewContext(r.Context(), logger)
			ctx = context.WithValue(ctx, identityKey{}, credential{Identity: id, Token: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func identityFrom(ctx context.Context) (credential, bool) {
	c, ok := ctx.Value(identityKey{}).(credential)
	return c, ok
}
