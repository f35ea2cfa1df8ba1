package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/application"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actorKey     contextKey = "actor"
)

const schedulerSecretHeader = "X-Scheduler-Secret"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func accessLogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.DebugContext(r.Context(), "http request",
				"module", "http.router",
				"layer", "adapter",
				"operation", r.Method+" "+r.URL.Path,
				"request_id", requestIDFromContext(r.Context()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type authenticator struct {
	verifier ports.TokenVerifier
}

// require rejects requests without a valid bearer token.
func (a authenticator) require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok, msg := a.resolve(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

// optional lets unauthenticated requests through with an anonymous actor so
// the handler can fall back to the scheduler secret. A presented but invalid
// token is still rejected.
func (a authenticator) optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := application.Actor{RequestID: requestIDFromContext(r.Context())}
		if bearerToken(r) != "" {
			resolved, ok, msg := a.resolve(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", msg)
				return
			}
			actor = resolved
		}
		actor.SchedulerSecret = strings.TrimSpace(r.Header.Get(schedulerSecretHeader))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func (a authenticator) resolve(r *http.Request) (application.Actor, bool, string) {
	token := bearerToken(r)
	if token == "" {
		return application.Actor{}, false, "missing bearer token"
	}
	if a.verifier == nil {
		return application.Actor{}, false, "token verification unavailable"
	}
	claims, err := a.verifier.VerifyToken(r.Context(), token)
	if err != nil || !claims.Valid {
		return application.Actor{}, false, "invalid bearer token"
	}
	role := strings.ToLower(strings.TrimSpace(claims.Role))
	if role == "" {
		role = "affiliate"
	}
	return application.Actor{
		SubjectID:      claims.UserID,
		Role:           role,
		RequestID:      requestIDFromContext(r.Context()),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}, true, ""
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

func actorFromContext(ctx context.Context) application.Actor {
	if v := ctx.Value(actorKey); v != nil {
		if a, ok := v.(application.Actor); ok {
			return a
		}
	}
	return application.Actor{}
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
