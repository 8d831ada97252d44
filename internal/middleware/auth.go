package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openclave/controlplane/internal/authtoken"
	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/port/database"
)

// writeJSONError writes a JSON error response with the correct Content-Type.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type authUserCtxKey struct{}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
	"/metrics":      true,
}

// publicPrefixes are path prefixes exempt from user-session authentication.
// Each has its own token verification: the tunnel agent authenticates over
// its WebSocket handshake, workspace heartbeats and loop callbacks carry a
// workspace- or callback-scoped token, device-code login has no session to
// present yet, the agent-token tunnel mint presents an agent token, and the
// GitHub webhook is verified by its HMAC signature.
var publicPrefixes = []string{
	"/tunnel/agent",
	"/webhooks/github",
	"/api/v1/workspaces/heartbeat",
	"/api/v1/loops/callback",
	"/api/v1/device/",
	"/api/v1/tunnel/mint-with-agent-token",
}

// Auth validates the bearer token issued by the external identity service
// and
// attaches the corresponding local user row to the request context.
// Role and plan live locally and are mutated only by an admin, so the
// token is trusted for identity (sub, email) but not for authorization.
// When authEnabled is false a default admin context is injected, for
// local development.
func Auth(signer *authtoken.Signer, store database.Store, authEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authEnabled {
				ctx := context.WithValue(r.Context(), authUserCtxKey{}, &user.User{
					ID:    "00000000-0000-0000-0000-000000000000",
					Email: "admin@localhost",
					Role:  user.RoleAdmin,
					Plan:  user.PlanPro,
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			for _, prefix := range publicPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			token := bearerToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "authorization required")
				return
			}

			claims, err := signer.ParseIdentity(token)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			u, err := store.GetUser(r.Context(), claims.UserID)
			if err != nil {
				// First sighting of this identity: provision the local
				// row with default role/plan; an admin upgrades it later.
				u = &user.User{
					ID:        claims.UserID,
					Email:     claims.Email,
					Role:      user.RoleUser,
					Plan:      user.PlanFree,
					CreatedAt: time.Now(),
					UpdatedAt: time.Now(),
				}
				if err := store.UpsertUser(r.Context(), u); err != nil {
					slog.Error("provision user from identity token", "user_id", claims.UserID, "error", err)
					writeJSONError(w, http.StatusInternalServerError, "internal error")
					return
				}
			}

			ctx := context.WithValue(r.Context(), authUserCtxKey{}, u)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if r.URL.Path == "/ws" {
		return r.URL.Query().Get("token")
	}
	authHeader := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}

// UserFromContext returns the authenticated user from the request context.
func UserFromContext(ctx context.Context) *user.User {
	u, _ := ctx.Value(authUserCtxKey{}).(*user.User)
	return u
}

// AuthUserCtxKeyForTest exposes the context key used to store the
// authenticated user, for tests that inject one directly.
func AuthUserCtxKeyForTest() any {
	return authUserCtxKey{}
}
