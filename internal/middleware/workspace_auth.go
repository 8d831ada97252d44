package middleware

import (
	"context"
	"net/http"

	"github.com/openclave/controlplane/internal/authtoken"
)

type workspaceClaimsCtxKey struct{}

// WorkspaceAuth validates a workspace-scoped token minted by
// authtoken.Signer.MintWorkspaceToken and attaches the parsed claims to the
// request context. It is used for endpoints called by a running workspace
// itself (heartbeat) rather than by an interactive user session, so it does
// not consult the user store.
func WorkspaceAuth(signer *authtoken.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "authorization required")
				return
			}

			claims, err := signer.ParseWorkspaceToken(token)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), workspaceClaimsCtxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WorkspaceClaimsFromContext returns the workspace claims attached by
// WorkspaceAuth, or nil if none are present.
func WorkspaceClaimsFromContext(ctx context.Context) *authtoken.WorkspaceClaims {
	c, _ := ctx.Value(workspaceClaimsCtxKey{}).(*authtoken.WorkspaceClaims)
	return c
}
