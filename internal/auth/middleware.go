package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

type ctxKey struct{}

// RequireAccessToken rejects requests without a valid bearer access token.
// A missing token is 401, an unusable one 403.
func RequireAccessToken(issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				utilities.WriteError(w, http.StatusUnauthorized, "Access token required")
				return
			}
			claims, err := issuer.VerifyAccessToken(token)
			if err != nil {
				utilities.WriteError(w, http.StatusForbidden, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
		})
	}
}

// ClaimsFromContext returns the claims stored by RequireAccessToken.
func ClaimsFromContext(ctx context.Context) (*AccessClaims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*AccessClaims)
	return c, ok
}

// ContextWithClaims is used by tests and internal callers to attach claims.
func ContextWithClaims(ctx context.Context, c *AccessClaims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
