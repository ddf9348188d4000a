// Package middleware provides HTTP middleware for the provisioner.
package middleware

import (
	"context"
	"net/http"
	"strconv"

	apierrors "github.com/pubwiki/provisioner/internal/pkg/apierrors"
	"github.com/pubwiki/provisioner/internal/pkg/response"
)

type contextKey string

// AuthContextKey holds the authenticated identity in the request context.
const AuthContextKey contextKey = "auth"

// Identity headers injected by the gateway. The provisioner never sees
// credentials, only the already-verified identity.
const (
	HeaderUserID       = "X-Auth-User-Id"
	HeaderUsername     = "X-Auth-User"
	HeaderGrantedRight = "X-Auth-Granted-Right"
)

// AuthContext carries the gateway-verified identity of the caller.
type AuthContext struct {
	UserID       uint64
	Username     string
	GrantedRight string
}

// RequireAuth rejects requests missing the gateway identity headers.
// The granted-right header is optional.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawID := r.Header.Get(HeaderUserID)
		username := r.Header.Get(HeaderUsername)
		if rawID == "" || username == "" {
			response.Error(w, apierrors.ErrAuthHeadersMissing)
			return
		}

		userID, err := strconv.ParseUint(rawID, 10, 64)
		if err != nil {
			response.Error(w, apierrors.ErrAuthHeadersMissing)
			return
		}

		auth := AuthContext{
			UserID:       userID,
			Username:     username,
			GrantedRight: r.Header.Get(HeaderGrantedRight),
		}
		ctx := context.WithValue(r.Context(), AuthContextKey, auth)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext returns the identity stored by RequireAuth.
func GetAuthContext(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(AuthContextKey).(AuthContext)
	return auth, ok
}
