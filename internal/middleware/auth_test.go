package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authProbe(t *testing.T) (http.Handler, *AuthContext) {
	t.Helper()
	var captured AuthContext
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, ok := GetAuthContext(r.Context())
		require.True(t, ok)
		captured = auth
		w.WriteHeader(http.StatusOK)
	})
	return RequireAuth(inner), &captured
}

func TestRequireAuth(t *testing.T) {
	handler, captured := authProbe(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "7")
	req.Header.Set(HeaderUsername, "alice")
	req.Header.Set(HeaderGrantedRight, "wiki-admin")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(7), captured.UserID)
	assert.Equal(t, "alice", captured.Username)
	assert.Equal(t, "wiki-admin", captured.GrantedRight)
}

func TestRequireAuthGrantedRightOptional(t *testing.T) {
	handler, captured := authProbe(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "7")
	req.Header.Set(HeaderUsername, "alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, captured.GrantedRight)
}

func TestRequireAuthRejects(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
	}{
		{"no headers", nil},
		{"missing username", map[string]string{HeaderUserID: "7"}},
		{"missing user id", map[string]string{HeaderUsername: "alice"}},
		{"non-numeric user id", map[string]string{HeaderUserID: "abc", HeaderUsername: "alice"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler, _ := authProbe(t)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error":"auth_headers_missing"`)
		})
	}
}
