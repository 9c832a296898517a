package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jjudge-oj/accounts/internal/auth"
	"github.com/jjudge-oj/accounts/types"
)

type panickingDecoder struct{}

func (panickingDecoder) Validate(string) bool { panic("boom") }

func (panickingDecoder) DecodeIdentity(string) (auth.Identity, bool) { panic("boom") }

// identityProbe records what the filter installed.
func identityProbe(got *auth.Identity, found *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, *found = auth.IdentityFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func runFilter(t *testing.T, decoder IdentityDecoder, header string) (auth.Identity, bool, int) {
	t.Helper()
	var (
		got   auth.Identity
		found bool
	)
	h := IdentityFilter(testJWTConfig(), decoder, nil)(identityProbe(&got, &found))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return got, found, rec.Code
}

func TestIdentityFilter(t *testing.T) {
	codec := newTestCodec(t)
	token, err := codec.Issue(types.User{ID: 7, Username: "alice", Email: "a@x.com", Role: types.RoleUser})
	require.NoError(t, err)

	t.Run("valid token installs identity", func(t *testing.T) {
		id, found, code := runFilter(t, codec, "Bearer "+token)
		require.Equal(t, http.StatusNoContent, code)
		require.True(t, found)
		require.Equal(t, "alice", id.Username)
		require.Equal(t, "ROLE_USER", id.Authority)
	})

	t.Run("missing header", func(t *testing.T) {
		_, found, code := runFilter(t, codec, "")
		require.Equal(t, http.StatusNoContent, code)
		require.False(t, found)
	})

	t.Run("wrong prefix", func(t *testing.T) {
		_, found, _ := runFilter(t, codec, "Token "+token)
		require.False(t, found)
		_, found, _ = runFilter(t, codec, "bearer "+token)
		require.False(t, found)
	})

	t.Run("prefix only", func(t *testing.T) {
		_, found, _ := runFilter(t, codec, "Bearer ")
		require.False(t, found)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, found, code := runFilter(t, codec, "Bearer not.a.jwt")
		require.Equal(t, http.StatusNoContent, code)
		require.False(t, found)
	})

	t.Run("expired token", func(t *testing.T) {
		past := time.Now().Add(-2 * time.Hour)
		old, err := newTestCodec(t, auth.WithClock(func() time.Time { return past })).
			Issue(types.User{ID: 7, Username: "alice", Role: types.RoleUser})
		require.NoError(t, err)
		_, found, _ := runFilter(t, codec, "Bearer "+old)
		require.False(t, found)
	})

	t.Run("decoder panic leaves request anonymous", func(t *testing.T) {
		_, found, code := runFilter(t, panickingDecoder{}, "Bearer "+token)
		require.Equal(t, http.StatusNoContent, code)
		require.False(t, found)
	})
}

func TestExtractToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"Bearer", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := extractToken(tc.header, "Bearer ")
		require.Equal(t, tc.ok, ok, tc.header)
		require.Equal(t, tc.want, got, tc.header)
	}

	_, ok := extractToken("Bearer abc", "")
	require.False(t, ok)
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RequireRole(types.RoleAdmin)(ok)

	serve := func(id *auth.Identity) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if id != nil {
			req = req.WithContext(auth.WithIdentity(req.Context(), *id))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Unauthorized: "+reasonAuthRequired, decodeEnvelope(t, rec).Message)

	rec = serve(&auth.Identity{Username: "bob", Role: types.RoleUser, Authority: "ROLE_USER"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, msgAccessDenied, decodeEnvelope(t, rec).Message)

	rec = serve(&auth.Identity{Username: "bob", Role: types.RoleAdmin})
	require.Equal(t, http.StatusForbidden, rec.Code, "a role without its authority grants nothing")

	rec = serve(&auth.Identity{Username: "root", Role: types.RoleAdmin, Authority: "ROLE_ADMIN"})
	require.Equal(t, http.StatusOK, rec.Code)
}
