package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	g := New([]byte("test-secret-key-value-000000000"), false)
	rr := httptest.NewRecorder()

	require.NoError(t, g.Issue(rr, "user-1"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rr.Result().Cookies() {
		req.AddCookie(c)
	}

	uuid, err := g.Verify(req)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uuid)
}

func TestVerify_NoCookie(t *testing.T) {
	g := New([]byte("test-secret-key-value-000000000"), false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := g.Verify(req)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestVerify_WrongSecret(t *testing.T) {
	g1 := New([]byte("secret-one-0000000000000000000"), false)
	g2 := New([]byte("secret-two-0000000000000000000"), false)

	rr := httptest.NewRecorder()
	require.NoError(t, g1.Issue(rr, "user-1"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rr.Result().Cookies() {
		req.AddCookie(c)
	}

	_, err := g2.Verify(req)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestRequireAuth_InjectsUserID(t *testing.T) {
	g := New([]byte("test-secret-key-value-000000000"), false)
	rr := httptest.NewRecorder()
	require.NoError(t, g.Issue(rr, "user-42"))

	var seen string
	handler := g.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rr.Result().Cookies() {
		req.AddCookie(c)
	}
	out := httptest.NewRecorder()
	handler.ServeHTTP(out, req)

	assert.Equal(t, http.StatusOK, out.Code)
	assert.Equal(t, "user-42", seen)
}

func TestRequireAuth_Rejects(t *testing.T) {
	g := New([]byte("test-secret-key-value-000000000"), false)
	handler := g.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	out := httptest.NewRecorder()
	handler.ServeHTTP(out, req)

	assert.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestClear(t *testing.T) {
	g := New([]byte("test-secret-key-value-000000000"), false)
	rr := httptest.NewRecorder()
	g.Clear(rr)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}
