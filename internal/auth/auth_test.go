package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YannKr/signflow/internal/auth"
)

const secret = "test-secret-at-least-16"

func requestWith(t *testing.T, rec *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	res := rec.Result()
	require.Len(t, res.Cookies(), 1)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(res.Cookies()[0])
	return req
}

func TestSessionCookieRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	auth.SetSessionCookie(rec, "sess-1", secret, false)

	id, ok := auth.GetSessionID(requestWith(t, rec), secret)
	assert.True(t, ok)
	assert.Equal(t, "sess-1", id)

	_, ok = auth.GetSessionID(requestWith(t, rec), "another-secret-value")
	assert.False(t, ok)
}

func TestTamperedCookieIsRejected(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "sess-2.deadbeef"})
	_, ok := auth.GetSessionID(req, secret)
	assert.False(t, ok)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "no-signature"})
	_, ok = auth.GetSessionID(req, secret)
	assert.False(t, ok)
}

func TestPassword(t *testing.T) {
	hash, err := auth.HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword(hash, "correct horse"))
	assert.False(t, auth.CheckPassword(hash, "battery staple"))
}

func TestContext(t *testing.T) {
	ctx := auth.ContextWithAccount(context.Background(), "acct-1", "a@x.com", "Ann")
	assert.Equal(t, "acct-1", auth.AccountFromContext(ctx))
	assert.Equal(t, "a@x.com", auth.EmailFromContext(ctx))
	assert.Equal(t, "Ann", auth.NameFromContext(ctx))
	assert.Empty(t, auth.AccountFromContext(context.Background()))

	tok, err := auth.GenerateToken(16)
	require.NoError(t, err)
	assert.Len(t, tok, 32)
}
