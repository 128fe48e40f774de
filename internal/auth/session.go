package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

const (
	CookieName    = "signflow_session"
	SessionMaxAge = 7 * 24 * time.Hour
)

type contextKey string

const (
	accountIDKey contextKey = "account_id"
	emailKey     contextKey = "email"
	nameKey      contextKey = "name"
)

func SetSessionCookie(w http.ResponseWriter, sessionID, secret string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sessionID + "." + sign(sessionID, secret),
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(SessionMaxAge.Seconds()),
	})
}

func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// GetSessionID returns the session id from a cookie whose signature
// verifies against secret.
func GetSessionID(r *http.Request, secret string) (string, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	sessionID, sig, ok := strings.Cut(cookie.Value, ".")
	if !ok || sessionID == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sign(sessionID, secret)), []byte(sig)) {
		return "", false
	}
	return sessionID, true
}

// GenerateToken returns n random bytes hex encoded.
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func ContextWithAccount(ctx context.Context, accountID, email, name string) context.Context {
	ctx = context.WithValue(ctx, accountIDKey, accountID)
	ctx = context.WithValue(ctx, emailKey, email)
	return context.WithValue(ctx, nameKey, name)
}

func AccountFromContext(ctx context.Context) string {
	v, _ := ctx.Value(accountIDKey).(string)
	return v
}

func EmailFromContext(ctx context.Context) string {
	v, _ := ctx.Value(emailKey).(string)
	return v
}

func NameFromContext(ctx context.Context) string {
	v, _ := ctx.Value(nameKey).(string)
	return v
}

func sign(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
