package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	icrypto "github.com/jmcleod/wordvault/internal/crypto"
)

type contextKey int

const sessionKey contextKey = iota

// SessionMiddleware requires a live session cookie and stores the session
// on the request context. Each authenticated request refreshes the idle
// timer.
func (a *API) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		session, ok := a.sessions.Get(cookie.Value)
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		session.LastAccessedAt = a.now()
		a.sessions.Put(cookie.Value, session)

		ctx := context.WithValue(r.Context(), sessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestMACMiddleware checks the X-HMAC header against the raw body using
// the account's request key. It must run after SessionMiddleware. The body
// is buffered and handed on unchanged.
func (a *API) RequestMACMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := sessionFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxItemBodySize))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rec, _, err := a.loadAccount(session.UsernameHash)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		want, err := icrypto.RequestMAC(a.provider, rec.RequestKey, body)
		if err != nil {
			writeInternalError(w, "failed to verify request", err)
			return
		}
		got := r.Header.Get(RequestMACHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			a.audit.logEvent(AuditRequestMACFailure, r, session.AccountUUID)
			writeError(w, http.StatusUnauthorized, "invalid request signature")
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func sessionFromContext(ctx context.Context) (AuthSession, bool) {
	session, ok := ctx.Value(sessionKey).(AuthSession)
	return session, ok
}

func writeCookie(w http.ResponseWriter, r *http.Request, name, value string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  expiresAt,
	})
}

func clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
