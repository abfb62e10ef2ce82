package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	icrypto "github.com/jmcleod/wordvault/internal/crypto"
	"github.com/jmcleod/wordvault/internal/totp"
	"github.com/jmcleod/wordvault/internal/util"
	"github.com/jmcleod/wordvault/internal/uuid"
	"github.com/jmcleod/wordvault/storage"
	"github.com/jmcleod/wordvault/vault"
)

// LoginProofSize is the body length of the first login phase:
// usernameHash(64) || proofKey(32).
const LoginProofSize = icrypto.UsernameHashSize + icrypto.ProofKeySize

// pendingLogin is a login that passed the proof phase and awaits its code.
type pendingLogin struct {
	usernameHash []byte
	expiresAt    time.Time
	attempts     int
}

type pendingLoginStore struct {
	mu   sync.Mutex
	data map[string]*pendingLogin
}

func newPendingLoginStore() *pendingLoginStore {
	return &pendingLoginStore{data: make(map[string]*pendingLogin)}
}

func (s *pendingLoginStore) put(token string, p *pendingLogin) {
	s.mu.Lock()
	s.data[token] = p
	s.mu.Unlock()
}

func (s *pendingLoginStore) get(token string, now time.Time) (pendingLogin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data[token]
	if !ok {
		return pendingLogin{}, false
	}
	if now.After(p.expiresAt) {
		delete(s.data, token)
		return pendingLogin{}, false
	}
	return *p, true
}

// fail counts a wrong code. It reports true once the login is used up and
// has been dropped.
func (s *pendingLoginStore) fail(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data[token]
	if !ok {
		return true
	}
	p.attempts++
	if p.attempts >= maxCodeAttempts {
		delete(s.data, token)
		return true
	}
	return false
}

func (s *pendingLoginStore) take(token string) {
	s.mu.Lock()
	delete(s.data, token)
	s.mu.Unlock()
}

func (s *pendingLoginStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, p := range s.data {
		if now.After(p.expiresAt) {
			delete(s.data, token)
		}
	}
}

// Login handles POST /login. The body is raw bytes and its length selects
// the phase: LoginProofSize for the password proof, totp.WireSize for the
// one-time code.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxLoginBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid login payload")
		return
	}

	clientIP := a.extractClientIP(r)
	if ok, retryAfter := a.loginIPLimiter.reserve(clientIP); !ok {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return
	}

	switch len(body) {
	case LoginProofSize:
		a.loginProof(w, r, body)
	case totp.WireSize:
		a.loginCode(w, r, body)
	default:
		writeError(w, http.StatusBadRequest, "invalid login payload")
	}
}

func (a *API) loginProof(w http.ResponseWriter, r *http.Request, body []byte) {
	usernameHash := util.CopyBytes(body[:icrypto.UsernameHashSize])
	proof := body[icrypto.UsernameHashSize:]
	defer util.WipeBytes(proof)

	if ok, retryAfter := a.loginAccountLimiter.reserve(accountID(usernameHash)); !ok {
		a.audit.logFailure(AuditLoginRateLimited, r, "account rate limited")
		writeRateLimited(w, retryAfter)
		return
	}

	rec, _, err := a.loadAccount(usernameHash)
	if err != nil && !errors.Is(err, errAccountNotFound) {
		writeInternalError(w, "failed to load account", err)
		return
	}
	if !a.checkVerifier(rec, proof) {
		a.audit.logFailure(AuditLoginFailure, r, "invalid proof")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token := uuid.New()
	expiresAt := a.now().Add(pendingLoginTTL)
	a.logins.put(token, &pendingLogin{usernameHash: usernameHash, expiresAt: expiresAt})
	writeCookie(w, r, LoginCookieName, token, expiresAt)

	a.audit.logEvent(AuditLoginProofAccepted, r, rec.UUID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) loginCode(w http.ResponseWriter, r *http.Request, body []byte) {
	cookie, err := r.Cookie(LoginCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "login not started")
		return
	}
	token := cookie.Value
	pending, ok := a.logins.get(token, a.now())
	if !ok {
		clearCookie(w, r, LoginCookieName)
		writeError(w, http.StatusUnauthorized, "login not started")
		return
	}
	acctKey := accountID(pending.usernameHash)
	if ok, retryAfter := a.loginAccountLimiter.reserve(acctKey); !ok {
		a.audit.logFailure(AuditLoginRateLimited, r, "account rate limited")
		writeRateLimited(w, retryAfter)
		return
	}

	code, err := totp.DecodeWire(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid login payload")
		return
	}
	rec, _, err := a.loadAccount(pending.usernameHash)
	if err != nil {
		a.logins.take(token)
		clearCookie(w, r, LoginCookieName)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !totp.Verify(rec.TOTPSecret, code, a.now()) {
		if a.logins.fail(token) {
			clearCookie(w, r, LoginCookieName)
		}
		a.audit.logFailure(AuditLoginFailure, r, "invalid one-time code",
			slog.String("account_uuid", rec.UUID))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	payload, err := a.loginPayload(rec)
	if err != nil {
		writeInternalError(w, "failed to build vault snapshot", err)
		return
	}

	a.logins.take(token)
	clearCookie(w, r, LoginCookieName)
	a.loginIPLimiter.reset(a.extractClientIP(r))
	a.loginAccountLimiter.reset(acctKey)

	sessionToken := uuid.New()
	now := a.now()
	expiresAt := now.Add(sessionDuration)
	a.sessions.Put(sessionToken, AuthSession{
		AccountUUID:    rec.UUID,
		UsernameHash:   rec.UsernameHash,
		ExpiresAt:      expiresAt,
		LastAccessedAt: now,
	})
	writeCookie(w, r, SessionCookieName, sessionToken, expiresAt)

	a.audit.logEvent(AuditLoginSuccess, r, rec.UUID)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// loginPayload builds wrappedKey || uuid(16) || vault JSON.
func (a *API) loginPayload(rec *accountRecord) ([]byte, error) {
	items, err := a.accountItems(rec.UUID)
	if err != nil {
		return nil, err
	}
	doc, err := json.Marshal(vault.Snapshot{Algorithm: rec.Algorithm, Items: items})
	if err != nil {
		return nil, err
	}
	raw, err := uuid.Bytes(rec.UUID)
	if err != nil {
		return nil, err
	}
	return util.ConcatBytes(rec.WrappedKey, raw, doc), nil
}

// Logout handles POST /logout.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	var accountUUID string
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if session, ok := a.sessions.Get(cookie.Value); ok {
			accountUUID = session.AccountUUID
		}
		a.sessions.Delete(cookie.Value)
	}
	if cookie, err := r.Cookie(LoginCookieName); err == nil && cookie.Value != "" {
		a.logins.take(cookie.Value)
	}
	clearCookie(w, r, SessionCookieName)
	clearCookie(w, r, LoginCookieName)
	a.audit.logEvent(AuditLogout, r, accountUUID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) accountItems(accountUUID string) ([]vault.Item, error) {
	ids, err := a.repo.List(accountUUID, itemRecordType)
	if err != nil {
		if errors.Is(err, storage.ErrNamespaceNotFound) {
			return []vault.Item{}, nil
		}
		return nil, err
	}
	items := make([]vault.Item, 0, len(ids))
	for _, id := range ids {
		stored, err := a.repo.Get(accountUUID, itemRecordType, id)
		if err != nil {
			return nil, err
		}
		var item vault.Item
		if err := storage.DecodeJSON(stored, &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
