// Package auth drives the four-step login (username, secret words,
// password, one-time code) and the two-phase registration. Intermediate
// secrets live in memguard enclaves and are destroyed on every reset; on
// success the content and signing keys move into custody.
package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/custody"
	"github.com/jmcleod/wordvault/errs"
	icrypto "github.com/jmcleod/wordvault/internal/crypto"
	"github.com/jmcleod/wordvault/internal/totp"
	"github.com/jmcleod/wordvault/internal/util"
	"github.com/jmcleod/wordvault/internal/uuid"
	"github.com/jmcleod/wordvault/key"
	"github.com/jmcleod/wordvault/vault"
)

// uuidSize is the raw UUID that follows the wrapped key in the step-4
// response.
const uuidSize = 16

// Transport sends the two network steps of the login.
type Transport interface {
	LoginProof(ctx context.Context, payload []byte) error
	LoginCode(ctx context.Context, payload []byte) ([]byte, error)
}

// Signer is implemented by transports that sign mutations. The machine
// hands it the request key after login and clears it on reset.
type Signer interface {
	SetSigningKey(requestKey []byte)
	ClearSigningKey()
}

// SessionCloser is implemented by transports with a server-side session.
type SessionCloser interface {
	Logout(ctx context.Context) error
}

// Session describes the authenticated account and the vault returned at
// login. Item fields are still envelopes.
type Session struct {
	UUID         string
	UsernameHash []byte
	WrappedKey   []byte
	Algorithm    crypto.AEADAlgorithm
	Items        []vault.Item
}

// Account returns the wire identity of the session.
func (s *Session) Account() vault.Account {
	return vault.Account{UUID: s.UUID, UsernameHash: util.CopyBytes(s.UsernameHash)}
}

// Machine is the login state machine. Steps are serialised; a call that
// arrives while another step runs waits for it.
type Machine struct {
	cfg       config
	transport Transport
	store     *custody.Store

	mu           sync.Mutex
	state        State
	usernameHash []byte
	loginSalt    []byte
	hmacKey      *memguard.Enclave
	password     *memguard.Enclave
	session      *Session
}

// NewMachine returns a Machine in AwaitingUsername.
func NewMachine(t Transport, store *custody.Store, opts ...Option) *Machine {
	return &Machine{
		cfg:       applyOptions(opts),
		transport: t,
		store:     store,
		state:     AwaitingUsername,
	}
}

// State returns the current step.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the authenticated session.
func (m *Machine) Session() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Authenticated || m.session == nil {
		return nil, protocolErrorf("not authenticated")
	}
	s := *m.session
	s.UsernameHash = util.CopyBytes(m.session.UsernameHash)
	s.WrappedKey = util.CopyBytes(m.session.WrappedKey)
	s.Items = make([]vault.Item, len(m.session.Items))
	for i := range m.session.Items {
		s.Items[i] = *m.session.Items[i].Clone()
	}
	return &s, nil
}

// expect checks the current step. A mismatch destroys everything and
// returns to the first step.
func (m *Machine) expect(want State, op string) error {
	if m.state == want {
		return nil
	}
	got := m.state
	m.resetLocked()
	m.cfg.logger.Warn("login step out of order", "op", op, "state", got.String())
	return protocolErrorf("%s called in state %s", op, got)
}

// SubmitUsername is step 1.
func (m *Machine) SubmitUsername(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.expect(AwaitingUsername, "SubmitUsername"); err != nil {
		return err
	}
	if strings.TrimSpace(username) == "" {
		return errs.Validationf("username", "must not be empty")
	}

	uh, err := icrypto.UsernameHash(m.cfg.provider, username)
	if err != nil {
		return err
	}
	m.usernameHash = uh
	m.state = AwaitingSecretWords
	return nil
}

// SubmitSecretWords is step 2. It derives the login salt from the
// authentication words and seals the HMAC words for later.
func (m *Machine) SubmitSecretWords(ctx context.Context, words []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.expect(AwaitingSecretWords, "SubmitSecretWords"); err != nil {
		return err
	}
	sw, err := crypto.NewSecretWords(words)
	if err != nil {
		return err
	}

	authKey := sw.AuthKey()
	defer util.WipeBytes(authKey)
	salt, err := icrypto.LoginSalt(m.cfg.provider, authKey, m.usernameHash)
	if err != nil {
		return err
	}
	m.loginSalt = salt
	m.hmacKey = memguard.NewEnclave(sw.HMACKey())
	m.state = AwaitingPassword
	return nil
}

// SubmitPassword is step 3. password is wiped before returning. A sealed
// copy is kept until step 4 finishes because the key-wrapping salt only
// arrives with the step-4 response.
func (m *Machine) SubmitPassword(ctx context.Context, password []byte) error {
	defer util.WipeBytes(password)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.expect(AwaitingPassword, "SubmitPassword"); err != nil {
		return err
	}
	if len(password) == 0 {
		return errs.Validationf("password", "must not be empty")
	}

	proof, err := icrypto.ProofKey(m.cfg.provider, m.cfg.proofKDF, password, m.loginSalt)
	if err != nil {
		return err
	}
	payload := util.ConcatBytes(m.usernameHash, proof)
	util.WipeBytes(proof)
	defer util.WipeBytes(payload)

	if err := m.transport.LoginProof(ctx, payload); err != nil {
		if retryable(err) {
			return err
		}
		m.resetLocked()
		m.cfg.logger.Info("login proof rejected")
		return ErrAuthenticationFailed
	}

	m.password = memguard.NewEnclave(util.CopyBytes(password))
	m.state = AwaitingOneTimeCode
	return nil
}

// SubmitCode is step 4. On success the content key and signing key are in
// custody and Session is available.
func (m *Machine) SubmitCode(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.expect(AwaitingOneTimeCode, "SubmitCode"); err != nil {
		return err
	}
	wire, err := totp.EncodeWire(code)
	if err != nil {
		return err
	}

	resp, err := m.transport.LoginCode(ctx, wire)
	if err != nil {
		if retryable(err) {
			return err
		}
		m.password = nil
		m.state = AwaitingPassword
		m.cfg.logger.Info("one-time code rejected")
		return ErrAuthenticationFailed
	}

	session, err := m.completeLocked(resp)
	if err != nil {
		m.resetLocked()
		return err
	}
	m.session = session
	m.state = Authenticated
	m.cfg.logger.Info("login complete", "items", len(session.Items))
	return nil
}

// completeLocked unwraps the content key from the step-4 response and
// moves the keys into custody.
func (m *Machine) completeLocked(resp []byte) (*Session, error) {
	if len(resp) < key.WrappedSize+uuidSize {
		return nil, errs.ErrKeyUnwrap
	}
	wrapped := resp[:key.WrappedSize]
	rawID := resp[key.WrappedSize : key.WrappedSize+uuidSize]
	id, err := uuid.FromBytes(rawID)
	if err != nil {
		return nil, errs.ErrKeyUnwrap
	}
	var snap vault.Snapshot
	if err := json.Unmarshal(resp[key.WrappedSize+uuidSize:], &snap); err != nil {
		return nil, errs.ErrKeyUnwrap
	}
	if snap.Algorithm == "" {
		snap.Algorithm = crypto.AESGCM
	}
	if m.password == nil || m.hmacKey == nil {
		return nil, protocolErrorf("login material missing")
	}

	pw, err := m.password.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening password", errs.ErrCryptoProvider)
	}
	defer pw.Destroy()
	salt := []byte(hex.EncodeToString(rawID))
	content, err := key.UnwrapContentKey(wrapped, pw.Bytes(), salt, m.cfg.keyOptions()...)
	if err != nil {
		if errors.Is(err, errs.ErrCryptoProvider) {
			return nil, err
		}
		return nil, errs.ErrKeyUnwrap
	}
	defer content.Destroy()

	hk, err := m.hmacKey.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening signing key", errs.ErrCryptoProvider)
	}
	defer hk.Destroy()
	requestKey, err := icrypto.RequestKey(m.cfg.provider, hk.Bytes())
	if err != nil {
		return nil, err
	}

	if err := m.store.Install(content.Bytes(), util.CopyBytes(hk.Bytes())); err != nil {
		util.WipeBytes(requestKey)
		return nil, err
	}
	if s, ok := m.transport.(Signer); ok {
		s.SetSigningKey(requestKey)
	} else {
		util.WipeBytes(requestKey)
	}

	m.password = nil
	m.hmacKey = nil
	util.WipeBytes(m.loginSalt)
	m.loginSalt = nil

	items := snap.Items
	if items == nil {
		items = []vault.Item{}
	}
	return &Session{
		UUID:         id,
		UsernameHash: util.CopyBytes(m.usernameHash),
		WrappedKey:   util.CopyBytes(wrapped),
		Algorithm:    snap.Algorithm,
		Items:        items,
	}, nil
}

// Back returns to the previous step and drops what the abandoned step
// produced. It is a no-op at the first step and refused once
// authenticated; use Logout instead.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case AwaitingUsername:
	case AwaitingSecretWords:
		util.WipeBytes(m.usernameHash)
		m.usernameHash = nil
		m.state = AwaitingUsername
	case AwaitingPassword:
		util.WipeBytes(m.loginSalt)
		m.loginSalt = nil
		m.hmacKey = nil
		m.state = AwaitingSecretWords
	case AwaitingOneTimeCode:
		m.password = nil
		m.state = AwaitingPassword
	case Authenticated:
		return protocolErrorf("cannot step back from an authenticated session")
	}
	return nil
}

// Reset destroys all login material and custody, returning to step 1.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

// Logout ends the server session when the transport has one, then clears
// custody and resets. Local state is cleared even if the server call fails.
func (m *Machine) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if c, ok := m.transport.(SessionCloser); ok && m.state == Authenticated {
		err = c.Logout(ctx)
	}
	m.resetLocked()
	return err
}

func (m *Machine) resetLocked() {
	util.WipeBytes(m.usernameHash)
	util.WipeBytes(m.loginSalt)
	m.usernameHash = nil
	m.loginSalt = nil
	m.hmacKey = nil
	m.password = nil
	m.session = nil
	m.state = AwaitingUsername
	m.store.Clear()
	if s, ok := m.transport.(Signer); ok {
		s.ClearSigningKey()
	}
}

// retryable reports whether err leaves the step repeatable: the request
// never got a verdict from the server.
func retryable(err error) bool {
	return errors.Is(err, errs.ErrTransport) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
