// Package api is the reference backend for the wordvault protocol: two-phase
// registration, the binary two-step login, and signed item storage.
package api

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/internal/util"
	"github.com/jmcleod/wordvault/storage"
)

const (
	// RequestMACHeader carries base64 HMAC-SHA256(requestKey, body) on
	// signed requests.
	RequestMACHeader = "X-HMAC"

	SessionCookieName = "wordvault_session"
	LoginCookieName   = "wordvault_login"

	sessionDuration     = 24 * time.Hour
	defaultIdleTimeout  = 30 * time.Minute
	pendingLoginTTL     = 5 * time.Minute
	registrationTTL     = 10 * time.Minute
	maxCodeAttempts     = 5
	maintenanceInterval = 5 * time.Minute
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	repo     storage.Repository
	provider crypto.Provider
	sessions SessionStore
	logins   *pendingLoginStore

	loginIPLimiter      *keyedLimiter
	loginAccountLimiter *keyedLimiter
	registerIPLimiter   *keyedLimiter
	trustedProxies      []netip.Prefix

	audit   *auditLogger
	alertFn AlertFunc

	verifierParams crypto.Argon2idParams
	dummySalt      []byte
	idleTimeout    time.Duration
	now            func() time.Time
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithSessionStore replaces the default in-memory session store.
func WithSessionStore(s SessionStore) Option {
	return func(a *API) {
		a.sessions = s
	}
}

// WithIdleTimeout sets the idle timeout of the default session store.
func WithIdleTimeout(d time.Duration) Option {
	return func(a *API) {
		a.idleTimeout = d
	}
}

// WithTrustedProxies lists the proxies (CIDRs or bare IPs) whose
// forwarding headers are believed when rate limiting by client IP.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		if !strings.Contains(c, "/") {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", c, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", c, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// WithAlertFunc installs a callback for anomaly alerts.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithVerifierParams sets the Argon2id parameters used to hash login
// verifiers at rest. Existing accounts keep the parameters they were
// stored with.
func WithVerifierParams(p crypto.Argon2idParams) Option {
	return func(a *API) {
		a.verifierParams = p
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// New creates a new API instance.
func New(repo storage.Repository, opts ...Option) *API {
	a := &API{
		repo:                repo,
		provider:            crypto.Default(),
		logins:              newPendingLoginStore(),
		loginIPLimiter:      newKeyedLimiter(loginIPRate, loginIPBurst),
		loginAccountLimiter: newKeyedLimiter(loginAccountRate, loginAccountBurst),
		registerIPLimiter:   newKeyedLimiter(registerIPRate, registerIPBurst),
		verifierParams:      crypto.DefaultArgon2idParams(),
		idleTimeout:         defaultIdleTimeout,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	if a.sessions == nil {
		a.sessions = NewMemorySessionStore(a.idleTimeout)
	}
	salt, err := util.RandomBytes(verifierSaltSize)
	if err != nil {
		panic("api: reading random salt: " + err.Error())
	}
	a.dummySalt = salt
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/register/init", a.RegisterInit)
	r.Post("/register/verify-totp", a.VerifyRegistrationTOTP)
	r.Post("/register", a.Register)

	r.Post("/login", a.Login)
	r.Post("/logout", a.Logout)

	r.With(a.SessionMiddleware).Get("/vault/items", a.ListItems)
	r.With(a.SessionMiddleware, a.RequestMACMiddleware).Post("/vault/items", a.CreateItem)
	r.With(a.SessionMiddleware, a.RequestMACMiddleware).Put("/vault/items/{id}", a.UpdateItem)
	r.With(a.SessionMiddleware, a.RequestMACMiddleware).Delete("/vault/items/{id}", a.DeleteItem)

	r.With(a.SessionMiddleware, a.RequestMACMiddleware).Post("/account/password", a.ChangePassword)

	return r
}

// RunMaintenance drops idle rate-limit buckets and abandoned logins until
// ctx is done.
func (a *API) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep()
		}
	}
}

func (a *API) sweep() {
	a.loginIPLimiter.sweep()
	a.loginAccountLimiter.sweep()
	a.registerIPLimiter.sweep()
	a.logins.sweep(a.now())
}
