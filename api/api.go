// Package api exposes the authentication operations over HTTP.
//
// Every route except the documentation endpoints sits behind two ordered
// gates: KeyGate admits the calling client by access key, then DecryptGate
// opens an encrypted request envelope and replaces the body with the
// plaintext JSON. Responses are always plaintext JSON.
package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/sessiongate/accesskey"
	"github.com/jmcleod/sessiongate/auth"
	"github.com/jmcleod/sessiongate/codec"
)

const (
	defaultGateTimeout  = 5 * time.Second
	defaultMaxBodyBytes = 1 << 20
)

// API holds the dependencies needed by the gates and handlers.
type API struct {
	coord        *auth.Coordinator
	keys         *accesskey.Validator
	codec        *codec.Codec
	audit        *auditLogger
	alertFn      AlertFunc
	webhook      *auditWebhook
	timeout      time.Duration
	maxBodyBytes int64
	now          func() time.Time
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

// WithTimeout bounds each gate's collaborator call and each handler's call
// into the coordinator.
func WithTimeout(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMaxBodyBytes caps the request body read by DecryptGate.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithAlertFunc installs a callback for key rejection and login failure
// spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

// WithAuditWebhook forwards every audit event to url. authHeader, if set, is
// a "Header: value" pair added to each delivery.
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		if url != "" {
			a.webhook = newAuditWebhook(url, authHeader)
		}
	}
}

// WithClock replaces time.Now for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// New creates a new API instance.
func New(coord *auth.Coordinator, keys *accesskey.Validator, c *codec.Codec, opts ...Option) *API {
	a := &API{
		coord:        coord,
		keys:         keys,
		codec:        c,
		timeout:      defaultGateTimeout,
		maxBodyBytes: defaultMaxBodyBytes,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	a.audit.metrics = newMetricsCollector(a.alertFn)
	a.audit.webhook = a.webhook
	return a
}

// Close drains pending audit webhook deliveries.
func (a *API) Close() {
	if a.webhook != nil {
		a.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted. It is meant to
// be mounted under /api.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/redoc",
	}, nil))

	r.Group(func(r chi.Router) {
		// KeyGate must run first so unauthenticated callers never reach
		// the cipher.
		r.Use(a.KeyGate, a.DecryptGate)

		r.Post("/auth/login", a.Login)
		r.Post("/auth/signup", a.Signup)
		r.Post("/auth/verify", a.Verify)
		r.Post("/auth/logout", a.Logout)
		r.Get("/auth/me", a.Me)
	})

	return r
}

// withTimeout derives the bounded context for one collaborator call.
func (a *API) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.timeout)
}

func (a *API) timestamp() string {
	return a.now().UTC().Format(time.RFC3339)
}
