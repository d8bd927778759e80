package accesskey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/sessiongate/internal/util"
	"github.com/jmcleod/sessiongate/internal/uuid"
)

const (
	// KeyBytes is the entropy of a generated key.
	KeyBytes = 32

	defaultTouchTimeout = 5 * time.Second
)

// Validator makes the admission decision for a presented key and provides
// the administrative operations on keys.
type Validator struct {
	repo         Repository
	logger       *slog.Logger
	now          func() time.Time
	touchTimeout time.Duration
	touches      sync.WaitGroup
}

// Option configures a Validator.
type Option func(*Validator)

func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithClock replaces time.Now for created and last-used timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithTouchTimeout bounds the background last-used update.
func WithTouchTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.touchTimeout = d
		}
	}
}

func NewValidator(repo Repository, opts ...Option) *Validator {
	v := &Validator{
		repo:         repo,
		logger:       slog.Default(),
		now:          time.Now,
		touchTimeout: defaultTouchTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("component", "accesskey")
	return v
}

// Admit looks up key and reports whether it belongs to an active record.
// Lookup errors fail closed. On admission the record's last-used time is
// updated in the background; a failed update does not affect the result.
func (v *Validator) Admit(ctx context.Context, key string) (Record, bool) {
	if key == "" {
		return Record{}, false
	}
	rec, err := v.repo.FindByKey(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			v.logger.Error("access key lookup failed", "key", MaskKey(key), "error", err)
		}
		return Record{}, false
	}
	if !rec.Active {
		v.logger.Warn("inactive access key presented", "key", MaskKey(key), "client", rec.ClientName)
		return Record{}, false
	}

	v.touchAsync(ctx, rec.ID, key)
	return *rec, true
}

// Validate reports whether key is admitted.
func (v *Validator) Validate(ctx context.Context, key string) bool {
	_, ok := v.Admit(ctx, key)
	return ok
}

// ClientNameFor returns the client name recorded for key regardless of its
// active flag. It is meant for attribution, not authorization.
func (v *Validator) ClientNameFor(ctx context.Context, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	rec, err := v.repo.FindByKey(ctx, key)
	if err != nil {
		return "", false
	}
	return rec.ClientName, true
}

func (v *Validator) touchAsync(ctx context.Context, id, key string) {
	at := v.now().UTC()
	bg := context.WithoutCancel(ctx)
	v.touches.Add(1)
	go func() {
		defer v.touches.Done()
		tctx, cancel := context.WithTimeout(bg, v.touchTimeout)
		defer cancel()
		if err := v.repo.TouchLastUsed(tctx, id, at); err != nil {
			v.logger.Warn("recording access key usage failed", "key", MaskKey(key), "error", err)
		}
	}()
}

// Wait blocks until pending last-used updates have finished.
func (v *Validator) Wait() {
	v.touches.Wait()
}

// CreateKey persists a new active key for clientName and returns its secret.
// The secret cannot be recovered afterwards.
func (v *Validator) CreateKey(ctx context.Context, clientName string, permissions ...string) (Record, error) {
	clientName = strings.TrimSpace(clientName)
	if clientName == "" {
		return Record{}, errors.New("client name is required")
	}
	secret, err := util.RandomHex(KeyBytes)
	if err != nil {
		return Record{}, fmt.Errorf("generating access key: %w", err)
	}
	rec := Record{
		ID:          uuid.New(),
		Key:         secret,
		ClientName:  clientName,
		Active:      true,
		CreatedAt:   v.now().UTC(),
		Permissions: dedupe(permissions),
	}
	if err := v.repo.Create(ctx, &rec); err != nil {
		return Record{}, fmt.Errorf("storing access key: %w", err)
	}
	v.logger.Info("access key created", "id", rec.ID, "client", clientName, "key", MaskKey(secret))
	return rec, nil
}

func (v *Validator) Activate(ctx context.Context, id string) error {
	return v.setActive(ctx, id, true)
}

func (v *Validator) Deactivate(ctx context.Context, id string) error {
	return v.setActive(ctx, id, false)
}

func (v *Validator) setActive(ctx context.Context, id string, active bool) error {
	if err := v.repo.SetActive(ctx, id, active); err != nil {
		return fmt.Errorf("access key %s: %w", id, err)
	}
	v.logger.Info("access key state changed", "id", id, "active", active)
	return nil
}

// List returns every key record with the secret masked.
func (v *Validator) List(ctx context.Context) ([]Record, error) {
	recs, err := v.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].Key = MaskKey(recs[i].Key)
	}
	return recs, nil
}

// dedupe returns the distinct non-empty labels in first-seen order.
func dedupe(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
