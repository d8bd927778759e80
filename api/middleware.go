package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jmcleod/sessiongate/accesskey"
	"github.com/jmcleod/sessiongate/codec"
)

type contextKey int

const (
	accessKeyKey contextKey = iota
	clientNameKey
	decryptedKey
)

const (
	// APIKeyHeader carries the access key.
	APIKeyHeader = "X-API-Key"
	// APIKeyQueryParam is consulted when the header is absent.
	APIKeyQueryParam = "api_key"
	// SessionTokenHeader carries the session token for GET /auth/me.
	SessionTokenHeader = "X-Session-Token"
)

const (
	msgInvalidKey      = "Invalid or missing API key"
	msgBodyRequired    = "Request body is required"
	msgInvalidEnvelope = "Invalid encrypted payload format"
	msgBodyTooLarge    = "Request body too large"
	msgInvalidBody     = "Invalid request body"
	msgInvalidSession  = "Invalid or expired session"
)

// KeyGate admits requests that present an active access key in the
// X-API-Key header or, failing that, the api_key query parameter. Rejected
// requests get 401 before their body is read.
func (a *API) KeyGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			key = r.URL.Query().Get(APIKeyQueryParam)
		}
		if key == "" {
			a.audit.logFailure(AuditKeyRejected, r, "missing")
			writeError(w, http.StatusUnauthorized, msgInvalidKey)
			return
		}

		ctx, cancel := a.withTimeout(r.Context())
		rec, ok := a.keys.Admit(ctx, key)
		timedOut := ctx.Err() != nil
		cancel()
		if !ok || timedOut {
			reason := "invalid"
			if timedOut {
				reason = "timeout"
			}
			a.audit.logFailure(AuditKeyRejected, r, reason, slog.String("key", accesskey.MaskKey(key)))
			writeError(w, http.StatusUnauthorized, msgInvalidKey)
			return
		}

		ctx = context.WithValue(r.Context(), accessKeyKey, key)
		ctx = context.WithValue(ctx, clientNameKey, rec.ClientName)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// DecryptGate replaces an encrypted envelope body with its plaintext JSON.
// Only POST, PUT and PATCH are inspected. Bodies that are not complete
// envelopes pass through unchanged. Every decryption or parse failure yields
// the same 400 response.
func (a *API) DecryptGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		var body []byte
		if r.Body != nil {
			var err error
			body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
					return
				}
				writeError(w, http.StatusBadRequest, msgInvalidBody)
				return
			}
		}
		if len(bytes.TrimSpace(body)) == 0 {
			writeError(w, http.StatusBadRequest, msgBodyRequired)
			return
		}

		env, ok, err := codec.Detect(body)
		if err == nil && !ok {
			setBody(r, body)
			next.ServeHTTP(w, r)
			return
		}

		var plain string
		if err == nil {
			plain, err = a.decrypt(r.Context(), env)
		}
		if err != nil || !jsonValid(plain) {
			a.audit.logFailure(AuditDecryptFailed, r, "invalid envelope",
				slog.String("client", ClientNameFromContext(r.Context())))
			writeError(w, http.StatusBadRequest, msgInvalidEnvelope)
			return
		}

		setBody(r, []byte(plain))
		r.Header.Set("Content-Type", "application/json")
		ctx := context.WithValue(r.Context(), decryptedKey, true)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// decrypt opens env unless the gate's time budget runs out first.
func (a *API) decrypt(ctx context.Context, env codec.Envelope) (string, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	type result struct {
		plain string
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := a.codec.Decrypt(env)
		ch <- result{p, err}
	}()
	select {
	case res := <-ch:
		return res.plain, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func jsonValid(s string) bool {
	return json.Valid([]byte(s))
}

func setBody(r *http.Request, body []byte) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))
}

// KeyFromContext returns the access key admitted by KeyGate.
func KeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(accessKeyKey).(string)
	return key
}

// ClientNameFromContext returns the client name of the admitted key.
func ClientNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(clientNameKey).(string)
	return name
}

// WasDecrypted reports whether DecryptGate replaced the request body.
func WasDecrypted(ctx context.Context) bool {
	ok, _ := ctx.Value(decryptedKey).(bool)
	return ok
}

// RequestLogger logs one line per request through logger.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "request",
				slog.String("request_id", chimw.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
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
