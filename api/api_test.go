package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessiongate/accesskey"
	"github.com/jmcleod/sessiongate/api"
	"github.com/jmcleod/sessiongate/auth"
	"github.com/jmcleod/sessiongate/codec"
	"github.com/jmcleod/sessiongate/identity"
	"github.com/jmcleod/sessiongate/internal/logging"
	"github.com/jmcleod/sessiongate/internal/util"
	"github.com/jmcleod/sessiongate/password"
	"github.com/jmcleod/sessiongate/session"
	"github.com/jmcleod/sessiongate/storage/memory"
)

const testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	srv   *httptest.Server
	codec *codec.Codec
	keys  *accesskey.Validator
	key   accesskey.Record
	clock *fakeClock
	ttl   time.Duration
}

func setupWithRepo(t *testing.T, repo accesskey.Repository, opts ...api.Option) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	logger := logging.Discard()

	kv := memory.NewStore(memory.WithClock(clock.Now))
	sessions := session.NewStore(kv, session.WithClock(clock.Now), session.WithLogger(logger))
	hasher := password.NewArgon2id(password.Argon2idParams{Time: 1, MemoryKiB: 1024, Parallelism: 1, SaltLen: 16, KeyLen: 32})
	ttl := time.Hour
	coord := auth.NewCoordinator(identity.NewMemoryStore(), hasher, sessions, ttl, logger)

	keys := accesskey.NewValidator(repo, accesskey.WithLogger(logger))
	c, err := codec.New(testEncryptionKey, "")
	require.NoError(t, err)

	a := api.New(coord, keys, c, append([]api.Option{api.WithLogger(logger)}, opts...)...)
	r := chi.NewRouter()
	r.Use(api.SecurityHeaders)
	r.Mount("/api", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		keys.Wait()
		a.Close()
	})

	env := &testEnv{srv: srv, codec: c, keys: keys, clock: clock, ttl: ttl}
	if _, isMem := repo.(*accesskey.MemoryRepository); isMem {
		rec, err := keys.CreateKey(context.Background(), "test-client")
		require.NoError(t, err)
		env.key = rec
	}
	return env
}

func setup(t *testing.T, opts ...api.Option) *testEnv {
	return setupWithRepo(t, accesskey.NewMemoryRepository(), opts...)
}

func (e *testEnv) do(t *testing.T, method, path, key string, body []byte, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, e.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(api.APIKeyHeader, key)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (e *testEnv) post(t *testing.T, path string, v any) (*http.Response, map[string]any) {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return e.do(t, http.MethodPost, path, e.key.Key, body)
}

func (e *testEnv) postEncrypted(t *testing.T, path string, v any) (*http.Response, map[string]any) {
	t.Helper()
	env, err := e.codec.EncryptValue(v)
	require.NoError(t, err)
	return e.post(t, path, env)
}

// Scenario A: signup, verify, logout, verify again.
func TestSignupVerifyLogout(t *testing.T) {
	e := setup(t)

	resp, out := e.post(t, "/api/auth/signup", map[string]string{"email": "u@x.com", "encryptedPassword": "pw"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, out["success"])
	assert.Equal(t, auth.MsgSignupSuccess, out["message"])
	token, _ := out["sessionToken"].(string)
	require.True(t, util.IsHex(token, 32), "token %q", token)
	assert.NotEmpty(t, out["timestamp"])

	resp, out = e.post(t, "/api/auth/verify", map[string]string{"sessionToken": token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["valid"])
	assert.Contains(t, out, "code")
	assert.Nil(t, out["code"])
	assert.NotContains(t, out, "reason")

	resp, out = e.post(t, "/api/auth/logout", map[string]string{"sessionToken": token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, auth.MsgLogoutSuccess, out["message"])

	resp, out = e.post(t, "/api/auth/verify", map[string]string{"sessionToken": token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["valid"])
	assert.Equal(t, "SESSION_INVALID", out["code"])
	assert.Equal(t, "invalid", out["reason"])
}

func TestEncryptedSignupAndLogin(t *testing.T) {
	e := setup(t)

	resp, out := e.postEncrypted(t, "/api/auth/signup", map[string]string{"email": "enc@x.com", "encryptedPassword": "hunter2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, out["success"], "%v", out)

	resp, out = e.postEncrypted(t, "/api/auth/login", map[string]string{"email": "enc@x.com", "password": "hunter2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, auth.MsgLoginSuccess, out["message"])

	// A plaintext login for the same account works too.
	_, out = e.post(t, "/api/auth/login", map[string]string{"email": "ENC@x.com", "password": "hunter2"})
	assert.Equal(t, true, out["success"])
}

// Scenario B: wrong password.
func TestLoginWrongPassword(t *testing.T) {
	e := setup(t)
	_, out := e.post(t, "/api/auth/signup", map[string]string{"email": "u@x.com", "encryptedPassword": "right"})
	require.Equal(t, true, out["success"])

	resp, out := e.post(t, "/api/auth/login", map[string]string{"email": "u@x.com", "password": "wrong"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "Password is incorrect", out["message"])
	assert.Equal(t, "INCORRECT_PASSWORD", out["code"])
	assert.NotContains(t, out, "sessionToken")
}

func TestAuthFailureCodes(t *testing.T) {
	e := setup(t)
	_, out := e.post(t, "/api/auth/signup", map[string]string{"email": "u@x.com", "encryptedPassword": "pw"})
	require.Equal(t, true, out["success"])

	resp, out := e.post(t, "/api/auth/login", map[string]string{"email": "nobody@x.com", "password": "pw"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "EMAIL_NOT_FOUND", out["code"])
	assert.Equal(t, "Email not found", out["message"])

	resp, out = e.post(t, "/api/auth/signup", map[string]string{"email": "u@x.com", "encryptedPassword": "pw"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "EMAIL_ALREADY_EXISTS", out["code"])

	resp, out = e.post(t, "/api/auth/login", map[string]string{"email": "u@x.com"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "MISSING_INFORMATION", out["code"])
	assert.Equal(t, "Email and password are required", out["message"])
}

// Scenario C: envelope that fails authentication.
func TestBadEnvelopeRejected(t *testing.T) {
	e := setup(t)
	resp, out := e.post(t, "/api/auth/login", map[string]string{
		"ciphertext": "ab",
		"iv":         strings.Repeat("00", 16),
		"authTag":    strings.Repeat("00", 16),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid encrypted payload format", out["error"])
}

func TestEnvelopeWithNonJSONPlaintextRejected(t *testing.T) {
	e := setup(t)
	env, err := e.codec.Encrypt("definitely not json")
	require.NoError(t, err)
	resp, out := e.post(t, "/api/auth/login", env)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid encrypted payload format", out["error"])
}

func TestEnvelopeWithNonStringFieldRejected(t *testing.T) {
	e := setup(t)
	resp, out := e.do(t, http.MethodPost, "/api/auth/login", e.key.Key, []byte(`{"ciphertext":1,"iv":"00","authTag":"00"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid encrypted payload format", out["error"])
}

// Scenario D: no key at all.
func TestMissingKeyRejectedBeforeDecrypt(t *testing.T) {
	e := setup(t)
	env, err := e.codec.Encrypt(`{"email":"u@x.com","password":"pw"}`)
	require.NoError(t, err)
	body, _ := json.Marshal(env)

	resp, out := e.do(t, http.MethodPost, "/api/auth/login", "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid or missing API key", out["error"])

	// An empty body would fail the decrypt gate with 400; 401 proves the key
	// gate ran first.
	resp, _ = e.do(t, http.MethodPost, "/api/auth/login", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestKeyGate(t *testing.T) {
	e := setup(t)
	body := []byte(`{"sessionToken":"x"}`)

	t.Run("UnknownKey", func(t *testing.T) {
		resp, out := e.do(t, http.MethodPost, "/api/auth/verify", strings.Repeat("f", 64), body)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Invalid or missing API key", out["error"])
	})

	t.Run("QueryParamFallback", func(t *testing.T) {
		resp, _ := e.do(t, http.MethodPost, "/api/auth/verify?api_key="+e.key.Key, "", body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("HeaderWinsOverQuery", func(t *testing.T) {
		resp, _ := e.do(t, http.MethodPost, "/api/auth/verify?api_key="+e.key.Key, "bogus", body)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("DeactivatedKey", func(t *testing.T) {
		rec, err := e.keys.CreateKey(context.Background(), "temp")
		require.NoError(t, err)
		resp, _ := e.do(t, http.MethodPost, "/api/auth/verify", rec.Key, body)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		require.NoError(t, e.keys.Deactivate(context.Background(), rec.ID))
		resp, _ = e.do(t, http.MethodPost, "/api/auth/verify", rec.Key, body)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("DocsAreOpen", func(t *testing.T) {
		resp, _ := e.do(t, http.MethodGet, "/api/openapi.yaml", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestDecryptGateBodies(t *testing.T) {
	e := setup(t, api.WithMaxBodyBytes(256))

	t.Run("EmptyBody", func(t *testing.T) {
		resp, out := e.do(t, http.MethodPost, "/api/auth/login", e.key.Key, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Request body is required", out["error"])
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		resp, out := e.do(t, http.MethodPost, "/api/auth/login", e.key.Key, []byte(`{"email":`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Invalid request body", out["error"])
	})

	t.Run("PartialEnvelopePassesThrough", func(t *testing.T) {
		resp, out := e.do(t, http.MethodPost, "/api/auth/login", e.key.Key, []byte(`{"ciphertext":"ab","iv":"00"}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "MISSING_INFORMATION", out["code"])
	})

	t.Run("TooLarge", func(t *testing.T) {
		big := []byte(`{"email":"` + strings.Repeat("a", 512) + `"}`)
		resp, _ := e.do(t, http.MethodPost, "/api/auth/login", e.key.Key, big)
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})
}

func TestVerifyExpired(t *testing.T) {
	e := setup(t)
	_, out := e.post(t, "/api/auth/signup", map[string]string{"email": "u@x.com", "encryptedPassword": "pw"})
	token := out["sessionToken"].(string)

	e.clock.Advance(e.ttl + time.Second)
	resp, out := e.post(t, "/api/auth/verify", map[string]string{"sessionToken": token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["valid"])
	assert.Equal(t, "SESSION_EXPIRED", out["code"])
	assert.Equal(t, "expired", out["reason"])
}

func TestMe(t *testing.T) {
	e := setup(t)
	_, out := e.post(t, "/api/auth/signup", map[string]string{"email": "me@x.com", "encryptedPassword": "pw"})
	token := out["sessionToken"].(string)

	resp, out := e.do(t, http.MethodGet, "/api/auth/me", e.key.Key, nil, api.SessionTokenHeader, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "me@x.com", out["email"])
	assert.Equal(t, "test-client", out["client"])

	resp, _ = e.do(t, http.MethodGet, "/api/auth/me", e.key.Key, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/auth/me", "", nil, api.SessionTokenHeader, token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	e := setup(t)
	resp, out := e.post(t, "/api/auth/logout", map[string]string{"sessionToken": strings.Repeat("a", 64)})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, auth.MsgLogoutSuccess, out["message"])
}

func TestSecurityHeaders(t *testing.T) {
	e := setup(t)
	resp, _ := e.post(t, "/api/auth/verify", map[string]string{"sessionToken": "x"})
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

// slowRepo never answers before the caller's deadline.
type slowRepo struct{ *accesskey.MemoryRepository }

func (slowRepo) FindByKey(ctx context.Context, _ string) (*accesskey.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestKeyGateTimeoutRejects(t *testing.T) {
	e := setupWithRepo(t, slowRepo{accesskey.NewMemoryRepository()}, api.WithTimeout(20*time.Millisecond))
	start := time.Now()
	resp, out := e.do(t, http.MethodPost, "/api/auth/verify", strings.Repeat("a", 64), []byte(`{}`))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid or missing API key", out["error"])
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestKeyRejectionAlert(t *testing.T) {
	var (
		mu     sync.Mutex
		alerts []api.AlertEvent
	)
	e := setup(t, api.WithAlertFunc(func(evt api.AlertEvent) {
		mu.Lock()
		alerts = append(alerts, evt)
		mu.Unlock()
	}))
	for i := 0; i < 100; i++ {
		e.do(t, http.MethodGet, "/api/auth/me", "", nil)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, alerts, 1)
	assert.Equal(t, api.AlertKeyRejectionSpike, alerts[0].Type)
}
