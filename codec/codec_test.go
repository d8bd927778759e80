package codec

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New(testKey, "")
	require.NoError(t, err)
	return c
}

func TestRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	payloads := []string{
		`{}`,
		`{"email":"u@x.com","password":"hunter2"}`,
		`[1,2,3]`,
		`"just a string"`,
		`{"unicode":"日本語 ✓","nested":{"a":[true,null,1.5]}}`,
		`{"big":"` + strings.Repeat("x", 64*1024) + `"}`,
	}
	for _, p := range payloads {
		env, err := c.Encrypt(p)
		require.NoError(t, err)

		got, err := c.Decrypt(env)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestEnvelopeShape(t *testing.T) {
	c := newTestCodec(t)
	env, err := c.Encrypt(`{"a":1}`)
	require.NoError(t, err)

	assert.Len(t, env.IV, 2*IVSize)
	assert.Len(t, env.AuthTag, 2*TagSize)
	assert.Len(t, env.Ciphertext, 2*len(`{"a":1}`))
	for _, s := range []string{env.IV, env.AuthTag, env.Ciphertext} {
		assert.Equal(t, strings.ToLower(s), s, "hex must be lowercase")
		_, err := hex.DecodeString(s)
		assert.NoError(t, err)
	}
}

func TestFreshIVPerCall(t *testing.T) {
	c := newTestCodec(t)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		env, err := c.Encrypt(`{"same":"payload"}`)
		require.NoError(t, err)
		require.False(t, seen[env.IV], "IV reused")
		seen[env.IV] = true
	}
}

func flipBit(t *testing.T, s string, bit int) string {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	b[bit/8] ^= 1 << (bit % 8)
	return hex.EncodeToString(b)
}

func TestTamperResistance(t *testing.T) {
	c := newTestCodec(t)
	env, err := c.Encrypt(`{"email":"u@x.com"}`)
	require.NoError(t, err)

	fields := map[string]func(Envelope, string) Envelope{
		"ciphertext": func(e Envelope, v string) Envelope { e.Ciphertext = v; return e },
		"iv":         func(e Envelope, v string) Envelope { e.IV = v; return e },
		"authTag":    func(e Envelope, v string) Envelope { e.AuthTag = v; return e },
	}
	originals := map[string]string{
		"ciphertext": env.Ciphertext,
		"iv":         env.IV,
		"authTag":    env.AuthTag,
	}

	for name, set := range fields {
		bits := len(originals[name]) / 2 * 8
		for bit := 0; bit < bits; bit++ {
			tampered := set(env, flipBit(t, originals[name], bit))
			_, err := c.Decrypt(tampered)
			require.ErrorIs(t, err, ErrDecryptionFailed, "%s bit %d", name, bit)
		}
	}
}

func TestDecryptFailuresAreGeneric(t *testing.T) {
	c := newTestCodec(t)
	good, err := c.Encrypt(`{"a":1}`)
	require.NoError(t, err)

	cases := map[string]Envelope{
		"bad hex ciphertext": {Ciphertext: "zz", IV: good.IV, AuthTag: good.AuthTag},
		"bad hex iv":         {Ciphertext: good.Ciphertext, IV: "not-hex", AuthTag: good.AuthTag},
		"short iv":           {Ciphertext: good.Ciphertext, IV: good.IV[:24], AuthTag: good.AuthTag},
		"short tag":          {Ciphertext: good.Ciphertext, IV: good.IV, AuthTag: good.AuthTag[:16]},
		"wrong key material": {Ciphertext: "ab", IV: strings.Repeat("00", 16), AuthTag: strings.Repeat("00", 16)},
		"empty":              {},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decrypt(env)
			assert.Equal(t, ErrDecryptionFailed, err)
		})
	}
}

func TestWrongKeyFails(t *testing.T) {
	a := newTestCodec(t)
	b, err := New(strings.Repeat("ff", 32), AlgorithmAES256GCM)
	require.NoError(t, err)

	env, err := a.Encrypt(`{"a":1}`)
	require.NoError(t, err)
	_, err = b.Decrypt(env)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestValueHelpers(t *testing.T) {
	c := newTestCodec(t)
	type creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	env, err := c.EncryptValue(creds{Email: "u@x.com", Password: "pw"})
	require.NoError(t, err)

	var out creds
	require.NoError(t, c.DecryptInto(env, &out))
	assert.Equal(t, "u@x.com", out.Email)
	assert.Equal(t, "pw", out.Password)
}

func TestNewValidation(t *testing.T) {
	_, err := New("", "")
	assert.Error(t, err)

	_, err = New(testKey, "des-cbc")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	c, err := New(testKey, "")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmAES256GCM, c.Algorithm())
}

func TestDeriveKey(t *testing.T) {
	t.Run("HexKeyDecodesDirectly", func(t *testing.T) {
		key := DeriveKey(testKey)
		want, _ := hex.DecodeString(testKey)
		assert.Equal(t, want, key)
	})

	t.Run("ShortStringIsPadded", func(t *testing.T) {
		key := DeriveKey("secret")
		require.Len(t, key, KeySize)
		assert.Equal(t, "secret"+strings.Repeat("0", KeySize-6), string(key))
	})

	t.Run("LongStringIsTruncated", func(t *testing.T) {
		raw := strings.Repeat("k", 80)
		key := DeriveKey(raw)
		assert.Equal(t, raw[:KeySize], string(key))
	})

	t.Run("HexOfWrongLengthUsesFallback", func(t *testing.T) {
		key := DeriveKey("abcd")
		assert.Equal(t, "abcd"+strings.Repeat("0", KeySize-4), string(key))
	})

	t.Run("Deterministic", func(t *testing.T) {
		assert.Equal(t, DeriveKey("passphrase"), DeriveKey("passphrase"))
	})

	t.Run("FallbackKeyStillEncrypts", func(t *testing.T) {
		c, err := New("dev-key", "")
		require.NoError(t, err)
		env, err := c.Encrypt(`{"ok":true}`)
		require.NoError(t, err)
		got, err := c.Decrypt(env)
		require.NoError(t, err)
		assert.Equal(t, `{"ok":true}`, got)
	})
}

func TestGenerateKey(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, k, 64)
	_, err = New(k, "")
	assert.NoError(t, err)
}

func TestDetect(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		ok      bool
		wantErr bool
	}{
		{"plaintext object", `{"email":"u@x.com"}`, false, false},
		{"not json", `not json`, false, false},
		{"array", `[1,2]`, false, false},
		{"two of three", `{"ciphertext":"ab","iv":"00"}`, false, false},
		{"empty field", `{"ciphertext":"","iv":"00","authTag":"00"}`, false, false},
		{"null field", `{"ciphertext":null,"iv":"00","authTag":"00"}`, false, false},
		{"complete", `{"ciphertext":"ab","iv":"00","authTag":"11"}`, true, false},
		{"non-string field", `{"ciphertext":12,"iv":"00","authTag":"11"}`, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, ok, err := Detect([]byte(tc.body))
			assert.Equal(t, tc.ok, ok)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrDecryptionFailed)
				return
			}
			require.NoError(t, err)
			if ok {
				assert.Equal(t, Envelope{Ciphertext: "ab", IV: "00", AuthTag: "11"}, env)
			}
		})
	}
}
