package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fastArgon2id keeps test runtime low; production uses DefaultArgon2idParams.
func fastArgon2id() *Argon2id {
	return NewArgon2id(Argon2idParams{Time: 1, MemoryKiB: 1024, Parallelism: 1, SaltLen: 16, KeyLen: 32})
}

func TestArgon2id(t *testing.T) {
	h := fastArgon2id()

	hash, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"), hash)

	assert.True(t, h.Compare("correct horse battery staple", hash))
	assert.False(t, h.Compare("wrong", hash))

	t.Run("SaltedHashesDiffer", func(t *testing.T) {
		other, err := h.Hash("correct horse battery staple")
		require.NoError(t, err)
		assert.NotEqual(t, hash, other)
	})

	t.Run("ParamsComeFromHash", func(t *testing.T) {
		// A hasher with different defaults still verifies the old hash.
		other := NewArgon2id(Argon2idParams{Time: 2, MemoryKiB: 2048, Parallelism: 2, SaltLen: 8, KeyLen: 16})
		assert.True(t, other.Compare("correct horse battery staple", hash))
	})

	t.Run("MalformedHashes", func(t *testing.T) {
		for _, bad := range []string{
			"",
			"plain",
			"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$a2V5",
			"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
			"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$a2V5",
			"$argon2id$v=19$m=1024,t=1,p=1$!!!$a2V5",
			"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
		} {
			assert.False(t, h.Compare("x", bad), bad)
		}
	})
}

func TestBcrypt(t *testing.T) {
	h, err := NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)

	hash, err := h.Hash("s3cret")
	require.NoError(t, err)
	assert.True(t, h.Compare("s3cret", hash))
	assert.False(t, h.Compare("S3cret", hash))
	assert.False(t, h.Compare("s3cret", ""))
	assert.False(t, h.Compare("s3cret", "not-a-bcrypt-hash"))

	_, err = NewBcrypt(bcrypt.MaxCost + 1)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	h, err := New("", 0)
	require.NoError(t, err)
	assert.IsType(t, &Argon2id{}, h)

	h, err = New("BCRYPT", bcrypt.MinCost)
	require.NoError(t, err)
	assert.IsType(t, &Bcrypt{}, h)

	_, err = New("md5", 0)
	assert.Error(t, err)
}
