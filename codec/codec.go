// Package codec implements the authenticated-encryption envelope used to
// protect request payloads in transit.
//
// An Envelope carries one AEAD-sealed UTF-8 JSON document as three lowercase
// hex fields: ciphertext, a 16-byte IV and a 16-byte authentication tag. A
// fresh random IV is drawn for every Encrypt call. Decryption failures of any
// kind collapse to ErrDecryptionFailed so callers cannot tell a bad tag from
// bad hex.
package codec

import (
	"crypto/cipher"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/sessiongate/internal/util"
)

const (
	// AlgorithmAES256GCM is the default and currently only registered algorithm.
	AlgorithmAES256GCM = "aes-256-gcm"

	KeySize = 32
	IVSize  = 16
	TagSize = 16
)

var (
	// ErrEncryptionFailed is returned when sealing fails for any reason.
	ErrEncryptionFailed = errors.New("encryption failed")
	// ErrDecryptionFailed is returned for every decrypt failure: malformed hex,
	// wrong IV or tag length, or tag mismatch.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrUnsupportedAlgorithm is returned by New for an unknown algorithm name.
	ErrUnsupportedAlgorithm = errors.New("unsupported encryption algorithm")
)

// Envelope is the wire form of one encrypted message.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
}

type aeadFactory func(key []byte) (cipher.AEAD, error)

var algorithms = map[string]aeadFactory{
	AlgorithmAES256GCM: func(key []byte) (cipher.AEAD, error) {
		return util.NewAESGCM(key, IVSize)
	},
}

// Codec encrypts and decrypts envelopes under a single immutable key. It is
// safe for concurrent use.
type Codec struct {
	algorithm string
	newAEAD   aeadFactory
	key       *memguard.Enclave
}

// New creates a Codec from configured key material. An empty algorithm
// selects AES-256-GCM.
func New(keyMaterial, algorithm string) (*Codec, error) {
	if keyMaterial == "" {
		return nil, errors.New("encryption key is required")
	}
	if algorithm == "" {
		algorithm = AlgorithmAES256GCM
	}
	factory, ok := algorithms[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}

	key := DeriveKey(keyMaterial)
	// Fail at startup rather than on the first request.
	if _, err := factory(key); err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("initializing %s: %w", algorithm, err)
	}

	return &Codec{
		algorithm: algorithm,
		newAEAD:   factory,
		// NewEnclave wipes key.
		key: memguard.NewEnclave(key),
	}, nil
}

// Algorithm returns the configured algorithm name.
func (c *Codec) Algorithm() string {
	return c.algorithm
}

// Encrypt seals plaintextJSON under a fresh random IV.
func (c *Codec) Encrypt(plaintextJSON string) (Envelope, error) {
	aead, release, err := c.open()
	if err != nil {
		return Envelope{}, ErrEncryptionFailed
	}
	defer release()

	iv, err := util.RandomBytes(IVSize)
	if err != nil {
		return Envelope{}, ErrEncryptionFailed
	}
	ct, tag, err := util.SealDetached(aead, iv, []byte(plaintextJSON), nil)
	if err != nil {
		return Envelope{}, ErrEncryptionFailed
	}
	return Envelope{
		Ciphertext: util.HexEncode(ct),
		IV:         util.HexEncode(iv),
		AuthTag:    util.HexEncode(tag),
	}, nil
}

// Decrypt verifies and opens env, returning the plaintext JSON string.
func (c *Codec) Decrypt(env Envelope) (string, error) {
	iv, err := util.HexDecode(env.IV)
	if err != nil || len(iv) != IVSize {
		return "", ErrDecryptionFailed
	}
	tag, err := util.HexDecode(env.AuthTag)
	if err != nil || len(tag) != TagSize {
		return "", ErrDecryptionFailed
	}
	ct, err := util.HexDecode(env.Ciphertext)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	aead, release, err := c.open()
	if err != nil {
		return "", ErrDecryptionFailed
	}
	defer release()

	plain, err := util.OpenDetached(aead, iv, ct, tag, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// EncryptValue marshals v to JSON and encrypts it.
func (c *Codec) EncryptValue(v any) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling payload: %w", err)
	}
	return c.Encrypt(string(data))
}

// DecryptInto decrypts env and unmarshals the plaintext into v.
func (c *Codec) DecryptInto(env Envelope, v any) error {
	plain, err := c.Decrypt(env)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plain), v); err != nil {
		return ErrDecryptionFailed
	}
	return nil
}

// open unseals the key and builds an AEAD. The returned release func destroys
// the unsealed key buffer.
func (c *Codec) open() (cipher.AEAD, func(), error) {
	buf, err := c.key.Open()
	if err != nil {
		return nil, nil, err
	}
	aead, err := c.newAEAD(buf.Bytes())
	if err != nil {
		buf.Destroy()
		return nil, nil, err
	}
	return aead, buf.Destroy, nil
}
