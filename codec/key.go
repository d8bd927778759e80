package codec

import (
	"github.com/jmcleod/sessiongate/internal/util"
)

// keyPadByte fills short raw key strings in the compatibility derivation.
const keyPadByte = '0'

// DeriveKey turns configured key material into exactly KeySize bytes.
//
// Key material that is 64 hex characters decodes to the key directly; this is
// the only supported production form. Any other string is treated as raw
// bytes, right-padded with '0' and truncated to 32 bytes. That fallback is a
// compatibility shim for deployments that configured a passphrase-like key.
// It performs no key stretching and is not a security recommendation.
func DeriveKey(keyMaterial string) []byte {
	if util.IsHex(keyMaterial, KeySize) {
		key, _ := util.HexDecode(keyMaterial)
		return key
	}

	key := make([]byte, KeySize)
	n := copy(key, keyMaterial)
	for i := n; i < KeySize; i++ {
		key[i] = keyPadByte
	}
	return key
}

// GenerateKey returns a new random key in its 64-hex-character config form.
func GenerateKey() (string, error) {
	return util.RandomHex(KeySize)
}
