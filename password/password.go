// Package password hashes and verifies user passwords.
package password

import (
	"fmt"
	"strings"
)

const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// Hasher hashes plaintext passwords and compares candidates against stored
// hashes. Compare returns false for any malformed hash.
type Hasher interface {
	Hash(plain string) (string, error)
	Compare(plain, hash string) bool
}

// New returns the Hasher for the named algorithm. bcryptCost is only used by
// bcrypt; zero selects the library default.
func New(algorithm string, bcryptCost int) (Hasher, error) {
	switch strings.ToLower(algorithm) {
	case "", AlgorithmArgon2id:
		return NewArgon2id(DefaultArgon2idParams()), nil
	case AlgorithmBcrypt:
		return NewBcrypt(bcryptCost)
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", algorithm)
	}
}
