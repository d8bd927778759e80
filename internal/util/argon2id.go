package util

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"
)

// Argon2idParams are the cost parameters passed to argon2.IDKey.
type Argon2idParams struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
	KeyLen      uint32
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if len(salt) == 0 {
		return nil, errors.New("argon2id salt is required")
	}
	if params.KeyLen == 0 || params.Time == 0 || params.MemoryKiB == 0 || params.Parallelism == 0 {
		return nil, errors.New("argon2id parameters must be non-zero")
	}
	return argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen), nil
}

func CompareArgon2idKey(passphrase string, salt []byte, params Argon2idParams, expectedKey []byte) (bool, error) {
	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return false, err
	}
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}
