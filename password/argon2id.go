package password

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/jmcleod/sessiongate/internal/util"
)

type Argon2idParams struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

func (p Argon2idParams) kdf() util.Argon2idParams {
	return util.Argon2idParams{
		Time:        p.Time,
		MemoryKiB:   p.MemoryKiB,
		Parallelism: p.Parallelism,
		KeyLen:      p.KeyLen,
	}
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		SaltLen:     16,
		KeyLen:      32,
	}
}

// Argon2id produces PHC-formatted hashes:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt b64>$<hash b64>
//
// Parameters are read back from the hash on Compare, so hashes created with
// older parameters keep verifying after the defaults change.
type Argon2id struct {
	params Argon2idParams
}

var _ Hasher = (*Argon2id)(nil)

func NewArgon2id(params Argon2idParams) *Argon2id {
	return &Argon2id{params: params}
}

func (a *Argon2id) Hash(plain string) (string, error) {
	salt, err := util.RandomBytes(int(a.params.SaltLen))
	if err != nil {
		return "", err
	}
	key, err := util.DeriveArgon2idKey(plain, salt, a.params.kdf())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		AlgorithmArgon2id, argon2.Version,
		a.params.MemoryKiB, a.params.Time, a.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (a *Argon2id) Compare(plain, hash string) bool {
	params, salt, want, err := parsePHC(hash)
	if err != nil {
		return false
	}
	ok, err := util.CompareArgon2idKey(plain, salt, params.kdf(), want)
	return err == nil && ok
}

var errMalformedHash = errors.New("malformed argon2id hash")

func parsePHC(hash string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(hash, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	if len(parts) != 6 || parts[0] != "" || parts[1] != AlgorithmArgon2id {
		return Argon2idParams{}, nil, nil, errMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2idParams{}, nil, nil, errMalformedHash
	}

	var p Argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Parallelism); err != nil {
		return Argon2idParams{}, nil, nil, errMalformedHash
	}
	if p.MemoryKiB == 0 || p.Time == 0 || p.Parallelism == 0 {
		return Argon2idParams{}, nil, nil, errMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Argon2idParams{}, nil, nil, errMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Argon2idParams{}, nil, nil, errMalformedHash
	}
	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}
