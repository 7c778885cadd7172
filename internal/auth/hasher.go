package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVariant = errors.New("incompatible variant")
	ErrIncompatibleVersion = errors.New("incompatible version")
)

// Params defines Argon2id parameters
type Params struct {
	Memory      uint32 `yaml:"memory_kib"`
	Iterations  uint32 `yaml:"iterations"`
	Parallelism uint8  `yaml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length"`
}

var DefaultParams = &Params{
	Memory:      64 * 1024, // 64 MB
	Iterations:  1,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// Hasher produces and verifies PHC-formatted argon2id hashes.
type Hasher struct {
	params Params
}

func NewHasher(p *Params) *Hasher {
	if p == nil || p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		p = DefaultParams
	}
	h := &Hasher{params: *p}
	if h.params.SaltLength == 0 {
		h.params.SaltLength = DefaultParams.SaltLength
	}
	if h.params.KeyLength == 0 {
		h.params.KeyLength = DefaultParams.KeyLength
	}
	return h
}

// Hash returns $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<key>.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	p := h.params
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Verify compares password against encoded using the parameters stored in it.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	p, salt, key, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	other := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(key, other) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker or different
// parameters than the hasher's.
func (h *Hasher) NeedsRehash(encoded string) bool {
	p, _, _, err := decodeHash(encoded)
	if err != nil {
		return true
	}
	return p.Memory != h.params.Memory || p.Iterations != h.params.Iterations ||
		p.Parallelism != h.params.Parallelism || p.KeyLength != h.params.KeyLength
}

func decodeHash(encoded string) (*Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, nil, nil, ErrInvalidHash
	}
	if parts[1] != "argon2id" {
		return nil, nil, nil, ErrIncompatibleVariant
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return nil, nil, nil, ErrIncompatibleVersion
	}

	p := &Params{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return nil, nil, nil, ErrInvalidHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, nil, ErrInvalidHash
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}

var defaultHasher = NewHasher(nil)

// SetDefaultParams replaces the parameters used by HashPassword. Existing
// hashes keep verifying because Verify reads the parameters from the hash.
func SetDefaultParams(p *Params) {
	defaultHasher = NewHasher(p)
}

// HashPassword hashes with DefaultParams.
func HashPassword(password string) (string, error) {
	return defaultHasher.Hash(password)
}

// CheckPassword verifies against any argon2id hash.
func CheckPassword(password, encodedHash string) (bool, error) {
	return defaultHasher.Verify(password, encodedHash)
}
