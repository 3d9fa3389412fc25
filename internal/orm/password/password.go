// Package password hashes userPassword attribute values with bcrypt and
// verifies values stored under the common directory password schemes.
package password

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// Prefix marks a stored bcrypt password value
const Prefix = "{BCRYPT}"

// MaxLength is the longest password bcrypt accepts, in bytes
const MaxLength = 72

// ErrTooLong is returned for passwords longer than MaxLength
var ErrTooLong = errors.New("password exceeds maximum length of 72 bytes")

// PKCS5S2 values hold a 16 byte salt followed by a 32 byte PBKDF2-SHA1 key
const (
	pkcs5s2SaltLength = 16
	pkcs5s2KeyLength  = 32
	pkcs5s2Iterations = 10000
)

type verifier func(password, encoded string) bool

// schemes maps upper-cased scheme prefixes to their verifiers
var schemes = map[string]verifier{
	Prefix:      verifyBcrypt,
	"{SHA}":     digest(sha1.New, false),
	"{SSHA}":    digest(sha1.New, true),
	"{SHA256}":  digest(sha256.New, false),
	"{SSHA256}": digest(sha256.New, true),
	"{SHA384}":  digest(sha512.New384, false),
	"{SSHA384}": digest(sha512.New384, true),
	"{SHA512}":  digest(sha512.New, false),
	"{SSHA512}": digest(sha512.New, true),
	"{PKCS5S2}": verifyPKCS5S2,
	"{ARGON2}":  verifyArgon2,
}

// Hasher implements crud.PersistenceExtension. New hashes use bcrypt, while
// comparison accepts every scheme in the table above.
type Hasher struct {
	cost int
}

// New creates a hasher. Costs outside bcrypt's range fall back to the default.
func New(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// CreateHash returns the prefixed bcrypt hash of password
func (h *Hasher) CreateHash(password string) (string, error) {
	if len(password) > MaxLength {
		return "", ErrTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return Prefix + string(hashed), nil
}

// CompareHash reports whether password matches a stored value
func (h *Hasher) CompareHash(password, stored string) bool {
	verify, encoded, ok := lookup(stored)
	if !ok {
		return false
	}
	return verify(password, encoded)
}

// IsHashed reports whether value carries a known scheme prefix
func (h *Hasher) IsHashed(value string) bool {
	_, _, ok := lookup(value)
	return ok
}

func lookup(stored string) (verifier, string, bool) {
	if !strings.HasPrefix(stored, "{") {
		return nil, "", false
	}
	end := strings.IndexByte(stored, '}')
	if end < 0 {
		return nil, "", false
	}
	verify, ok := schemes[strings.ToUpper(stored[:end+1])]
	if !ok {
		return nil, "", false
	}
	return verify, stored[end+1:], true
}

func verifyBcrypt(password, encoded string) bool {
	return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
}

// digest verifies base64(H(password + salt) + salt). Unsalted values carry
// the bare digest.
func digest(newHash func() hash.Hash, salted bool) verifier {
	return func(password, encoded string) bool {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return false
		}
		h := newHash()
		size := h.Size()
		if len(raw) < size || (!salted && len(raw) != size) {
			return false
		}
		h.Write([]byte(password))
		h.Write(raw[size:])
		return subtle.ConstantTimeCompare(h.Sum(nil), raw[:size]) == 1
	}
}

func verifyPKCS5S2(password, encoded string) bool {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != pkcs5s2SaltLength+pkcs5s2KeyLength {
		return false
	}
	salt, want := raw[:pkcs5s2SaltLength], raw[pkcs5s2SaltLength:]
	got := pbkdf2.Key([]byte(password), salt, pkcs5s2Iterations, pkcs5s2KeyLength, sha1.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// argon2Params is the decoded form of a PHC string such as
// $argon2id$v=19$m=65536,t=2,p=1$<salt>$<hash>
type argon2Params struct {
	variant string
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	hash    []byte
}

func parseArgon2(encoded string) (*argon2Params, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, fmt.Errorf("expected 5 fields, got %d", len(parts)-1)
	}

	p := &argon2Params{variant: parts[1]}
	if p.variant != "argon2id" && p.variant != "argon2i" {
		return nil, fmt.Errorf("unsupported variant %q", p.variant)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, fmt.Errorf("failed to parse version: %w", err)
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("unsupported version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return nil, fmt.Errorf("failed to parse parameters: %w", err)
	}
	if p.time < 1 || p.threads < 1 {
		return nil, errors.New("time and parallelism must be at least 1")
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	if p.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, fmt.Errorf("failed to decode hash: %w", err)
	}
	if len(p.hash) == 0 {
		return nil, errors.New("empty hash")
	}
	return p, nil
}

func verifyArgon2(password, encoded string) bool {
	p, err := parseArgon2(encoded)
	if err != nil {
		return false
	}
	keyLen := uint32(len(p.hash))
	var got []byte
	if p.variant == "argon2i" {
		got = argon2.Key([]byte(password), p.salt, p.time, p.memory, p.threads, keyLen)
	} else {
		got = argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, keyLen)
	}
	return subtle.ConstantTimeCompare(got, p.hash) == 1
}
