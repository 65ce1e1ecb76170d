package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const DefaultBcryptCost = 10

type BcryptPasswordHasher struct {
	Cost int
}

func (h BcryptPasswordHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func (h BcryptPasswordHasher) Verify(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

const argon2ID = "argon2id"

// Argon2PasswordHasher writes PHC strings:
// $argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<key>
type Argon2PasswordHasher struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultArgon2PasswordHasher() Argon2PasswordHasher {
	return Argon2PasswordHasher{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (h Argon2PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, h.Time, h.Memory, h.Parallelism, h.KeyLength)
	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID,
		argon2.Version,
		h.Memory,
		h.Time,
		h.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h Argon2PasswordHasher) Verify(hash string, password string) bool {
	params, salt, key, err := parseArgon2Hash(hash)
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1
}

func parseArgon2Hash(encoded string) (Argon2PasswordHasher, []byte, []byte, error) {
	var params Argon2PasswordHasher
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argon2ID {
		return params, nil, nil, errors.New("invalid argon2 hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params, nil, nil, errors.New("unsupported argon2 version")
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Parallelism); err != nil {
		return params, nil, nil, errors.New("invalid argon2 parameters")
	}
	if params.Memory == 0 || params.Time == 0 || params.Parallelism == 0 {
		return params, nil, nil, errors.New("invalid argon2 parameters")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return params, nil, nil, errors.New("invalid argon2 salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, errors.New("invalid argon2 key")
	}
	return params, salt, key, nil
}

// NewPasswordHasher picks the hasher named by PASSWORD_HASHER.
func NewPasswordHasher(name string, bcryptCost int) (PasswordHasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bcrypt":
		return BcryptPasswordHasher{Cost: bcryptCost}, nil
	case "argon2", argon2ID:
		return DefaultArgon2PasswordHasher(), nil
	default:
		return nil, fmt.Errorf("unknown password hasher %q", name)
	}
}
