package user

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt encodes the salt as the first 29 bytes of the digest: $2a$CC$ + 22 chars.
const bcryptSaltLen = 29

// PasswordHasher defines the hashing primitive used for credentials.
type PasswordHasher interface {
	// Hash returns the digest and the per-user salt embedded in it.
	Hash(pw string) (hash string, salt string, err error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", "", err
	}
	if len(h) < bcryptSaltLen {
		return "", "", errors.New("bcrypt: short digest")
	}
	return string(h), string(h[:bcryptSaltLen]), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
