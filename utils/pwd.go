package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// ShareHashCost is the bcrypt cost used for share passwords.
const ShareHashCost = 10

type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher returns a hasher with the given cost, or bcrypt.DefaultCost when out of range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

// Hash hashes a password.
func (h *BcryptHasher) Hash(pwd string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), h.Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify checks pwd against a stored hash.
func (h *BcryptHasher) Verify(pwd string, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pwd)) == nil
}
