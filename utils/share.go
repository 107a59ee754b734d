package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewShareToken returns a 32 character hex token backed by a random UUID.
func NewShareToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetToken returns a random token.
func GetToken() string {
	return uuid.NewString()
}
