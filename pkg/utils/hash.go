package utils

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashOrRead returns password unchanged when it is already a bcrypt hash, otherwise hashes it.
func HashOrRead(password string) ([]byte, error) {
	if strings.HasPrefix(password, "$2a$") || strings.HasPrefix(password, "$2b$") || strings.HasPrefix(password, "$2y$") {
		return []byte(password), nil
	}
	return bcrypt.GenerateFromPassword([]byte(password), 10)
}

// PasswordMatches reports whether password hashes to hash.
func PasswordMatches(hash []byte, password string) bool {
	return len(hash) > 0 && bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
