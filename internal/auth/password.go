package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const passwordCost = bcrypt.DefaultCost

var errEmptyPassword = errors.New("password must be provided")

// decoyHash is compared against when an account does not exist so the
// response time does not reveal which usernames are registered.
var decoyHash, _ = bcrypt.GenerateFromPassword([]byte("matebook-decoy-password"), passwordCost)

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword reports whether password matches hashed.
func VerifyPassword(hashed, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}

// RejectPassword spends the same work as VerifyPassword and always fails.
func RejectPassword(password string) bool {
	_ = bcrypt.CompareHashAndPassword(decoyHash, []byte(password))
	return false
}
