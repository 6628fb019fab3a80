package util

import (
	"golang.org/x/crypto/bcrypt"
)

// passwordCost trades hash strength against login latency. Client accounts
// here gate campaign configuration, not mailbox credentials, so a moderate
// cost is enough.
const passwordCost = 10

// HashPassword turns a plaintext client password into a bcrypt hash.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPassword verifies a plaintext password against a stored hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
