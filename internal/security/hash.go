package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// HashFlag returns the hex SHA-256 digest of a challenge flag. Raw flags are
// never persisted.
func HashFlag(flag string) string {
	sum := sha256.Sum256([]byte(flag))
	return hex.EncodeToString(sum[:])
}

// VerifyFlag compares a submitted value against a stored flag digest in
// constant time. Both sides are hashed first so the comparison length never
// depends on the submission.
func VerifyFlag(storedHash, submitted string) bool {
	submittedHash := HashFlag(submitted)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(submittedHash)) == 1
}

// HashBackupCode hashes an MFA backup code for storage.
func HashBackupCode(code string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// VerifyBackupCode checks a submitted backup code against its stored hash.
func VerifyBackupCode(storedHash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(code)) == nil
}

// NewBackupCode returns a random 10-character hex backup code.
func NewBackupCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
