package utils

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

func GenerateRandomKey(length int) (string, error) {
	b := make([]byte, length)
	// err == nil only if we read len(b) bytes.
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RandomHex returns 2*length hex characters.
func RandomHex(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
