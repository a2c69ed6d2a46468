package sessionserver

import (
	"crypto/rand"
	"fmt"

	"github.com/cyberinferno/screenary/session"
)

var keyCharset = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// NewSessionKey returns session.KeyLength random alphanumeric characters.
// Keys let anyone who knows them join, so they come from crypto/rand.
func NewSessionKey() (string, error) {
	b := make([]byte, session.KeyLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session key: %w", err)
	}

	for i := range b {
		b[i] = keyCharset[int(b[i])%len(keyCharset)]
	}

	return string(b), nil
}
