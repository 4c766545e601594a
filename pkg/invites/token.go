package invites

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// tokenPrefix identifies invitation tokens
	tokenPrefix = "bdrm_inv_"
	// tokenLength is the number of random bytes (32 bytes = 256 bits)
	tokenLength = 32
)

// generateToken creates a new invitation token.
// Format: bdrm_inv_<base64url(32 random bytes)>
// The plaintext is returned to the issuer once; only the hash is stored.
func generateToken() (token string, tokenHash string, prefix string, err error) {
	randomBytes := make([]byte, tokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := tokenPrefix + encoded

	prefix = tokenPrefix
	if len(encoded) >= 8 {
		prefix = tokenPrefix + encoded[:8]
	}

	return fullToken, HashToken(fullToken), prefix, nil
}

// HashToken computes the SHA-256 hash of a token for storage and lookup
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// validateTokenFormat rejects tokens that cannot possibly match before
// any hashing or database work happens.
func validateTokenFormat(token string) error {
	if !strings.HasPrefix(token, tokenPrefix) {
		return fmt.Errorf("token must start with %q", tokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, tokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}
