package orgs

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	InviteCodePrefix = "inv_"
	InviteCodeBytes  = 24
)

// GenerateInviteCode returns a fresh redemption code and the hash that is persisted.
func GenerateInviteCode() (code string, hash []byte, err error) {
	randomBytes := make([]byte, InviteCodeBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	code = InviteCodePrefix + base58.Encode(randomBytes)
	return code, HashInviteCode(code), nil
}

func HashInviteCode(code string) []byte {
	h := sha256.Sum256([]byte(code))
	return h[:]
}

// ValidateInviteCodeFormat reports whether code could have been produced by
// GenerateInviteCode.
func ValidateInviteCodeFormat(code string) bool {
	encoded, ok := strings.CutPrefix(code, InviteCodePrefix)
	if !ok || encoded == "" {
		return false
	}
	decoded, err := base58.Decode(encoded)
	if err != nil {
		return false
	}
	return len(decoded) == InviteCodeBytes
}
