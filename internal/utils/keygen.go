// internal/utils/keygen.go
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
)

func GenerateRandomString(length int) (string, error) {
	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, length)

	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}

	return string(b), nil
}

// GenerateLicenseKey produces an opaque key of the form
// PREFIX-XXXX-XXXX-XXXX-XXXX. The charset omits ambiguous characters so keys
// survive being read over the phone.
func GenerateLicenseKey(prefix string) (string, error) {
	groups := make([]string, 0, 5)
	if prefix != "" {
		groups = append(groups, strings.ToUpper(prefix))
	}

	for i := 0; i < 4; i++ {
		group, err := GenerateRandomString(4)
		if err != nil {
			return "", err
		}
		groups = append(groups, group)
	}

	return strings.Join(groups, "-"), nil
}

func HashString(input string) string {
	hasher := sha256.New()
	hasher.Write([]byte(input))
	return hex.EncodeToString(hasher.Sum(nil))
}
