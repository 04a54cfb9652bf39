package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashPurchaseToken returns the keyed fingerprint of a purchase token. The
// raw token is never stored or logged; this digest is the only identifier
// that leaves this function.
func HashPurchaseToken(token, pepper string) string {
	h := hmac.New(sha256.New, []byte(pepper))
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyClientKey checks a presented client key against one configured value.
// The configured value may be "sha256:<hex>" (the presented key is hashed
// before comparing), "plain:<value>", or a bare legacy value treated the same
// as plain. All comparisons are constant-time.
func VerifyClientKey(presented, configured string) bool {
	value := strings.TrimSpace(configured)

	if expected, ok := strings.CutPrefix(value, "sha256:"); ok {
		expected = strings.ToLower(strings.TrimSpace(expected))
		sum := sha256.Sum256([]byte(presented))
		actual := hex.EncodeToString(sum[:])
		return constantTimeEquals(actual, expected)
	}

	if expected, ok := strings.CutPrefix(value, "plain:"); ok {
		return constantTimeEquals(presented, expected)
	}

	// Backward compatibility for old plain values.
	return constantTimeEquals(presented, value)
}

func constantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
