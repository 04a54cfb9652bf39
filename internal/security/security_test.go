package security_test

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billing-verify/internal/security"
)

func TestHashPurchaseToken(t *testing.T) {
	t.Run("is deterministic for same token and pepper", func(t *testing.T) {
		first := security.HashPurchaseToken("purchase-token-value", "pepper")
		second := security.HashPurchaseToken("purchase-token-value", "pepper")
		assert.Equal(t, first, second)
		assert.Len(t, first, 64) // hex-encoded SHA-256
	})

	t.Run("differs across tokens and across peppers", func(t *testing.T) {
		base := security.HashPurchaseToken("token-a", "pepper")
		assert.NotEqual(t, base, security.HashPurchaseToken("token-b", "pepper"))
		assert.NotEqual(t, base, security.HashPurchaseToken("token-a", "other-pepper"))
	})

	t.Run("random tokens never collide", func(t *testing.T) {
		seen := make(map[string]string)
		for i := 0; i < 1000; i++ {
			buf := make([]byte, 32)
			_, err := rand.Read(buf)
			require.NoError(t, err)
			token := hex.EncodeToString(buf)

			digest := security.HashPurchaseToken(token, "pepper")
			previous, dup := seen[digest]
			require.False(t, dup, "digest collision between %q and %q", previous, token)
			seen[digest] = token
		}
	})
}

func TestVerifyClientKey(t *testing.T) {
	hashed := func(key string) string {
		sum := sha256.Sum256([]byte(key))
		return "sha256:" + hex.EncodeToString(sum[:])
	}

	t.Run("sha256 form matches the hashed presented key", func(t *testing.T) {
		assert.True(t, security.VerifyClientKey("k1", hashed("k1")))
		assert.False(t, security.VerifyClientKey("k2", hashed("k1")))
	})

	t.Run("sha256 comparison is case and whitespace tolerant on the configured side", func(t *testing.T) {
		sum := sha256.Sum256([]byte("k1"))
		configured := "sha256: " + strings.ToUpper(hex.EncodeToString(sum[:]))
		assert.True(t, security.VerifyClientKey("k1", configured))
	})

	t.Run("plain form compares directly", func(t *testing.T) {
		assert.True(t, security.VerifyClientKey("k1", "plain:k1"))
		assert.False(t, security.VerifyClientKey("wrong", "plain:k1"))
	})

	t.Run("bare legacy value behaves like plain", func(t *testing.T) {
		assert.True(t, security.VerifyClientKey("legacy-key", "legacy-key"))
		assert.False(t, security.VerifyClientKey("other", "legacy-key"))
	})

	t.Run("malformed configured value fails closed", func(t *testing.T) {
		assert.False(t, security.VerifyClientKey("k1", "sha256:not-hex"))
		assert.False(t, security.VerifyClientKey("k1", ""))
	})
}
