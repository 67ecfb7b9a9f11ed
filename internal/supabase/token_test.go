package supabase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccessToken(t *testing.T) {
	token := signToken(t, testJWTSecret, "u-1", "ann@example.com", time.Hour)

	t.Run("署名を検証して取り出す", func(t *testing.T) {
		claims, err := parseAccessToken(token, []byte(testJWTSecret))
		require.NoError(t, err)
		assert.Equal(t, "u-1", claims.Subject)
		assert.Equal(t, "ann@example.com", claims.Email)
		assert.Equal(t, "authenticated", claims.Role)
	})

	t.Run("秘密鍵が異なる場合はエラー", func(t *testing.T) {
		_, err := parseAccessToken(token, []byte("wrong-secret-wrong-secret-wrong-secret"))
		assert.Error(t, err)
	})

	t.Run("秘密鍵未設定の場合は検証せずに取り出す", func(t *testing.T) {
		claims, err := parseAccessToken(token, nil)
		require.NoError(t, err)
		assert.Equal(t, "u-1", claims.Subject)
	})

	t.Run("期限切れは検証時にエラー", func(t *testing.T) {
		expired := signToken(t, testJWTSecret, "u-1", "ann@example.com", -time.Minute)
		_, err := parseAccessToken(expired, []byte(testJWTSecret))
		assert.Error(t, err)
	})

	t.Run("不正な形式", func(t *testing.T) {
		_, err := parseAccessToken("not-a-jwt", nil)
		assert.Error(t, err)

		_, err = parseAccessToken("", nil)
		assert.Error(t, err)
	})
}
