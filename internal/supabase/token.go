package supabase

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// accessClaims は認証サービスが発行するアクセストークンのクレーム。
type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// parseAccessToken はアクセストークンのクレームを取り出す。
// secretが空の場合は署名を検証せずに取り出す（検証は発行元のAPIが行う）。
func parseAccessToken(token string, secret []byte) (*accessClaims, error) {
	if token == "" {
		return nil, errors.New("access token is empty")
	}

	if len(secret) == 0 {
		parsed, _, err := jwt.NewParser().ParseUnverified(token, &accessClaims{})
		if err != nil {
			return nil, fmt.Errorf("failed to parse access token: %w", err)
		}
		claims, ok := parsed.Claims.(*accessClaims)
		if !ok {
			return nil, errors.New("invalid access token claims")
		}
		return claims, nil
	}

	parsed, err := jwt.ParseWithClaims(token, &accessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify access token: %w", err)
	}

	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid access token claims")
	}
	return claims, nil
}
