package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Token 签发由外部认证服务负责；这里只做校验

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongType    = errors.New("not an access token")
)

// Claims 访问令牌载荷
type Claims struct {
	UserID string
	Admin  bool
}

type tokenClaims struct {
	Type  string `json:"type"`
	Admin bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// ParseAccessToken 校验 HS256 访问令牌并提取用户身份
// 拒绝 type != "access" 的令牌（如 refresh token）
func ParseAccessToken(secret, tokenString string) (*Claims, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != "access" {
		return nil, ErrWrongType
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &Claims{UserID: claims.Subject, Admin: claims.Admin}, nil
}
