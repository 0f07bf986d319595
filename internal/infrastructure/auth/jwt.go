package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
)

// Claims gasfeed 访问令牌的声明；Networks 非空时限制可订阅的网络
type Claims struct {
	Networks []string `json:"networks,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier 校验 HMAC 签名的访问令牌
type JWTVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

var _ port.Verifier = (*JWTVerifier)(nil)

func NewJWTVerifier(secret, issuer string, leeway time.Duration) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, leeway: leeway}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (domain.Identity, error) {
	// Remove Bearer prefix if present
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return domain.Identity{}, errors.New("empty token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return domain.Identity{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return domain.Identity{}, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return domain.Identity{}, errors.New("token has no subject")
	}
	return domain.Identity{Subject: claims.Subject, Networks: claims.Networks}, nil
}

// Sign 签发令牌（开发与测试用）
func (v *JWTVerifier) Sign(subject string, networks []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Networks: networks,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// NetworkAuthorizer 按身份中的网络列表授权；列表为空时全部允许
type NetworkAuthorizer struct{}

var _ port.Authorizer = NetworkAuthorizer{}

func (NetworkAuthorizer) Authorize(_ context.Context, id domain.Identity, topic domain.Topic) error {
	if len(id.Networks) == 0 || slices.Contains(id.Networks, topic.Network) {
		return nil
	}
	return fmt.Errorf("%w: %s may not subscribe to %s", domain.ErrNotAuthorized, id.Subject, topic.Network)
}
