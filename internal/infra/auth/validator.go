package auth

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// IngestClaims: claims токена продюсера.
type IngestClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// JWTAuthorizer проверяет RS256 токен и наличие нужного scope.
type JWTAuthorizer struct {
	publicKey *rsa.PublicKey
	scope     string
}

func NewJWTAuthorizer(pubKey *rsa.PublicKey, scope string) *JWTAuthorizer {
	return &JWTAuthorizer{publicKey: pubKey, scope: scope}
}

func (a *JWTAuthorizer) Authorize(r *http.Request) error {
	tokenStr := bearerToken(r)
	if tokenStr == "" {
		return fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims, err := a.VerifyToken(tokenStr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if a.scope != "" && !slices.Contains(claims.Scopes, a.scope) {
		return fmt.Errorf("%w: scope %s not granted", ErrUnauthorized, a.scope)
	}
	return nil
}

// VerifyToken проверяет JWT токен, подписанный асимметричным ключом RS256.
func (a *JWTAuthorizer) VerifyToken(tokenStr string) (*IngestClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &IngestClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.publicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*IngestClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	return claims, nil
}

// ParseRSAPublicKey превращает []byte в объект для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
