package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/packetwarden/cloudflare-feed/internal/infra"

	"golang.org/x/crypto/bcrypt"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Authorizer решает, может ли запрос писать снапшот.
// Решение вынесено из хендлера, чтобы модель доверия менялась конфигом.
type Authorizer interface {
	Authorize(r *http.Request) error
}

// OpenAuthorizer пропускает всех: эндпоинт открыт, как в исходном поведении.
type OpenAuthorizer struct{}

func (OpenAuthorizer) Authorize(*http.Request) error { return nil }

// TokenAuthorizer сверяет Bearer-токен с bcrypt-хэшем из конфига.
type TokenAuthorizer struct {
	hash []byte
}

func NewTokenAuthorizer(hash string) (*TokenAuthorizer, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("auth: invalid token hash: %w", err)
	}
	return &TokenAuthorizer{hash: []byte(hash)}, nil
}

func (a *TokenAuthorizer) Authorize(r *http.Request) error {
	token := bearerToken(r)
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return fmt.Errorf("%w: token mismatch", ErrUnauthorized)
	}
	return nil
}

// NewAuthorizer собирает реализацию по auth.mode.
func NewAuthorizer(cfg infra.AuthConfig) (Authorizer, error) {
	switch cfg.Mode {
	case "", "open":
		return OpenAuthorizer{}, nil
	case "token":
		return NewTokenAuthorizer(cfg.TokenHash)
	case "jwt":
		key, err := ParseRSAPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		return NewJWTAuthorizer(key, cfg.Scope), nil
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", cfg.Mode)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	h = strings.TrimPrefix(h, "Bearer ")
	return strings.TrimSpace(h)
}
