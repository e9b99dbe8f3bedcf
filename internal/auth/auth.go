package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"workflow-ingest/backend/internal/repository"
	"workflow-ingest/backend/pkg/models"
)

// TokenPrefix marks tokens generated by this service.
const TokenPrefix = "sk_live_"

// maxTokenLength bounds what is hashed and looked up.
const maxTokenLength = 512

var (
	// ErrMissingHeader is returned when no Authorization header was sent.
	ErrMissingHeader = errors.New("missing Authorization header")
	// ErrMalformedHeader is returned when the header is not "Bearer <token>".
	ErrMalformedHeader = errors.New("invalid Authorization header format, expected: Bearer <token>")
	// ErrInvalidToken covers unknown and revoked tokens alike.
	ErrInvalidToken = errors.New("invalid or inactive token")
)

// IsUnauthorized reports whether err means the caller is not authenticated.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrMissingHeader) ||
		errors.Is(err, ErrMalformedHeader) ||
		errors.Is(err, ErrInvalidToken)
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Authenticator resolves bearer tokens to the namespace they authorize.
type Authenticator struct {
	tokens repository.TokenStore
	logger Logger
}

// New creates an Authenticator backed by the given token store.
func New(tokens repository.TokenStore, logger Logger) *Authenticator {
	return &Authenticator{tokens: tokens, logger: logger}
}

// Authenticate returns the namespace of an active token. The lookup is a
// point read on the token digest; unknown and revoked tokens both return
// ErrInvalidToken. Any other error comes from storage.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (models.Namespace, error) {
	if token == "" || len(token) > maxTokenLength || strings.ContainsAny(token, " \t\r\n") {
		return models.Namespace{}, ErrInvalidToken
	}

	t, err := a.tokens.LookupToken(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.Namespace{}, ErrInvalidToken
		}
		return models.Namespace{}, fmt.Errorf("token lookup: %w", err)
	}
	if !t.Active {
		return models.Namespace{}, ErrInvalidToken
	}

	if a.logger != nil {
		a.logger.Debug("token accepted", "namespace", t.Namespace, "token_name", t.Name)
	}
	return models.Namespace{ID: t.Namespace, TokenName: t.Name}, nil
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingHeader
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", ErrMalformedHeader
	}
	return parts[1], nil
}

// HashToken returns the hex SHA-256 digest under which a token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateToken returns a new random token with TokenPrefix.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}
