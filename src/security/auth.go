package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthService validates callers of the external ingest and admin endpoints.
// Two schemes are accepted: a signed HS256 bearer token (for integrations that
// can mint their own), or a static API key checked against a bcrypt hash from
// config (for simple local scripts).
type AuthService struct {
	JWTSecret  string
	APIKeyHash string
}

func NewAuthService(secret, apiKeyHash string) *AuthService {
	return &AuthService{JWTSecret: secret, APIKeyHash: apiKeyHash}
}

// GenerateToken mints a bearer token for the named caller, valid for the given
// duration. Used by operators to hand out integration tokens.
func (a *AuthService) GenerateToken(subject string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(ttl).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.JWTSecret))
}

// ValidateToken checks a bearer token and returns its subject.
func (a *AuthService) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("token missing subject")
	}
	return sub, nil
}

// ValidateAPIKey compares a presented key against the configured bcrypt hash.
func (a *AuthService) ValidateAPIKey(key string) error {
	if a.APIKeyHash == "" {
		return errors.New("no API key configured")
	}
	return bcrypt.CompareHashAndPassword([]byte(a.APIKeyHash), []byte(key))
}

// HashAPIKey produces the bcrypt hash stored in API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
