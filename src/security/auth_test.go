package security

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuthService("test-secret", "")

	token, err := auth.GenerateToken("sync-script", time.Hour)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	subject, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("validating token: %v", err)
	}
	if subject != "sync-script" {
		t.Errorf("subject = %q, want sync-script", subject)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	auth := NewAuthService("test-secret", "")
	token, err := auth.GenerateToken("caller", time.Hour)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	other := NewAuthService("different-secret", "")
	if _, err := other.ValidateToken(token); err == nil {
		t.Error("token signed with another secret was accepted")
	}
}

func TestTokenExpired(t *testing.T) {
	auth := NewAuthService("test-secret", "")
	token, err := auth.GenerateToken("caller", -time.Minute)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	if _, err := auth.ValidateToken(token); err == nil {
		t.Error("expired token was accepted")
	}
}

func TestAPIKeyValidation(t *testing.T) {
	hash, err := HashAPIKey("s3cret-key")
	if err != nil {
		t.Fatalf("hashing key: %v", err)
	}
	auth := NewAuthService("", hash)

	if err := auth.ValidateAPIKey("s3cret-key"); err != nil {
		t.Errorf("correct key rejected: %v", err)
	}
	if err := auth.ValidateAPIKey("wrong-key"); err == nil {
		t.Error("wrong key accepted")
	}

	unconfigured := NewAuthService("", "")
	if err := unconfigured.ValidateAPIKey("anything"); err == nil {
		t.Error("key accepted with no configured hash")
	}
}
