package crypto

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifyToken(t *testing.T) {
	hash, err := HashToken("status-token", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashToken failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") {
		t.Errorf("unexpected hash prefix: %s", hash)
	}

	if err := VerifyToken("status-token", hash); err != nil {
		t.Errorf("VerifyToken failed: %v", err)
	}
	if err := VerifyToken("wrong", hash); err != ErrTokenMismatch {
		t.Errorf("expected ErrTokenMismatch, got %v", err)
	}
	if !TokenMatches("status-token", hash) {
		t.Error("TokenMatches should be true")
	}
}

func TestHashToken_Errors(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrEmptyToken},
		{"too long", strings.Repeat("a", 73), ErrTokenTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := HashToken(tt.token, bcrypt.MinCost); err != tt.want {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerifyToken_InvalidHash(t *testing.T) {
	if err := VerifyToken("token", ""); err != ErrInvalidHash {
		t.Errorf("empty hash: got %v", err)
	}
	if err := VerifyToken("token", "not-a-hash"); err != ErrInvalidHash {
		t.Errorf("garbage hash: got %v", err)
	}
}
