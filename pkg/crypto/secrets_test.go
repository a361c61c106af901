package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"api key", "abc123def456ghi789"},
		{"unicode", "секрет 你好"},
		{"long", strings.Repeat("x", 500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := Encrypt(tt.plaintext, key)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			got, err := Decrypt(ct, key)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if got != tt.plaintext {
				t.Errorf("got %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestDecrypt_Errors(t *testing.T) {
	key, _ := GenerateKey()
	other, _ := GenerateKey()
	ct, _ := Encrypt("secret", key)

	if _, err := Decrypt(ct, other); err != ErrDecryptionFailed {
		t.Errorf("wrong key: got %v, want %v", err, ErrDecryptionFailed)
	}
	if _, err := Decrypt("not base64!!", key); err != ErrInvalidCiphertext {
		t.Errorf("bad base64: got %v", err)
	}
	if _, err := Decrypt(base64.StdEncoding.EncodeToString([]byte("abc")), key); err != ErrCiphertextTooShort {
		t.Errorf("short: got %v", err)
	}
	if _, err := Decrypt(ct, []byte("short")); err != ErrInvalidKeyLength {
		t.Errorf("short key: got %v", err)
	}
}

func TestParseKey(t *testing.T) {
	raw, _ := GenerateKey()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"hex", hex.EncodeToString(raw), false},
		{"base64", base64.StdEncoding.EncodeToString(raw), false},
		{"raw 32 chars", strings.Repeat("k", 32), false},
		{"too short", "abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseKey(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKey err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(key) != 32 {
				t.Errorf("expected 32-byte key, got %d", len(key))
			}
		})
	}
}

func TestRevealSecret(t *testing.T) {
	key, _ := GenerateKey()
	sealed, err := SealSecret("my-secret", key)
	if err != nil {
		t.Fatalf("SealSecret failed: %v", err)
	}
	if !IsEncrypted(sealed) {
		t.Fatalf("sealed value must carry prefix: %s", sealed)
	}

	got, err := RevealSecret(sealed, key)
	if err != nil || got != "my-secret" {
		t.Errorf("RevealSecret = %q, %v", got, err)
	}

	// Открытое значение возвращается как есть
	plain, err := RevealSecret("plain-value", nil)
	if err != nil || plain != "plain-value" {
		t.Errorf("plain value changed: %q, %v", plain, err)
	}

	if _, err := RevealSecret(sealed, nil); err != ErrMissingKey {
		t.Errorf("expected ErrMissingKey, got %v", err)
	}
}
