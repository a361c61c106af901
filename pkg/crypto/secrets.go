package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

// EncryptedPrefix - префикс зашифрованных значений в .env
//
//	BYBIT_SECRET_KEY=enc:3q2+7w==...
const EncryptedPrefix = "enc:"

// Ошибки шифрования
var (
	ErrInvalidKeyLength   = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed: authentication error")
	ErrMissingKey         = errors.New("encrypted secret requires CREDENTIALS_KEY")
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt шифрует plaintext AES-256-GCM, nonce пишется перед данными
// Возвращает base64 строку
func Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt расшифровывает результат Encrypt
func Decrypt(ciphertextBase64 string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	nonce, data := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// ParseKey разбирает ключ из переменной окружения
// Поддерживается hex (64 символа), base64 и сырые 32 байта
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == 64 {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	if key, err := base64.StdEncoding.DecodeString(s); err == nil && len(key) == 32 {
		return key, nil
	}
	if len(s) == 32 {
		return []byte(s), nil
	}
	return nil, ErrInvalidKeyLength
}

// GenerateKey генерирует случайный 32-байтный ключ
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// IsEncrypted проверяет наличие префикса enc:
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// RevealSecret возвращает значение секрета из конфигурации
//
// Значения без префикса enc: возвращаются как есть. Для зашифрованных
// нужен ключ, иначе ErrMissingKey.
func RevealSecret(value string, key []byte) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if len(key) == 0 {
		return "", ErrMissingKey
	}
	return Decrypt(strings.TrimPrefix(value, EncryptedPrefix), key)
}

// SealSecret шифрует значение и добавляет префикс enc:
func SealSecret(value string, key []byte) (string, error) {
	ct, err := Encrypt(value, key)
	if err != nil {
		return "", err
	}
	return EncryptedPrefix + ct, nil
}
