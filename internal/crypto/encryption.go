package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
)

// KeyEnv names the environment variable holding the base64 encryption key
const KeyEnv = "ENCRYPTION_KEY"

// EncryptionManager handles AES-256 encryption/decryption of stored secrets
type EncryptionManager struct {
	key []byte
}

// NewEncryptionManagerFromEnv builds a manager from ENCRYPTION_KEY.
// Unlike a server process there is nothing to keep a generated key alive
// between runs, so a missing key is an error.
func NewEncryptionManagerFromEnv() (*EncryptionManager, error) {
	keyStr := strings.TrimSpace(os.Getenv(KeyEnv))
	if keyStr == "" {
		return nil, fmt.Errorf("%s is not set", KeyEnv)
	}
	return NewEncryptionManager(keyStr)
}

// NewEncryptionManager creates a manager from a base64 encoded key
func NewEncryptionManager(keyStr string) (*EncryptionManager, error) {
	decoded, err := base64.StdEncoding.DecodeString(keyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format (must be base64): %w", KeyEnv, err)
	}

	// Derive a 32 byte key when the supplied one has another length
	key := decoded
	if len(decoded) != 32 {
		hash := sha256.Sum256(decoded)
		key = hash[:]
	}

	return &EncryptionManager{key: key}, nil
}

// GenerateKey returns a random base64 encoded 32-byte key
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt encrypts plaintext using AES-256-GCM
func (em *EncryptionManager) Encrypt(plaintext string) ([]byte, error) {
	aesGCM, err := em.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aesGCM.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt decrypts ciphertext using AES-256-GCM
func (em *EncryptionManager) Decrypt(ciphertext []byte) (string, error) {
	aesGCM, err := em.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// EncryptString encrypts plaintext and returns it base64 encoded
func (em *EncryptionManager) EncryptString(plaintext string) (string, error) {
	ciphertext, err := em.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString decodes base64 ciphertext produced by EncryptString
func (em *EncryptionManager) DecryptString(encoded string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	return em.Decrypt(ciphertext)
}

func (em *EncryptionManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(em.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}
