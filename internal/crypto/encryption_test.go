package crypto

import (
	"encoding/base64"
	"testing"
)

func testKey() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Setenv(KeyEnv, testKey())

	manager, err := NewEncryptionManagerFromEnv()
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	encoded, err := manager.EncryptString("secret")
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}

	plaintext, err := manager.DecryptString(encoded)
	if err != nil {
		t.Fatalf("failed to decrypt: %v", err)
	}

	if plaintext != "secret" {
		t.Fatalf("expected plaintext to match, got %s", plaintext)
	}
}

func TestNewEncryptionManagerFromEnvRequiresKey(t *testing.T) {
	t.Setenv(KeyEnv, "")

	if _, err := NewEncryptionManagerFromEnv(); err == nil {
		t.Fatalf("expected missing key to be rejected")
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	manager, err := NewEncryptionManager(testKey())
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	encoded, err := manager.EncryptString("secret")
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}

	otherKey, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	other, err := NewEncryptionManager(otherKey)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	if _, err := other.DecryptString(encoded); err == nil {
		t.Fatalf("expected decryption with another key to fail")
	}
}

func TestShortKeyIsDerived(t *testing.T) {
	manager, err := NewEncryptionManager(base64.StdEncoding.EncodeToString([]byte("short")))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	if len(manager.key) != 32 {
		t.Fatalf("expected derived 32 byte key, got %d", len(manager.key))
	}
}
