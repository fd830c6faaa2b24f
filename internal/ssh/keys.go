package ssh

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/TheGojiOG/sshbackup/internal/crypto"
	"golang.org/x/crypto/ssh"
)

const encryptedKeyHeader = "ENC1\n"

// ReadPrivateKeyBytes reads a private key file and decrypts it if it uses ENC1 encoding.
func ReadPrivateKeyBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	if !bytes.HasPrefix(data, []byte(encryptedKeyHeader)) {
		return data, nil
	}

	payload := strings.TrimSpace(string(data[len(encryptedKeyHeader):]))
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted key: %w", err)
	}

	manager, err := crypto.NewEncryptionManagerFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption manager: %w", err)
	}

	plaintext, err := manager.Decrypt(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}

	return []byte(plaintext), nil
}

// EncodeEncryptedKey wraps a private key in the ENC1 file format.
func EncodeEncryptedKey(manager *crypto.EncryptionManager, key []byte) ([]byte, error) {
	encoded, err := manager.EncryptString(string(key))
	if err != nil {
		return nil, err
	}
	return []byte(encryptedKeyHeader + encoded + "\n"), nil
}

// LoadSigner reads and parses a private key for public key authentication.
func LoadSigner(path string) (ssh.Signer, error) {
	key, err := ReadPrivateKeyBytes(path)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}

	return signer, nil
}
