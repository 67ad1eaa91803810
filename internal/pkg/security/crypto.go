package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// MasterKey is the global 32-byte key used to encrypt the metadata file.
var MasterKey []byte

// InitMasterKey initializes the master key from the PULSE_MASTER_KEY
// environment variable, a key file, or generates a fresh one (persisted
// to keyPath). Returns (true, nil) if a new key was generated.
func InitMasterKey(keyPath string) (bool, error) {
	if envKey := os.Getenv("PULSE_MASTER_KEY"); envKey != "" {
		key, err := hex.DecodeString(envKey)
		if err == nil && len(key) == 32 {
			MasterKey = key
			return false, nil
		}
	}

	if _, err := os.Stat(keyPath); err == nil {
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return false, fmt.Errorf("failed to read key file: %w", err)
		}
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err == nil && len(key) == 32 {
			MasterKey = key
			return false, nil
		}
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return false, fmt.Errorf("failed to generate random key: %w", err)
	}

	keyHex := hex.EncodeToString(key)
	if err := os.WriteFile(keyPath, []byte(keyHex), 0600); err != nil {
		return false, fmt.Errorf("failed to save master key to %s: %w", keyPath, err)
	}

	MasterKey = key
	return true, nil
}

// Encrypt encrypts plaintext using AES-GCM and returns nonce + ciphertext.
func Encrypt(plaintext []byte) ([]byte, error) {
	if len(MasterKey) != 32 {
		return nil, errors.New("master key not initialized or invalid length")
	}

	block, err := aes.NewCipher(MasterKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts nonce + ciphertext produced by Encrypt.
func Decrypt(data []byte) ([]byte, error) {
	if len(MasterKey) != 32 {
		return nil, errors.New("master key not initialized or invalid length")
	}

	block, err := aes.NewCipher(MasterKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
