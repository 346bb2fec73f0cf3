package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// ─── Secret sealing ─────────────────────────────────────────────────────────
// API keys are sealed with AES-256-GCM under a machine-local key generated
// on first run. If the key file cannot be created or read, the store falls
// back to clear-text storage and flags it via SecretsEncrypted.

// sealer encrypts and decrypts short secrets.
type sealer struct {
	aead cipher.AEAD
}

// newSealer loads the secret key from disk, generating one on first run.
// The key lives in dir/keys/secret.key with owner-only permissions.
func newSealer(dir string) (*sealer, error) {
	keyDir := filepath.Join(dir, "keys")
	keyPath := filepath.Join(keyDir, "secret.key")

	var key []byte
	raw, err := os.ReadFile(keyPath)
	if err == nil {
		key, err = hex.DecodeString(string(raw))
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("secret key at %s is corrupt", keyPath)
		}
	} else {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate secret key: %w", err)
		}
		if err := os.MkdirAll(keyDir, 0700); err != nil {
			return nil, fmt.Errorf("create key dir: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
			return nil, fmt.Errorf("write secret key: %w", err)
		}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

// Seal encrypts a secret, returning base64(nonce || ciphertext).
func (s *sealer) Seal(plain string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (s *sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed secret: %w", err)
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("sealed secret too short")
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("unseal secret: %w", err)
	}
	return string(plain), nil
}
