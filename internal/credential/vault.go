// Package credential encrypts the Git personal access token at rest.
//
// The token is sealed with AES-256-GCM. The key never touches the config
// directory: it lives in the OS keyring (Keychain, Secret Service, Windows
// Credential Manager) and is generated on first use.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/DylanDDeng/notely-sub000/internal/apperr"
)

const (
	keyringService = "notely"
	keyringUser    = "git-sync-key"

	cipherPrefix = "v1:"
	keySize      = 32
)

// Vault turns a plaintext token into an opaque ciphertext and back.
type Vault interface {
	// Encrypt seals token. Blank input yields an empty ciphertext.
	Encrypt(token string) (string, error)
	// Decrypt opens a ciphertext produced by Encrypt.
	Decrypt(ciphertext string) (string, error)
	// Available reports whether OS-backed secure storage can be used.
	Available() bool
}

// KeyringVault implements Vault with a key held in the OS keyring.
type KeyringVault struct {
	service string
	user    string
}

var _ Vault = (*KeyringVault)(nil)

// NewKeyringVault returns a vault using the default keyring entry.
func NewKeyringVault() *KeyringVault {
	return &KeyringVault{service: keyringService, user: keyringUser}
}

// Available probes the keyring with a harmless lookup.
func (v *KeyringVault) Available() bool {
	_, err := keyring.Get(v.service, v.user)
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

// Encrypt seals token with the keyring key, creating the key if needed.
func (v *KeyringVault) Encrypt(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", nil
	}
	key, err := v.key(true)
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("credential: %w", apperr.ErrEncryptionUnavailable)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credential: nonce: %w", apperr.ErrEncryptionUnavailable)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(token), nil)
	return cipherPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext. Corrupt input or a ciphertext sealed with a
// different key fails with apperr.ErrDecryptionFailed.
func (v *KeyringVault) Decrypt(ciphertext string) (string, error) {
	ciphertext = strings.TrimSpace(ciphertext)
	if ciphertext == "" {
		return "", fmt.Errorf("credential: empty ciphertext: %w", apperr.ErrTokenRequired)
	}
	if !strings.HasPrefix(ciphertext, cipherPrefix) {
		return "", fmt.Errorf("credential: unknown format: %w", apperr.ErrDecryptionFailed)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, cipherPrefix))
	if err != nil {
		return "", fmt.Errorf("credential: decode: %w", apperr.ErrDecryptionFailed)
	}
	key, err := v.key(false)
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("credential: %w", apperr.ErrDecryptionFailed)
	}
	if len(raw) < gcm.NonceSize()+gcm.Overhead() {
		return "", fmt.Errorf("credential: ciphertext too short: %w", apperr.ErrDecryptionFailed)
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("credential: open: %w", apperr.ErrDecryptionFailed)
	}
	return string(plain), nil
}

// key loads the AES key from the keyring. When create is set a missing key
// is generated and stored.
func (v *KeyringVault) key(create bool) ([]byte, error) {
	encoded, err := keyring.Get(v.service, v.user)
	switch {
	case err == nil:
		key, decErr := base64.StdEncoding.DecodeString(encoded)
		if decErr != nil || len(key) != keySize {
			return nil, fmt.Errorf("credential: keyring entry is malformed: %w", apperr.ErrDecryptionFailed)
		}
		return key, nil
	case errors.Is(err, keyring.ErrNotFound):
		if !create {
			return nil, fmt.Errorf("credential: no key in keyring: %w", apperr.ErrDecryptionFailed)
		}
	default:
		return nil, fmt.Errorf("credential: keyring: %v: %w", err, apperr.ErrEncryptionUnavailable)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("credential: generate key: %w", apperr.ErrEncryptionUnavailable)
	}
	if err := keyring.Set(v.service, v.user, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("credential: store key: %v: %w", err, apperr.ErrEncryptionUnavailable)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
