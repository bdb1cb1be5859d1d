// Package vaultcrypto seals vault items with per-user keys.
package vaultcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize  = 32
	SaltSize = 16
)

// ErrDecrypt is returned when a ciphertext cannot be opened with the derived key.
var ErrDecrypt = errors.New("vaultcrypto: unable to decrypt item")

// Keyring derives item keys from a server master secret.
type Keyring struct {
	master []byte
}

// NewKeyring validates the master secret and returns a Keyring.
func NewKeyring(master []byte) (*Keyring, error) {
	if len(master) < keySize {
		return nil, fmt.Errorf("vaultcrypto: master key must be at least %d bytes", keySize)
	}
	m := make([]byte, len(master))
	copy(m, master)
	return &Keyring{master: m}, nil
}

// NewSalt returns a fresh random per-user salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("vaultcrypto: generate salt: %w", err)
	}
	return salt, nil
}

// UserKey derives the AES-256 key for one user.
func (k *Keyring) UserKey(userID int64, salt []byte) ([]byte, error) {
	if len(salt) == 0 {
		return nil, errors.New("vaultcrypto: empty user salt")
	}
	info := []byte("vault-item-key:" + strconv.FormatInt(userID, 10))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, k.master, salt, info), key); err != nil {
		return nil, fmt.Errorf("vaultcrypto: derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext for the given user and item. The item id and user id
// are bound as additional data so ciphertexts cannot be moved between rows.
func (k *Keyring) Seal(userID int64, salt []byte, itemID string, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := k.aead(userID, salt)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("vaultcrypto: generate nonce: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, additionalData(userID, itemID)), nonce, nil
}

// Open reverses Seal.
func (k *Keyring) Open(userID int64, salt []byte, itemID string, ciphertext, nonce []byte) ([]byte, error) {
	aead, err := k.aead(userID, salt)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrDecrypt
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData(userID, itemID))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func (k *Keyring) aead(userID int64, salt []byte) (cipher.AEAD, error) {
	key, err := k.UserKey(userID, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vaultcrypto: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func additionalData(userID int64, itemID string) []byte {
	return []byte(itemID + "|" + strconv.FormatInt(userID, 10))
}
