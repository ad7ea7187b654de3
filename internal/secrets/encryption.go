package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	saltSize = 16
	keyInfo  = "actcore-secret-encryption"
)

// Encryptor handles encryption/decryption of secret values.
// Every secret gets its own salt, so its AES key is unique even though all
// keys derive from one master key.
type Encryptor struct {
	masterKey []byte
	keyRef    string
}

// NewEncryptor creates an encryptor from a 32-byte hex-encoded master key.
func NewEncryptor(masterKeyHex string) (*Encryptor, error) {
	if masterKeyHex == "" {
		return nil, errors.New("encryption master key is required")
	}

	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid master key format (must be hex): %w", err)
	}
	return NewEncryptorFromKey(masterKey)
}

// NewEncryptorFromKey creates an encryptor from raw key bytes.
func NewEncryptorFromKey(masterKey []byte) (*Encryptor, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (64 hex characters), got %d bytes", len(masterKey))
	}

	sum := sha256.Sum256(masterKey)
	key := make([]byte, 32)
	copy(key, masterKey)
	return &Encryptor{
		masterKey: key,
		keyRef:    hex.EncodeToString(sum[:8]),
	}, nil
}

// GenerateMasterKey returns a fresh random hex-encoded master key.
func GenerateMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate master key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// KeyRef identifies the master key without revealing it.
func (e *Encryptor) KeyRef() string {
	return e.keyRef
}

// deriveKey derives the per-secret AES-256 key using HKDF.
func (e *Encryptor) deriveKey(salt []byte) ([]byte, error) {
	if len(salt) != saltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", saltSize, len(salt))
	}

	hkdfReader := hkdf.New(sha256.New, e.masterKey, salt, []byte(keyInfo))

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

func (e *Encryptor) gcm(salt []byte) (cipher.AEAD, error) {
	key, err := e.deriveKey(salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt encrypts plaintext with AES-256-GCM under a fresh salt and nonce.
func (e *Encryptor) Encrypt(plaintext []byte) (ciphertext, salt, nonce []byte, err error) {
	salt = make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := e.gcm(salt)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, plaintext, nil), salt, nonce, nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(ciphertext, salt, nonce []byte) ([]byte, error) {
	gcm, err := e.gcm(salt)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
