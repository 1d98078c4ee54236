package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	cipherVersion = "v1:"
	saltSize      = 16
	keySize       = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var ErrDecrypt = errors.New("failed to decrypt wallet key")

// Cipher encrypts key material at rest with AES-256-GCM under a key derived
// from a server passphrase. Every encryption uses a fresh salt and nonce.
type Cipher struct {
	passphrase []byte
	n          int
}

func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("wallet passphrase is empty")
	}
	return &Cipher{passphrase: []byte(passphrase), n: scryptN}, nil
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(c.passphrase, salt, c.n, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt returns "v1:" followed by hex(salt || nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to read salt: %w", err)
	}
	aead, err := c.aead(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, []byte(cipherVersion))
	return cipherVersion + hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Tampered or foreign ciphertexts fail with
// ErrDecrypt.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	if !strings.HasPrefix(encoded, cipherVersion) {
		return nil, fmt.Errorf("%w: unknown format", ErrDecrypt)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(encoded, cipherVersion))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < saltSize {
		return nil, fmt.Errorf("%w: too short", ErrDecrypt)
	}
	aead, err := c.aead(raw[:saltSize])
	if err != nil {
		return nil, err
	}
	raw = raw[saltSize:]
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: too short", ErrDecrypt)
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, []byte(cipherVersion))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
