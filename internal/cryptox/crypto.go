package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	saltSize = 16
	keySize  = 32
)

var (
	// ErrSealedFormat is returned when a sealed blob has no valid header.
	ErrSealedFormat = errors.New("not a sealed blob")
	// ErrDecrypt is returned when the passphrase is wrong or the data was tampered with.
	ErrDecrypt = errors.New("decryption failed")
)

var sealedMagic = []byte("LSSEAL1\x00")

// DeriveKey derives a 256-bit key from a passphrase with argon2id.
func DeriveKey(passphrase []byte, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, keySize)
}

// Encrypt encrypts plaintext with AES-GCM under key using a fresh random
// nonce. The key must be 16, 24 or 32 bytes long.
func Encrypt(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = common.GenerateRandByteArray(aesgcm.NonceSize())
	return aesgcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt reverses Encrypt.
func Decrypt(ciphertext, nonce, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce size %d", ErrDecrypt, len(nonce))
	}
	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	return plaintext, nil
}

// Seal encrypts plaintext with a key derived from passphrase.
//
// Layout: magic | salt(16) | nonce(12) | ciphertext.
func Seal(plaintext, passphrase []byte) ([]byte, error) {
	salt := common.GenerateRandByteArray(saltSize)
	key := DeriveKey(passphrase, salt)
	defer common.WipeByteArray(key)

	ciphertext, nonce, err := Encrypt(plaintext, key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(sealedMagic)+len(salt)+len(nonce)+len(ciphertext))
	out = append(out, sealedMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Unseal reverses Seal.
func Unseal(sealed, passphrase []byte) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, ErrSealedFormat
	}
	rest := sealed[len(sealedMagic):]
	const nonceSize = 12
	if len(rest) < saltSize+nonceSize {
		return nil, fmt.Errorf("%w: truncated header", ErrSealedFormat)
	}
	salt, nonce, ciphertext := rest[:saltSize], rest[saltSize:saltSize+nonceSize], rest[saltSize+nonceSize:]

	key := DeriveKey(passphrase, salt)
	defer common.WipeByteArray(key)

	return Decrypt(ciphertext, nonce, key)
}

// IsSealed reports whether b starts with the sealed header.
func IsSealed(b []byte) bool {
	return bytes.HasPrefix(b, sealedMagic)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
