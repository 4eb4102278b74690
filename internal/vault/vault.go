// Package vault encrypts small secrets, such as remote folder passwords, before
// they are written to the settings table.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

var (
	ErrMalformed = errors.New("vault: malformed sealed value")
	ErrTampered  = errors.New("vault: authentication failed")
)

const (
	prefix   = "v1:"
	saltSize = 16
	macSize  = sha256.Size

	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

type Vault struct {
	passphrase []byte
}

func New(passphrase string) (*Vault, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, errors.New("vault: passphrase is required")
	}
	return &Vault{passphrase: []byte(passphrase)}, nil
}

// Seal encrypts plain with AES-256-CBC under a key derived from a fresh salt,
// then authenticates salt, IV and ciphertext with HMAC-SHA256. The result is
// "v1:" followed by hex.
func (v *Vault) Seal(plain string) (string, error) {
	salt := make([]byte, saltSize)
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	encKey, macKey, err := v.keys(salt)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return "", err
	}

	padded := pad([]byte(plain))
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	payload := make([]byte, 0, saltSize+aes.BlockSize+len(ciphertext)+macSize)
	payload = append(payload, salt...)
	payload = append(payload, iv...)
	payload = append(payload, ciphertext...)
	payload = append(payload, sum(macKey, payload)...)
	return prefix + hex.EncodeToString(payload), nil
}

func (v *Vault) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, prefix) {
		return "", ErrMalformed
	}
	payload, err := hex.DecodeString(strings.TrimPrefix(sealed, prefix))
	if err != nil {
		return "", ErrMalformed
	}
	if len(payload) < saltSize+2*aes.BlockSize+macSize {
		return "", ErrMalformed
	}

	body, mac := payload[:len(payload)-macSize], payload[len(payload)-macSize:]
	salt := body[:saltSize]
	iv := body[saltSize : saltSize+aes.BlockSize]
	ciphertext := body[saltSize+aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return "", ErrMalformed
	}

	encKey, macKey, err := v.keys(salt)
	if err != nil {
		return "", err
	}
	if !hmac.Equal(mac, sum(macKey, body)) {
		return "", ErrTampered
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return "", err
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)
	plain, err = unpad(plain)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (v *Vault) keys(salt []byte) (encKey []byte, macKey []byte, err error) {
	derived, err := scrypt.Key(v.passphrase, salt, scryptN, scryptR, scryptP, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("vault: derive key: %w", err)
	}
	return derived[:32], derived[32:], nil
}

func sum(key []byte, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrMalformed
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrMalformed
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrMalformed
		}
	}
	return b[:len(b)-n], nil
}
