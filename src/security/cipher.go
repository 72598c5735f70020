package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const keySize = 32

var (
	ErrInvalidSeed = errors.New("key seed is not a permutation of the scrambled key")
	ErrInvalidKey  = errors.New("aes key must be 16, 24 or 32 bytes")
)

// counterIV is the initial CTR block: a 128-bit big-endian counter starting at 1.
func counterIV() []byte {
	iv := make([]byte, aes.BlockSize)
	iv[aes.BlockSize-1] = 1
	return iv
}

func ctrStream(keyB64 string) (cipher.Stream, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, counterIV()), nil
}

// NewKey returns a random AES-256 key in base64.
func NewKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt returns the base64 AES-CTR ciphertext of plain under the base64 key.
func Encrypt(plain, keyB64 string) (string, error) {
	stream, err := ctrStream(keyB64)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(plain))
	stream.XORKeyStream(out, []byte(plain))
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func Decrypt(cipherB64, keyB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return "", fmt.Errorf("decode cipher text: %w", err)
	}
	stream, err := ctrStream(keyB64)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(raw))
	stream.XORKeyStream(out, raw)
	return string(out), nil
}

// UnscrambleKey restores a key whose characters were shuffled: the character
// at position j of scrambled originally sat at position seed[j].
func UnscrambleKey(scrambled string, seed []int) (string, error) {
	if len(seed) != len(scrambled) {
		return "", ErrInvalidSeed
	}

	key := make([]byte, len(scrambled))
	seen := make([]bool, len(scrambled))
	for j, pos := range seed {
		if pos < 0 || pos >= len(key) || seen[pos] {
			return "", ErrInvalidSeed
		}
		seen[pos] = true
		key[pos] = scrambled[j]
	}
	return string(key), nil
}

// ScrambleKey is the inverse of UnscrambleKey. Operators use it when rotating keys.
func ScrambleKey(key string, seed []int) (string, error) {
	if len(seed) != len(key) {
		return "", ErrInvalidSeed
	}

	out := make([]byte, len(key))
	seen := make([]bool, len(key))
	for j, pos := range seed {
		if pos < 0 || pos >= len(key) || seen[pos] {
			return "", ErrInvalidSeed
		}
		seen[pos] = true
		out[j] = key[pos]
	}
	return string(out), nil
}

// LedgerPassword decrypts the configured ledger password.
func LedgerPassword(cfg Config) (string, error) {
	if cfg.LedgerPasswordCipher == "" {
		return "", errors.New("ledger password cipher not set")
	}

	key, err := UnscrambleKey(cfg.ScrambledKey, cfg.KeySeed)
	if err != nil {
		return "", err
	}
	return Decrypt(cfg.LedgerPasswordCipher, key)
}
