package keystore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLength  = 16
	nonceLength = 12
	keyLength   = 32

	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 1

	pbkdf2Iterations = 100_000
)

// encrypt seals plaintext under a password using the named algorithm, and
// returns the payload stored in the file's data field.
//
// Argon2id payload layout: base64(salt) || 0x00 || nonce || ciphertext‖tag.
// PBKDF2 payload layout: salt || nonce || ciphertext‖tag.
func encrypt(plaintext, password []byte, algorithm string) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("keystore: sample salt: %w", err)
	}
	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keystore: sample nonce: %w", err)
	}

	var key, header []byte
	switch algorithm {
	case AlgorithmArgon2id:
		key = argon2.IDKey(password, salt, argon2Time, argon2Memory, argon2Threads, keyLength)
		saltB64 := base64.StdEncoding.EncodeToString(salt)
		header = append(header, []byte(saltB64)...)
		header = append(header, 0x00)
	case AlgorithmPBKDF2:
		key = pbkdf2.Key(password, salt, pbkdf2Iterations, keyLength, sha256.New)
		header = append(header, salt...)
	default:
		return nil, fmt.Errorf("keystore: unknown algorithm %q", algorithm)
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	payload := append(header, nonce...)
	payload = aead.Seal(payload, nonce, plaintext, nil)
	return payload, nil
}

// decrypt opens a payload produced by encrypt. ErrWrongPassword is returned
// when AEAD verification fails, ErrCorruptFormat when the payload cannot be
// parsed at all.
func decrypt(payload, password []byte, algorithm string) ([]byte, error) {
	var key []byte
	switch algorithm {
	case AlgorithmArgon2id:
		sep := bytes.IndexByte(payload, 0x00)
		if sep < 0 || len(payload) < sep+1+nonceLength {
			return nil, ErrCorruptFormat
		}
		salt, err := base64.StdEncoding.DecodeString(string(payload[:sep]))
		if err != nil {
			return nil, ErrCorruptFormat
		}
		key = argon2.IDKey(password, salt, argon2Time, argon2Memory, argon2Threads, keyLength)
		payload = payload[sep+1:]
	case AlgorithmPBKDF2:
		if len(payload) < saltLength+nonceLength {
			return nil, ErrCorruptFormat
		}
		key = pbkdf2.Key(password, payload[:saltLength], pbkdf2Iterations, keyLength, sha256.New)
		payload = payload[saltLength:]
	default:
		return nil, ErrCorruptFormat
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce, ciphertext := payload[:nonceLength], payload[nonceLength:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	return aead, nil
}
