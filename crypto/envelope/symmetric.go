package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// SessionKeyLen is the AES-256 session key size.
	SessionKeyLen = 32
	// IVLen is the CBC initialization vector size prefixed to every session envelope.
	IVLen = aes.BlockSize
	// NonceLen is the GCM nonce size prefixed to authenticated envelopes.
	NonceLen = 12
)

// GenerateSessionKey returns a random AES-256 key.
func GenerateSessionKey() ([]byte, error) {
	k := make([]byte, SessionKeyLen)
	if _, err := rand.Read(k); err != nil {
		return nil, err
	}
	return k, nil
}

// EncodeSessionKey renders a session key the way it travels in the session-key frame.
func EncodeSessionKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeSessionKey parses a base64 session key and validates its AES key size.
func DecodeSessionKey(s string) ([]byte, error) {
	k, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if err := checkAESKey(k); err != nil {
		return nil, err
	}
	return k, nil
}

// DeriveKey hashes a passphrase into an AES-256 key with SHA-256.
func DeriveKey(passphrase string) [SessionKeyLen]byte {
	return sha256.Sum256([]byte(passphrase))
}

// EncryptCBC pads plaintext (PKCS#7) and encrypts it with AES-CBC under a fresh random IV.
func EncryptCBC(key []byte, plaintext []byte) (iv []byte, ciphertext []byte, err error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, IVLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, err
	}
	padded := pad(plaintext, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return iv, ciphertext, nil
}

// DecryptCBC reverses EncryptCBC.
//
// CBC carries no integrity check: a wrong key or a tampered frame is only
// detected when the padding does not verify.
func DecryptCBC(key []byte, iv []byte, ciphertext []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVLen {
		return nil, fmt.Errorf("%w: iv length %d", ErrShortEnvelope, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrShortEnvelope, len(ciphertext))
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return unpad(out, aes.BlockSize)
}

// Seal encrypts plaintext with AES-CBC and returns iv || ciphertext.
func Seal(key []byte, plaintext []byte) ([]byte, error) {
	iv, ct, err := EncryptCBC(key, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(iv)+len(ct))
	out = append(out, iv...)
	return append(out, ct...), nil
}

// Open splits iv || ciphertext and decrypts it with AES-CBC.
func Open(key []byte, env []byte) ([]byte, error) {
	if len(env) < IVLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortEnvelope, len(env))
	}
	return DecryptCBC(key, env[:IVLen], env[IVLen:])
}

// SealGCM encrypts plaintext with AES-GCM and returns nonce || ciphertext || tag.
func SealGCM(key []byte, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceLen, NonceLen+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenGCM reverses SealGCM and rejects tampered or misdirected envelopes.
func OpenGCM(key []byte, env []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(env) < NonceLen+aead.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortEnvelope, len(env))
	}
	pt, err := aead.Open(nil, env[:NonceLen], env[NonceLen:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

func newBlock(key []byte) (cipher.Block, error) {
	if err := checkAESKey(key); err != nil {
		return nil, err
	}
	return aes.NewCipher(key)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	a, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if a.NonceSize() != NonceLen {
		return nil, fmt.Errorf("unexpected gcm nonce size: %d", a.NonceSize())
	}
	return a, nil
}

func checkAESKey(key []byte) error {
	switch len(key) {
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("%w: aes key length %d", ErrInvalidKey, len(key))
	}
}

func pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, ErrInvalidPadding
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}
