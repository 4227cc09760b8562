package envelope

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
)

const (
	// RSABits is the modulus size used for per-episode key pairs.
	RSABits = 2048

	pemPublicKey  = "PUBLIC KEY"
	pemPrivateKey = "PRIVATE KEY"
)

// GenerateKeyPair creates a fresh RSA key pair for one connection episode.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, RSABits)
}

// MaxOAEPPlaintext returns the largest plaintext EncryptOAEP accepts for pub.
func MaxOAEPPlaintext(pub *rsa.PublicKey) int {
	if pub == nil {
		return 0
	}
	return pub.Size() - 2*sha256.Size - 2
}

// EncryptOAEP encrypts msg to pub with RSA-OAEP (SHA-256, empty label).
//
// The message must fit in a single block; there is no chunking.
func EncryptOAEP(pub *rsa.PublicKey, msg []byte) ([]byte, error) {
	if pub == nil {
		return nil, ErrInvalidKey
	}
	if len(msg) > MaxOAEPPlaintext(pub) {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLong, len(msg), MaxOAEPPlaintext(pub))
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return ct, nil
}

// DecryptOAEP decrypts an RSA-OAEP (SHA-256) ciphertext with priv.
func DecryptOAEP(priv *rsa.PrivateKey, ct []byte) ([]byte, error) {
	if priv == nil {
		return nil, ErrInvalidKey
	}
	if len(ct) != priv.Size() {
		return nil, fmt.Errorf("%w: ciphertext length %d, want %d", ErrDecrypt, len(ct), priv.Size())
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), nil, priv, ct, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

// MarshalPublicKey encodes pub as SPKI DER.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, ErrInvalidKey
	}
	return x509.MarshalPKIXPublicKey(pub)
}

// ParsePublicKey decodes an SPKI DER RSA public key.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	k, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an rsa public key", ErrInvalidKey)
	}
	return pub, nil
}

// MarshalPrivateKey encodes priv as PKCS#8 DER.
func MarshalPrivateKey(priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, ErrInvalidKey
	}
	return x509.MarshalPKCS8PrivateKey(priv)
}

// ParsePrivateKey decodes a PKCS#8 DER RSA private key.
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	priv, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an rsa private key", ErrInvalidKey)
	}
	return priv, nil
}

// MarshalPublicKeyPEM armors pub as a "PUBLIC KEY" block with 64-character lines.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := MarshalPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: der})), nil
}

// ParsePublicKeyPEM accepts a "PUBLIC KEY" block, or a bare base64 SPKI body
// with arbitrary whitespace.
func ParsePublicKeyPEM(s string) (*rsa.PublicKey, error) {
	der, err := dearmor(s, pemPublicKey)
	if err != nil {
		return nil, err
	}
	return ParsePublicKey(der)
}

// MarshalPrivateKeyPEM armors priv as a PKCS#8 "PRIVATE KEY" block.
func MarshalPrivateKeyPEM(priv *rsa.PrivateKey) (string, error) {
	der, err := MarshalPrivateKey(priv)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemPrivateKey, Bytes: der})), nil
}

// ParsePrivateKeyPEM is the inverse of MarshalPrivateKeyPEM.
func ParsePrivateKeyPEM(s string) (*rsa.PrivateKey, error) {
	der, err := dearmor(s, pemPrivateKey)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKey(der)
}

func dearmor(s string, blockType string) ([]byte, error) {
	if block, _ := pem.Decode([]byte(s)); block != nil {
		if block.Type != blockType {
			return nil, fmt.Errorf("%w: unexpected pem block %q", ErrInvalidKey, block.Type)
		}
		return block.Bytes, nil
	}
	body := strings.NewReplacer(
		"-----BEGIN "+blockType+"-----", "",
		"-----END "+blockType+"-----", "",
	).Replace(s)
	body = strings.Join(strings.Fields(body), "")
	if body == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	der, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return der, nil
}
