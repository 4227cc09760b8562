package envelope

import "errors"

var (
	// ErrInvalidKey signals malformed key material (PEM, DER, or symmetric key length).
	ErrInvalidKey = errors.New("invalid key")
	// ErrMessageTooLong signals an RSA-OAEP plaintext larger than one block.
	ErrMessageTooLong = errors.New("message too long for rsa-oaep block")
	// ErrDecrypt signals an asymmetric or authenticated decryption failure.
	ErrDecrypt = errors.New("decrypt failed")
	// ErrInvalidPadding signals a PKCS#7 padding mismatch after CBC decryption.
	ErrInvalidPadding = errors.New("invalid padding")
	// ErrShortEnvelope signals an envelope shorter than its iv/nonce or not block aligned.
	ErrShortEnvelope = errors.New("short envelope")
	// ErrUnsupportedSuite signals an unknown session cipher suite.
	ErrUnsupportedSuite = errors.New("unsupported suite")
)

// IsCryptoError reports whether err originates from a cryptographic primitive in this package.
func IsCryptoError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidKey),
		errors.Is(err, ErrMessageTooLong),
		errors.Is(err, ErrDecrypt),
		errors.Is(err, ErrInvalidPadding),
		errors.Is(err, ErrShortEnvelope),
		errors.Is(err, ErrUnsupportedSuite):
		return true
	default:
		return false
	}
}
