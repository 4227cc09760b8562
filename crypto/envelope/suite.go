package envelope

import "fmt"

// Suite selects how application frames are sealed once the session is Ready.
type Suite uint8

const (
	// SuiteCBC is iv(16) || AES-CBC(PKCS#7). It is what the deployed server speaks.
	SuiteCBC Suite = 1
	// SuiteGCM is nonce(12) || AES-GCM. Both ends must opt in.
	SuiteGCM Suite = 2
)

func (s Suite) String() string {
	switch s {
	case SuiteCBC:
		return "aes-cbc"
	case SuiteGCM:
		return "aes-gcm"
	default:
		return fmt.Sprintf("suite(%d)", uint8(s))
	}
}

// SessionCipher seals and opens application envelopes with a directional session key.
type SessionCipher interface {
	Seal(key []byte, plaintext []byte) ([]byte, error)
	Open(key []byte, env []byte) ([]byte, error)
}

type cbcCipher struct{}

func (cbcCipher) Seal(key []byte, plaintext []byte) ([]byte, error) { return Seal(key, plaintext) }
func (cbcCipher) Open(key []byte, env []byte) ([]byte, error)       { return Open(key, env) }

type gcmCipher struct{}

func (gcmCipher) Seal(key []byte, plaintext []byte) ([]byte, error) { return SealGCM(key, plaintext) }
func (gcmCipher) Open(key []byte, env []byte) ([]byte, error)       { return OpenGCM(key, env) }

// CipherForSuite returns the SessionCipher for s.
func CipherForSuite(s Suite) (SessionCipher, error) {
	switch s {
	case SuiteCBC:
		return cbcCipher{}, nil
	case SuiteGCM:
		return gcmCipher{}, nil
	default:
		return nil, ErrUnsupportedSuite
	}
}
