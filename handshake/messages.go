package handshake

const (
	// TypeKeyExchange carries a PEM public key in a JSON text frame.
	TypeKeyExchange = "key_exchange"
	// TypeAESKey is the session-key message type the deployed peer speaks.
	TypeAESKey = "aes_key"
	// TypeSessionKey is accepted as an alias of TypeAESKey.
	TypeSessionKey = "session_key"
)

// keyExchange is the bootstrap text frame. Both sides send one.
type keyExchange struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// sessionKey is the RSA-OAEP sealed msgpack body carrying a base64 AES key.
type sessionKey struct {
	Type string `codec:"type"`
	Key  string `codec:"key"`
}

func isSessionKeyType(t string) bool {
	return t == TypeAESKey || t == TypeSessionKey
}
