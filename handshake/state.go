package handshake

// State is the position of an episode in the key exchange.
type State int32

const (
	Disconnected State = iota
	KeyPairGenerating
	LocalKeyExchangeSent
	AwaitingPeerPublicKey
	AwaitingPeerSessionKey
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case KeyPairGenerating:
		return "key_pair_generating"
	case LocalKeyExchangeSent:
		return "local_key_exchange_sent"
	case AwaitingPeerPublicKey:
		return "awaiting_peer_public_key"
	case AwaitingPeerSessionKey:
		return "awaiting_peer_session_key"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}
