package defaults

import "time"

const (
	// URL is the production user API endpoint.
	URL = "wss://ws.elemsocial.com/user_api"

	// ConnectTimeout bounds a single WebSocket dial.
	ConnectTimeout = 10 * time.Second
	// WriteTimeout bounds a single frame write.
	WriteTimeout = 10 * time.Second
	// ReconnectDelay is the fixed pause between a closed episode and the next dial.
	ReconnectDelay = 5 * time.Second
	// RequestTimeout is how long a request waits for the response carrying its ray_id.
	RequestTimeout = 5 * time.Second
)

// ReadLimit is the per-frame WebSocket read limit. Responses may carry audio and cover bytes.
const ReadLimit = 64 << 20
