package client

import (
	"strings"

	"github.com/uasalt/elemlink/elerrors"
)

// Message is one request or response payload. Keys are msgpack map keys.
type Message map[string]any

const (
	FieldRayID   = "ray_id"
	FieldType    = "type"
	FieldStatus  = "status"
	FieldMessage = "message"

	StatusSuccess = "success"
	StatusError   = "error"
)

func (m Message) RayID() string  { return m.str(FieldRayID) }
func (m Message) Type() string   { return m.str(FieldType) }
func (m Message) Status() string { return m.str(FieldStatus) }

// Err returns a *RemoteError when the response has status "error", and nil otherwise.
func (m Message) Err() error {
	if !strings.EqualFold(m.Status(), StatusError) {
		return nil
	}
	return &elerrors.RemoteError{Status: m.Status(), Message: m.str(FieldMessage)}
}

// clone copies the top-level map so injecting ray_id never touches the caller's value.
func (m Message) clone() Message {
	out := make(Message, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m Message) str(key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}
