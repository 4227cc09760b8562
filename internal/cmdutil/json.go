package cmdutil

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
)

// ReadRequest parses a JSON object from raw, or from r when raw is empty.
func ReadRequest(raw string, r io.Reader) (map[string]any, error) {
	src := []byte(strings.TrimSpace(raw))
	if len(src) == 0 {
		if r == nil {
			return nil, Usagef("no request given")
		}
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		src = bytes.TrimSpace(b)
	}
	if len(src) == 0 {
		return nil, Usagef("empty request")
	}
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, Usagef("request is not a json object: %v", err)
	}
	if m == nil {
		return nil, Usagef("request is not a json object")
	}
	return normalizeNumbers(m).(map[string]any), nil
}

// WriteJSON writes v as JSON followed by a newline. Byte slices are written as base64 strings.
func WriteJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(jsonSafe(v))
}

// json.Number values become int64 when integral so they encode as msgpack ints.
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalizeNumbers(e)
		}
		return x
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	default:
		return v
	}
}

// Decoded msgpack may hold map[any]any or []byte, which encoding/json cannot express directly.
func jsonSafe(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = jsonSafe(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[toKey(k)] = jsonSafe(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonSafe(e)
		}
		return out
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	default:
		return v
	}
}

func toKey(k any) string {
	switch s := k.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		b, _ := json.Marshal(s)
		return string(b)
	}
}
