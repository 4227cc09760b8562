// Package codec serializes session payloads as MessagePack.
//
// Byte strings are written with the msgpack bin family and text with the str
// family, so binary payloads (audio, cover art) survive a round trip unchanged.
// Integers decode as int64 when they fit and as uint64 above math.MaxInt64.
// Maps decode as map[string]any.
package codec

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/ugorji/go/codec"
)

var (
	// ErrEncode wraps serialization failures.
	ErrEncode = errors.New("msgpack encode failed")
	// ErrDecode wraps deserialization failures.
	ErrDecode = errors.New("msgpack decode failed")
	// ErrNotMap is returned by DecodeMap when the payload is not a map.
	ErrNotMap = errors.New("msgpack payload is not a map")
)

var msgpackHandle *codec.MsgpackHandle

// Encode serializes v.
func Encode(v any) ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return out, nil
}

// Decode deserializes b into a generic value.
func Decode(b []byte) (any, error) {
	var v any
	if err := DecodeInto(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeMap deserializes b and requires a top-level map.
func DecodeMap(b []byte) (map[string]any, error) {
	v, err := Decode(b)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotMap
	}
	return m, nil
}

// DecodeInto deserializes b into the value pointed to by ptr.
func DecodeInto(b []byte, ptr any) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: empty input", ErrDecode)
	}
	dec := codec.NewDecoderBytes(b, msgpackHandle)
	if err := dec.Decode(ptr); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	switch p := ptr.(type) {
	case *any:
		*p = normalizeInts(*p)
	case *map[string]any:
		normalizeInts(*p)
	case *[]any:
		normalizeInts(*p)
	}
	return nil
}

// normalizeInts rewrites uint64 values that fit in int64, in place for maps and slices.
func normalizeInts(v any) any {
	switch x := v.(type) {
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeInts(e)
		}
	case []any:
		for i, e := range x {
			x[i] = normalizeInts(e)
		}
	}
	return v
}

func init() {
	msgpackHandle = new(codec.MsgpackHandle)
	msgpackHandle.WriteExt = true
	msgpackHandle.MapType = reflect.TypeOf(map[string]any(nil))
}
