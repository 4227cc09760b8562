package elerrors

import (
	"context"
	"errors"

	"github.com/uasalt/elemlink/codec"
	"github.com/uasalt/elemlink/crypto/envelope"
	"github.com/uasalt/elemlink/handshake"
	"github.com/uasalt/elemlink/rpc"
)

// Classify maps err to a stable Code. An *Error anywhere in the chain wins.
func Classify(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	var re *RemoteError
	switch {
	case errors.As(err, &re):
		return CodeRemote
	case errors.Is(err, rpc.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, rpc.ErrClosed):
		return CodeClosed
	case errors.Is(err, handshake.ErrProtocolDesync):
		return CodeProtocolDesync
	case envelope.IsCryptoError(err), errors.Is(err, handshake.ErrBadKeyExchange):
		return CodeCrypto
	case errors.Is(err, codec.ErrEncode):
		return CodeEncodeFailed
	case errors.Is(err, codec.ErrDecode), errors.Is(err, codec.ErrNotMap):
		return CodeDecodeFailed
	default:
		return CodeTransport
	}
}

// IsRetryable reports whether the failure may succeed on a later attempt without caller changes.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case CodeTimeout, CodeTransport, CodeDialFailed:
		return true
	default:
		return false
	}
}
