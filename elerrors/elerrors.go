// Package elerrors defines structured, programmatically identifiable session errors.
package elerrors

import (
	"fmt"
	"strings"
)

// Stage identifies which step of the session failed.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageConnect   Stage = "connect"
	StageHandshake Stage = "handshake"
	StageSecure    Stage = "secure"
	StageRPC       Stage = "rpc"
)

// Code is a stable error identifier.
type Code string

const (
	CodeCrypto         Code = "crypto_error"
	CodeProtocolDesync Code = "protocol_desync"
	CodeTransport      Code = "transport_error"
	CodeTimeout        Code = "timeout"
	CodeRemote         Code = "remote_error"
	CodeCanceled       Code = "canceled"
	CodeClosed         Code = "closed"
	CodeInvalidInput   Code = "invalid_input"
	CodeEncodeFailed   Code = "encode_failed"
	CodeDecodeFailed   Code = "decode_failed"
	CodeDialFailed     Code = "dial_failed"
)

// Error carries the failing stage and a stable code alongside the cause.
type Error struct {
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err annotated with stage and code. A nil err stays nil.
func Wrap(stage Stage, code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Stage: stage, Code: code, Err: err}
}

// RemoteError is a response with status "error". It is returned as a value by
// Send and only becomes an error when the caller asks for one.
type RemoteError struct {
	Status  string
	Message string
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		return "remote error"
	}
	return "remote error: " + msg
}
