package client

import "errors"

var (
	ErrMissingURL    = errors.New("missing url")
	ErrNilMessage    = errors.New("nil message")
	ErrSessionClosed = errors.New("session closed")
)
