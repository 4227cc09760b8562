package client

import "github.com/uasalt/elemlink/elerrors"

type Error = elerrors.Error

type RemoteError = elerrors.RemoteError

type Stage = elerrors.Stage

const (
	StageValidate  = elerrors.StageValidate
	StageConnect   = elerrors.StageConnect
	StageHandshake = elerrors.StageHandshake
	StageSecure    = elerrors.StageSecure
	StageRPC       = elerrors.StageRPC
)

type Code = elerrors.Code

const (
	CodeCrypto         = elerrors.CodeCrypto
	CodeProtocolDesync = elerrors.CodeProtocolDesync
	CodeTransport      = elerrors.CodeTransport
	CodeTimeout        = elerrors.CodeTimeout
	CodeRemote         = elerrors.CodeRemote
	CodeCanceled       = elerrors.CodeCanceled
	CodeClosed         = elerrors.CodeClosed
	CodeInvalidInput   = elerrors.CodeInvalidInput
	CodeEncodeFailed   = elerrors.CodeEncodeFailed
	CodeDecodeFailed   = elerrors.CodeDecodeFailed
	CodeDialFailed     = elerrors.CodeDialFailed
)
