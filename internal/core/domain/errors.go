package domain

import "errors"

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrInputValidation       = errors.New("input validation failed")
	ErrTransport             = errors.New("transport error")
	ErrCrypto                = errors.New("crypto error")
	ErrCapture               = errors.New("capture error")
	ErrInputDisabled         = errors.New("input disabled")
	ErrInputExecution        = errors.New("input execution failed")
	ErrInvalidTransition     = errors.New("invalid session status transition")
	ErrConnectionNotFound    = errors.New("connection not found")
	ErrUnknownConnectionType = errors.New("unknown connection type")
)
