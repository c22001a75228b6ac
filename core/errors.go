package core

import "errors"

var (
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrConnectionFailed    = errors.New("connection failed")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrProtocol            = errors.New("protocol violation")
	ErrServerRejected      = errors.New("server rejected connection")
	ErrTimeout             = errors.New("timeout")
	ErrMaxPayload          = errors.New("payload exceeds server maximum")
	ErrBadSubject          = errors.New("invalid subject")
)
