package server

import "errors"

var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrUnknownOp            = errors.New("unknown operation")
	ErrUnknownCollection    = errors.New("unknown collection")
)
