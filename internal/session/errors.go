package session

import (
	"errors"
	"time"
)

// Defaults for a Kuzzle server.
const (
	DefaultRequestTimeout = 5 * time.Second
	DefaultPingInterval   = 5 * time.Second
)

// Errors
var (
	ErrRequestTimeout      = errors.New("request timed out")
	ErrConnectionClosed    = errors.New("connection closed before reply")
	ErrInvalidSubscription = errors.New("subscribe reply missing roomId or channel")
	ErrRoomReleased        = errors.New("room released while subscribing")
)
