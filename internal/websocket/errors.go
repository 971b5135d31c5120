package websocket

import "errors"

var (
	// ErrConnectionClosed is returned when emitting on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrInvalidJSON is returned when a payload cannot be marshalled.
	ErrInvalidJSON = errors.New("invalid JSON payload")

	// ErrWriteTimeout is returned when the write buffer stays full past the
	// write timeout.
	ErrWriteTimeout = errors.New("write timeout exceeded")
)
