package meta

import (
	"errors"
	"fmt"
)

// Error types for meta protocol operations. They let callers decide whether a
// connection can be reused after a failure.

// ClientError represents a CLIENT_ERROR response from memcached.
// The server rejected the client's input and the parsing state is undefined,
// so the connection must be closed.
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return "CLIENT_ERROR: " + e.Message
}

func (e *ClientError) ShouldCloseConnection() bool {
	return true
}

// ServerError represents a SERVER_ERROR response from memcached.
// The protocol state is still valid; the connection can be reused.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "SERVER_ERROR: " + e.Message
}

func (e *ServerError) ShouldCloseConnection() bool {
	return false
}

// GenericError represents a generic ERROR response, typically an unknown
// command or protocol violation. The connection state is uncertain.
type GenericError struct {
	Message string
}

func (e *GenericError) Error() string {
	return e.Message
}

func (e *GenericError) ShouldCloseConnection() bool {
	return true
}

// InvalidKeyError is returned when a key fails client-side validation.
// The connection is still valid, the request was never sent.
type InvalidKeyError struct {
	Message string
}

func (e *InvalidKeyError) Error() string {
	return e.Message
}

// ParseError represents a client-side parsing failure: either a protocol
// violation by the server or a parser bug. The connection must be closed.
type ParseError struct {
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "parse error: " + e.Message + ": " + e.Err.Error()
	}
	return "parse error: " + e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) ShouldCloseConnection() bool {
	return true
}

// ConnectionError wraps underlying I/O errors from connection operations.
type ConnectionError struct {
	Op  string // operation that failed (read, write, dial)
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// ErrorWithConnectionState is implemented by errors that indicate whether the
// connection should be closed.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether an error requires closing the
// connection. Unknown error types are treated conservatively.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	return true
}
