package overlay

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField reports a Config without guild or channel id.
	ErrMissingField = errors.New("incomplete client config")
	// ErrNotFound reports a missing or mistyped envelope field.
	ErrNotFound = errors.New("request resources not found")
	// ErrClosed reports an operation on a client closed by its owner.
	ErrClosed = errors.New("overlay client closed")
	// ErrConnectionClosed reports that the transport went away while the
	// operation was outstanding.
	ErrConnectionClosed = errors.New("overlay connection closed")
	// ErrReplyDropped reports a request abandoned before it was written, so
	// no reply will ever arrive for it.
	ErrReplyDropped = errors.New("reply dropped before delivery")
)

// Handshake stages reported by BuildError.
const (
	StageConfig       = "config"
	StageConnect      = "connect"
	StageReady        = "ready"
	StageAuthorize    = "authorize"
	StageToken        = "token"
	StageAuthenticate = "authenticate"
)

// BuildError is returned by Connect when the client could not be built.
type BuildError struct {
	Stage string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("overlay build failed at %s: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Client operations reported by ClientError.
const (
	OpSend      = "send"
	OpAwait     = "await"
	OpDecode    = "decode"
	OpSubscribe = "subscribe"
)

// ClientError is returned by a single client operation. The client itself
// stays usable unless the cause is ErrClosed or ErrConnectionClosed.
type ClientError struct {
	Op  string
	Err error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("overlay %s: %v", e.Op, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

func buildError(stage string, err error) error {
	return &BuildError{Stage: stage, Err: err}
}

func clientError(op string, err error) error {
	var ce *ClientError
	if errors.As(err, &ce) {
		return err
	}
	return &ClientError{Op: op, Err: err}
}
