package yamux

import (
	"errors"

	"github.com/ngrok/yamux/internal/frame"
)

// ErrorCode classifies why an operation failed, mirroring the taxonomy a
// wire-compatible embedder on any language needs: invalid arguments,
// transport I/O, a peer or local protocol violation, and so on.
type ErrorCode uint32

const (
	NoError ErrorCode = iota
	ErrorCodeInvalid
	ErrorCodeIO
	ErrorCodeClosed
	ErrorCodeTimeout
	ErrorCodeProtocol
	ErrorCodeInternal
	ErrorCodeInvalidStream
	ErrorCodeWouldBlock
	ErrorCodeRemoteGoneAway
	ErrorCodeStreamsExhausted
	ErrorCodeAcceptBacklogFull

	ErrorCodeUnknown ErrorCode = 0xFF
)

var (
	ErrInvalid             = newErr(ErrorCodeInvalid, errors.New("invalid argument"))
	ErrSessionClosed       = newErr(ErrorCodeClosed, errors.New("session closed"))
	ErrStreamClosed        = newErr(ErrorCodeClosed, errors.New("stream closed"))
	ErrTimeout             = newErr(ErrorCodeTimeout, errors.New("timed out"))
	ErrInvalidStream       = newErr(ErrorCodeInvalidStream, errors.New("no such stream"))
	ErrRemoteGoneAway      = newErr(ErrorCodeRemoteGoneAway, errors.New("remote end has gone away"))
	ErrStreamsExhausted    = newErr(ErrorCodeStreamsExhausted, errors.New("stream ids exhausted"))
	ErrAcceptBacklogFull   = newErr(ErrorCodeAcceptBacklogFull, errors.New("accept backlog full"))
	errFlowControlViolated = newErr(ErrorCodeProtocol, errors.New("flow control violated"))
)

// yamuxError pairs an ErrorCode with the underlying cause so GetError can
// recover the code without the caller needing a type switch per package.
type yamuxError struct {
	ErrorCode
	error
}

func (e *yamuxError) Error() string {
	if e.error != nil {
		return e.error.Error()
	}
	return "<nil>"
}

func (e *yamuxError) Unwrap() error { return e.error }

func newErr(code ErrorCode, err error) error {
	return &yamuxError{code, err}
}

// GetError extracts the ErrorCode from an error returned by this package.
// Errors from other sources classify as ErrorCodeUnknown.
func GetError(err error) (ErrorCode, error) {
	if err == nil {
		return NoError, nil
	}
	var e *yamuxError
	if errors.As(err, &e) {
		return e.ErrorCode, e.error
	}
	return ErrorCodeUnknown, err
}

// fromFrameError maps a frame-codec decoding failure onto the session's
// error taxonomy; both frame size and protocol violations are session-
// level protocol errors from the embedder's point of view.
func fromFrameError(err error) error {
	var fe *frame.Error
	if errors.As(err, &fe) {
		return newErr(ErrorCodeProtocol, err)
	}
	return err
}
