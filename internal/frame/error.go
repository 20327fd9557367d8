package frame

import "fmt"

// ErrorType classifies a decoding failure so the session layer can decide
// whether it is fatal to the whole connection or scoped to one stream.
type ErrorType int

const (
	ErrorTypeFrameSize ErrorType = iota
	ErrorTypeProtocol
	ErrorTypeProtocolStream
)

// Error wraps a decoding failure with its ErrorType.
type Error struct {
	errorType ErrorType
	error
}

func (e *Error) Type() ErrorType { return e.errorType }
func (e *Error) Err() error      { return e.error }

func frameSizeError(length uint32, name string) error {
	return &Error{ErrorTypeFrameSize, fmt.Errorf("illegal %s frame length: %d", name, length)}
}

func protoError(fmtstr string, args ...interface{}) error {
	return &Error{ErrorTypeProtocol, fmt.Errorf(fmtstr, args...)}
}

func protoStreamError(fmtstr string, args ...interface{}) error {
	return &Error{ErrorTypeProtocolStream, fmt.Errorf(fmtstr, args...)}
}
