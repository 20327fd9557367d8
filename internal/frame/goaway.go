package frame

import "io"

// GoAway tells the peer no new streams will be accepted on this session.
type GoAway struct {
	common
}

// ErrorCode is the reason the session is going away.
func (f *GoAway) ErrorCode() ErrorCode { return ErrorCode(f.length) }

func (f *GoAway) readFrom(r io.Reader) error {
	if f.StreamId() != 0 {
		return protoError("GO_AWAY frame must target stream 0, got %d", f.StreamId())
	}
	return nil
}

func (f *GoAway) writeTo(w io.Writer) error {
	hdr := f.encodeHeader(TypeGoAway, 0, 0, uint32(f.length))
	_, err := w.Write(hdr)
	return err
}

// Pack prepares a GO_AWAY frame carrying reason.
func (f *GoAway) Pack(reason ErrorCode) error {
	f.streamId = 0
	f.flags = 0
	f.length = uint32(reason)
	return nil
}
