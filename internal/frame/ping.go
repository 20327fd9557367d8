package frame

import "io"

// Ping is a session-level keepalive/RTT probe. The stream id field is
// always 0 (reserved for session-level frames); the opaque probe token
// rides in the length field, which carries no payload bytes of its own.
type Ping struct {
	common
}

// Token is the opaque value the peer must echo back in the ACK.
func (f *Ping) Token() uint32 { return f.length }

func (f *Ping) readFrom(r io.Reader) error {
	if f.StreamId() != 0 {
		return protoError("PING frame must target stream 0")
	}
	return nil
}

func (f *Ping) writeTo(w io.Writer) error {
	hdr := f.encodeHeader(TypePing, f.flags, 0, f.length)
	_, err := w.Write(hdr)
	return err
}

// Pack prepares a PING query (ack=false) or PING reply (ack=true) carrying
// token.
func (f *Ping) Pack(token uint32, ack bool) error {
	var flags Flags
	if ack {
		flags.Set(FlagACK)
	} else {
		flags.Set(FlagSYN)
	}
	f.flags = flags
	f.streamId = 0
	f.length = token
	return nil
}
