package frame

import "io"

// WindowUpdate grants the peer additional send-window credit for a stream.
// The same frame type also carries the SYN and SYN|ACK handshake (with the
// sender's initial window as the delta) and an RST abort (with no credit
// delta); flags decide, see Pack.
type WindowUpdate struct {
	common
}

// Delta is the window increment this frame grants, in bytes.
func (f *WindowUpdate) Delta() uint32 { return f.length }

func (f *WindowUpdate) readFrom(r io.Reader) error {
	if f.StreamId() == 0 {
		return protoError("WINDOW_UPDATE frame must not target stream 0")
	}
	return nil
}

func (f *WindowUpdate) writeTo(w io.Writer) error {
	hdr := f.encodeHeader(TypeWindowUpdate, f.flags, f.streamId, f.length)
	_, err := w.Write(hdr)
	return err
}

// Pack prepares a WINDOW_UPDATE frame. delta is the additional send window
// granted to the peer; it may be zero when the frame exists only to carry
// syn/ack/fin/rst.
func (f *WindowUpdate) Pack(streamId StreamId, delta uint32, syn, ack, fin, rst bool) error {
	if err := validStreamId(streamId); err != nil {
		return err
	}
	var flags Flags
	if syn {
		flags.Set(FlagSYN)
	}
	if ack {
		flags.Set(FlagACK)
	}
	if fin {
		flags.Set(FlagFIN)
	}
	if rst {
		flags.Set(FlagRST)
	}
	f.flags = flags
	f.streamId = streamId
	f.length = delta
	return nil
}
