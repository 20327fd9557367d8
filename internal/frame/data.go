package frame

import "io"

// Data carries a stream's payload bytes and, via the shared flags, can open
// a stream (SYN), acknowledge an open (ACK), or half-close it (FIN).
type Data struct {
	common

	toRead  io.LimitedReader // set on decode: the caller reads the payload from the transport
	toWrite []byte           // set on encode
}

// Reader returns an io.Reader bounded to exactly this frame's payload. It
// must be fully drained (or the stream reset) before the next frame is
// read from the underlying transport.
func (f *Data) Reader() io.Reader { return &f.toRead }

// Bytes returns the payload queued for writing.
func (f *Data) Bytes() []byte { return f.toWrite }

func (f *Data) readFrom(r io.Reader) error {
	if f.StreamId() == 0 {
		return protoError("DATA frame must not target stream 0")
	}
	f.toRead.R = r
	f.toRead.N = int64(f.Length())
	return nil
}

func (f *Data) writeTo(w io.Writer) error {
	hdr := f.encodeHeader(TypeData, f.flags, f.streamId, uint32(len(f.toWrite)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(f.toWrite) == 0 {
		return nil
	}
	_, err := w.Write(f.toWrite)
	return err
}

// Pack prepares a DATA frame carrying data, with syn/fin set as requested.
func (f *Data) Pack(streamId StreamId, data []byte, syn, fin bool) error {
	if err := validStreamId(streamId); err != nil {
		return err
	}
	var flags Flags
	if syn {
		flags.Set(FlagSYN)
	}
	if fin {
		flags.Set(FlagFIN)
	}
	f.flags = flags
	f.streamId = streamId
	f.toWrite = data
	return nil
}
