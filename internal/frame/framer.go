package frame

import "io"

// Frame is the common behavior of every decoded frame.
type Frame interface {
	StreamId() StreamId
	Type() Type
	Flags() Flags
	Length() uint32
	readFrom(io.Reader) error
	writeTo(io.Writer) error
}

// A Framer serializes and deserializes frames over a transport.
type Framer interface {
	// WriteFrame writes f to the underlying transport.
	WriteFrame(Frame) error

	// ReadFrame reads and decodes the next frame header from the
	// underlying transport. For a *Data frame, the caller must drain
	// (or discard, via io.Copy to io.Discard) its Reader() before the
	// next call to ReadFrame.
	ReadFrame() (Frame, error)
}

// framer implements Framer over a single io.Reader/io.Writer pair. Each
// concrete frame type is embedded by value so that repeated ReadFrame
// calls reuse the same backing memory instead of allocating — the
// returned Frame aliases the corresponding embedded field.
type framer struct {
	r io.Reader
	w io.Writer

	hdrbuf [headerSize]byte

	data   Data
	wndinc WindowUpdate
	ping   Ping
	goaway GoAway
}

// NewFramer returns a Framer that reads from r and writes to w.
func NewFramer(r io.Reader, w io.Writer) Framer {
	return &framer{r: r, w: w}
}

func (fr *framer) WriteFrame(f Frame) error {
	return f.writeTo(fr.w)
}

func (fr *framer) ReadFrame() (Frame, error) {
	if _, err := io.ReadFull(fr.r, fr.hdrbuf[:]); err != nil {
		return nil, err
	}

	var c common
	if err := c.decodeHeader(fr.hdrbuf[:]); err != nil {
		return nil, err
	}

	var f Frame
	switch c.ftype {
	case TypeData:
		fr.data.common = c
		f = &fr.data
	case TypeWindowUpdate:
		fr.wndinc.common = c
		f = &fr.wndinc
	case TypePing:
		fr.ping.common = c
		f = &fr.ping
	case TypeGoAway:
		fr.goaway.common = c
		f = &fr.goaway
	}
	if err := f.readFrom(fr.r); err != nil {
		return nil, err
	}
	return f, nil
}
