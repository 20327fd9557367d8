// Package frame implements the yamux wire format: a fixed 12-byte header
// followed, for DATA frames only, by a payload.
package frame

import (
	"encoding/binary"
	"fmt"
)

var order = binary.BigEndian

const (
	// protoVersion is the only version this package emits or accepts.
	protoVersion = 0

	// headerSize is the fixed size of every yamux frame header:
	// version(1) | type(1) | flags(2) | streamId(4) | length(4)
	headerSize = 12
)

// StreamId identifies a stream within a session. Stream id 0 is reserved
// for session-level frames (PING, GOAWAY).
type StreamId uint32

// Type is the 1-byte frame type field.
type Type uint8

const (
	TypeData         Type = 0
	TypeWindowUpdate Type = 1
	TypePing         Type = 2
	TypeGoAway       Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeWindowUpdate:
		return "WINDOW_UPDATE"
	case TypePing:
		return "PING"
	case TypeGoAway:
		return "GO_AWAY"
	default:
		return fmt.Sprintf("UNKNOWN(0x%x)", uint8(t))
	}
}

// Flags is the 2-byte flags bitset.
type Flags uint16

const (
	FlagSYN Flags = 1 << 0
	FlagACK Flags = 1 << 1
	FlagFIN Flags = 1 << 2
	FlagRST Flags = 1 << 3
)

func (f Flags) IsSet(g Flags) bool { return f&g != 0 }
func (f *Flags) Set(g Flags)       { *f |= g }

// ErrorCode is the 32-bit reason code carried in a GO_AWAY frame's length
// field.
type ErrorCode uint32

const (
	ErrorNone     ErrorCode = 0
	ErrorProtocol ErrorCode = 1
	ErrorInternal ErrorCode = 2
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "normal"
	case ErrorProtocol:
		return "protocol error"
	case ErrorInternal:
		return "internal error"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(e))
	}
}

// common holds the decoded fields shared by every frame type and the
// scratch buffer used to serialize/deserialize the header.
type common struct {
	streamId StreamId
	length   uint32
	ftype    Type
	flags    Flags
	hdr      [headerSize]byte
}

func (f *common) StreamId() StreamId { return f.streamId }
func (f *common) Length() uint32     { return f.length }
func (f *common) Type() Type         { return f.ftype }
func (f *common) Flags() Flags       { return f.flags }

func (f *common) Syn() bool { return f.flags.IsSet(FlagSYN) }
func (f *common) Ack() bool { return f.flags.IsSet(FlagACK) }
func (f *common) Fin() bool { return f.flags.IsSet(FlagFIN) }
func (f *common) Rst() bool { return f.flags.IsSet(FlagRST) }

func (f *common) decodeHeader(b []byte) error {
	if b[0] != protoVersion {
		return protoError("unsupported protocol version: %d", b[0])
	}
	ftype := Type(b[1])
	if ftype > TypeGoAway {
		return protoError("unknown frame type: %d", ftype)
	}
	f.ftype = ftype
	f.flags = Flags(order.Uint16(b[2:4]))
	f.streamId = StreamId(order.Uint32(b[4:8]))
	f.length = order.Uint32(b[8:12])
	return nil
}

func (f *common) encodeHeader(ftype Type, flags Flags, streamId StreamId, length uint32) []byte {
	f.ftype = ftype
	f.flags = flags
	f.streamId = streamId
	f.length = length
	b := f.hdr[:]
	b[0] = protoVersion
	b[1] = byte(ftype)
	order.PutUint16(b[2:4], uint16(flags))
	order.PutUint32(b[4:8], uint32(streamId))
	order.PutUint32(b[8:12], length)
	return b
}

func validStreamId(id StreamId) error {
	if id == 0 {
		return protoError("stream id 0 is reserved for session frames")
	}
	return nil
}

func (f *common) String() string {
	return fmt.Sprintf("FRAME[type=%s flags=0x%x stream=%d length=%d]",
		f.Type(), uint16(f.Flags()), f.StreamId(), f.Length())
}
