// Package protocol implements the binary frame protocol for tax-rpc.
//
// It solves TCP's sticky packet problem by using a fixed-size 10-byte header
// followed by a variable-length body. The receiver reads the header first to
// determine the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10
//	┌──────┬──┬──┬──┬─────────┬───────────────┐
//	│magic │v │ct│mt│ bodyLen │    body ...    │
//	│ txr  │01│  │  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴───────────────┘
//
// Correlation ids live in the body (see package message), so one header layout
// serves every message type.
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Magic number bytes: "txr".
// Used to reject non-protocol connections (e.g., HTTP clients hitting the wrong port).
const (
	MagicNumber byte = 0x74 // 't'
	MagicByte2  byte = 0x78 // 'x'
	MagicByte3  byte = 0x72 // 'r'
	Version     byte = 0x01
	HeaderSize  int  = 10 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame body. Larger frames are rejected
	// before any allocation happens.
	MaxBodyLen uint32 = 16 << 20
)

// MsgType distinguishes the frames of a session.
type MsgType byte

const (
	MsgTypeHello     MsgType = 0 // Handshake, first frame in each direction
	MsgTypeCall      MsgType = 1 // Client → Server RPC call
	MsgTypeReturn    MsgType = 2 // Server → Client RPC result
	MsgTypeHeartbeat MsgType = 3 // KeepAlive probe (no body)
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeHello:
		return "hello"
	case MsgTypeCall:
		return "call"
	case MsgTypeReturn:
		return "return"
	case MsgTypeHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// ErrMalformedFrame is the cause of every validation failure in Decode.
var ErrMalformedFrame = errors.New("malformed frame")

// Header represents the fixed 10-byte frame header.
type Header struct {
	CodecType byte    // Payload serialization: 0=JSON, 1=Binary
	MsgType   MsgType // Hello, Call, Return or Heartbeat
	BodyLen   uint32  // Body length in bytes
}

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different calls will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) != h.BodyLen {
		return errors.Errorf("protocol: body length %d does not match header %d", len(body), h.BodyLen)
	}
	if h.BodyLen > MaxBodyLen {
		return errors.Wrapf(ErrMalformedFrame, "body too large: %d bytes", h.BodyLen)
	}

	// Header and body go out in one Write so a frame is never split
	// between two writers even if the caller forgets the lock.
	buf := make([]byte, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.BodyLen)
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, message type and size.
// Validation failures wrap ErrMalformedFrame; I/O failures are returned as-is.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, errors.Wrapf(ErrMalformedFrame, "invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, errors.Wrapf(ErrMalformedFrame, "unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, errors.Wrapf(ErrMalformedFrame, "unsupported codec type: %d", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeHeartbeat {
		return nil, nil, errors.Wrapf(ErrMalformedFrame, "unsupported message type: %d", headerBuf[5])
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[6:10])
	if bodyLen > MaxBodyLen {
		return nil, nil, errors.Wrapf(ErrMalformedFrame, "body too large: %d bytes", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		BodyLen:   bodyLen,
	}, body, nil
}
