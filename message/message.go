// Package message defines the bodies of the frames exchanged by a session.
//
// A Call travels client → server and names a capability and one of its
// methods; a Return travels back carrying the same CallID. Hello is exchanged
// once in each direction when a connection is established.
//
// Bodies use a fixed big-endian layout:
//
//	Call:   callId uint64 | capabilityId uint32 | methodId uint16 | params ...
//	Return: callId uint64 | status uint8 | payload ...
//	Hello:  len16 version | len16 peer | len16 sessionId
//
// Params and payload are opaque here; the codec package owns their encoding.
package message

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	callHeaderSize   = 8 + 4 + 2
	returnHeaderSize = 8 + 1
)

// ErrShortBody is the cause of every decode failure caused by truncation.
var ErrShortBody = errors.New("message: body too short")

// Status tells the caller how to interpret a Return payload.
type Status uint8

const (
	StatusOK    Status = 0 // Payload holds the encoded result (may be empty: no data)
	StatusError Status = 1 // Payload holds a UTF-8 error message
)

// Call carries a single RPC invocation.
type Call struct {
	CallID       uint64 // Unique per connection, echoed by the Return
	CapabilityID uint32 // Target object; 0 is the bootstrap capability
	MethodID     uint16 // Ordinal of the method on the target
	Params       []byte // Encoded arguments
}

// Return carries the outcome of a Call.
type Return struct {
	CallID  uint64
	Status  Status
	Payload []byte
}

// Hello is the handshake body.
type Hello struct {
	Version   string // Semantic version of the sender's protocol implementation
	Peer      string // Free-form peer name, for logs
	SessionID string // Assigned by the server; empty in the client's Hello
}

// ErrorReturn builds a status=error Return for the given call.
func ErrorReturn(callID uint64, msg string) *Return {
	return &Return{CallID: callID, Status: StatusError, Payload: []byte(msg)}
}

// Err returns the error message of a status=error Return, or "".
func (r *Return) Err() string {
	if r.Status != StatusError {
		return ""
	}
	return string(r.Payload)
}

func (c *Call) MarshalBinary() ([]byte, error) {
	buf := make([]byte, callHeaderSize+len(c.Params))
	binary.BigEndian.PutUint64(buf[0:8], c.CallID)
	binary.BigEndian.PutUint32(buf[8:12], c.CapabilityID)
	binary.BigEndian.PutUint16(buf[12:14], c.MethodID)
	copy(buf[callHeaderSize:], c.Params)
	return buf, nil
}

func (c *Call) UnmarshalBinary(data []byte) error {
	if len(data) < callHeaderSize {
		return errors.Wrapf(ErrShortBody, "call: %d bytes", len(data))
	}
	c.CallID = binary.BigEndian.Uint64(data[0:8])
	c.CapabilityID = binary.BigEndian.Uint32(data[8:12])
	c.MethodID = binary.BigEndian.Uint16(data[12:14])
	c.Params = append([]byte(nil), data[callHeaderSize:]...)
	return nil
}

func (r *Return) MarshalBinary() ([]byte, error) {
	buf := make([]byte, returnHeaderSize+len(r.Payload))
	binary.BigEndian.PutUint64(buf[0:8], r.CallID)
	buf[8] = byte(r.Status)
	copy(buf[returnHeaderSize:], r.Payload)
	return buf, nil
}

func (r *Return) UnmarshalBinary(data []byte) error {
	if len(data) < returnHeaderSize {
		return errors.Wrapf(ErrShortBody, "return: %d bytes", len(data))
	}
	status := Status(data[8])
	if status != StatusOK && status != StatusError {
		return errors.Errorf("message: unknown return status %d", status)
	}
	r.CallID = binary.BigEndian.Uint64(data[0:8])
	r.Status = status
	r.Payload = append([]byte(nil), data[returnHeaderSize:]...)
	return nil
}

func (h *Hello) MarshalBinary() ([]byte, error) {
	fields := []string{h.Version, h.Peer, h.SessionID}
	size := 0
	for _, f := range fields {
		if len(f) > 0xFFFF {
			return nil, errors.Errorf("message: hello field too long (%d bytes)", len(f))
		}
		size += 2 + len(f)
	}
	buf := make([]byte, size)
	offset := 0
	for _, f := range fields {
		binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(f)))
		offset += 2
		copy(buf[offset:], f)
		offset += len(f)
	}
	return buf, nil
}

func (h *Hello) UnmarshalBinary(data []byte) error {
	var fields [3]string
	offset := 0
	for i := range fields {
		if len(data)-offset < 2 {
			return errors.Wrapf(ErrShortBody, "hello: field %d length", i)
		}
		n := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if len(data)-offset < n {
			return errors.Wrapf(ErrShortBody, "hello: field %d", i)
		}
		fields[i] = string(data[offset : offset+n])
		offset += n
	}
	h.Version, h.Peer, h.SessionID = fields[0], fields[1], fields[2]
	return nil
}
