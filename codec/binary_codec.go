package codec

import (
	"encoding"

	"github.com/pkg/errors"
)

// BinaryCodec delegates to the value's own fixed layout.
// Encode needs an encoding.BinaryMarshaler, Decode an encoding.BinaryUnmarshaler.
// Pros: compact, no reflection. Cons: every payload type hand-writes its layout.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	m, ok := v.(encoding.BinaryMarshaler)
	if !ok {
		return nil, errors.Errorf("BinaryCodec: %T does not implement encoding.BinaryMarshaler", v)
	}
	return m.MarshalBinary()
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	u, ok := v.(encoding.BinaryUnmarshaler)
	if !ok {
		return errors.Errorf("BinaryCodec: %T does not implement encoding.BinaryUnmarshaler", v)
	}
	return u.UnmarshalBinary(data)
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
