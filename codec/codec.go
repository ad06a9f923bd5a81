// Package codec serializes call parameters and results.
//
// The frame header carries the codec type, so a server answers each call with
// the codec the client chose.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}

// ParseType maps a configuration name to a codec type.
func ParseType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", name)
	}
}
