package codec

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// JSONCodec is the default payload codec. Field names follow the json tags of
// the payload types (clientId, totalAmount, taxType, ...), so payloads stay
// readable in packet captures and logs.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "JSONCodec: encode %T", v)
	}
	return data, nil
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "JSONCodec: decode %T", v)
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
