package codec

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

type amount struct {
	Currency string  `json:"currency"`
	Value    float64 `json:"value"`
}

func (a *amount) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8+len(a.Currency))
	binary.BigEndian.PutUint64(buf, math.Float64bits(a.Value))
	copy(buf[8:], a.Currency)
	return buf, nil
}

func (a *amount) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return errors.New("short")
	}
	a.Value = math.Float64frombits(binary.BigEndian.Uint64(data))
	a.Currency = string(data[8:])
	return nil
}

func TestCodecs(t *testing.T) {
	for _, ct := range []CodecType{CodecTypeJSON, CodecTypeBinary} {
		c := GetCodec(ct)
		if c.Type() != ct {
			t.Fatalf("GetCodec(%v) returned %v", ct, c.Type())
		}

		data, err := c.Encode(&amount{Currency: "ARS", Value: 1000.5})
		if err != nil {
			t.Fatalf("%v Encode failed: %v", ct, err)
		}

		var decoded amount
		if err := c.Decode(data, &decoded); err != nil {
			t.Fatalf("%v Decode failed: %v", ct, err)
		}
		if decoded.Currency != "ARS" || decoded.Value != 1000.5 {
			t.Errorf("%v mismatch: got %+v", ct, decoded)
		}
	}
}

func TestBinaryCodecRequiresMarshaler(t *testing.T) {
	c := &BinaryCodec{}
	if _, err := c.Encode(struct{ A int }{1}); err == nil {
		t.Fatal("expected error encoding a plain struct")
	}
	var v struct{ A int }
	if err := c.Decode([]byte{1}, &v); err == nil {
		t.Fatal("expected error decoding into a plain struct")
	}
}

func TestParseType(t *testing.T) {
	cases := map[string]CodecType{"": CodecTypeJSON, "json": CodecTypeJSON, "binary": CodecTypeBinary}
	for name, want := range cases {
		got, err := ParseType(name)
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseType("gob"); err == nil {
		t.Error("expected error for unknown codec")
	}
}
