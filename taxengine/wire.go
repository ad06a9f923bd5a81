package taxengine

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Binary layout used with the binary codec. All integers are big-endian,
// floats are IEEE-754 bits, strings are u16 length-prefixed UTF-8.
//
//	CalculateParams:  clientId | amount f64 | jurisdiction | product | date
//	CalculateResults: present u8 | [totalAmount f64 | count u32 | count × Breakdown]
//	Breakdown:        taxType | base f64 | rate f64 | amount f64

var errShortData = errors.New("short data")

type encoder struct{ buf []byte }

func (e *encoder) str(s string) error {
	if len(s) > math.MaxUint16 {
		return errors.Errorf("string of %d bytes too long", len(s))
	}
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(len(s)))
	e.buf = append(e.buf, s...)
	return nil
}

func (e *encoder) f64(v float64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(v))
}

type decoder struct {
	data []byte
	err  error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.data) < n {
		d.err = errShortData
		return nil
	}
	b := d.data[:n]
	d.data = d.data[n:]
	return b
}

func (d *decoder) str() string {
	n := d.take(2)
	if n == nil {
		return ""
	}
	return string(d.take(int(binary.BigEndian.Uint16(n))))
}

func (d *decoder) f64() float64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) u8() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (p *CalculateParams) MarshalBinary() ([]byte, error) {
	e := &encoder{}
	tx := p.Tx
	if err := e.str(tx.ClientID); err != nil {
		return nil, err
	}
	e.f64(tx.Amount)
	for _, s := range []string{tx.Jurisdiction, tx.Product, tx.Date} {
		if err := e.str(s); err != nil {
			return nil, err
		}
	}
	return e.buf, nil
}

func (p *CalculateParams) UnmarshalBinary(data []byte) error {
	d := &decoder{data: data}
	p.Tx = Transaction{
		ClientID:     d.str(),
		Amount:       d.f64(),
		Jurisdiction: d.str(),
		Product:      d.str(),
		Date:         d.str(),
	}
	return errors.Wrap(d.err, "decode calculate params")
}

func (r *CalculateResults) MarshalBinary() ([]byte, error) {
	e := &encoder{}
	if r.Response == nil {
		return append(e.buf, 0), nil
	}
	e.buf = append(e.buf, 1)
	e.f64(r.Response.TotalAmount)
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(r.Response.Breakdown)))
	for _, b := range r.Response.Breakdown {
		if err := e.str(string(b.TaxType)); err != nil {
			return nil, err
		}
		e.f64(b.Base)
		e.f64(b.Rate)
		e.f64(b.Amount)
	}
	return e.buf, nil
}

func (r *CalculateResults) UnmarshalBinary(data []byte) error {
	d := &decoder{data: data}
	r.Response = nil
	if d.u8() == 0 {
		return errors.Wrap(d.err, "decode calculate results")
	}
	resp := &CalculateResponse{TotalAmount: d.f64()}
	n := d.u32()
	// Each row takes at least 26 bytes; reject counts the data cannot hold.
	if d.err == nil && uint64(n)*26 > uint64(len(d.data)) {
		return errors.Wrapf(errShortData, "decode calculate results: %d rows", n)
	}
	resp.Breakdown = make([]Breakdown, 0, n)
	for i := uint32(0); i < n && d.err == nil; i++ {
		resp.Breakdown = append(resp.Breakdown, Breakdown{
			TaxType: TaxType(d.str()),
			Base:    d.f64(),
			Rate:    d.f64(),
			Amount:  d.f64(),
		})
	}
	if d.err != nil {
		return errors.Wrap(d.err, "decode calculate results")
	}
	r.Response = resp
	return nil
}
