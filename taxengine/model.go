// Package taxengine is the tax calculation service exposed over tax-rpc:
// the domain model, the IVA calculator, profile and rate resolution, the
// Engine RPC service and its typed client stub.
package taxengine

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// DateLayout is the calendar date format of Transaction.Date.
const DateLayout = "2006-01-02"

var ErrInvalidTransaction = errors.New("invalid transaction")

// Transaction is one sale to be taxed.
type Transaction struct {
	ClientID     string  `json:"clientId" yaml:"client_id"`
	Amount       float64 `json:"amount" yaml:"amount"`
	Jurisdiction string  `json:"jurisdiction" yaml:"jurisdiction"`
	Product      string  `json:"product" yaml:"product"`
	Date         string  `json:"date,omitempty" yaml:"date,omitempty"` // DateLayout; the server fills in today when empty
}

// Validate requires every request field. Partial transactions are never sent.
func (tx *Transaction) Validate() error {
	var missing []string
	if tx.ClientID == "" {
		missing = append(missing, "clientId")
	}
	if tx.Jurisdiction == "" {
		missing = append(missing, "jurisdiction")
	}
	if tx.Product == "" {
		missing = append(missing, "product")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrInvalidTransaction, "missing %s", strings.Join(missing, ", "))
	}
	if math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) || tx.Amount < 0 {
		return errors.Wrapf(ErrInvalidTransaction, "amount %v", tx.Amount)
	}
	return nil
}

// TaxType names a tax. It is a string so that kinds this build does not
// know about still round-trip.
type TaxType string

const (
	TaxIVA       TaxType = "IVA"
	TaxVAT       TaxType = "VAT"
	TaxSellos    TaxType = "Sellos"
	TaxIIBB      TaxType = "IIBB"
	TaxGanancias TaxType = "Ganancias"
)

// Breakdown is the computation of one tax.
type Breakdown struct {
	TaxType TaxType `json:"taxType"`
	Base    float64 `json:"base"`
	Rate    float64 `json:"rate"`
	Amount  float64 `json:"amount"`
}

// CalculateResponse is the result of one calculation. Breakdown is never
// nil once a response has been produced or decoded.
type CalculateResponse struct {
	TotalAmount float64     `json:"totalAmount"`
	Breakdown   []Breakdown `json:"breakdown"`
}

// CalculateParams is the parameter struct of Engine.Calculate.
type CalculateParams struct {
	Tx Transaction `json:"tx"`
}

// CalculateResults is the result struct of Engine.Calculate. A nil Response
// is sent as an empty Return and means "no response".
type CalculateResults struct {
	Response *CalculateResponse `json:"response,omitempty"`
}

// IsEmpty reports whether there is no response to send.
func (r *CalculateResults) IsEmpty() bool { return r.Response == nil }

// Profile is a client's fiscal profile.
type Profile struct {
	ClientID       string         `json:"client_id" yaml:"client_id"`
	FiscalCategory string         `json:"fiscal_category" yaml:"fiscal_category"`
	Config         map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// IvaRate is the IVA rate of a jurisdiction.
type IvaRate struct {
	Jurisdiction string  `json:"jurisdiction" yaml:"jurisdiction"`
	Rate         float64 `json:"rate" yaml:"rate"`
}
