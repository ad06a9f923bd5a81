package store

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"tax-rpc/taxengine"
)

// Writer is a repository that can be seeded.
type Writer interface {
	PutProfile(ctx context.Context, p *taxengine.Profile) error
	PutIvaRate(ctx context.Context, r *taxengine.IvaRate) error
}

// Seed is the content of a seed file:
//
//	profiles:
//	  - client_id: client_1
//	    fiscal_category: RESPONSABLE_INSCRIPTO
//	iva_rates:
//	  - jurisdiction: DEFAULT
//	    rate: 0.21
type Seed struct {
	Profiles []taxengine.Profile `yaml:"profiles"`
	IvaRates []taxengine.IvaRate `yaml:"iva_rates"`
}

func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "parse seed")
	}
	for i, p := range s.Profiles {
		if p.ClientID == "" || p.FiscalCategory == "" {
			return nil, errors.Errorf("seed profile %d: client_id and fiscal_category are required", i)
		}
	}
	for i, r := range s.IvaRates {
		if r.Jurisdiction == "" || r.Rate < 0 {
			return nil, errors.Errorf("seed rate %d: jurisdiction required and rate must be >= 0", i)
		}
	}
	return &s, nil
}

func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read seed")
	}
	return ParseSeed(data)
}

// Apply writes every profile and rate of the seed to w.
func (s *Seed) Apply(ctx context.Context, w Writer) error {
	for i := range s.Profiles {
		if err := w.PutProfile(ctx, &s.Profiles[i]); err != nil {
			return err
		}
	}
	for i := range s.IvaRates {
		if err := w.PutIvaRate(ctx, &s.IvaRates[i]); err != nil {
			return err
		}
	}
	return nil
}
