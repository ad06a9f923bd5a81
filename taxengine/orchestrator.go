package taxengine

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrProfileNotFound = errors.New("profile not found")

// Orchestrator runs one calculation: profile, rate, then the calculators.
type Orchestrator struct {
	resolver *ProfileResolver
	iva      IVACalculator
	logger   *zap.Logger
}

func NewOrchestrator(resolver *ProfileResolver, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{resolver: resolver, logger: logger.Named("orchestrator")}
}

// ProcessCalculation returns the tax breakdowns of tx.
func (o *Orchestrator) ProcessCalculation(ctx context.Context, tx *Transaction) ([]Breakdown, error) {
	o.logger.Info("processing calculation", zap.String("client_id", tx.ClientID))

	profile, err := o.resolver.Resolve(ctx, tx.ClientID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, errors.Wrap(ErrProfileNotFound, tx.ClientID)
	}

	rate, err := o.resolver.ResolveIvaRate(ctx, tx.Jurisdiction)
	if err != nil {
		return nil, err
	}

	return []Breakdown{o.iva.Calculate(tx, profile, rate)}, nil
}
