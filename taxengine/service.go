package taxengine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ServiceName is the name the Engine is registered and discovered under.
const ServiceName = "Engine"

// MethodCalculate is the method id of Engine.Calculate.
const MethodCalculate uint16 = 0

// Engine is the RPC service. Register it as the server's first service so it
// is the bootstrap capability.
type Engine struct {
	orchestrator *Orchestrator
	logger       *zap.Logger
	now          func() time.Time
}

func NewEngine(orchestrator *Orchestrator, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{orchestrator: orchestrator, logger: logger.Named("engine"), now: time.Now}
}

// Calculate computes the taxes of params.Tx. Failures reach the caller as a
// remote error "Calculation failed: ...".
func (e *Engine) Calculate(ctx context.Context, params *CalculateParams, results *CalculateResults) error {
	tx := params.Tx
	if tx.Date == "" {
		tx.Date = e.now().Format(DateLayout)
	}
	if err := tx.Validate(); err != nil {
		return errors.Errorf("Calculation failed: %v", err)
	}

	breakdowns, err := e.orchestrator.ProcessCalculation(ctx, &tx)
	if err != nil {
		e.logger.Error("calculation error", zap.String("client_id", tx.ClientID), zap.Error(err))
		return errors.Errorf("Calculation failed: %v", err)
	}

	total := 0.0
	for _, b := range breakdowns {
		total += b.Amount
	}
	results.Response = &CalculateResponse{TotalAmount: total, Breakdown: breakdowns}
	return nil
}
