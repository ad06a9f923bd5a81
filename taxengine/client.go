package taxengine

import (
	"context"

	"github.com/pkg/errors"

	"tax-rpc/rpcerr"
	"tax-rpc/session"
)

// ErrNoResponse means the engine answered without a result. It is not a
// failure of the call.
var ErrNoResponse = errors.New("no response or empty results from tax engine")

// Client is the typed stub of a remote Engine.
type Client struct {
	engine session.Capability
}

// NewClient wraps the capability of a remote Engine, normally the session's
// bootstrap capability.
func NewClient(engine session.Capability) *Client {
	return &Client{engine: engine}
}

// Calculate sends tx and waits for the result. Remote failures come back as
// rpcerr Remote errors; a Return without a result is ErrNoResponse.
func (c *Client) Calculate(ctx context.Context, tx Transaction) (*CalculateResponse, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	var results CalculateResults
	err := c.engine.Call(MethodCalculate, &CalculateParams{Tx: tx}).Decode(ctx, &results)
	switch {
	case errors.Is(err, rpcerr.ErrNoData):
		return nil, ErrNoResponse
	case err != nil:
		return nil, err
	case results.Response == nil:
		return nil, ErrNoResponse
	}
	if results.Response.Breakdown == nil {
		results.Response.Breakdown = []Breakdown{}
	}
	return results.Response, nil
}
