package session

import (
	"context"
	"sync"

	"tax-rpc/codec"
	"tax-rpc/rpcerr"
)

// Future is the result slot of one call. It is resolved exactly once, either
// with a payload or with an error; later resolutions are ignored.
type Future struct {
	callID uint64
	codec  codec.Codec

	once    sync.Once
	done    chan struct{}
	payload []byte
	err     error
}

func newFuture(callID uint64, c codec.Codec) *Future {
	return &Future{callID: callID, codec: c, done: make(chan struct{})}
}

// CallID returns the id the call was sent with.
func (f *Future) CallID() uint64 { return f.callID }

// resolve fulfils the future with a payload. It reports whether this call won.
func (f *Future) resolve(payload []byte) bool {
	won := false
	f.once.Do(func() {
		f.payload = payload
		won = true
		close(f.done)
	})
	return won
}

// resolveError fulfils the future with an error. It reports whether this call won.
func (f *Future) resolveError(err error) bool {
	won := false
	f.once.Do(func() {
		f.err = err
		won = true
		close(f.done)
	})
	return won
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx ends. A context error leaves
// the future pending; a late Return still resolves it.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.payload, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Join is Wait without a deadline.
func (f *Future) Join() ([]byte, error) {
	<-f.done
	return f.payload, f.err
}

// Decode waits for the result and decodes it into v with the session codec.
// A successful call without a body yields rpcerr.ErrNoData.
func (f *Future) Decode(ctx context.Context, v any) error {
	payload, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return rpcerr.ErrNoData
	}
	if err := f.codec.Decode(payload, v); err != nil {
		return rpcerr.Protocol(err, "decode result of call %d", f.callID)
	}
	return nil
}
