package client

import (
	"context"
	"sync"

	"tax-rpc/rpcerr"
	"tax-rpc/session"
)

// sessionPool holds up to size sessions to one address. Sessions multiplex,
// so callers share them instead of borrowing: Get hands out slots in turn.
//
// Slots start empty and are filled lazily; a slot whose session has died is
// redialed the next time it is handed out.
type sessionPool struct {
	addr string
	dial func(ctx context.Context, addr string) (*session.Session, error)

	mu     sync.Mutex
	slots  []*session.Session
	next   int
	closed bool
}

func newSessionPool(addr string, size int, dial func(context.Context, string) (*session.Session, error)) *sessionPool {
	if size <= 0 {
		size = 1
	}
	return &sessionPool{
		addr:  addr,
		dial:  dial,
		slots: make([]*session.Session, size),
	}
}

// Get returns a live session, dialing one if the next slot is empty or dead.
// Dialing holds the pool lock so concurrent callers never exceed size sessions.
func (p *sessionPool) Get(ctx context.Context) (*session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, rpcerr.ErrConnectionClosed
	}

	idx := p.next % len(p.slots)
	p.next++
	if s := p.slots[idx]; s != nil && s.Alive() {
		return s, nil
	}

	s, err := p.dial(ctx, p.addr)
	if err != nil {
		return nil, err
	}
	p.slots[idx] = s
	return s, nil
}

// Live returns the number of sessions that can still issue calls.
func (p *sessionPool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.slots {
		if s != nil && s.Alive() {
			n++
		}
	}
	return n
}

// Close shuts down the pool and closes all sessions.
func (p *sessionPool) Close() error {
	p.mu.Lock()
	slots := p.slots
	p.slots = make([]*session.Session, len(slots))
	p.closed = true
	p.mu.Unlock()

	for _, s := range slots {
		if s != nil {
			s.Close()
		}
	}
	return nil
}
