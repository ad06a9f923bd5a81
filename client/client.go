// Package client finds a server for a service and keeps sessions to it.
//
// Call path: Registry.Discover → Balancer.Pick → per-address session pool →
// Session.Bootstrap().Call → Future.Decode.
package client

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"tax-rpc/loadbalance"
	"tax-rpc/registry"
	"tax-rpc/rpcerr"
	"tax-rpc/session"
)

type Options struct {
	Session  session.Options
	PoolSize int // Sessions per server address; 0 means 1
}

type Client struct {
	registry registry.Registry // find service instance from registry
	balancer loadbalance.Balancer
	opts     Options
	logger   *zap.Logger

	mu     sync.Mutex
	pools  map[string]*sessionPool // sessions for each service instance
	closed bool
}

func NewClient(reg registry.Registry, bal loadbalance.Balancer, opts Options) *Client {
	logger := opts.Session.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		registry: reg,
		balancer: bal,
		opts:     opts,
		logger:   logger.Named("client"),
		pools:    make(map[string]*sessionPool),
	}
}

func (c *Client) pool(addr string) (*sessionPool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, rpcerr.ErrConnectionClosed
	}
	p, ok := c.pools[addr]
	if !ok {
		p = newSessionPool(addr, c.opts.PoolSize, c.dial)
		c.pools[addr] = p
	}
	return p, nil
}

func (c *Client) dial(ctx context.Context, addr string) (*session.Session, error) {
	s, err := session.Dial(ctx, addr, c.opts.Session)
	if err != nil {
		c.logger.Warn("dial failed", zap.String("addr", addr), zap.Error(err))
		return nil, err
	}
	c.logger.Debug("session established", zap.String("addr", addr), zap.String("session_id", s.ID()))
	return s, nil
}

// Bootstrap returns the root capability of an instance of service. key
// selects the instance for affinity-aware balancers (e.g. the client id).
// Discovery and connection failures are rpcerr Connect errors.
func (c *Client) Bootstrap(ctx context.Context, service, key string) (session.Capability, error) {
	instances, err := c.registry.Discover(ctx, service)
	if err != nil {
		return session.Capability{}, rpcerr.Connect(err, "discover %s", service)
	}

	instance, err := c.balancer.Pick(instances, key)
	if err != nil {
		return session.Capability{}, rpcerr.Connect(err, "pick %s instance", service)
	}

	p, err := c.pool(instance.Addr)
	if err != nil {
		return session.Capability{}, err
	}
	s, err := p.Get(ctx)
	if err != nil {
		return session.Capability{}, err
	}
	return s.Bootstrap(), nil
}

// Call invokes methodID on the bootstrap capability of service and decodes
// the result into reply. It waits until the Return arrives or ctx ends.
func (c *Client) Call(ctx context.Context, service, key string, methodID uint16, args, reply any) error {
	bootstrap, err := c.Bootstrap(ctx, service, key)
	if err != nil {
		return err
	}
	return bootstrap.Call(methodID, args).Decode(ctx, reply)
}

// Close closes every pooled session. Calls still pending fail with a Closed error.
func (c *Client) Close() error {
	c.mu.Lock()
	pools := c.pools
	c.pools = make(map[string]*sessionPool)
	c.closed = true
	c.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
	return nil
}
