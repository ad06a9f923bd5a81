package registry

import (
	"context"

	"github.com/pkg/errors"
)

// Static serves a fixed address list from configuration. Every service name
// resolves to the same addresses; registration is a no-op.
type Static struct {
	instances []ServiceInstance
}

func NewStatic(addrs ...string) *Static {
	s := &Static{}
	for _, addr := range addrs {
		s.instances = append(s.instances, ServiceInstance{Addr: addr, Weight: 1})
	}
	return s
}

func (s *Static) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	return nil
}

func (s *Static) Deregister(ctx context.Context, serviceName string, addr string) error {
	return nil
}

func (s *Static) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	if len(s.instances) == 0 {
		return nil, errors.Wrap(ErrNoInstances, serviceName)
	}
	out := make([]ServiceInstance, len(s.instances))
	copy(out, s.instances)
	return out, nil
}

// Watch emits the fixed list once and closes the channel when ctx ends.
func (s *Static) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	if instances, err := s.Discover(ctx, serviceName); err == nil {
		ch <- instances
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}
