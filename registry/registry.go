// Package registry maps service names to the addresses serving them.
package registry

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNoInstances is returned by Discover when nothing serves the service.
var ErrNoInstances = errors.New("no service instances")

type ServiceInstance struct {
	Addr    string
	Weight  int // Weight for load balancing
	Version string
}

type Registry interface {
	// Register announces instance under serviceName. ttl is in seconds; a
	// registry that supports leases drops the entry if the owner dies.
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after each change until ctx ends.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
