// Package loadbalance provides load balancing strategies for distributing
// RPC calls across multiple service instances.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless services, equal-capacity instances
//   - WeightedRandom:  Heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  Per-client cache affinity (key = client id)
package loadbalance

import (
	"github.com/pkg/errors"

	"tax-rpc/registry"
)

var ErrNoInstances = errors.New("no instances available")

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before each RPC to select a target instance.
type Balancer interface {
	// Pick selects one instance from the available list. key identifies the
	// caller's affinity group; strategies without affinity ignore it.
	// Called on every RPC call, so it must be goroutine-safe.
	Pick(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer configured by name: "round_robin" (or ""),
// "weighted_random" or "consistent_hash".
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, errors.Errorf("unknown balancer %q", name)
	}
}
