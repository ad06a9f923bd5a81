package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/tax-rpc/"

// EtcdRegistry implements the Registry interface using etcd v3.
//
// etcd is a distributed key-value store that provides strong consistency (Raft protocol).
// We use it as a "distributed phonebook" for services:
//
//	Key:   /tax-rpc/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL-based leases: if the server crashes, the lease expires
// and the entry is automatically removed, so no "ghost" instances remain.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]context.CancelFunc // Stops KeepAlive per registered key
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect etcd")
	}
	return &EtcdRegistry{
		client: c,
		logger: logger.Named("registry"),
		leases: make(map[string]context.CancelFunc),
	}, nil
}

func serviceKey(serviceName, addr string) string {
	return keyPrefix + serviceName + "/" + addr
}

// Register adds a service instance to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease
//
// Note: leaseID is a local variable, NOT stored on the struct.
// This prevents a data race when multiple servers share one EtcdRegistry instance.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	// Create a TTL-based lease; if KeepAlive stops, the entry auto-expires
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrap(err, "grant lease")
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := serviceKey(serviceName, instance.Addr)
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}

	// KeepAlive outlives the registration call, so it gets its own context.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return errors.Wrap(err, "keep lease alive")
	}

	r.mu.Lock()
	if prev, ok := r.leases[key]; ok {
		prev()
	}
	r.leases[key] = cancel
	r.mu.Unlock()

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("key", key))
	}()
	r.logger.Info("registered", zap.String("key", key), zap.Int64("ttl", ttl))
	return nil
}

// Deregister removes a service instance from etcd.
// Called during graceful shutdown before closing the listener.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	key := serviceKey(serviceName, addr)

	r.mu.Lock()
	if cancel, ok := r.leases[key]; ok {
		cancel()
		delete(r.leases, key)
	}
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

// Watch monitors a service prefix in etcd and emits updated instance lists
// whenever changes occur (new registrations, deregistrations, lease expirations).
//
// Uses etcd's Watch API (server-push), which is more efficient than polling.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	prefix := keyPrefix + serviceName + "/"

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full instance list
			// (simpler than parsing individual watch events)
			instances, err := r.Discover(ctx, serviceName)
			if err != nil && !errors.Is(err, ErrNoInstances) {
				r.logger.Warn("refresh after watch event", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered instances for a service.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	prefix := keyPrefix + serviceName + "/"

	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", prefix)
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skip malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	if len(instances) == 0 {
		return nil, errors.Wrap(ErrNoInstances, serviceName)
	}
	return instances, nil
}

// Close stops every lease renewal and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for key, cancel := range r.leases {
		cancel()
		delete(r.leases, key)
	}
	r.mu.Unlock()
	return r.client.Close()
}
