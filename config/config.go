// Package config loads the YAML configuration shared by taxd and taxclient.
// Command-line flags and environment variables are applied on top by the
// binaries.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"tax-rpc/codec"
	"tax-rpc/loadbalance"
	"tax-rpc/registry"
)

const (
	RegistryStatic = "static"
	RegistryEtcd   = "etcd"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Client   ClientConfig   `yaml:"client"`
	Registry RegistryConfig `yaml:"registry"`
	Store    StoreConfig    `yaml:"store"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Listen         string        `yaml:"listen"`
	Advertise      string        `yaml:"advertise"` // Address announced to the registry
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	RateLimit      float64       `yaml:"rate_limit"` // Calls per second, 0 disables
	RateBurst      int           `yaml:"rate_burst"`
	Retries        int           `yaml:"retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

type ClientConfig struct {
	Service     string        `yaml:"service"`
	Address     string        `yaml:"address"` // Used when the registry is static and lists nothing
	Codec       string        `yaml:"codec"`
	Balancer    string        `yaml:"balancer"`
	PoolSize    int           `yaml:"pool_size"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
}

type RegistryConfig struct {
	Kind        string        `yaml:"kind"`
	Endpoints   []string      `yaml:"endpoints"` // etcd
	Addresses   []string      `yaml:"addresses"` // static
	TTL         int64         `yaml:"ttl"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type StoreConfig struct {
	Path      string        `yaml:"path"` // LevelDB directory; empty keeps data in memory
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	Seed      string        `yaml:"seed"` // Optional seed file applied at startup
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:         "0.0.0.0:50051",
			Advertise:      "127.0.0.1:50051",
			IdleTimeout:    90 * time.Second,
			HandlerTimeout: 5 * time.Second,
			RateBurst:      100,
			RetryDelay:     50 * time.Millisecond,
		},
		Client: ClientConfig{
			Service:     "Engine",
			Address:     "127.0.0.1:50051",
			Codec:       "json",
			Balancer:    "round_robin",
			PoolSize:    1,
			CallTimeout: 10 * time.Second,
			DialTimeout: 5 * time.Second,
			Heartbeat:   30 * time.Second,
		},
		Registry: RegistryConfig{
			Kind:        RegistryStatic,
			TTL:         10,
			DialTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Path:      "data/tax.db",
			CacheSize: 1024,
			CacheTTL:  30 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if _, err := codec.ParseType(c.Client.Codec); err != nil {
		return errors.Wrap(err, "client.codec")
	}
	if _, err := loadbalance.New(c.Client.Balancer); err != nil {
		return errors.Wrap(err, "client.balancer")
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch c.Registry.Kind {
	case RegistryStatic:
	case RegistryEtcd:
		if len(c.Registry.Endpoints) == 0 {
			return errors.New("registry.endpoints: required for etcd")
		}
	default:
		return errors.Errorf("registry.kind: unknown kind %q", c.Registry.Kind)
	}
	switch {
	case c.Client.PoolSize <= 0:
		return errors.New("client.pool_size must be positive")
	case c.Store.CacheSize <= 0:
		return errors.New("store.cache_size must be positive")
	case c.Registry.TTL <= 0:
		return errors.New("registry.ttl must be positive")
	case c.Client.CallTimeout <= 0:
		return errors.New("client.call_timeout must be positive")
	case c.Server.RateLimit < 0 || c.Server.RateBurst <= 0:
		return errors.New("server.rate_limit must be >= 0 and server.rate_burst positive")
	case c.Server.Retries < 0:
		return errors.New("server.retries must be >= 0")
	}
	return nil
}

// OpenRegistry builds the configured registry. A static registry without
// addresses serves fallback. The returned close function releases it.
func (r RegistryConfig) OpenRegistry(fallback string, logger *zap.Logger) (registry.Registry, func() error, error) {
	if r.Kind == RegistryEtcd {
		reg, err := registry.NewEtcdRegistry(r.Endpoints, r.DialTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		return reg, reg.Close, nil
	}
	addrs := r.Addresses
	if len(addrs) == 0 && fallback != "" {
		addrs = []string{fallback}
	}
	return registry.NewStatic(addrs...), func() error { return nil }, nil
}
