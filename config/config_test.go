package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tax-rpc/registry"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Listen != "0.0.0.0:50051" {
		t.Fatalf("unexpected listen address %q", cfg.Server.Listen)
	}
	if cfg.Store.CacheTTL != 30*time.Minute {
		t.Fatalf("unexpected cache ttl %v", cfg.Store.CacheTTL)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxd.yaml")
	data := `
server:
  listen: 127.0.0.1:6000
  handler_timeout: 250ms
client:
  balancer: consistent_hash
registry:
  kind: etcd
  endpoints: [127.0.0.1:2379]
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Listen != "127.0.0.1:6000" || cfg.Server.HandlerTimeout != 250*time.Millisecond {
		t.Fatalf("file values not applied: %+v", cfg.Server)
	}
	// Untouched keys keep their defaults.
	if cfg.Client.PoolSize != 1 || cfg.Client.Service != "Engine" {
		t.Fatalf("defaults lost: %+v", cfg.Client)
	}
	if cfg.Registry.Kind != RegistryEtcd || len(cfg.Registry.Endpoints) != 1 {
		t.Fatalf("unexpected registry %+v", cfg.Registry)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expect error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("server: [not, a, map]"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expect parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"codec", func(c *Config) { c.Client.Codec = "capnp" }, "client.codec"},
		{"balancer", func(c *Config) { c.Client.Balancer = "random" }, "client.balancer"},
		{"registry kind", func(c *Config) { c.Registry.Kind = "consul" }, "registry.kind"},
		{"etcd endpoints", func(c *Config) { c.Registry.Kind = RegistryEtcd }, "registry.endpoints"},
		{"pool size", func(c *Config) { c.Client.PoolSize = 0 }, "client.pool_size"},
		{"cache size", func(c *Config) { c.Store.CacheSize = -1 }, "store.cache_size"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expect error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestOpenStaticRegistry(t *testing.T) {
	reg, closeFn, err := Default().Registry.OpenRegistry("127.0.0.1:50051", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if _, ok := reg.(*registry.Static); !ok {
		t.Fatalf("expect static registry, got %T", reg)
	}
	instances, err := reg.Discover(context.Background(), "Engine")
	if err != nil || len(instances) != 1 || instances[0].Addr != "127.0.0.1:50051" {
		t.Fatalf("unexpected instances %v %v", instances, err)
	}
}
