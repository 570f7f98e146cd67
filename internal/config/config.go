// Package config loads, validates, and compares the proxy's TOML
// configuration: one [admin] section plus one [pools.<name>] section
// per shard pool.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/go-cmp/cmp"

	"github.com/redishard/redishard/internal/proxyerr"
)

// Config is the fully decoded, validated contents of a config file.
type Config struct {
	Admin Admin           `toml:"admin"`
	Pools map[string]Pool `toml:"pools"`
}

// Admin describes the admin listener.
type Admin struct {
	Listen string `toml:"listen"`
	// NotifyOnDrop, when true, writes a farewell error line to every
	// client socket a SWITCHCONFIG drops instead of closing silently.
	NotifyOnDrop bool `toml:"notify_on_drop"`
}

// Pool describes one shard pool: its client-facing listener, its
// back-end set, and its routing policy.
type Pool struct {
	Listen          string   `toml:"listen"`
	Servers         []Server `toml:"servers"`
	TimeoutMS       int      `toml:"timeout"`
	FailureLimit    int      `toml:"failure_limit"`
	RetryTimeoutMS  int      `toml:"retry_timeout"`
	AutoEjectHosts  bool     `toml:"auto_eject_hosts"`
	Distribution    string   `toml:"distribution"`    // Modula, Ketama, Random
	HashFunction    string   `toml:"hash_function"`   // Crc16, Crc32, Fnv1a64, Murmur, Jenkins
	HashTag         string   `toml:"hash_tag"`        // 0-2 chars, e.g. "{}"
}

// Server describes one back-end entry: either a single host, or a
// cluster entry point, never both.
type Server struct {
	Host         string `toml:"host"`
	UseCluster   bool   `toml:"use_cluster"`
	ClusterHosts string `toml:"cluster_hosts"`
	ClusterName  string `toml:"cluster_name"`
	Weight       int    `toml:"weight"`
	DB           int    `toml:"db"`
	Auth         string `toml:"auth"`
}

// Load reads, decodes, and validates the config file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, &proxyerr.InvalidConfig{Path: path, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &proxyerr.InvalidConfig{Path: path, Err: err}
	}
	return &cfg, nil
}

// Validate checks every structural rule the config format requires.
// Pool-level numeric defaults are NOT applied here; callers that need
// defaults wrap Load and fill zero values after validation succeeds.
func (c *Config) Validate() error {
	if c.Admin.Listen == "" {
		return fmt.Errorf("admin.listen is required")
	}
	if len(c.Pools) == 0 {
		return fmt.Errorf("at least one [pools.<name>] section is required")
	}
	for name, p := range c.Pools {
		if err := p.validate(); err != nil {
			return fmt.Errorf("pools.%s: %w", name, err)
		}
	}
	return nil
}

func (p *Pool) validate() error {
	if p.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if len(p.Servers) == 0 {
		return fmt.Errorf("servers must have at least one entry")
	}
	for i, s := range p.Servers {
		if err := s.validate(); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
	}
	switch p.Distribution {
	case "Modula", "Ketama", "Random":
	default:
		return fmt.Errorf("distribution must be one of Modula, Ketama, Random, got %q", p.Distribution)
	}
	switch p.HashFunction {
	case "Crc16", "Crc32", "Fnv1a64", "Murmur", "Jenkins":
	default:
		return fmt.Errorf("hash_function must be one of Crc16, Crc32, Fnv1a64, Murmur, Jenkins, got %q", p.HashFunction)
	}
	if len(p.HashTag) > 2 {
		return fmt.Errorf("hash_tag must be 0-2 characters, got %q", p.HashTag)
	}
	// 0 is a valid, deliberate sentinel here, not an omission: timeout=0
	// disables the request deadline and PING handshake step, failure_limit=0
	// disables auto-ejection, and retry_timeout=0 means reconnect
	// immediately with no backoff. Only negative values are rejected.
	if p.TimeoutMS < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if p.FailureLimit < 0 {
		return fmt.Errorf("failure_limit must not be negative")
	}
	if p.RetryTimeoutMS < 0 {
		return fmt.Errorf("retry_timeout must not be negative")
	}
	return nil
}

func (s *Server) validate() error {
	if s.Weight <= 0 {
		return fmt.Errorf("weight must be positive")
	}
	if s.UseCluster {
		if s.ClusterHosts == "" || s.ClusterName == "" {
			return fmt.Errorf("use_cluster requires cluster_hosts and cluster_name")
		}
		if s.Host != "" {
			return fmt.Errorf("use_cluster forbids host")
		}
		return nil
	}
	if s.Host == "" {
		return fmt.Errorf("host is required when use_cluster is false")
	}
	if s.ClusterHosts != "" || s.ClusterName != "" {
		return fmt.Errorf("cluster_hosts/cluster_name forbidden when use_cluster is false")
	}
	return nil
}

// Same reports whether two configs are structurally identical, used
// by the admin surface to reject a SWITCHCONFIG that would be a
// no-op.
func Same(a, b *Config) bool {
	return cmp.Equal(a, b)
}

// DiffPools partitions the receiver's pools against next's pools into
// those that are unchanged (kept, by name and structural equality),
// and those whose name or contents differ (expired — dropped or
// replaced by the switch).
func (c *Config) DiffPools(next *Config) (kept, expired []string) {
	for name, pool := range c.Pools {
		if nextPool, ok := next.Pools[name]; ok && cmp.Equal(pool, nextPool) {
			kept = append(kept, name)
			continue
		}
		expired = append(expired, name)
	}
	return kept, expired
}

// WriteExample is a small helper used by tests and operators to
// produce a minimal valid config on disk.
func WriteExample(path string, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
