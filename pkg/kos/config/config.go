// Copyright 2026 The KOS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and hot-reloads the TOML document that configures
// a Core, per spec.md §6's "Environment/config" and SPEC_FULL.md §3.2.
// Unlike runsc/config, which builds its Config from a registered
// flag.FlagSet, KOS has no process-level CLI flags to piggyback on (a
// simulated kernel is a library embedded in cmd/kos, not a container
// runtime invoked per-container), so the document is the only source of
// truth and is parsed straight into a validated Config.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	units "github.com/docker/go-units"

	"github.com/kos-project/kos/pkg/kos/kerr"
)

// Config is the core's fully parsed, validated configuration.
type Config struct {
	MemoryBytes int64
	PageSize    uint32
	NumCPUs     int
	RootFSType  string
	LogLevel    string

	// QuotaBytes maps a mount name (a quota_bytes key) to its filesystem
	// driver's byte quota; core.New reads only the "root" entry, passing
	// it to ramfs.New for the root mount.
	QuotaBytes map[string]int64

	AuditLogPath      string
	IdentityStorePath string
	PolicyPath        string

	ChannelHeartbeatInterval time.Duration
	ChannelSessionTTL        time.Duration

	// ChannelNetwork/ChannelAddress are net.Listen's (network, address)
	// pair for the request channel's listener (§3.4); ChannelAddress
	// empty disables the listener entirely (e.g. validate-only runs).
	ChannelNetwork string
	ChannelAddress string
}

// rawConfig is the literal TOML shape: memory sizes are author-friendly
// strings ("256MiB") decoded via docker/go-units rather than raw byte
// counts, and durations are seconds, matching how an operator actually
// writes one of these documents by hand.
type rawConfig struct {
	MemoryBytes string            `toml:"memory_bytes"`
	PageSize    uint32            `toml:"page_size"`
	NumCPUs     int               `toml:"num_cpus"`
	RootFSType  string            `toml:"root_fs_type"`
	LogLevel    string            `toml:"log_level"`
	QuotaBytes  map[string]string `toml:"quota_bytes"`

	AuditLogPath      string `toml:"audit_log_path"`
	IdentityStorePath string `toml:"identity_store_path"`
	PolicyPath        string `toml:"policy_path"`

	ChannelHeartbeatIntervalSeconds int `toml:"channel_heartbeat_interval"`
	ChannelSessionTTLSeconds        int `toml:"channel_session_ttl"`

	ChannelNetwork string `toml:"channel_network"`
	ChannelAddress string `toml:"channel_address"`
}

// defaults mirrors the values a Core would otherwise refuse to start
// without, applied before validation so a minimal document ("just
// num_cpus and root_fs_type") still produces a usable Config.
var defaults = rawConfig{
	MemoryBytes:                     "256MiB",
	PageSize:                        4096,
	NumCPUs:                         1,
	RootFSType:                      "ramfs",
	LogLevel:                        "info",
	ChannelHeartbeatIntervalSeconds: 30,
	ChannelSessionTTLSeconds:        300,
	ChannelNetwork:                  "unix",
}

// Load decodes and validates the TOML document at path.
func Load(path string) (*Config, error) {
	raw := defaults
	raw.QuotaBytes = nil
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, kerr.Wrap(kerr.InvalidArgument, "config.Load", err)
	}
	return fromRaw(raw)
}

// LoadBytes decodes and validates a TOML document already in memory,
// e.g. one just re-read by Watch after an fsnotify event.
func LoadBytes(data []byte) (*Config, error) {
	raw := defaults
	raw.QuotaBytes = nil
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, kerr.Wrap(kerr.InvalidArgument, "config.LoadBytes", err)
	}
	return fromRaw(raw)
}

func fromRaw(raw rawConfig) (*Config, error) {
	mem, err := units.RAMInBytes(raw.MemoryBytes)
	if err != nil {
		return nil, kerr.Wrap(kerr.InvalidArgument, "config.Load", err)
	}

	quota := make(map[string]int64, len(raw.QuotaBytes))
	for mount, size := range raw.QuotaBytes {
		q, err := units.RAMInBytes(size)
		if err != nil {
			return nil, kerr.Wrap(kerr.InvalidArgument, "config.Load", err)
		}
		quota[mount] = q
	}

	cfg := &Config{
		MemoryBytes:              mem,
		PageSize:                 raw.PageSize,
		NumCPUs:                  raw.NumCPUs,
		RootFSType:               raw.RootFSType,
		LogLevel:                 raw.LogLevel,
		QuotaBytes:               quota,
		AuditLogPath:             raw.AuditLogPath,
		IdentityStorePath:        raw.IdentityStorePath,
		PolicyPath:               raw.PolicyPath,
		ChannelHeartbeatInterval: time.Duration(raw.ChannelHeartbeatIntervalSeconds) * time.Second,
		ChannelSessionTTL:        time.Duration(raw.ChannelSessionTTLSeconds) * time.Second,
		ChannelNetwork:           raw.ChannelNetwork,
		ChannelAddress:           raw.ChannelAddress,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a Config a Core could not actually start with.
func (c *Config) Validate() error {
	if c.MemoryBytes <= 0 {
		return kerr.New(kerr.InvalidArgument, "config.Validate", "memory_bytes must be positive")
	}
	if c.PageSize == 0 || c.PageSize&(c.PageSize-1) != 0 {
		return kerr.New(kerr.InvalidArgument, "config.Validate", "page_size must be a power of two")
	}
	if c.NumCPUs < 1 {
		return kerr.New(kerr.InvalidArgument, "config.Validate", "num_cpus must be at least 1")
	}
	if c.RootFSType != "ramfs" {
		return kerr.New(kerr.InvalidArgument, "config.Validate", "root_fs_type: only ramfs is supported")
	}
	if c.ChannelHeartbeatInterval <= 0 {
		return kerr.New(kerr.InvalidArgument, "config.Validate", "channel_heartbeat_interval must be positive")
	}
	if c.ChannelSessionTTL <= 0 {
		return kerr.New(kerr.InvalidArgument, "config.Validate", "channel_session_ttl must be positive")
	}
	if c.ChannelAddress != "" && c.ChannelNetwork == "" {
		return kerr.New(kerr.InvalidArgument, "config.Validate", "channel_network must be set when channel_address is")
	}
	return nil
}
