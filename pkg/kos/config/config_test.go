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

package config

import "testing"

const testDoc = `
memory_bytes = "512MiB"
page_size = 4096
num_cpus = 4
root_fs_type = "ramfs"
log_level = "debug"
audit_log_path = "/var/kos/audit.log"
identity_store_path = "/var/kos/shadow"
policy_path = "/var/kos/policy.yaml"
channel_heartbeat_interval = 30
channel_session_ttl = 300
channel_network = "unix"
channel_address = "/var/kos/channel.sock"

[quota_bytes]
root = "64MiB"
tmp = "8MiB"
`

func TestLoadBytes(t *testing.T) {
	cfg, err := LoadBytes([]byte(testDoc))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if cfg.MemoryBytes != 512*1024*1024 {
		t.Fatalf("MemoryBytes = %d, want 512MiB", cfg.MemoryBytes)
	}
	if cfg.NumCPUs != 4 {
		t.Fatalf("NumCPUs = %d, want 4", cfg.NumCPUs)
	}
	if cfg.QuotaBytes["root"] != 64*1024*1024 {
		t.Fatalf("QuotaBytes[root] = %d, want 64MiB", cfg.QuotaBytes["root"])
	}
	if cfg.ChannelHeartbeatInterval.Seconds() != 30 {
		t.Fatalf("ChannelHeartbeatInterval = %v, want 30s", cfg.ChannelHeartbeatInterval)
	}
	if cfg.ChannelAddress != "/var/kos/channel.sock" {
		t.Fatalf("ChannelAddress = %q, want /var/kos/channel.sock", cfg.ChannelAddress)
	}
}

func TestLoadBytesRejectsChannelAddressWithoutNetwork(t *testing.T) {
	_, err := LoadBytes([]byte(`channel_address = "/tmp/kos.sock"
channel_network = ""`))
	if err == nil {
		t.Fatal("expected validation error for channel_address set without channel_network")
	}
}

func TestLoadBytesAppliesDefaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(`num_cpus = 2`))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if cfg.RootFSType != "ramfs" {
		t.Fatalf("RootFSType default = %q, want ramfs", cfg.RootFSType)
	}
	if cfg.MemoryBytes != 256*1024*1024 {
		t.Fatalf("MemoryBytes default = %d, want 256MiB", cfg.MemoryBytes)
	}
}

func TestLoadBytesRejectsBadPageSize(t *testing.T) {
	_, err := LoadBytes([]byte(`page_size = 4095`))
	if err == nil {
		t.Fatal("expected validation error for non-power-of-two page_size")
	}
}

func TestLoadBytesRejectsZeroCPUs(t *testing.T) {
	_, err := LoadBytes([]byte(`num_cpus = 0`))
	if err == nil {
		t.Fatal("expected validation error for num_cpus = 0")
	}
}

func TestLoadBytesRejectsUnsupportedRootFS(t *testing.T) {
	_, err := LoadBytes([]byte(`root_fs_type = "ext4"`))
	if err == nil {
		t.Fatal("expected validation error for unsupported root_fs_type")
	}
}
