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

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/kos-project/kos/pkg/kos/kerr"
)

// watchFile reports on changed whenever path is written, created, or
// renamed into place. It watches path's containing directory rather
// than the file itself, surviving editors that save by rename (which
// would otherwise orphan an fsnotify watch bound to the old inode).
func watchFile(path string, log *logrus.Logger) (changed <-chan struct{}, stop func() error, err error) {
	dir := filepath.Dir(path)
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, kerr.Wrap(kerr.InvalidArgument, "config.watchFile", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, kerr.Wrap(kerr.BadState, "config.watchFile", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, nil, kerr.Wrap(kerr.NotFound, "config.watchFile", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				evAbs, err := filepath.Abs(ev.Name)
				if err != nil || evAbs != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
					// A reload is already pending; the subscriber will
					// pick up the latest file contents when it runs.
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watch error")
			}
		}
	}()

	return out, w.Close, nil
}

// Watch re-parses path as a TOML Config whenever it changes on disk and
// delivers each valid result on the returned channel; it applies none of
// the Config's fields (log_level included) itself. A document that fails to parse or
// validate is logged and dropped; the channel never emits a nil/invalid
// Config, so a core reading it never needs to re-check what it receives.
func Watch(path string, log *logrus.Logger) (<-chan *Config, func() error, error) {
	changed, stop, err := watchFile(path, log)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan *Config, 1)
	go func() {
		defer close(out)
		for range changed {
			cfg, err := Load(path)
			if err != nil {
				log.WithError(err).WithField("path", path).Warn("config reload rejected")
				continue
			}
			out <- cfg
		}
	}()

	return out, stop, nil
}

// WatchPolicyFile reports on changed whenever the RBAC policy document at
// path changes on disk, without attempting to parse it as a Config (it
// is a YAML role table, per SPEC_FULL.md §3.6, not a TOML document).
func WatchPolicyFile(path string, log *logrus.Logger) (<-chan struct{}, func() error, error) {
	return watchFile(path, log)
}

// ReadPolicyFile reads a fresh copy of an RBAC policy document from disk.
func ReadPolicyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerr.Wrap(kerr.NotFound, "config.ReadPolicyFile", err)
	}
	return data, nil
}
