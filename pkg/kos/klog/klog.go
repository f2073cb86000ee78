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

// Package klog wires up the structured logger shared by every component of
// a Core. There is no package-level global logger: New returns a
// *logrus.Logger that the caller threads through core.New and down into
// each component, mirroring how runsc/cli.Main builds one log.Emitter and
// calls log.SetTarget once at startup instead of letting each package reach
// for its own logger.
package klog

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level mirrors spec.md §6's "log level" config field.
type Level = logrus.Level

// ParseLevel maps a config string to a logrus.Level, defaulting to Info on
// an unrecognized value instead of failing core startup over a typo.
func ParseLevel(s string) Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Options configures New.
type Options struct {
	Level  Level
	JSON   bool
	Output io.Writer // defaults to os.Stderr
}

// New builds the shared logger for a Core.
func New(opts Options) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(opts.Level)
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	l.SetOutput(opts.Output)
	if opts.JSON {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}
