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

package kerr

import (
	"github.com/hashicorp/errwrap"
	"github.com/hashicorp/go-multierror"
)

// Collector aggregates failures observed while tearing down or validating
// several independent things at once — worker-thread shutdown, batch
// syscall argument validation — where no single failure should suppress
// the others.
type Collector struct {
	merr *multierror.Error
}

// Add appends err to the collector if non-nil.
func (c *Collector) Add(err error) {
	if err == nil {
		return
	}
	c.merr = multierror.Append(c.merr, err)
}

// AddContext appends err, if non-nil, wrapped with label so the
// aggregated error identifies which of several independent things
// (e.g. which role in a policy document) it came from.
func (c *Collector) AddContext(label string, err error) {
	if err == nil {
		return
	}
	c.Add(errwrap.Wrapf(label+": {{err}}", err))
}

// ErrorOrNil returns nil if no error was ever added, or the aggregated
// error otherwise.
func (c *Collector) ErrorOrNil() error {
	if c.merr == nil {
		return nil
	}
	return c.merr.ErrorOrNil()
}
