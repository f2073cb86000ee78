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

package core

import (
	"context"
	"net"

	"github.com/kos-project/kos/pkg/kos/kerr"
)

// channelEntityUser is the only entity type the channel's handshake
// currently authenticates against: a provisioned identity.Store user.
// spec.md §6 leaves room for other entity types (e.g. a service
// principal); none are provisioned yet, so they simply never verify.
const channelEntityUser = "user"

// fingerprintVerifier backs kchannel's handshake with the persisted
// identity store: a connecting entity's fingerprint is its stored
// scrypt digest, so proving knowledge of the password is exactly
// proving knowledge of the fingerprint.
func (c *Core) fingerprintVerifier(entityType, entityID string) ([]byte, bool) {
	if entityType != channelEntityUser || c.Identity == nil {
		return nil, false
	}
	return c.Identity.Fingerprint(entityID)
}

// runChannel listens on Config.ChannelNetwork/ChannelAddress and serves
// one kchannel.Server session per accepted connection, per spec.md
// §4.8/§6's request/response channel used by the shell and services.
// A blank ChannelAddress disables the listener entirely, e.g. for a
// validate-only or headless Core.
func (c *Core) runChannel(ctx context.Context) error {
	if c.Config.ChannelAddress == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	ln, err := net.Listen(c.Config.ChannelNetwork, c.Config.ChannelAddress)
	if err != nil {
		return kerr.Wrap(kerr.Unknown, "core.runChannel", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return kerr.Wrap(kerr.Unknown, "core.runChannel", err)
		}
		go func() {
			if err := c.Channel.Serve(ctx, conn); err != nil {
				c.Log.WithError(err).Debug("channel session ended")
			}
			conn.Close()
		}()
	}
}
