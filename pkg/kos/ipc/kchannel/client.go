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

package kchannel

import (
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/kos-project/kos/pkg/kos/kerr"
)

// DefaultResponseTimeout is spec.md §4.8's "30-second default response
// timeout".
const DefaultResponseTimeout = 30 * time.Second

// Dialer opens a fresh transport connection for Client to reconnect
// over; Client owns the handshake and framing, not the transport.
type Dialer func() (io.ReadWriteCloser, error)

type pendingCall struct {
	reply chan Message
	err   chan error
}

// Client is the request-channel peer a shell or service process talks
// through: it performs the auth handshake, matches responses to
// requests by correlation id, sends heartbeats, and retries its dial
// with exponential backoff (cenkalti/backoff) in Connect. It does not
// reconnect by itself after the transport drops: only Connect dials.
type Client struct {
	dial        Dialer
	entityType  string
	entityID    string
	fingerprint []byte

	mu      sync.Mutex
	conn    io.ReadWriteCloser
	sid     uuid.UUID
	token   string
	pending map[uuid.UUID]*pendingCall
	closed  bool
}

// NewClient constructs a Client that authenticates as
// (entityType, entityID) using fingerprint, dialing through dial.
func NewClient(dial Dialer, entityType, entityID string, fingerprint []byte) *Client {
	return &Client{
		dial:        dial,
		entityType:  entityType,
		entityID:    entityID,
		fingerprint: fingerprint,
		pending:     make(map[uuid.UUID]*pendingCall),
	}
}

// Connect dials and completes the auth handshake, retrying the dial
// with an exponential backoff policy until it succeeds or ctx-less
// maxElapsed is exceeded. Call it before Request/Heartbeat; neither of
// those dials, so after a transport failure they fail (or time out)
// until Connect is called again.
func (c *Client) Connect(maxElapsed time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxElapsed

	return backoff.Retry(func() error {
		return c.connectOnce()
	}, policy)
}

func (c *Client) connectOnce() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	sid, token, err := c.handshake(conn)
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn, c.sid, c.token = conn, sid, token
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *Client) handshake(conn io.ReadWriteCloser) (uuid.UUID, string, error) {
	reqMsg := NewMessage(uuid.New(), map[string]string{
		headerOp:         opAuthRequest,
		headerEntityType: c.entityType,
		headerEntityID:   c.entityID,
	}, nil)
	if err := WriteFrame(conn, Frame{Payload: Encode(reqMsg)}); err != nil {
		return uuid.UUID{}, "", err
	}

	challengeFrame, err := ReadFrame(conn)
	if err != nil {
		return uuid.UUID{}, "", err
	}
	challengeMsg, err := Decode(challengeFrame.Payload)
	if err != nil {
		return uuid.UUID{}, "", err
	}
	if challengeMsg.Header[headerOp] != opChallenge || len(challengeMsg.Body) != ChallengeSize {
		return uuid.UUID{}, "", kerr.New(kerr.Corrupt, "kchannel.Client.handshake", "malformed challenge")
	}
	var challenge Challenge
	copy(challenge[:], challengeMsg.Body)

	respMsg := NewMessage(uuid.New(), map[string]string{headerOp: opAuthResp}, Sign(challenge, c.fingerprint))
	if err := WriteFrame(conn, Frame{Payload: Encode(respMsg)}); err != nil {
		return uuid.UUID{}, "", err
	}

	sessionFrame, err := ReadFrame(conn)
	if err != nil {
		return uuid.UUID{}, "", err
	}
	sessionMsg, err := Decode(sessionFrame.Payload)
	if err != nil {
		return uuid.UUID{}, "", err
	}
	if sessionMsg.Header[headerOp] != opSession {
		return uuid.UUID{}, "", kerr.New(kerr.PermissionDenied, "kchannel.Client.handshake", "authentication rejected")
	}
	sid, err := uuid.Parse(sessionMsg.Header[headerSessionID])
	if err != nil {
		return uuid.UUID{}, "", kerr.Wrap(kerr.Corrupt, "kchannel.Client.handshake", err)
	}
	return sid, sessionMsg.Header[headerToken], nil
}

// readLoop dispatches response/error frames to their waiting Request
// call by correlation id until the connection fails.
func (c *Client) readLoop(conn io.ReadWriteCloser) {
	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			c.failAllPending(err)
			return
		}
		msg, err := Decode(frame.Payload)
		if err != nil {
			continue
		}
		correlationID, ok := msg.CorrelationID()
		if !ok {
			continue
		}

		c.mu.Lock()
		call, ok := c.pending[correlationID]
		if ok {
			delete(c.pending, correlationID)
		}
		c.mu.Unlock()
		if !ok {
			continue
		}

		if msg.Header[headerOp] == opError {
			call.err <- kerr.New(kerr.Unknown, "kchannel.Client", msg.Header["message"])
			continue
		}
		call.reply <- msg
	}
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uuid.UUID]*pendingCall)
	c.mu.Unlock()
	for _, call := range pending {
		call.err <- err
	}
}

// Request sends header/body as a request and blocks for its matching
// response (by correlation id) up to timeout (DefaultResponseTimeout
// if timeout <= 0), per spec.md §4.8.
func (c *Client) Request(header map[string]string, body []byte, timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, kerr.New(kerr.BadState, "kchannel.Client.Request", "client closed")
	}
	conn, sid, token := c.conn, c.sid, c.token
	if conn == nil {
		c.mu.Unlock()
		return Message{}, kerr.New(kerr.BadState, "kchannel.Client.Request", "not connected")
	}
	correlationID := uuid.New()
	call := &pendingCall{reply: make(chan Message, 1), err: make(chan error, 1)}
	c.pending[correlationID] = call
	c.mu.Unlock()

	h := make(map[string]string, len(header)+3)
	for k, v := range header {
		h[k] = v
	}
	h[headerOp] = opRequest
	h[headerSessionID] = sid.String()
	h[headerToken] = token

	msg := NewMessage(correlationID, h, body)
	if err := WriteFrame(conn, Frame{Payload: Encode(msg)}); err != nil {
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
		return Message{}, err
	}

	select {
	case reply := <-call.reply:
		return reply, nil
	case err := <-call.err:
		return Message{}, err
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
		return Message{}, kerr.New(kerr.Timeout, "kchannel.Client.Request", "no response within timeout")
	}
}

// Heartbeat sends a liveness ping, per spec.md §6's "heartbeats are
// sent every 30 s".
func (c *Client) Heartbeat() error {
	c.mu.Lock()
	conn, sid := c.conn, c.sid
	c.mu.Unlock()
	if conn == nil {
		return kerr.New(kerr.BadState, "kchannel.Client.Heartbeat", "not connected")
	}
	msg := NewMessage(uuid.New(), map[string]string{headerOp: opHeartbeat, headerSessionID: sid.String()}, nil)
	return WriteFrame(conn, Frame{Payload: Encode(msg)})
}

// Close terminates the client's connection and fails any in-flight
// requests.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.failAllPending(kerr.New(kerr.BadState, "kchannel.Client.Close", "client closed"))
	return conn.Close()
}
