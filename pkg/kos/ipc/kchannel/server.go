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
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/kos-project/kos/pkg/kos/kerr"
)

// Header keys used by the wire protocol's opening handshake and
// steady-state request/response exchange.
const (
	headerOp         = "op"
	headerEntityType = "entity_type"
	headerEntityID   = "entity_id"
	headerToken      = "token"
	headerSessionID  = "session_id"

	opAuthRequest = "auth_request"
	opChallenge   = "challenge"
	opAuthResp    = "auth_response"
	opSession     = "session"
	opHeartbeat   = "heartbeat"
	opRequest     = "request"
	opResponse    = "response"
	opError       = "error"
)

// Handler answers one request carried on an already-authenticated
// session. It returns the Message to send back, correlation id stamped
// separately by the Server.
type Handler func(ctx context.Context, sid uuid.UUID, msg Message) (Message, error)

// Server drives one request channel connection per spec.md §6's flow:
// auth handshake, then a read loop dispatching requests to handler and
// heartbeats to the SessionManager.
type Server struct {
	sessions *SessionManager
	verifier FingerprintVerifier
	handler  Handler
}

// NewServer constructs a Server. verifier resolves a connecting
// entity's registered fingerprint; handler answers authenticated
// requests.
func NewServer(sessions *SessionManager, verifier FingerprintVerifier, handler Handler) *Server {
	return &Server{sessions: sessions, verifier: verifier, handler: handler}
}

// Serve runs the handshake then the request loop over conn until the
// peer disconnects, the session expires, or a framing error occurs.
// conn is closed by the caller; Serve only reads/writes it.
func (s *Server) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	sid, err := s.handshake(conn)
	if err != nil {
		return err
	}
	defer s.sessions.Terminate(sid)

	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			return err
		}
		msg, err := Decode(frame.Payload)
		if err != nil {
			return err
		}

		switch msg.Header[headerOp] {
		case opHeartbeat:
			if _, err := s.sessions.Heartbeat(sid); err != nil {
				return err
			}
		case opRequest:
			if err := s.serveRequest(ctx, sid, conn, msg); err != nil {
				return err
			}
		default:
			return kerr.New(kerr.InvalidArgument, "kchannel.Server.Serve", "unexpected op outside handshake: "+msg.Header[headerOp])
		}
	}
}

func (s *Server) serveRequest(ctx context.Context, sid uuid.UUID, conn io.Writer, msg Message) error {
	if msg.Header[headerSessionID] != sid.String() {
		return kerr.New(kerr.PermissionDenied, "kchannel.Server.serveRequest", "session id mismatch")
	}
	correlationID, _ := msg.CorrelationID()

	reply, err := s.handler(ctx, sid, msg)
	if err != nil {
		errMsg := NewMessage(correlationID, map[string]string{headerOp: opError, "message": err.Error()}, nil)
		return WriteFrame(conn, Frame{Payload: Encode(errMsg)})
	}

	if reply.Header == nil {
		reply.Header = make(map[string]string)
	}
	reply.Header[headerOp] = opResponse
	reply.Header[headerCorrelationID] = correlationID.String()
	return WriteFrame(conn, Frame{Payload: Encode(reply)})
}

// handshake implements spec.md §6's auth flow: AuthRequest -> Challenge
// -> signed response -> verify -> issue session.
func (s *Server) handshake(conn io.ReadWriteCloser) (uuid.UUID, error) {
	frame, err := ReadFrame(conn)
	if err != nil {
		return uuid.UUID{}, err
	}
	req, err := Decode(frame.Payload)
	if err != nil {
		return uuid.UUID{}, err
	}
	if req.Header[headerOp] != opAuthRequest {
		return uuid.UUID{}, kerr.New(kerr.InvalidArgument, "kchannel.Server.handshake", "expected auth_request")
	}
	entityType, entityID := req.Header[headerEntityType], req.Header[headerEntityID]
	fingerprint, ok := s.verifier(entityType, entityID)
	if !ok {
		return uuid.UUID{}, kerr.New(kerr.PermissionDenied, "kchannel.Server.handshake", "unknown entity")
	}

	challenge, err := NewChallenge()
	if err != nil {
		return uuid.UUID{}, err
	}
	challengeMsg := NewMessage(uuid.New(), map[string]string{headerOp: opChallenge}, challenge[:])
	if err := WriteFrame(conn, Frame{Payload: Encode(challengeMsg)}); err != nil {
		return uuid.UUID{}, err
	}

	respFrame, err := ReadFrame(conn)
	if err != nil {
		return uuid.UUID{}, err
	}
	resp, err := Decode(respFrame.Payload)
	if err != nil {
		return uuid.UUID{}, err
	}
	if resp.Header[headerOp] != opAuthResp || !Verify(challenge, fingerprint, resp.Body) {
		return uuid.UUID{}, kerr.New(kerr.PermissionDenied, "kchannel.Server.handshake", "challenge response verification failed")
	}

	token, sid, err := s.sessions.Issue(entityType, entityID, func(uuid.UUID) { conn.Close() })
	if err != nil {
		return uuid.UUID{}, err
	}
	sessionMsg := NewMessage(uuid.New(), map[string]string{headerOp: opSession, headerToken: token, headerSessionID: sid.String()}, nil)
	if err := WriteFrame(conn, Frame{Payload: Encode(sessionMsg)}); err != nil {
		return uuid.UUID{}, err
	}
	return sid, nil
}
