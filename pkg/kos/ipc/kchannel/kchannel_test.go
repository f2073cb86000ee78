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

package kchannel_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kos-project/kos/pkg/kos/ipc/kchannel"
	"github.com/kos-project/kos/pkg/kos/kclock"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := kchannel.Frame{Flags: kchannel.FlagRequiresAck | kchannel.FlagCompressed, Payload: []byte("hello")}
	if err := kchannel.WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := kchannel.ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Flags != want.Flags || !bytes.Equal(got.Payload, want.Payload) {
		t.Fatalf("ReadFrame = %+v; want %+v", got, want)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	id := uuid.New()
	msg := kchannel.NewMessage(id, map[string]string{"op": "request", "path": "/etc/passwd"}, []byte("body bytes"))
	decoded, err := kchannel.Decode(kchannel.Encode(msg))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Header["op"] != "request" || decoded.Header["path"] != "/etc/passwd" {
		t.Fatalf("decoded header = %v", decoded.Header)
	}
	if !bytes.Equal(decoded.Body, msg.Body) {
		t.Fatalf("decoded body = %q; want %q", decoded.Body, msg.Body)
	}
	gotID, ok := decoded.CorrelationID()
	if !ok || gotID != id {
		t.Fatalf("CorrelationID = %v, %v; want %v, true", gotID, ok, id)
	}
}

func TestHandshakeAndRequestResponse(t *testing.T) {
	fingerprint := []byte("client-fingerprint")

	clientConn, serverConn := net.Pipe()

	clock := kclock.Real{}
	wheel := kclock.NewWheel(clock)
	sessions := kchannel.NewSessionManager(clock, wheel, []byte("secret"))

	handler := func(ctx context.Context, sid uuid.UUID, msg kchannel.Message) (kchannel.Message, error) {
		return kchannel.Message{Body: append([]byte("echo:"), msg.Body...)}, nil
	}
	server := kchannel.NewServer(sessions, func(entityType, entityID string) ([]byte, bool) {
		if entityType == "service" && entityID == "shell" {
			return fingerprint, true
		}
		return nil, false
	}, handler)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Serve(context.Background(), serverConn) }()

	dialed := false
	client := kchannel.NewClient(func() (io.ReadWriteCloser, error) {
		if dialed {
			return nil, context.DeadlineExceeded
		}
		dialed = true
		return clientConn, nil
	}, "service", "shell", fingerprint)

	if err := client.Connect(2 * time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	reply, err := client.Request(nil, []byte("ping"), time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(reply.Body) != "echo:ping" {
		t.Fatalf("reply body = %q; want %q", reply.Body, "echo:ping")
	}
}
