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
	"bufio"
	"bytes"
	"encoding/binary"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kos-project/kos/pkg/kos/kerr"
)

// headerCorrelationID is the reserved header key carrying spec.md
// §4.8's "correlation id for matching responses to requests".
const headerCorrelationID = "correlation_id"

// Message is a request-channel payload: a small structured header (the
// stable text format spec.md §6 calls for) plus an opaque body.
type Message struct {
	Header map[string]string
	Body   []byte
}

// NewMessage builds a Message stamped with correlationID, the id a
// Client uses to match a Response back to the Request that produced it.
func NewMessage(correlationID uuid.UUID, header map[string]string, body []byte) Message {
	h := make(map[string]string, len(header)+1)
	for k, v := range header {
		h[k] = v
	}
	h[headerCorrelationID] = correlationID.String()
	return Message{Header: h, Body: body}
}

// CorrelationID extracts the message's correlation id, if present.
func (m Message) CorrelationID() (uuid.UUID, bool) {
	raw, ok := m.Header[headerCorrelationID]
	if !ok {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}

// Encode serializes m into a Frame payload: a 4-byte big-endian header
// byte count, the header as sorted "key=quoted-value\n" lines (a stable
// text format: deterministic key order, so two encodings of the same
// header always produce identical bytes), then the raw body.
func Encode(m Message) []byte {
	keys := make([]string, 0, len(m.Header))
	for k := range m.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var header bytes.Buffer
	for _, k := range keys {
		header.WriteString(k)
		header.WriteByte('=')
		header.WriteString(strconv.Quote(m.Header[k]))
		header.WriteByte('\n')
	}

	out := make([]byte, 4+header.Len()+len(m.Body))
	binary.BigEndian.PutUint32(out[:4], uint32(header.Len()))
	copy(out[4:], header.Bytes())
	copy(out[4+header.Len():], m.Body)
	return out
}

// Decode is Encode's inverse.
func Decode(payload []byte) (Message, error) {
	if len(payload) < 4 {
		return Message{}, kerr.New(kerr.Corrupt, "kchannel.Decode", "payload shorter than header length prefix")
	}
	headerLen := int(binary.BigEndian.Uint32(payload[:4]))
	if 4+headerLen > len(payload) {
		return Message{}, kerr.New(kerr.Corrupt, "kchannel.Decode", "declared header length exceeds payload")
	}

	header := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(payload[4 : 4+headerLen]))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		k, raw, ok := strings.Cut(line, "=")
		if !ok {
			return Message{}, kerr.New(kerr.Corrupt, "kchannel.Decode", "malformed header line: "+line)
		}
		v, err := strconv.Unquote(raw)
		if err != nil {
			return Message{}, kerr.Wrap(kerr.Corrupt, "kchannel.Decode", err)
		}
		header[k] = v
	}
	if err := scanner.Err(); err != nil {
		return Message{}, kerr.Wrap(kerr.Corrupt, "kchannel.Decode", err)
	}

	body := append([]byte(nil), payload[4+headerLen:]...)
	return Message{Header: header, Body: body}, nil
}
