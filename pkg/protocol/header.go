// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
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

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// RequestHeader is the fixed Kafka request header. ClientID is nil when the
// client sent a -1 length and points at an empty string for a 0 length.
type RequestHeader struct {
	APIKey        int16
	APIVersion    int16
	CorrelationID int32
	ClientID      *string
}

// fixedHeaderLen covers api key, api version, correlation id, and the
// client id length prefix.
const fixedHeaderLen = 10

const noClientID = -1

// ReadRequestHeader reads the request header from r, one field group at a
// time so the caller can account the bytes against the frame size. It
// returns the header and the number of bytes consumed from the stream.
// Any EOF here is unexpected: the size prefix promised more bytes.
func ReadRequestHeader(r io.Reader) (*RequestHeader, int, error) {
	var fixed [fixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, 0, fmt.Errorf("read request header: %w", err)
	}
	header := &RequestHeader{
		APIKey:        int16(binary.BigEndian.Uint16(fixed[0:2])),
		APIVersion:    int16(binary.BigEndian.Uint16(fixed[2:4])),
		CorrelationID: int32(binary.BigEndian.Uint32(fixed[4:8])),
	}
	clientIDSize := int16(binary.BigEndian.Uint16(fixed[8:10]))
	switch {
	case clientIDSize == noClientID:
		return header, fixedHeaderLen, nil
	case clientIDSize == 0:
		empty := ""
		header.ClientID = &empty
		return header, fixedHeaderLen, nil
	case clientIDSize < 0:
		return nil, fixedHeaderLen, fmt.Errorf("invalid client id length %d", clientIDSize)
	}
	idBuf := make([]byte, clientIDSize)
	if _, err := io.ReadFull(r, idBuf); err != nil {
		return nil, fixedHeaderLen, fmt.Errorf("read client id: %w", err)
	}
	if !utf8.Valid(idBuf) {
		return nil, fixedHeaderLen + int(clientIDSize), fmt.Errorf("client id is not valid UTF-8")
	}
	id := string(idBuf)
	header.ClientID = &id
	return header, fixedHeaderLen + int(clientIDSize), nil
}

// ClientIDString renders the client id for logs and quota keys. A nil
// client id maps to the empty string, sharing one anonymous bucket.
func (h *RequestHeader) ClientIDString() string {
	if h.ClientID == nil {
		return ""
	}
	return *h.ClientID
}
