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
)

// ErrInvalidFrameSize reports a negative size prefix, which is fatal to the
// connection that produced it.
var ErrInvalidFrameSize = fmt.Errorf("invalid frame size")

// ReadFrameSize reads the 4-byte big-endian size prefix of the next frame.
// io.EOF is returned untouched when the stream ends cleanly before the prefix.
func ReadFrameSize(r io.Reader) (int32, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("read frame size: %w", err)
	}
	size := int32(binary.BigEndian.Uint32(sizeBuf[:]))
	if size < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidFrameSize, size)
	}
	return size, nil
}

// Frame is a fully buffered request or response frame.
type Frame struct {
	Length  int32
	Payload []byte
}

// ReadFrame reads one size-prefixed frame from r. Used by tests and tools;
// the server reads frames incrementally through ReadFrameSize and
// ReadRequestHeader so admission can happen between the prefix and the body.
func ReadFrame(r io.Reader) (*Frame, error) {
	size, err := ReadFrameSize(r)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return &Frame{Length: size, Payload: payload}, nil
}

// WriteFrame writes payload prefixed with its length to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var sizeBuf [4]byte
	if len(payload) > int(^uint32(0)>>1) {
		return fmt.Errorf("payload too large: %d", len(payload))
	}
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	if _, err := w.Write(sizeBuf[:]); err != nil {
		return fmt.Errorf("write frame size: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// AppendResponseFrame appends the wire form of a response to dst: a size
// prefix covering correlation id plus payload chunks, the correlation id,
// then the chunks. Returning the appended slice lets the caller reuse one
// buffer per connection writer.
func AppendResponseFrame(dst []byte, correlationID int32, chunks ...[]byte) []byte {
	total := 4
	for _, c := range chunks {
		total += len(c)
	}
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(total))
	dst = append(dst, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], uint32(correlationID))
	dst = append(dst, tmp[:]...)
	for _, c := range chunks {
		dst = append(dst, c...)
	}
	return dst
}
