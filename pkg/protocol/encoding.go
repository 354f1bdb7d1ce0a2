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
)

type wireReader struct {
	buf []byte
	pos int
}

func newWireReader(b []byte) *wireReader {
	return &wireReader{buf: b}
}

func (r *wireReader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *wireReader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("insufficient bytes: need %d have %d", n, r.remaining())
	}
	start := r.pos
	r.pos += n
	return r.buf[start:r.pos], nil
}

func (r *wireReader) Int8() (int8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (r *wireReader) Int16() (int16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (r *wireReader) Int32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *wireReader) Int64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *wireReader) Bool() (bool, error) {
	b, err := r.take(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (r *wireReader) String() (string, error) {
	l, err := r.Int16()
	if err != nil {
		return "", err
	}
	if l < 0 {
		return "", fmt.Errorf("invalid string length %d", l)
	}
	b, err := r.take(int(l))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *wireReader) NullableString() (*string, error) {
	l, err := r.Int16()
	if err != nil {
		return nil, err
	}
	if l == -1 {
		return nil, nil
	}
	if l < 0 {
		return nil, fmt.Errorf("invalid string length %d", l)
	}
	b, err := r.take(int(l))
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// Bytes reads an int32-prefixed byte block. A -1 length yields nil.
func (r *wireReader) Bytes() ([]byte, error) {
	l, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if l == -1 {
		return nil, nil
	}
	if l < 0 {
		return nil, fmt.Errorf("invalid bytes length %d", l)
	}
	return r.take(int(l))
}

// ArrayLen reads an int32 array length, rejecting anything below -1. A null
// array (-1) is reported as 0: every caller treats it as empty.
func (r *wireReader) ArrayLen() (int32, error) {
	n, err := r.Int32()
	if err != nil {
		return 0, err
	}
	if n < -1 {
		return 0, fmt.Errorf("invalid array length %d", n)
	}
	if n == -1 {
		return 0, nil
	}
	return n, nil
}

type wireWriter struct {
	buf []byte
}

func newWireWriter(capacity int) *wireWriter {
	return &wireWriter{buf: make([]byte, 0, capacity)}
}

func (w *wireWriter) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *wireWriter) Int8(v int8) {
	w.buf = append(w.buf, byte(v))
}

func (w *wireWriter) Int16(v int16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(v))
	w.raw(tmp[:])
}

func (w *wireWriter) Int32(v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	w.raw(tmp[:])
}

func (w *wireWriter) Int64(v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	w.raw(tmp[:])
}

func (w *wireWriter) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *wireWriter) String(v string) {
	if len(v) > 0x7fff {
		panic("string too long")
	}
	w.Int16(int16(len(v)))
	w.raw([]byte(v))
}

func (w *wireWriter) NullableString(v *string) {
	if v == nil {
		w.Int16(-1)
		return
	}
	w.String(*v)
}

// BytesWithLength writes an int32-prefixed byte block; nil becomes -1.
func (w *wireWriter) BytesWithLength(b []byte) {
	if b == nil {
		w.Int32(-1)
		return
	}
	w.Int32(int32(len(b)))
	w.raw(b)
}

func (w *wireWriter) Finish() []byte {
	return w.buf
}
