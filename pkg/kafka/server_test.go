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

package kafka

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/novatechflow/streamraft/pkg/protocol"
)

type handlerFunc func(ctx context.Context, rc *RequestContext) ([]byte, error)

func (f handlerFunc) Handle(ctx context.Context, rc *RequestContext) ([]byte, error) {
	return f(ctx, rc)
}

func echoHandler() Handler {
	return handlerFunc(func(ctx context.Context, rc *RequestContext) ([]byte, error) {
		return rc.Payload, nil
	})
}

func newTestServer(t *testing.T, cfg ServerConfig, h Handler) *Server {
	t.Helper()
	s, err := NewServer(cfg, h, nil, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

// runConnection drives one pipe end through the connection machinery the way
// the accept loop would.
func runConnection(s *Server, serverConn net.Conn) chan struct{} {
	conn := newConnection(s, serverConn)
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.run(s.ctx)
	}()
	return done
}

func buildRequest(correlation int32, clientID *string, payload []byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, int16(999))
	_ = binary.Write(&buf, binary.BigEndian, int16(0))
	_ = binary.Write(&buf, binary.BigEndian, correlation)
	if clientID == nil {
		_ = binary.Write(&buf, binary.BigEndian, int16(-1))
	} else {
		_ = binary.Write(&buf, binary.BigEndian, int16(len(*clientID)))
		buf.WriteString(*clientID)
	}
	buf.Write(payload)
	return buf.Bytes()
}

func readResponse(t *testing.T, r io.Reader) (int32, []byte) {
	t.Helper()
	frame, err := protocol.ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(frame.Payload) < 4 {
		t.Fatalf("short response frame: %d bytes", len(frame.Payload))
	}
	corr := int32(binary.BigEndian.Uint32(frame.Payload[:4]))
	return corr, frame.Payload[4:]
}

func TestConnectionEchoRoundTrip(t *testing.T) {
	s := newTestServer(t, ServerConfig{}, echoHandler())
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	done := runConnection(s, serverConn)

	payload := bytes.Repeat([]byte{0xA5}, 128)
	client := "t"
	if err := protocol.WriteFrame(clientConn, buildRequest(7, &client, payload)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	corr, body := readResponse(t, clientConn)
	if corr != 7 {
		t.Fatalf("expected correlation 7 got %d", corr)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("payload mismatch")
	}

	// The connection stays open for the next request.
	if err := protocol.WriteFrame(clientConn, buildRequest(8, nil, []byte("again"))); err != nil {
		t.Fatalf("WriteFrame second request: %v", err)
	}
	corr, body = readResponse(t, clientConn)
	if corr != 8 || string(body) != "again" {
		t.Fatalf("unexpected second response corr=%d body=%q", corr, body)
	}

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("connection did not exit")
	}
	if got := s.mem.Available(); got != s.mem.Capacity() {
		t.Fatalf("memory units leaked: %d of %d", got, s.mem.Capacity())
	}
}

func TestConnectionResponseOrdering(t *testing.T) {
	release := map[int32]chan struct{}{
		1: make(chan struct{}),
		2: make(chan struct{}),
		3: make(chan struct{}),
	}
	h := handlerFunc(func(ctx context.Context, rc *RequestContext) ([]byte, error) {
		<-release[rc.Header.CorrelationID]
		return []byte{byte(rc.Header.CorrelationID)}, nil
	})
	s := newTestServer(t, ServerConfig{}, h)
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	done := runConnection(s, serverConn)

	for corr := int32(1); corr <= 3; corr++ {
		if err := protocol.WriteFrame(clientConn, buildRequest(corr, nil, nil)); err != nil {
			t.Fatalf("WriteFrame %d: %v", corr, err)
		}
	}
	// Complete dispatches out of order: 3, then 1, then 2.
	close(release[3])
	time.Sleep(20 * time.Millisecond)
	close(release[1])
	time.Sleep(20 * time.Millisecond)
	close(release[2])

	for _, want := range []int32{1, 2, 3} {
		corr, body := readResponse(t, clientConn)
		if corr != want {
			t.Fatalf("expected correlation %d got %d", want, corr)
		}
		if len(body) != 1 || body[0] != byte(want) {
			t.Fatalf("unexpected body for %d: %v", want, body)
		}
	}

	clientConn.Close()
	<-done
}

func TestConnectionDispatchErrorWritesErrorResponse(t *testing.T) {
	h := handlerFunc(func(ctx context.Context, rc *RequestContext) ([]byte, error) {
		if rc.Header.CorrelationID == 1 {
			return nil, errors.New("boom")
		}
		return []byte("ok"), nil
	})
	s := newTestServer(t, ServerConfig{}, h)
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	done := runConnection(s, serverConn)

	for corr := int32(1); corr <= 2; corr++ {
		if err := protocol.WriteFrame(clientConn, buildRequest(corr, nil, nil)); err != nil {
			t.Fatalf("WriteFrame %d: %v", corr, err)
		}
	}

	corr, body := readResponse(t, clientConn)
	if corr != 1 {
		t.Fatalf("expected failing correlation first, got %d", corr)
	}
	if len(body) != 2 || int16(binary.BigEndian.Uint16(body)) != protocol.UNKNOWN_SERVER_ERROR {
		t.Fatalf("expected error body got %v", body)
	}
	corr, body = readResponse(t, clientConn)
	if corr != 2 || string(body) != "ok" {
		t.Fatalf("connection unhealthy after dispatch error: corr=%d body=%q", corr, body)
	}

	clientConn.Close()
	<-done
}

func TestConnectionNilResponseAdvancesBarrier(t *testing.T) {
	h := handlerFunc(func(ctx context.Context, rc *RequestContext) ([]byte, error) {
		if rc.Header.CorrelationID == 1 {
			return nil, nil // acks=0 style: no response for this slot
		}
		return []byte("ok"), nil
	})
	s := newTestServer(t, ServerConfig{}, h)
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	done := runConnection(s, serverConn)

	for corr := int32(1); corr <= 2; corr++ {
		if err := protocol.WriteFrame(clientConn, buildRequest(corr, nil, nil)); err != nil {
			t.Fatalf("WriteFrame %d: %v", corr, err)
		}
	}
	corr, body := readResponse(t, clientConn)
	if corr != 2 || string(body) != "ok" {
		t.Fatalf("expected only correlation 2, got corr=%d body=%q", corr, body)
	}

	clientConn.Close()
	<-done
	if got := s.mem.Available(); got != s.mem.Capacity() {
		t.Fatalf("memory units leaked on skipped slot: %d of %d", got, s.mem.Capacity())
	}
}

func TestConnectionOversizedRequestFatal(t *testing.T) {
	s := newTestServer(t, ServerConfig{MaxRequestMemory: 10_000}, echoHandler())
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	done := runConnection(s, serverConn)

	// size 1000 estimates to exactly the capacity, which is rejected.
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], 1000)
	if _, err := clientConn.Write(sizeBuf[:]); err != nil {
		t.Fatalf("write size: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("connection not closed for oversized request")
	}
	if got := s.mem.Available(); got != s.mem.Capacity() {
		t.Fatalf("memory units leaked: %d of %d", got, s.mem.Capacity())
	}
}

func TestConnectionAdmissionBoundary(t *testing.T) {
	// estimate = size*2 + 8000; capacity 10000 admits sizes up to 999.
	s := newTestServer(t, ServerConfig{MaxRequestMemory: 10_000}, echoHandler())
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	done := runConnection(s, serverConn)

	payload := bytes.Repeat([]byte{1}, 999-fixedRequestHeaderSize)
	if err := protocol.WriteFrame(clientConn, buildRequest(1, nil, payload)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	corr, body := readResponse(t, clientConn)
	if corr != 1 || !bytes.Equal(body, payload) {
		t.Fatalf("boundary request not served")
	}

	clientConn.Close()
	<-done
}

// fixedRequestHeaderSize matches buildRequest with a nil client id.
const fixedRequestHeaderSize = 10

func TestConnectionInvalidClientIDFatal(t *testing.T) {
	s := newTestServer(t, ServerConfig{}, echoHandler())
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	done := runConnection(s, serverConn)

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, int16(999))
	_ = binary.Write(&buf, binary.BigEndian, int16(0))
	_ = binary.Write(&buf, binary.BigEndian, int32(5))
	_ = binary.Write(&buf, binary.BigEndian, int16(2))
	buf.Write([]byte{0xFF, 0xFE}) // invalid UTF-8 client id
	if err := protocol.WriteFrame(clientConn, buf.Bytes()); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("connection not closed for invalid client id")
	}
	if got := s.mem.Available(); got != s.mem.Capacity() {
		t.Fatalf("memory units leaked: %d of %d", got, s.mem.Capacity())
	}
}

func TestConnectionSecondQuotaViolationSleeps(t *testing.T) {
	cfg := ServerConfig{
		Quota: QuotaConfig{
			TargetByteRate: 1,
			Window:         time.Second,
			MaxDelay:       60 * time.Millisecond,
		},
	}
	s := newTestServer(t, cfg, echoHandler())
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	done := runConnection(s, serverConn)

	client := "greedy"
	payload := bytes.Repeat([]byte{1}, 4096)

	// First violation: reported but not slept for.
	start := time.Now()
	if err := protocol.WriteFrame(clientConn, buildRequest(1, &client, payload)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	readResponse(t, clientConn)
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Fatalf("first violation slept: %v", elapsed)
	}

	// Second violation: the pipeline stalls for the computed delay.
	start = time.Now()
	if err := protocol.WriteFrame(clientConn, buildRequest(2, &client, payload)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	readResponse(t, clientConn)
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("second violation not delayed: %v", elapsed)
	}

	clientConn.Close()
	<-done
}

func TestServerStopWaitsForConnections(t *testing.T) {
	var entered atomic.Int32
	h := handlerFunc(func(ctx context.Context, rc *RequestContext) ([]byte, error) {
		entered.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := newTestServer(t, ServerConfig{
		Listeners: []ListenerConfig{{Addr: "127.0.0.1:0"}},
	}, h)
	if err := s.Start(); err != nil {
		if errors.Is(err, syscall.EPERM) {
			t.Skip("binding sockets not permitted in sandbox")
		}
		t.Fatalf("Start: %v", err)
	}
	addr := s.ListenAddresses()[0]

	const connCount = 10
	conns := make([]net.Conn, 0, connCount)
	for i := 0; i < connCount; i++ {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		defer c.Close()
		conns = append(conns, c)
		if err := protocol.WriteFrame(c, buildRequest(int32(i), nil, nil)); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
	}
	deadline := time.After(2 * time.Second)
	for entered.Load() != connCount {
		select {
		case <-deadline:
			t.Fatalf("only %d of %d requests dispatched", entered.Load(), connCount)
		case <-time.After(time.Millisecond):
		}
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not resolve")
	}

	// The listener is gone.
	if _, err := net.DialTimeout("tcp", addr, 100*time.Millisecond); err == nil {
		t.Fatalf("listener still accepting after Stop")
	}
}

func TestServerStartRequiresListeners(t *testing.T) {
	s := newTestServer(t, ServerConfig{}, echoHandler())
	if err := s.Start(); err == nil {
		t.Fatalf("expected error without listeners")
	}
}

func TestServerRequiresHandler(t *testing.T) {
	if _, err := NewServer(ServerConfig{}, nil, nil, nil); err == nil {
		t.Fatalf("expected error without handler")
	}
}
