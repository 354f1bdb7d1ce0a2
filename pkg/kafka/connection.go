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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/novatechflow/streamraft/pkg/protocol"
)

// dispatchResult is one completed dispatch, successful or not.
type dispatchResult struct {
	payload []byte
	err     error
}

// inflight is a request admitted on a connection. It owns units from the
// shard memory semaphore until its slot in the response pipeline resolves.
type inflight struct {
	header *protocol.RequestHeader
	units  int64
	done   chan dispatchResult
}

// connection serves one client socket. The read loop admits and dispatches
// requests; the write loop drains them in acceptance order, which is the
// ordering barrier: a response is only written after every earlier request's
// slot has resolved.
type connection struct {
	srv     *Server
	conn    net.Conn
	reader  *bufio.Reader
	pending chan *inflight

	shutdownOnce sync.Once
}

func newConnection(s *Server, netConn net.Conn) *connection {
	return &connection{
		srv:     s,
		conn:    netConn,
		reader:  bufio.NewReader(netConn),
		pending: make(chan *inflight, s.cfg.PipelineDepth),
	}
}

// shutdown closes both halves. Idempotent; in-flight writes surface their
// failures in the write loop as debug events.
func (c *connection) shutdown() {
	c.shutdownOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			c.srv.logger.Debug("failed to shutdown connection", "remote", c.conn.RemoteAddr(), "error", err)
		}
	})
}

// run processes the connection until EOF, a fatal framing error, or server
// shutdown, then waits for the response pipeline to drain.
func (c *connection) run(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	err := c.readLoop(ctx)
	close(c.pending)
	<-writerDone

	if err != nil && !errors.Is(err, net.ErrClosed) {
		c.srv.logger.Debug("connection closed", "remote", c.conn.RemoteAddr(), "error", err)
	}
	c.shutdown()
}

// readLoop reads, admits, and dispatches requests one at a time. Each step
// between two reads holds no locks; all shared state moves through the
// semaphore, the quota manager, and the pending channel.
func (c *connection) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		size, err := protocol.ReadFrameSize(c.reader)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		memEstimate := int64(size)*c.srv.cfg.MemEstimateMultiplier + c.srv.cfg.MemEstimateOverhead
		if memEstimate >= c.srv.cfg.MaxRequestMemory {
			return fmt.Errorf("request too large: size %d estimate %d allowed %d",
				size, memEstimate, c.srv.cfg.MaxRequestMemory)
		}
		if !c.srv.mem.TryAcquire(memEstimate) {
			c.srv.probe.WaitingForAvailableMemory()
			if err := c.srv.mem.Acquire(ctx, memEstimate); err != nil {
				return nil
			}
		}

		header, consumed, err := protocol.ReadRequestHeader(c.reader)
		if err != nil {
			c.srv.mem.Release(memEstimate)
			return err
		}

		throttle := c.srv.quota.RecordAndThrottle(header.ClientIDString(), int64(size))
		if throttle.Delay > 0 {
			c.srv.probe.QuotaViolation(!throttle.FirstViolation)
		}
		if throttle.Delay > 0 && !throttle.FirstViolation {
			if !sleepCtx(ctx, throttle.Delay) {
				c.srv.mem.Release(memEstimate)
				return nil
			}
		}

		payloadLen := int(size) - consumed
		if payloadLen < 0 {
			c.srv.mem.Release(memEstimate)
			return fmt.Errorf("frame size %d shorter than header (%d bytes)", size, consumed)
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(c.reader, payload); err != nil {
			c.srv.mem.Release(memEstimate)
			return fmt.Errorf("read request payload: %w", err)
		}

		fl := &inflight{
			header: header,
			units:  memEstimate,
			done:   make(chan dispatchResult, 1),
		}
		select {
		case c.pending <- fl:
		case <-ctx.Done():
			c.srv.mem.Release(memEstimate)
			return nil
		}

		rc := &RequestContext{
			Header:        header,
			Payload:       payload,
			ThrottleDelay: throttle.Delay,
			RemoteAddr:    c.conn.RemoteAddr(),
		}
		go func() {
			payload, err := c.srv.handler.Handle(ctx, rc)
			fl.done <- dispatchResult{payload: payload, err: err}
		}()
	}
}

// writeLoop is the single producer of response bytes. It consumes admitted
// requests in acceptance order and releases their memory units once the
// response has been written or the slot skipped.
func (c *connection) writeLoop() {
	var frame []byte
	writeBroken := false
	for fl := range c.pending {
		res := <-fl.done
		switch {
		case res.err != nil:
			c.srv.probe.RequestProcessingError()
			c.srv.logger.Debug("failed to process request",
				"remote", c.conn.RemoteAddr(),
				"api_key", fl.header.APIKey,
				"correlation", fl.header.CorrelationID,
				"error", res.err)
			res.payload = protocol.EncodeErrorResponse(fl.header, protocol.UNKNOWN_SERVER_ERROR)
		case res.payload == nil:
			// No response for this slot; the barrier still advances.
			c.srv.mem.Release(fl.units)
			continue
		}
		if !writeBroken {
			frame = protocol.AppendResponseFrame(frame[:0], fl.header.CorrelationID, res.payload)
			if _, err := c.conn.Write(frame); err != nil {
				writeBroken = true
				c.srv.logger.Debug("response write failed", "remote", c.conn.RemoteAddr(), "error", err)
			} else {
				c.srv.probe.AddBytesSent(len(frame))
				if res.err == nil {
					c.srv.probe.RequestServed()
				}
			}
		}
		c.srv.mem.Release(fl.units)
	}
	if tcp, ok := c.conn.(*net.TCPConn); ok && !writeBroken {
		_ = tcp.CloseWrite()
	}
}

// sleepCtx sleeps for d unless ctx is cancelled first, reporting whether the
// full delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
