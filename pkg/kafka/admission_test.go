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
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemorySemaphoreAcquireRelease(t *testing.T) {
	sem := NewMemorySemaphore(100)
	if err := sem.Acquire(context.Background(), 60); err != nil {
		t.Fatalf("acquire 60: %v", err)
	}
	if sem.Available() != 40 {
		t.Fatalf("expected 40 available got %d", sem.Available())
	}
	sem.Release(60)
	if sem.Available() != 100 {
		t.Fatalf("expected 100 available got %d", sem.Available())
	}
}

func TestMemorySemaphoreBlocksUntilRelease(t *testing.T) {
	sem := NewMemorySemaphore(100)
	if err := sem.Acquire(context.Background(), 80); err != nil {
		t.Fatalf("acquire 80: %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- sem.Acquire(context.Background(), 50)
	}()

	// The second acquire must be parked, not failed.
	deadline := time.After(time.Second)
	for sem.Waiters() == 0 {
		select {
		case <-deadline:
			t.Fatalf("waiter never queued")
		case <-time.After(time.Millisecond):
		}
	}
	select {
	case err := <-acquired:
		t.Fatalf("acquire completed early: %v", err)
	default:
	}

	sem.Release(80)
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("acquire after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter never woke")
	}
	if sem.Available() != 50 {
		t.Fatalf("expected 50 available got %d", sem.Available())
	}
}

func TestMemorySemaphoreFIFO(t *testing.T) {
	sem := NewMemorySemaphore(100)
	if err := sem.Acquire(context.Background(), 100); err != nil {
		t.Fatalf("drain capacity: %v", err)
	}

	order := make(chan int, 2)
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = sem.Acquire(context.Background(), 90)
		order <- 1
	}()
	<-ready
	for sem.Waiters() != 1 {
		time.Sleep(time.Millisecond)
	}
	go func() {
		_ = sem.Acquire(context.Background(), 10)
		order <- 2
	}()
	for sem.Waiters() != 2 {
		time.Sleep(time.Millisecond)
	}

	// Releasing 10 satisfies the second waiter but the first is at the head
	// of the queue, so nobody may run yet.
	sem.Release(10)
	select {
	case got := <-order:
		t.Fatalf("waiter %d jumped the queue", got)
	case <-time.After(50 * time.Millisecond):
	}

	sem.Release(80)
	first := <-order
	sem.Release(10)
	second := <-order
	if first != 1 || second != 2 {
		t.Fatalf("expected FIFO wakeup got %d then %d", first, second)
	}
}

func TestMemorySemaphoreCancellation(t *testing.T) {
	sem := NewMemorySemaphore(10)
	if err := sem.Acquire(context.Background(), 10); err != nil {
		t.Fatalf("drain capacity: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- sem.Acquire(ctx, 5)
	}()
	for sem.Waiters() != 1 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
	if sem.Waiters() != 0 {
		t.Fatalf("cancelled waiter still queued")
	}
	// No units leaked to the cancelled waiter.
	sem.Release(10)
	if sem.Available() != 10 {
		t.Fatalf("expected 10 available got %d", sem.Available())
	}
}

func TestMemorySemaphoreClose(t *testing.T) {
	sem := NewMemorySemaphore(10)
	if err := sem.Acquire(context.Background(), 10); err != nil {
		t.Fatalf("drain capacity: %v", err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- sem.Acquire(context.Background(), 1)
	}()
	for sem.Waiters() != 1 {
		time.Sleep(time.Millisecond)
	}
	sem.Close()
	if err := <-errCh; !errors.Is(err, ErrSemaphoreClosed) {
		t.Fatalf("expected ErrSemaphoreClosed got %v", err)
	}
	if err := sem.Acquire(context.Background(), 1); !errors.Is(err, ErrSemaphoreClosed) {
		t.Fatalf("expected closed error on new acquire got %v", err)
	}
}

func TestMemorySemaphoreTooLarge(t *testing.T) {
	sem := NewMemorySemaphore(10)
	if err := sem.Acquire(context.Background(), 11); !errors.Is(err, ErrAcquireTooLarge) {
		t.Fatalf("expected ErrAcquireTooLarge got %v", err)
	}
}
