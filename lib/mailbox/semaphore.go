// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailbox

import (
	"context"
	"sync"
)

// Semaphore is a counting semaphore. Post never blocks and is never
// lost: a post with no waiter is banked and satisfies the next Wait.
// Waiters are woken in arrival order.
type Semaphore struct {
	mu      sync.Mutex
	count   int
	waiters []chan struct{}
}

// Post increments the semaphore, waking the oldest waiter if any.
func (s *Semaphore) Post() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiters) > 0 {
		waiter := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(waiter)
		return
	}
	s.count++
}

// Wait decrements the semaphore, blocking until a post is available or
// ctx ends.
func (s *Semaphore) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return nil
	}
	waiter := make(chan struct{})
	s.waiters = append(s.waiters, waiter)
	s.mu.Unlock()

	select {
	case <-waiter:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		defer s.mu.Unlock()
		for index, candidate := range s.waiters {
			if candidate == waiter {
				s.waiters = append(s.waiters[:index], s.waiters[index+1:]...)
				return context.Cause(ctx)
			}
		}
		// Post handed us the count after ctx ended; give it back.
		s.count++
		return context.Cause(ctx)
	}
}

// TryWait decrements the semaphore if a post is banked.
func (s *Semaphore) TryWait() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return false
	}
	s.count--
	return true
}

// Count returns the number of banked posts.
func (s *Semaphore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// drain discards banked posts.
func (s *Semaphore) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
}
