// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mst

import "sync"

// Feed fans out published values to every current subscriber, in publication order.
// Publishing never blocks and never drops a value: each subscription buffers
// what its reader has not consumed yet.
type Feed[T any] struct {
	lock   sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{
		subs: make(map[*Subscription[T]]struct{}),
	}
}

// Subscribe registers a new subscriber. Values published before the call are not delivered.
// Subscribing to a closed feed returns a subscription whose channel is already closed.
func (f *Feed[T]) Subscribe() *Subscription[T] {
	sub := newSubscription(f)

	f.lock.Lock()
	closed := f.closed
	if !closed {
		f.subs[sub] = struct{}{}
	}
	f.lock.Unlock()

	if closed {
		sub.Close()
	}
	return sub
}

func (f *Feed[T]) Publish(values ...T) {
	if len(values) == 0 {
		return
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	for sub := range f.subs {
		sub.push(values)
	}
}

// Close closes every subscription. Values already queued are still delivered.
func (f *Feed[T]) Close() {
	f.lock.Lock()
	subs := f.subs
	f.subs = make(map[*Subscription[T]]struct{})
	f.closed = true
	f.lock.Unlock()

	for sub := range subs {
		sub.closeWhenDrained()
	}
}

func (f *Feed[T]) unsubscribe(sub *Subscription[T]) {
	f.lock.Lock()
	defer f.lock.Unlock()

	delete(f.subs, sub)
}

// Subscription is an ordered stream of the values published on a Feed.
type Subscription[T any] struct {
	feed *Feed[T]
	out  chan T
	done chan struct{}

	lock   sync.Mutex
	signal sync.Cond
	queue  []T
	// drain closes the subscription once the queue is empty
	drain bool
	close bool
}

func newSubscription[T any](f *Feed[T]) *Subscription[T] {
	sub := &Subscription[T]{
		feed: f,
		out:  make(chan T),
		done: make(chan struct{}),
	}
	sub.signal = sync.Cond{L: &sub.lock}

	go sub.run()

	return sub
}

// C returns the channel values are delivered on. It is closed once the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Pending returns the number of values queued but not yet received.
func (s *Subscription[T]) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.queue)
}

// Close stops the subscription, discarding undelivered values. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.feed.unsubscribe(s)

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.close {
		return
	}
	s.close = true
	s.queue = nil
	close(s.done)
	s.signal.Broadcast()
}

func (s *Subscription[T]) closeWhenDrained() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.drain = true
	s.signal.Broadcast()
}

func (s *Subscription[T]) push(values []T) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.close || s.drain {
		return
	}

	s.queue = append(s.queue, values...)
	s.signal.Broadcast()
}

func (s *Subscription[T]) run() {
	defer close(s.out)

	s.lock.Lock()
	defer s.lock.Unlock()

	for !s.close {
		if len(s.queue) == 0 {
			if s.drain {
				return
			}
			s.signal.Wait()
			continue
		}

		next := s.queue[0]
		var zero T
		s.queue[0] = zero // release the reference held by the backing array
		s.queue = s.queue[1:]

		s.lock.Unlock()
		select {
		case s.out <- next:
		case <-s.done:
		}
		s.lock.Lock()
	}
}
