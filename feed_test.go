// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mst

import (
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, sub *Subscription[T]) T {
	select {
	case v, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return v
	case <-time.After(time.Minute):
		require.FailNow(t, "timed out waiting on subscription")
	}
	var zero T
	return zero
}

func TestFeedDeliversInOrder(t *testing.T) {
	defer leaktest.Check(t)()

	feed := NewFeed[int]()
	defer feed.Close()

	slow := feed.Subscribe()
	fast := feed.Subscribe()

	const n = 1000
	for i := 0; i < n; i++ {
		feed.Publish(i)
	}

	for i := 0; i < n; i++ {
		require.Equal(t, i, receive(t, fast))
	}
	for i := 0; i < n; i++ {
		require.Equal(t, i, receive(t, slow), "a slow subscriber loses nothing")
	}
}

func TestFeedSubscribeLate(t *testing.T) {
	defer leaktest.Check(t)()

	feed := NewFeed[string]()
	defer feed.Close()

	feed.Publish("missed")
	sub := feed.Subscribe()
	feed.Publish("seen", "also seen")

	require.Equal(t, "seen", receive(t, sub))
	require.Equal(t, "also seen", receive(t, sub))
}

func TestFeedCloseDrainsQueue(t *testing.T) {
	defer leaktest.Check(t)()

	feed := NewFeed[int]()
	sub := feed.Subscribe()
	feed.Publish(1, 2, 3)
	feed.Close()
	feed.Publish(4)

	var got []int
	for v := range sub.C() {
		got = append(got, v)
	}
	require.Equal(t, []int{1, 2, 3}, got)

	closed := feed.Subscribe()
	_, ok := <-closed.C()
	require.False(t, ok)
}

func TestSubscriptionClose(t *testing.T) {
	defer leaktest.Check(t)()

	feed := NewFeed[int]()
	defer feed.Close()

	sub := feed.Subscribe()
	feed.Publish(1, 2, 3)
	sub.Close()
	sub.Close()

	// publishing to a closed subscription is a no-op
	feed.Publish(4)
	require.Zero(t, sub.Pending())

	for range sub.C() {
	}
}
