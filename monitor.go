// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mst

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Monitor drives expiry: every time it is advanced it hands the new time to sweep,
// on its own goroutine. Ticks arriving while a sweep runs are coalesced into the latest one.
type Monitor struct {
	logger  Logger
	sweep   func(time.Time)
	close   chan struct{}
	time    atomic.Value
	ticks   chan time.Time
	running sync.WaitGroup
}

func NewMonitor(startTime time.Time, logger Logger, sweep func(now time.Time)) *Monitor {
	m := &Monitor{
		logger: logger,
		sweep:  sweep,
		close:  make(chan struct{}),
		ticks:  make(chan time.Time, 1),
	}

	m.time.Store(startTime)

	m.running.Add(1)
	go m.run()

	return m
}

// Now returns the latest time the monitor was advanced to.
func (m *Monitor) Now() time.Time {
	return m.time.Load().(time.Time)
}

func (m *Monitor) AdvanceTime(t time.Time) {
	m.time.Store(t)
	for {
		select {
		case m.ticks <- t:
			return
		default:
		}
		// replace a pending tick that was not consumed yet
		select {
		case <-m.ticks:
		default:
		}
	}
}

// RunTicker advances the monitor to clock() every interval until the monitor is closed.
func (m *Monitor) RunTicker(interval time.Duration, clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}

	m.running.Add(1)
	go func() {
		defer m.running.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.close:
				return
			case <-ticker.C:
				m.AdvanceTime(clock())
			}
		}
	}()
}

func (m *Monitor) tick(now time.Time, taskID uint64) {
	defer m.logger.Verbo("Ticked", zap.Uint64("taskID", taskID), zap.Time("time", now))
	m.sweep(now)
}

func (m *Monitor) run() {
	defer m.running.Done()

	var taskID uint64
	for {
		select {
		case <-m.close:
			return
		case tick := <-m.ticks:
			m.tick(tick, taskID)
		}
		taskID++
	}
}

// Close stops the monitor and waits for its goroutines to exit.
func (m *Monitor) Close() {
	select {
	case <-m.close:
	default:
		close(m.close)
	}
	m.running.Wait()
}
