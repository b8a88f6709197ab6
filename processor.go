// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mst

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/luxfi/mst/record"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

const DefaultCompletedCacheSize = 4096

var ErrProcessorClosed = errors.New("processor is closed")

type ProcessorConfig struct {
	Logger Logger
	// Policy assigns deadlines to pending batches. Defaults to DefaultExpiryPolicy().
	Policy ExpiryPolicy
	// WAL persists the pending state. Optional.
	WAL WriteAheadLog
	// Metrics is the registry the processor reports to. Defaults to a private registry.
	Metrics metrics.Registry
	// CompletedCacheSize bounds the number of prepared or expired batch hashes remembered
	// in order to ignore late copies of them.
	CompletedCacheSize int
}

// outcome is the terminal state a batch left the pending state in.
type outcome uint8

const (
	outcomePrepared outcome = iota + 1
	outcomeExpired
)

func (o outcome) recordType() uint16 {
	if o == outcomeExpired {
		return record.ExpiredRecordType
	}
	return record.PreparedRecordType
}

// Processor collects signatures for pending batches, merging local submissions and
// states gossiped by peers. A batch leaves the pending state either prepared,
// once every transaction reached its quorum, or expired.
type Processor struct {
	ProcessorConfig

	lock   sync.Mutex
	state  atomic.Pointer[State]
	closed bool

	// knownLock guards known. It is taken after lock, and never held across a log append.
	knownLock sync.RWMutex
	known     map[string]*State

	// finished remembers the batches that left the pending state, which never collect again
	finished *lru.Cache[Hash, outcome]
	prepared *Feed[*Batch]
	expired  *Feed[*Batch]

	preparedCount metrics.Counter
	expiredCount  metrics.Counter
	pendingGauge  metrics.Gauge
	appliedCount  metrics.Counter
	rejectedCount metrics.Counter
}

func NewProcessor(conf ProcessorConfig) (*Processor, error) {
	if conf.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if conf.Policy.Timeout <= 0 {
		conf.Policy = DefaultExpiryPolicy()
	}
	if conf.Metrics == nil {
		conf.Metrics = metrics.NewRegistry()
	}
	if conf.CompletedCacheSize <= 0 {
		conf.CompletedCacheSize = DefaultCompletedCacheSize
	}

	finished, err := lru.New[Hash, outcome](conf.CompletedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed creating finished batch cache: %w", err)
	}

	p := &Processor{
		ProcessorConfig: conf,
		known:           make(map[string]*State),
		finished:        finished,
		prepared:        NewFeed[*Batch](),
		expired:         NewFeed[*Batch](),
		preparedCount:   metrics.NewRegisteredCounter("mst/batches/prepared", conf.Metrics),
		expiredCount:    metrics.NewRegisteredCounter("mst/batches/expired", conf.Metrics),
		pendingGauge:    metrics.NewRegisteredGauge("mst/batches/pending", conf.Metrics),
		appliedCount:    metrics.NewRegisteredCounter("mst/remote/applied", conf.Metrics),
		rejectedCount:   metrics.NewRegisteredCounter("mst/remote/rejected", conf.Metrics),
	}
	p.state.Store(EmptyState(conf.Policy))

	return p, nil
}

// Start restores the pending state from the write ahead log and compacts the log.
func (p *Processor) Start() error {
	if p.WAL == nil {
		return nil
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	entries, err := p.WAL.ReadAll()
	if err != nil {
		return fmt.Errorf("failed reading write ahead log: %w", err)
	}

	state := EmptyState(p.Policy)
	for i, entry := range entries {
		state, err = p.replay(state, entry)
		if err != nil {
			return fmt.Errorf("failed replaying entry %d: %w", i, err)
		}
	}
	p.state.Store(state)
	p.pendingGauge.Update(int64(state.Len()))

	p.Logger.Info("Restored pending state",
		zap.Int("entries", len(entries)),
		zap.Int("pending", state.Len()),
		zap.Int("finished", p.finished.Len()))

	return p.compact(state)
}

func (p *Processor) replay(state *State, entry []byte) (*State, error) {
	r, err := record.Parse(entry)
	if err != nil {
		return nil, err
	}

	switch r.Type {
	case record.SnapshotRecordType:
		return decodePendingSnapshot(r.Payload, p.Policy)
	case record.BatchRecordType:
		b, deadline, err := decodePendingBatch(r.Payload)
		if err != nil {
			return nil, err
		}
		next := state.clone()
		done, err := next.insert(b, deadline)
		if err != nil {
			return nil, err
		}
		if done != nil {
			p.finished.Add(done.hash, outcomePrepared)
		}
		return next, nil
	case record.PreparedRecordType, record.ExpiredRecordType:
		h, err := hashFromBytes(r.Payload)
		if err != nil {
			return nil, err
		}
		o := outcomePrepared
		if r.Type == record.ExpiredRecordType {
			o = outcomeExpired
		}
		p.finished.Add(h, o)
		return state.Without(h), nil
	default:
		return nil, fmt.Errorf("%w: %d", record.ErrUnexpectedType, r.Type)
	}
}

// compact replaces the log with a snapshot of the pending state
// followed by the hashes still remembered as prepared or expired, oldest first.
func (p *Processor) compact(state *State) error {
	hashes := p.finished.Keys()
	entries := make([][]byte, 0, len(hashes)+1)
	entries = append(entries, record.New(record.SnapshotRecordType, encodePendingSnapshot(state)).Bytes())
	for _, h := range hashes {
		o, ok := p.finished.Peek(h)
		if !ok {
			continue
		}
		entries = append(entries, record.New(o.recordType(), h[:]).Bytes())
	}
	if err := p.WAL.Rewrite(entries); err != nil {
		return fmt.Errorf("failed compacting write ahead log: %w", err)
	}
	return nil
}

// PropagateTransaction submits a single transaction as a batch of its own.
func (p *Processor) PropagateTransaction(tx *Transaction) error {
	b, err := NewBatch(tx)
	if err != nil {
		return err
	}
	return p.PropagateBatch(b)
}

// PropagateBatch merges a locally submitted batch into the pending state.
// If this completes the batch, it is published to the prepared subscribers before returning.
func (p *Processor) PropagateBatch(b *Batch) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return ErrProcessorClosed
	}

	if o, ok := p.finished.Peek(b.hash); ok {
		p.Logger.Debug("Ignoring batch that already left collection",
			zap.Stringer("batch", b.hash),
			zap.Bool("expired", o == outcomeExpired))
		return nil
	}

	current := p.state.Load()
	next, completed, err := current.Insert(b)
	if err != nil {
		p.Logger.Warn("Failed inserting batch", zap.Stringer("batch", b.hash), zap.Error(err))
		return err
	}

	if err := p.persist(current, next, completed); err != nil {
		return err
	}

	p.Logger.Trace("Inserted batch",
		zap.Stringer("batch", b.hash),
		zap.Int("completedTransactions", b.CompletedTransactions()),
		zap.Int("transactions", b.Len()))

	p.commit(next)
	p.onPrepared(completed)
	return nil
}

// ApplyRemoteState merges a state gossiped by a peer into the pending state.
// If any batch of the remote state conflicts with the local copy, the whole remote state is dropped.
func (p *Processor) ApplyRemoteState(from string, remote *State) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return ErrProcessorClosed
	}

	remote = remote.Filter(p.collecting)

	current := p.state.Load()
	next, completed, err := current.Union(remote)
	if err != nil {
		p.rejectedCount.Inc(1)
		p.Logger.Warn("Dropping remote state",
			zap.String("peer", from),
			zap.Int("batches", remote.Len()),
			zap.Error(err))
		return err
	}

	if err := p.persist(current, next, completed); err != nil {
		return err
	}

	p.appliedCount.Inc(1)
	p.Logger.Debug("Applied remote state",
		zap.String("peer", from),
		zap.Int("batches", remote.Len()),
		zap.Int("completed", len(completed)))

	p.learn(from, remote)
	p.commit(next)
	p.onPrepared(completed)
	return nil
}

// collecting reports whether the batch may still gather signatures.
func (p *Processor) collecting(b *Batch) bool {
	return !p.finished.Contains(b.hash)
}

// OutboundStateFor returns the part of the pending state the peer is not known to hold.
// It does not wait for writers appending to the log.
func (p *Processor) OutboundStateFor(peer string) *State {
	p.knownLock.RLock()
	state := p.state.Load()
	known, ok := p.known[peer]
	p.knownLock.RUnlock()

	if !ok {
		return state
	}
	return state.Difference(known)
}

// MarkSent records that the peer now holds the given state.
// Batches that left the pending state since the state was read are not recorded.
func (p *Processor) MarkSent(peer string, sent *State) {
	p.lock.Lock()
	defer p.lock.Unlock()

	current := p.state.Load()
	p.learn(peer, sent.Filter(func(b *Batch) bool {
		_, pending := current.Get(b.hash)
		return pending && p.collecting(b)
	}))
}

func (p *Processor) learn(peer string, s *State) {
	if s.IsEmpty() {
		return
	}

	p.knownLock.Lock()
	defer p.knownLock.Unlock()

	known, ok := p.known[peer]
	if !ok {
		known = EmptyState(p.Policy)
	}
	merged, _, err := known.Union(s)
	if err != nil {
		// forget what the peer holds, the next exchange sends it everything
		p.Logger.Debug("Resetting peer knowledge", zap.String("peer", peer), zap.Error(err))
		delete(p.known, peer)
		return
	}
	p.known[peer] = merged
}

// ForgetPeer drops what is known about the peer.
func (p *Processor) ForgetPeer(peer string) {
	p.knownLock.Lock()
	defer p.knownLock.Unlock()

	delete(p.known, peer)
}

// SweepExpired removes the batches whose deadline is not after now
// and publishes them to the expired subscribers.
func (p *Processor) SweepExpired(now time.Time) []*Batch {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return nil
	}

	current := p.state.Load()
	next, expired := current.ExtractExpired(now)
	if len(expired) == 0 {
		return nil
	}

	if logged := p.persistExpired(expired); logged < len(expired) {
		// the batches that could not be logged stay pending until the next sweep
		if logged == 0 {
			return nil
		}
		expired = expired[:logged]
		removed := make(map[Hash]struct{}, logged)
		for _, b := range expired {
			removed[b.hash] = struct{}{}
		}
		next = current.Filter(func(b *Batch) bool {
			_, ok := removed[b.hash]
			return !ok
		})
	}

	p.commit(next)
	for _, b := range expired {
		p.finished.Add(b.hash, outcomeExpired)
		p.forget(b.hash)
		p.Logger.Info("Batch expired",
			zap.Stringer("batch", b.hash),
			zap.Int("completedTransactions", b.CompletedTransactions()),
			zap.Int("transactions", b.Len()))
	}
	p.expiredCount.Inc(int64(len(expired)))
	p.expired.Publish(expired...)

	return expired
}

// persistExpired appends an expired record per batch and returns how many were logged.
func (p *Processor) persistExpired(expired []*Batch) int {
	if p.WAL == nil {
		return len(expired)
	}
	for i, b := range expired {
		if err := p.WAL.Append(record.New(record.ExpiredRecordType, b.hash[:]).Bytes()); err != nil {
			p.Logger.Error("Failed persisting expired batch", zap.Stringer("batch", b.hash), zap.Error(err))
			return i
		}
	}
	return len(expired)
}

// persist appends to the write ahead log the batches that changed between current and next,
// followed by the completed batches.
func (p *Processor) persist(current, next *State, completed []*Batch) error {
	if p.WAL == nil {
		return nil
	}

	var entries [][]byte
	next.batches.Ascend(func(e *stateEntry) bool {
		old, found := current.batches.Get(e)
		if found && old.batch == e.batch && old.deadline.Equal(e.deadline) {
			return true
		}
		entries = append(entries, record.New(record.BatchRecordType, encodePendingBatch(e.batch, e.deadline)).Bytes())
		return true
	})
	for _, b := range completed {
		entries = append(entries, record.New(record.PreparedRecordType, b.hash[:]).Bytes())
	}

	for _, entry := range entries {
		if err := p.WAL.Append(entry); err != nil {
			p.Logger.Error("Failed persisting pending state", zap.Error(err))
			return fmt.Errorf("failed appending to write ahead log: %w", err)
		}
	}
	return nil
}

func (p *Processor) commit(next *State) {
	p.state.Store(next)
	p.pendingGauge.Update(int64(next.Len()))
}

func (p *Processor) onPrepared(completed []*Batch) {
	if len(completed) == 0 {
		return
	}

	for _, b := range completed {
		p.finished.Add(b.hash, outcomePrepared)
		p.forget(b.hash)
		p.Logger.Info("Batch prepared", zap.Stringer("batch", b.hash), zap.Int("transactions", b.Len()))
	}
	p.preparedCount.Inc(int64(len(completed)))
	p.prepared.Publish(completed...)
}

// forget removes the batch from what every peer is known to hold.
func (p *Processor) forget(h Hash) {
	p.knownLock.Lock()
	defer p.knownLock.Unlock()

	for peer, known := range p.known {
		p.known[peer] = known.Without(h)
	}
}

// PendingState returns the current snapshot of the pending batches.
func (p *Processor) PendingState() *State {
	return p.state.Load()
}

func (p *Processor) ExpiryPolicy() ExpiryPolicy {
	return p.Policy
}

// OnPreparedBatches subscribes to the batches that reached their quorum.
func (p *Processor) OnPreparedBatches() *Subscription[*Batch] {
	return p.prepared.Subscribe()
}

// OnExpiredBatches subscribes to the batches that expired before reaching their quorum.
func (p *Processor) OnExpiredBatches() *Subscription[*Batch] {
	return p.expired.Subscribe()
}

// Close stops accepting batches and closes the subscriptions once they are drained.
func (p *Processor) Close() {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.prepared.Close()
	p.expired.Close()
}
