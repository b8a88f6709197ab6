// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package torii

import (
	"context"
	"errors"
	"sync"

	"github.com/luxfi/mst"
	"go.uber.org/zap"
)

// Propagator hands fully signed transactions and batches over to consensus.
type Propagator interface {
	PropagateTransaction(ctx context.Context, tx *mst.Transaction) error
	PropagateBatch(ctx context.Context, batch *mst.Batch) error
}

// MstProcessor collects the signatures of transactions that lack them.
type MstProcessor interface {
	PropagateTransaction(tx *mst.Transaction) error
	PropagateBatch(batch *mst.Batch) error
	OnPreparedBatches() *mst.Subscription[*mst.Batch]
	OnExpiredBatches() *mst.Subscription[*mst.Batch]
}

type Config struct {
	Logger     mst.Logger
	Propagator Propagator
	MST        MstProcessor
	// Statuses receives the status updates of transactions. Created if nil.
	Statuses *mst.Feed[Status]
}

// TransactionProcessor routes incoming transactions either to consensus, when they carry
// enough signatures, or to signature collection, and forwards the batches collection completes.
type TransactionProcessor struct {
	Config

	prepared *mst.Subscription[*mst.Batch]
	expired  *mst.Subscription[*mst.Batch]

	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

func New(conf Config) (*TransactionProcessor, error) {
	switch {
	case conf.Logger == nil:
		return nil, errors.New("logger is required")
	case conf.Propagator == nil:
		return nil, errors.New("propagator is required")
	case conf.MST == nil:
		return nil, errors.New("mst processor is required")
	}
	if conf.Statuses == nil {
		conf.Statuses = mst.NewFeed[Status]()
	}

	tp := &TransactionProcessor{
		Config:   conf,
		prepared: conf.MST.OnPreparedBatches(),
		expired:  conf.MST.OnExpiredBatches(),
	}
	tp.ctx, tp.cancel = context.WithCancel(context.Background())

	tp.running.Add(2)
	go tp.forwardPrepared()
	go tp.reportExpired()

	return tp, nil
}

// HandleTransaction propagates a transaction with enough signatures to consensus,
// and hands the others over to signature collection.
func (tp *TransactionProcessor) HandleTransaction(ctx context.Context, tx *mst.Transaction) error {
	if tx.IsComplete() {
		tp.Logger.Debug("Propagating transaction", zap.Stringer("tx", tx.Hash()))
		return tp.Propagator.PropagateTransaction(ctx, tx)
	}

	tp.Logger.Debug("Waiting for quorum signatures",
		zap.Stringer("tx", tx.Hash()),
		zap.Int("signatures", tx.Signatures().Len()),
		zap.Int("quorum", tx.Quorum()))
	if err := tp.MST.PropagateTransaction(tx); err != nil {
		return err
	}
	tp.Statuses.Publish(Status{Kind: MstPending, Hash: tx.Hash()})
	return nil
}

// HandleBatches routes every batch as a whole: complete batches go to consensus,
// the others to signature collection.
func (tp *TransactionProcessor) HandleBatches(ctx context.Context, batches []*mst.Batch) error {
	var errs []error
	for _, b := range batches {
		if err := tp.handleBatch(ctx, b); err != nil {
			tp.Logger.Warn("Failed handling batch", zap.Stringer("batch", b.Hash()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (tp *TransactionProcessor) handleBatch(ctx context.Context, b *mst.Batch) error {
	if b.IsComplete() {
		tp.Logger.Debug("Propagating batch", zap.Stringer("batch", b.Hash()))
		return tp.Propagator.PropagateBatch(ctx, b)
	}

	if err := tp.MST.PropagateBatch(b); err != nil {
		return err
	}
	tp.publish(MstPending, b)
	return nil
}

func (tp *TransactionProcessor) forwardPrepared() {
	defer tp.running.Done()

	for b := range tp.prepared.C() {
		tp.Logger.Info("MST batch prepared", zap.Stringer("batch", b.Hash()))

		var err error
		if b.Len() == 1 {
			err = tp.Propagator.PropagateTransaction(tp.ctx, b.Transactions()[0])
		} else {
			err = tp.Propagator.PropagateBatch(tp.ctx, b)
		}
		if err != nil {
			tp.Logger.Error("Failed propagating prepared batch", zap.Stringer("batch", b.Hash()), zap.Error(err))
			continue
		}
		tp.publish(EnoughSignaturesCollected, b)
	}
}

func (tp *TransactionProcessor) reportExpired() {
	defer tp.running.Done()

	for b := range tp.expired.C() {
		tp.Logger.Info("MST batch expired", zap.Stringer("batch", b.Hash()))
		tp.publish(MstExpired, b)
	}
}

func (tp *TransactionProcessor) publish(kind StatusKind, b *mst.Batch) {
	txs := b.Transactions()
	statuses := make([]Status, len(txs))
	for i, tx := range txs {
		statuses[i] = Status{Kind: kind, Hash: tx.Hash()}
	}
	tp.Statuses.Publish(statuses...)
}

// Close stops forwarding prepared and expired batches.
func (tp *TransactionProcessor) Close() {
	tp.cancel()
	tp.prepared.Close()
	tp.expired.Close()
	tp.running.Wait()
}
