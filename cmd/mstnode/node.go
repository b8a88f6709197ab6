// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/luxfi/mst"
	"github.com/luxfi/mst/gossip"
	"github.com/luxfi/mst/torii"
	"github.com/luxfi/mst/wal"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

const (
	keyFileName = "node.key"
	walFileName = "mst.wal"
)

// node wires a processor to its write ahead log, the expiry monitor, the gossip transport
// and the transaction processor.
type node struct {
	logger    *logger
	registry  metrics.Registry
	host      host.Host
	wal       *wal.WriteAheadLog
	processor *mst.Processor
	monitor   *mst.Monitor
	transport *gossip.Transport
	torii     *torii.TransactionProcessor
	statuses  *mst.Subscription[torii.Status]
	cancel    context.CancelFunc
	running   sync.WaitGroup
}

func startNode(ctx context.Context, conf Config, logger *logger) (_ *node, err error) {
	policy, err := conf.ExpiryPolicy()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(conf.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed creating data directory: %w", err)
	}

	n := &node{
		logger:   logger,
		registry: metrics.NewRegistry(),
	}
	ctx, n.cancel = context.WithCancel(ctx)
	defer func() {
		if err != nil {
			err = errors.Join(err, n.Close())
		}
	}()

	key, err := loadOrCreateKey(filepath.Join(conf.DataDir, keyFileName))
	if err != nil {
		return nil, err
	}
	n.host, err = libp2p.New(libp2p.Identity(key), libp2p.ListenAddrStrings(conf.Listen...))
	if err != nil {
		return nil, fmt.Errorf("failed creating host: %w", err)
	}

	n.wal, err = wal.New(filepath.Join(conf.DataDir, walFileName))
	if err != nil {
		return nil, err
	}
	n.processor, err = mst.NewProcessor(mst.ProcessorConfig{
		Logger:             logger,
		Policy:             policy,
		WAL:                n.wal,
		Metrics:            n.registry,
		CompletedCacheSize: conf.CompletedCacheSize,
	})
	if err != nil {
		return nil, err
	}
	if err := n.processor.Start(); err != nil {
		return nil, err
	}

	n.torii, err = torii.New(torii.Config{
		Logger:     logger,
		Propagator: &loggingPropagator{logger: logger},
		MST:        n.processor,
	})
	if err != nil {
		return nil, err
	}
	n.statuses = n.torii.Statuses.Subscribe()

	n.monitor = mst.NewMonitor(time.Now(), logger, func(now time.Time) {
		n.processor.SweepExpired(now)
	})
	n.monitor.RunTicker(conf.SweepInterval, time.Now)

	ps, err := pubsub.NewGossipSub(ctx, n.host)
	if err != nil {
		return nil, fmt.Errorf("failed creating gossipsub: %w", err)
	}
	n.transport = gossip.New(n.host, ps, n.processor, conf.GossipConfig(logger))
	if err := n.transport.Start(ctx); err != nil {
		return nil, err
	}

	n.running.Add(1)
	go n.run(ctx, conf.MetricsInterval)

	for _, addr := range conf.Bootstrap {
		if err := n.connect(ctx, addr); err != nil {
			logger.Warn("Failed connecting to bootstrap peer", zap.String("addr", addr), zap.Error(err))
		}
	}

	logger.Info("Node started",
		zap.Stringer("id", n.host.ID()),
		zap.Any("addrs", n.host.Addrs()),
		zap.String("network", conf.Network),
		zap.Stringer("expiryMode", policy.Mode),
		zap.Duration("expiryTimeout", policy.Timeout),
		zap.Int("pending", n.processor.PendingState().Len()))

	return n, nil
}

func (n *node) connect(ctx context.Context, addr string) error {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return err
	}
	return n.host.Connect(ctx, *info)
}

// run reports transaction statuses and, periodically, the processor metrics.
func (n *node) run(ctx context.Context, metricsInterval time.Duration) {
	defer n.running.Done()

	var report <-chan time.Time
	if metricsInterval > 0 {
		ticker := time.NewTicker(metricsInterval)
		defer ticker.Stop()
		report = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-n.statuses.C():
			if !ok {
				return
			}
			n.logger.Info("Transaction status", zap.Stringer("status", status))
		case <-report:
			n.reportMetrics()
		}
	}
}

func (n *node) reportMetrics() {
	var fields []zap.Field
	n.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			fields = append(fields, zap.Int64(name, m.Count()))
		case metrics.Gauge:
			fields = append(fields, zap.Int64(name, m.Value()))
		}
	})
	n.logger.Info("Metrics", fields...)
}

// Close stops the node components in the reverse order of their start.
func (n *node) Close() error {
	n.cancel()
	n.running.Wait()

	var errs []error
	if n.transport != nil {
		errs = append(errs, n.transport.Stop())
	}
	if n.monitor != nil {
		n.monitor.Close()
	}
	if n.torii != nil {
		n.statuses.Close()
		n.torii.Close()
	}
	if n.processor != nil {
		n.processor.Close()
	}
	if n.wal != nil {
		errs = append(errs, n.wal.Close())
	}
	if n.host != nil {
		errs = append(errs, n.host.Close())
	}
	return errors.Join(errs...)
}

func loadOrCreateKey(path string) (crypto.PrivKey, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed decoding node key %s: %w", path, err)
		}
		return key, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed reading node key %s: %w", path, err)
	}

	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	data, err = crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed writing node key %s: %w", path, err)
	}
	return key, nil
}

// loggingPropagator stands in for consensus: it logs the batches that gathered their signatures.
type loggingPropagator struct {
	logger mst.Logger
}

func (p *loggingPropagator) PropagateTransaction(_ context.Context, tx *mst.Transaction) error {
	p.logger.Info("Transaction ready for consensus",
		zap.Stringer("tx", tx.Hash()),
		zap.Int("signatures", tx.Signatures().Len()))
	return nil
}

func (p *loggingPropagator) PropagateBatch(_ context.Context, b *mst.Batch) error {
	p.logger.Info("Batch ready for consensus",
		zap.Stringer("batch", b.Hash()),
		zap.Int("transactions", b.Len()))
	return nil
}
