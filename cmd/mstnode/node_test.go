// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/luxfi/mst"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	conf := defaultConfig()
	conf.DataDir = t.TempDir()
	conf.Listen = []string{"/ip4/127.0.0.1/tcp/0"}
	conf.Network = "test"
	conf.MetricsInterval = 0
	return conf
}

func TestNodeRestart(t *testing.T) {
	logger, err := newLogger("error")
	require.NoError(t, err)
	conf := testConfig(t)

	n, err := startNode(context.Background(), conf, logger)
	require.NoError(t, err)
	id := n.host.ID()

	tx, err := mst.NewTransaction([]byte("transfer"), time.Now(), 2,
		mst.Signature{Signer: mst.PublicKey("alice"), Signed: []byte("sig")})
	require.NoError(t, err)
	require.NoError(t, n.torii.HandleTransaction(context.Background(), tx))
	require.NoError(t, n.Close())

	_, err = os.Stat(filepath.Join(conf.DataDir, keyFileName))
	require.NoError(t, err)

	// the identity and the pending state survive the restart
	n, err = startNode(context.Background(), conf, logger)
	require.NoError(t, err)
	defer n.Close()

	require.Equal(t, id, n.host.ID())
	_, ok := n.processor.PendingState().Get(tx.Hash())
	require.True(t, ok)
	n.reportMetrics()
}

func TestNodeBootstrap(t *testing.T) {
	logger, err := newLogger("error")
	require.NoError(t, err)

	first, err := startNode(context.Background(), testConfig(t), logger)
	require.NoError(t, err)
	defer first.Close()

	conf := testConfig(t)
	conf.Bootstrap = []string{first.host.Addrs()[0].String() + "/p2p/" + first.host.ID().String()}
	second, err := startNode(context.Background(), conf, logger)
	require.NoError(t, err)
	defer second.Close()

	require.Eventually(t, func() bool {
		return len(second.transport.Peers()) == 1
	}, 10*time.Second, 10*time.Millisecond)
}

func TestStartNodeFailsOnInvalidListenAddress(t *testing.T) {
	logger, err := newLogger("error")
	require.NoError(t, err)

	conf := testConfig(t)
	conf.Listen = []string{"not a multiaddr"}
	_, err = startNode(context.Background(), conf, logger)
	require.Error(t, err)
}
