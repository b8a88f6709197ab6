// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command mstnode runs a node collecting the signatures of multi signature transactions
// together with its peers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mstnode",
		Short:         "Collect multi signature transaction signatures over a peer to peer network",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	registerFlags(root)

	root.AddCommand(newRunCmd(), newConfigCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			conf, err := loadConfig(v)
			if err != nil {
				return err
			}

			logger, err := newLogger(conf.LogLevel)
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n, err := startNode(ctx, conf, logger)
			if err != nil {
				logger.Error("Failed starting node", zap.Error(err))
				return err
			}

			<-ctx.Done()
			logger.Info("Shutting down")
			return n.Close()
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			if _, err := loadConfig(v); err != nil {
				return err
			}

			keys := v.AllKeys()
			sort.Strings(keys)
			for _, key := range keys {
				if key == flagConfig {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, v.Get(key))
			}
			return nil
		},
	}
}
