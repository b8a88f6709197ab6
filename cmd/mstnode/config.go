// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/luxfi/mst"
	"github.com/luxfi/mst/gossip"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "MST"

const (
	flagConfig             = "config"
	flagDataDir            = "data-dir"
	flagListen             = "listen"
	flagBootstrap          = "bootstrap"
	flagNetwork            = "network"
	flagLogLevel           = "log-level"
	flagExpiryMode         = "expiry-mode"
	flagExpiryTimeout      = "expiry-timeout"
	flagSweepInterval      = "sweep-interval"
	flagEmissionPeriod     = "emission-period"
	flagAmountPerOnce      = "amount-per-once"
	flagSendTimeout        = "send-timeout"
	flagCompletedCacheSize = "completed-cache-size"
	flagMetricsInterval    = "metrics-interval"
)

type Config struct {
	DataDir            string        `mapstructure:"data-dir"`
	Listen             []string      `mapstructure:"listen"`
	Bootstrap          []string      `mapstructure:"bootstrap"`
	Network            string        `mapstructure:"network"`
	LogLevel           string        `mapstructure:"log-level"`
	ExpiryMode         string        `mapstructure:"expiry-mode"`
	ExpiryTimeout      time.Duration `mapstructure:"expiry-timeout"`
	SweepInterval      time.Duration `mapstructure:"sweep-interval"`
	EmissionPeriod     time.Duration `mapstructure:"emission-period"`
	AmountPerOnce      int           `mapstructure:"amount-per-once"`
	SendTimeout        time.Duration `mapstructure:"send-timeout"`
	CompletedCacheSize int           `mapstructure:"completed-cache-size"`
	MetricsInterval    time.Duration `mapstructure:"metrics-interval"`
}

func defaultConfig() Config {
	return Config{
		DataDir:            ".mst",
		Listen:             []string{"/ip4/0.0.0.0/tcp/4001"},
		Network:            "mainnet",
		LogLevel:           "info",
		ExpiryMode:         mst.ExpireByCreatedTime.String(),
		ExpiryTimeout:      mst.DefaultBatchLifetime,
		SweepInterval:      time.Second,
		EmissionPeriod:     gossip.DefaultEmissionPeriod,
		AmountPerOnce:      gossip.DefaultAmountPerOnce,
		SendTimeout:        gossip.DefaultSendTimeout,
		CompletedCacheSize: mst.DefaultCompletedCacheSize,
		MetricsInterval:    time.Minute,
	}
}

func registerFlags(cmd *cobra.Command) {
	def := defaultConfig()

	flags := cmd.PersistentFlags()
	flags.String(flagConfig, "", "config file (yaml, toml or json)")
	flags.String(flagDataDir, def.DataDir, "directory holding the node key and the write ahead log")
	flags.StringSlice(flagListen, def.Listen, "multiaddrs to listen on")
	flags.StringSlice(flagBootstrap, nil, "multiaddrs of peers to connect to on start")
	flags.String(flagNetwork, def.Network, "network identifier, nodes of different networks do not gossip")
	flags.String(flagLogLevel, def.LogLevel, "log level (debug, info, warn, error)")
	flags.String(flagExpiryMode, def.ExpiryMode, "batch expiry mode (created-time or arrival)")
	flags.Duration(flagExpiryTimeout, def.ExpiryTimeout, "time a pending batch is kept before expiring")
	flags.Duration(flagSweepInterval, def.SweepInterval, "interval between two expiry sweeps")
	flags.Duration(flagEmissionPeriod, def.EmissionPeriod, "interval between two gossip rounds")
	flags.Int(flagAmountPerOnce, def.AmountPerOnce, "number of peers a gossip round sends to")
	flags.Duration(flagSendTimeout, def.SendTimeout, "time bound of sending a state to a peer")
	flags.Int(flagCompletedCacheSize, def.CompletedCacheSize, "number of prepared or expired batches remembered")
	flags.Duration(flagMetricsInterval, def.MetricsInterval, "interval between two metrics reports, 0 disables them")
}

// newViper layers, from lowest to highest precedence, defaults, the config file,
// MST_ prefixed environment variables and the command line flags.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()

	def := defaultConfig()
	v.SetDefault(flagDataDir, def.DataDir)
	v.SetDefault(flagListen, def.Listen)
	v.SetDefault(flagNetwork, def.Network)
	v.SetDefault(flagLogLevel, def.LogLevel)
	v.SetDefault(flagExpiryMode, def.ExpiryMode)
	v.SetDefault(flagExpiryTimeout, def.ExpiryTimeout)
	v.SetDefault(flagSweepInterval, def.SweepInterval)
	v.SetDefault(flagEmissionPeriod, def.EmissionPeriod)
	v.SetDefault(flagAmountPerOnce, def.AmountPerOnce)
	v.SetDefault(flagSendTimeout, def.SendTimeout)
	v.SetDefault(flagCompletedCacheSize, def.CompletedCacheSize)
	v.SetDefault(flagMetricsInterval, def.MetricsInterval)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cmd == nil {
		return v, nil
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed binding flags: %w", err)
	}

	if file := v.GetString(flagConfig); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed reading config file %s: %w", file, err)
		}
	}

	return v, nil
}

func loadConfig(v *viper.Viper) (Config, error) {
	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return Config{}, fmt.Errorf("failed decoding config: %w", err)
	}
	return conf, conf.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.DataDir == "":
		return errors.New("data directory is required")
	case c.Network == "":
		return errors.New("network is required")
	case c.ExpiryTimeout <= 0:
		return fmt.Errorf("expiry timeout must be positive, got %s", c.ExpiryTimeout)
	case c.SweepInterval <= 0:
		return fmt.Errorf("sweep interval must be positive, got %s", c.SweepInterval)
	case c.MetricsInterval < 0:
		return fmt.Errorf("metrics interval must not be negative, got %s", c.MetricsInterval)
	}
	_, err := c.ExpiryPolicy()
	return err
}

func (c Config) ExpiryPolicy() (mst.ExpiryPolicy, error) {
	switch c.ExpiryMode {
	case mst.ExpireByCreatedTime.String():
		return mst.EarliestTxTime(c.ExpiryTimeout), nil
	case mst.ExpireAfterArrival.String():
		return mst.FixedTimeout(c.ExpiryTimeout, time.Now), nil
	default:
		return mst.ExpiryPolicy{}, fmt.Errorf("unknown expiry mode %q", c.ExpiryMode)
	}
}

func (c Config) GossipConfig(logger mst.Logger) gossip.Config {
	return gossip.Config{
		Logger:         logger,
		NetworkID:      c.Network,
		EmissionPeriod: c.EmissionPeriod,
		AmountPerOnce:  c.AmountPerOnce,
		SendTimeout:    c.SendTimeout,
	}
}
