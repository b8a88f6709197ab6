// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger adapts a zap logger to mst.Logger. Trace and Verbo are debug level entries.
type logger struct {
	*zap.Logger
	verbose *zap.Logger
}

func newLogger(level string) (*logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	conf := zap.NewProductionConfig()
	conf.Level = zap.NewAtomicLevelAt(lvl)
	conf.Encoding = "console"
	conf.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("[01-02|15:04:05.000]")
	conf.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	conf.Sampling = nil

	l, err := conf.Build()
	if err != nil {
		return nil, err
	}
	return &logger{Logger: l, verbose: l.WithOptions(zap.AddCallerSkip(1))}, nil
}

func (l *logger) Trace(msg string, fields ...zap.Field) {
	l.verbose.Debug(msg, fields...)
}

func (l *logger) Verbo(msg string, fields ...zap.Field) {
	l.verbose.Debug(msg, fields...)
}
