// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evnet

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is used for logging formatted messages.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

var defaultLogger Logger = NewZeroLogger(
	zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().
		Level(zerolog.InfoLevel))

type zeroLogger struct {
	zl zerolog.Logger
}

// NewZeroLogger adapts a zerolog.Logger to Logger.
func NewZeroLogger(zl zerolog.Logger) Logger {
	return &zeroLogger{zl: zl}
}

func (l *zeroLogger) Debugf(format string, args ...interface{}) { l.zl.Debug().Msgf(format, args...) }
func (l *zeroLogger) Infof(format string, args ...interface{})  { l.zl.Info().Msgf(format, args...) }
func (l *zeroLogger) Warnf(format string, args ...interface{})  { l.zl.Warn().Msgf(format, args...) }
func (l *zeroLogger) Errorf(format string, args ...interface{}) { l.zl.Error().Msgf(format, args...) }

// sniffErrorAndLog logs err through the default logger when it is non-nil.
func sniffErrorAndLog(err error) {
	if err != nil {
		defaultLogger.Errorf("%v", err)
	}
}
