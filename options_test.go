// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evnet

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoadOptionsDefaults(t *testing.T) {
	opts := loadOptions()
	assert.Equal(t, 0, opts.NumEventLoop)
	assert.Equal(t, RoundRobin, opts.LB)
	assert.True(t, opts.TCPKeepAlive)
	assert.False(t, opts.TCPNoDelay)
	assert.Equal(t, DefaultHighWaterMark, opts.HighWaterMark)
	assert.Equal(t, DefaultPollTimeout, opts.PollTimeout)
	assert.Nil(t, opts.Codec)
	assert.Same(t, defaultLogger, opts.Logger)

	// invalid values fall back to the defaults
	opts = loadOptions(WithPollTimeout(-time.Second), WithHighWaterMark(0), WithLogger(nil))
	assert.Equal(t, DefaultPollTimeout, opts.PollTimeout)
	assert.Equal(t, DefaultHighWaterMark, opts.HighWaterMark)
	assert.NotNil(t, opts.Logger)
}

func TestWithOptionsOverridesEarlierOptions(t *testing.T) {
	codec := NewFixedLengthFrameCodec(8)
	opts := loadOptions(
		WithNumEventLoop(8),
		WithOptions(Options{NumEventLoop: 2, LB: SourceAddrHash, ReusePort: true}),
		WithTCPNoDelay(true),
		WithCodec(codec),
		WithLoopName("io"),
	)
	assert.Equal(t, 2, opts.NumEventLoop)
	assert.Equal(t, SourceAddrHash, opts.LB)
	assert.True(t, opts.ReusePort)
	assert.False(t, opts.TCPKeepAlive, "WithOptions replaces every field")
	assert.True(t, opts.TCPNoDelay)
	assert.Same(t, codec, opts.Codec)
	assert.Equal(t, "io", opts.LoopName)
}

func TestZeroLoggerLevels(t *testing.T) {
	var out bytes.Buffer
	logger := NewZeroLogger(zerolog.New(&out).Level(zerolog.InfoLevel))
	logger.Debugf("hidden %d", 1)
	logger.Infof("loop %s", "a")
	logger.Warnf("fd=%d", 7)
	logger.Errorf("boom")

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	if assert.Len(t, lines, 3) {
		assert.Contains(t, string(lines[0]), `"level":"info","message":"loop a"`)
		assert.Contains(t, string(lines[1]), `"level":"warn","message":"fd=7"`)
		assert.Contains(t, string(lines[2]), `"level":"error","message":"boom"`)
	}
}
