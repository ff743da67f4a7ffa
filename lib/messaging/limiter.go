// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package messaging

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// limitedReader throttles reads against a token bucket. A nil limiter reads
// at full speed.
type limitedReader struct {
	reader  io.Reader
	limiter *rate.Limiter
}

func (r *limitedReader) Read(buf []byte) (int, error) {
	n, err := r.reader.Read(buf)
	take(r.limiter, n)
	return n, err
}

// limitedWriter throttles writes, taking the tokens before passing data on.
type limitedWriter struct {
	writer  io.Writer
	limiter *rate.Limiter
}

func (w *limitedWriter) Write(buf []byte) (int, error) {
	take(w.limiter, len(buf))
	return w.writer.Write(buf)
}

// take waits for the given number of tokens, in chunks no larger than the
// limiter's burst.
func take(limiter *rate.Limiter, tokens int) {
	if limiter == nil || tokens <= 0 {
		return
	}
	for tokens > 0 {
		n := tokens
		if burst := limiter.Burst(); n > burst {
			n = burst
		}
		_ = limiter.WaitN(context.Background(), n)
		tokens -= n
	}
}

// newRateLimiter returns a limiter for the given kbit/s, or nil for zero
// (unlimited).
func newRateLimiter(kbps int) *rate.Limiter {
	if kbps <= 0 {
		return nil
	}
	bytesPerSec := kbps * 128 // kbit/s to byte/s
	return rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
}
