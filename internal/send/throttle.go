// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package send

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize caps a single rate-limiter reservation so a large WRITE
// record's payload doesn't ask for one enormous burst of tokens.
const maxBurstSize = 256 * 1024

// ThrottledWriter wraps an io.Writer with a token-bucket rate limit in
// bytes/second, grounded on the teacher's agent.ThrottledWriter.
type ThrottledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// NewThrottledWriter returns w wrapped with a bytesPerSec cap. A
// bytesPerSec <= 0 returns w unchanged (no throttling).
func NewThrottledWriter(ctx context.Context, w io.Writer, bytesPerSec int64) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}
	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	return &ThrottledWriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Write splits p into burst-sized chunks and blocks on the limiter
// before each one, so the effective throughput converges to the
// configured rate regardless of caller chunk size.
func (tw *ThrottledWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := len(p)
		if chunk > tw.limiter.Burst() {
			chunk = tw.limiter.Burst()
		}
		if err := tw.limiter.WaitN(tw.ctx, chunk); err != nil {
			return total, err
		}
		n, err := tw.w.Write(p[:chunk])
		total += n
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}
