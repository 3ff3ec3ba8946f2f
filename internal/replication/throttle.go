package replication

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize caps the token bucket burst at 256KB, the same ceiling the
// teacher's agent-side throttle uses for its write pipeline.
const maxBurstSize = 256 * 1024

// throttledWriter is an io.Writer with token-bucket rate limiting. FullResync
// wraps every replica's outbound stream in one from the handshake on, at a
// rate of the configured high-water mark read as bytes per second; it does
// not depend on the replica's backlog (spec.md §4.E, SPEC_FULL §9).
type throttledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// newThrottledWriter caps w at bytesPerSec bytes/second. bytesPerSec <= 0
// disables throttling and returns w unchanged.
func newThrottledWriter(ctx context.Context, w io.Writer, bytesPerSec int64) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}

	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}

	return &throttledWriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Write splits writes larger than the burst size into chunks so that large
// propagation frames still consume tokens gradually instead of requiring
// one huge reservation.
func (tw *throttledWriter) Write(p []byte) (int, error) {
	totalWritten := 0

	for len(p) > 0 {
		chunk := len(p)
		if chunk > tw.limiter.Burst() {
			chunk = tw.limiter.Burst()
		}

		if err := tw.limiter.WaitN(tw.ctx, chunk); err != nil {
			return totalWritten, err
		}

		n, err := tw.w.Write(p[:chunk])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}

		p = p[n:]
	}

	return totalWritten, nil
}
