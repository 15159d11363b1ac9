package engine

import (
	"context"
	"io"

	"github.com/fujiwara/shapeio"
	"golang.org/x/time/rate"
)

// speedLimitedReader is an optional throttling hook: speed_limit is read
// from settings but nothing forces the Executor to honor it. When
// SpeedLimitBps > 0 this wraps a segment's response body so the limit
// actually applies, backed by a golang.org/x/time/rate token bucket.
type speedLimitedReader struct {
	r   io.Reader
	lim *rate.Limiter
}

func (s *speedLimitedReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	// WaitN rejects a request larger than the burst, so wait in steps of at
	// most one burst.
	for left := n; left > 0; {
		k := left
		if b := s.lim.Burst(); k > b {
			k = b
		}
		_ = s.lim.WaitN(context.Background(), k)
		left -= k
	}
	return n, err
}

// throttle wraps src with a rate limiter when bps > 0, otherwise returns
// src unchanged. Two shaping strategies are kept side by side: this
// token-bucket limiter (x/time/rate), built fresh for each call and used by
// each segment with its share of the limit, and shapeio's adaptive reader
// (throttleShapeio), used for the single-stream path.
func throttle(src io.Reader, bps int64) io.Reader {
	if bps <= 0 {
		return src
	}
	return &speedLimitedReader{r: src, lim: rate.NewLimiter(rate.Limit(bps), int(bps))}
}

// throttleShapeio is the shapeio-backed alternative shaping path, used by
// the single-stream Executor path.
func throttleShapeio(src io.Reader, bps int64) io.Reader {
	if bps <= 0 {
		return src
	}
	sr := shapeio.NewReader(src)
	sr.SetRateLimit(float64(bps))
	return sr
}
