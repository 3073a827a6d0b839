package notaryapi

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync/atomic"
	"time"
)

// OpenStream performs r and yields the raw response body in chunks as they
// arrive. The sequence ends on connection close; any failure is yielded once
// as the final element. A read that stays silent longer than the idle timeout
// aborts the request with a TransportError wrapping ErrIdleTimeout.
func (c *Client) OpenStream(ctx context.Context, r Request) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		op := r.Method + " " + r.Path
		var idle atomic.Bool
		var timer *time.Timer
		if c.idleTimeout > 0 {
			timer = time.AfterFunc(c.idleTimeout, func() {
				idle.Store(true)
				cancel()
			})
			defer timer.Stop()
		}
		fail := func(err error) {
			if idle.Load() {
				err = ErrIdleTimeout
			}
			yield(nil, &TransportError{Op: op, Err: err})
		}

		req, target, err := c.newRequest(ctx, r)
		if err != nil {
			yield(nil, err)
			return
		}
		req.Header.Set("Accept", "text/plain")

		res, err := c.resolvedStreamClient().Do(req)
		if err != nil {
			fail(err)
			return
		}
		defer func() { _ = res.Body.Close() }()

		if err := checkStatus(res, target); err != nil {
			yield(nil, err)
			return
		}
		c.log.Debug("notaryapi stream opened", "path", r.Path, "status", res.StatusCode)

		buf := make([]byte, c.chunkSize)
		for {
			n, err := res.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				// The consumer's processing time does not count as silence.
				if timer != nil {
					timer.Stop()
				}
				if !yield(chunk, nil) {
					return
				}
				if timer != nil && !idle.Load() {
					timer.Reset(c.idleTimeout)
				}
			}
			if errors.Is(err, io.EOF) {
				if idle.Load() {
					fail(ErrIdleTimeout)
				}
				return
			}
			if err != nil {
				fail(err)
				return
			}
		}
	}
}
