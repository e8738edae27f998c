package governance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrIdleTimeout is returned by IdleTimeoutReader once the upstream stalls.
var ErrIdleTimeout = errors.New("upstream idle timeout exceeded")

// TimeoutConfig defines timeout behavior for upstream exchanges.
type TimeoutConfig struct {
	// RequestTimeout bounds the wait for upstream response headers.
	RequestTimeout time.Duration
	// IdleTimeout is the maximum time between body chunks.
	IdleTimeout time.Duration
	// AbsoluteTimeout is the maximum total duration of one exchange, body included.
	AbsoluteTimeout time.Duration
}

// DefaultTimeoutConfig returns sensible timeout defaults.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		RequestTimeout:  30 * time.Second,
		IdleTimeout:     15 * time.Second,
		AbsoluteTimeout: 15 * time.Minute,
	}
}

// Validate reports non-positive durations.
func (c TimeoutConfig) Validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.AbsoluteTimeout <= 0 {
		return fmt.Errorf("absolute timeout must be positive")
	}
	return nil
}

// TimeoutManager enforces timeout policies on upstream exchanges.
type TimeoutManager struct {
	config TimeoutConfig
}

// NewTimeoutManager creates a timeout manager, filling unset values with defaults.
func NewTimeoutManager(config TimeoutConfig) *TimeoutManager {
	defaults := DefaultTimeoutConfig()
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.AbsoluteTimeout <= 0 {
		config.AbsoluteTimeout = defaults.AbsoluteTimeout
	}
	return &TimeoutManager{config: config}
}

// Config returns a copy of the timeout configuration.
func (tm *TimeoutManager) Config() TimeoutConfig {
	return tm.config
}

// WithExchangeTimeout bounds a whole upstream exchange, streaming body included.
func (tm *TimeoutManager) WithExchangeTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, tm.config.AbsoluteTimeout)
}

// WrapBody applies the idle timeout to an upstream response body.
func (tm *TimeoutManager) WrapBody(body io.ReadCloser) *IdleTimeoutReader {
	return NewIdleTimeoutReader(body, tm.config.IdleTimeout)
}

// IdleTimeoutReader closes the wrapped body when a single Read waits longer
// than the idle window, which unblocks it. The clock only runs while a Read
// is in flight, so time the caller spends between reads is never counted.
type IdleTimeoutReader struct {
	body        io.ReadCloser
	idleTimeout time.Duration
	timer       *time.Timer

	mu      sync.Mutex
	expired bool
}

// NewIdleTimeoutReader wraps body with a stopped idle clock.
func NewIdleTimeoutReader(body io.ReadCloser, idleTimeout time.Duration) *IdleTimeoutReader {
	r := &IdleTimeoutReader{body: body, idleTimeout: idleTimeout}
	r.timer = time.AfterFunc(idleTimeout, r.expire)
	r.timer.Stop()
	return r
}

func (r *IdleTimeoutReader) expire() {
	r.mu.Lock()
	r.expired = true
	r.mu.Unlock()
	_ = r.body.Close()
}

// Expired reports whether the idle window elapsed.
func (r *IdleTimeoutReader) Expired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expired
}

// Read implements io.Reader with idle timeout enforcement.
func (r *IdleTimeoutReader) Read(p []byte) (int, error) {
	if r.Expired() {
		return 0, fmt.Errorf("%w after %v", ErrIdleTimeout, r.idleTimeout)
	}

	r.timer.Reset(r.idleTimeout)
	n, err := r.body.Read(p)
	r.timer.Stop()
	if err != nil && err != io.EOF && r.Expired() {
		return n, fmt.Errorf("%w after %v", ErrIdleTimeout, r.idleTimeout)
	}
	return n, err
}

// Close stops the idle clock and closes the body.
func (r *IdleTimeoutReader) Close() error {
	r.timer.Stop()
	return r.body.Close()
}
