package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

var (
	// ErrMaxRetriesExceeded reports that every allowed attempt failed
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	// ErrContextCanceled reports cancellation between attempts
	ErrContextCanceled = errors.New("context canceled during retry")
)

// Config shapes the backoff schedule
type Config struct {
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries int
	// InitialInterval is the first backoff delay
	InitialInterval time.Duration
	// MaxInterval caps the backoff delay
	MaxInterval time.Duration
	// Multiplier grows the delay after each retry
	Multiplier float64
	// JitterFactor randomizes each delay by ±factor (0..1)
	JitterFactor float64
}

// DefaultConfig suits slow external dependencies: 1s, 2s, 4s, 8s, 16s, 30s
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

// FastConfig suits contended compare-and-swap loops: short initial backoff,
// tight cap, full jitter so colliding writers spread out.
func FastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:      maxRetries,
		InitialInterval: 2 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		Multiplier:      2.0,
		JitterFactor:    1.0,
	}
}

// Operation is the unit of work being retried
type Operation func(ctx context.Context) error

// PermanentError stops the retry loop immediately
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks an error as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Result reports how the retry loop ended
type Result struct {
	// Err is nil on success, the permanent error, or a retry sentinel
	Err error
	// Attempts counts every call of the operation, the initial one included
	Attempts int
	// LastError is the error returned by the final attempt
	LastError error
	// TotalDuration covers attempts and waits
	TotalDuration time.Duration
}

// RetryCallback observes each failed attempt before the backoff wait
type RetryCallback func(attempt int, err error, nextInterval time.Duration)

// Retrier runs operations under an exponential backoff schedule
type Retrier struct {
	config *Config
}

// New builds a Retrier, normalizing out-of-range config values
func New(config *Config) *Retrier {
	if config == nil {
		config = DefaultConfig()
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = 1 * time.Second
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.JitterFactor < 0 {
		config.JitterFactor = 0
	}
	if config.JitterFactor > 1 {
		config.JitterFactor = 1
	}
	return &Retrier{config: config}
}

// Do runs the operation until it succeeds, fails permanently, or the
// attempt budget runs out
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	return r.DoWithCallback(ctx, op, nil)
}

// DoWithCallback is Do with a hook invoked before every backoff wait
func (r *Retrier) DoWithCallback(ctx context.Context, op Operation, callback RetryCallback) *Result {
	start := time.Now()
	result := &Result{}
	next := r.config.InitialInterval

	finish := func(err error) *Result {
		result.Err = err
		result.TotalDuration = time.Since(start)
		return result
	}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return finish(ErrContextCanceled)
		}

		result.Attempts = attempt + 1
		err := op(ctx)
		if err == nil {
			return finish(nil)
		}
		result.LastError = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			result.LastError = perm.Err
			return finish(perm.Err)
		}

		if attempt == r.config.MaxRetries {
			return finish(ErrMaxRetriesExceeded)
		}

		wait := r.jittered(next)
		if callback != nil {
			callback(attempt+1, err, wait)
		}

		select {
		case <-ctx.Done():
			return finish(ErrContextCanceled)
		case <-time.After(wait):
		}

		next = time.Duration(float64(next) * r.config.Multiplier)
		if next > r.config.MaxInterval {
			next = r.config.MaxInterval
		}
	}
}

// jittered randomizes a delay so synchronized failures drift apart
func (r *Retrier) jittered(interval time.Duration) time.Duration {
	if r.config.JitterFactor <= 0 {
		return interval
	}
	spread := float64(interval) * r.config.JitterFactor
	d := time.Duration(float64(interval) + (rand.Float64()*2-1)*spread)
	if d <= 0 {
		d = time.Millisecond
	}
	if d > r.config.MaxInterval {
		d = r.config.MaxInterval
	}
	return d
}
