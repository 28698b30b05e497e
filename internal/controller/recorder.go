package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/junctionflow/junctionflow/internal/trafficlog"
)

// RecorderConfig holds configuration for the asynchronous log writer.
type RecorderConfig struct {
	// QueueSize bounds the number of pending writes. Writes beyond it are dropped.
	// Default: 256
	QueueSize int `yaml:"queue_size"`

	// Timeout bounds a single write attempt.
	// Default: 2 seconds
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of retries after a failed write.
	// Default: 3
	MaxRetries uint64 `yaml:"max_retries"`

	// InitialInterval is the first retry backoff.
	// Default: 100ms
	InitialInterval time.Duration `yaml:"initial_interval"`

	// MaxInterval caps the retry backoff.
	// Default: 2 seconds
	MaxInterval time.Duration `yaml:"max_interval"`

	Logger zerolog.Logger `yaml:"-"`
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		QueueSize:       256,
		Timeout:         2 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Logger:          zerolog.Nop(),
	}
}

// RecorderStats counts recorder outcomes.
type RecorderStats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
	Pending int   `json:"pending"`
}

type pending struct {
	signal    *trafficlog.SignalLog
	violation *trafficlog.Violation
}

// Recorder writes decisions and violations to the log store on a background
// goroutine so the control loop never waits on storage.
type Recorder struct {
	repo   trafficlog.Repository
	cfg    RecorderConfig
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan pending
	done   chan struct{}

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewRecorder creates a recorder and starts its writer goroutine.
func NewRecorder(repo trafficlog.Repository, cfg RecorderConfig) *Recorder {
	d := DefaultRecorderConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = d.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = d.MaxInterval
	}

	r := &Recorder{
		repo:   repo,
		cfg:    cfg,
		logger: cfg.Logger,
		queue:  make(chan pending, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// RecordSignal queues a decision for persistence. It reports false when the
// entry was dropped.
func (r *Recorder) RecordSignal(entry trafficlog.SignalLog) bool {
	return r.enqueue(pending{signal: &entry})
}

// RecordViolation queues a violation for persistence. It reports false when the
// entry was dropped.
func (r *Recorder) RecordViolation(v trafficlog.Violation) bool {
	return r.enqueue(pending{violation: &v})
}

func (r *Recorder) enqueue(p pending) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		return false
	}

	select {
	case r.queue <- p:
		return true
	default:
		r.dropped.Add(1)
		r.logger.Warn().Int("queue_size", r.cfg.QueueSize).Msg("log store queue full, dropping entry")
		return false
	}
}

// Stats returns the recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
		Pending: len(r.queue),
	}
}

// Close stops accepting entries and waits for queued entries to be written or
// for ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for p := range r.queue {
		if err := r.write(p); err != nil {
			r.failed.Add(1)
			r.logger.Warn().Err(err).Msg("failed to persist log entry")
			continue
		}
		r.written.Add(1)
	}
}

func (r *Recorder) write(p pending) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialInterval
	bo.MaxInterval = r.cfg.MaxInterval
	bo.MaxElapsedTime = 0

	operation := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		defer cancel()

		var err error
		if p.signal != nil {
			err = r.repo.LogSignal(ctx, p.signal)
		} else {
			err = r.repo.LogViolation(ctx, p.violation)
		}
		if errors.Is(err, trafficlog.ErrInvalidEntry) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, backoff.WithMaxRetries(bo, r.cfg.MaxRetries))
}
