package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config contains configuration for the usage recorder.
type Config struct {
	// Enabled enables usage recording.
	Enabled bool

	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout is the timeout for writing an event to the sink.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder writes usage events asynchronously so the relay data path
// never blocks on accounting.
//
// When the buffer is full the oldest queued event is dropped to admit
// the new one; delivery is at-most-once and recording failures never
// fail a relay.
type Recorder struct {
	sink      Sink
	config    *Config
	eventChan chan *Event
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger

	mu      sync.Mutex
	dropped int64
}

// NewRecorder creates a usage recorder backed by the provided sink and
// starts its background writer.
func NewRecorder(sink Sink, config *Config) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}

	r := &Recorder{
		sink:      sink,
		config:    config,
		eventChan: make(chan *Event, config.AsyncBuffer),
		done:      make(chan struct{}),
		logger:    slog.Default().With("component", "usage.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("usage recorder initialized",
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
	)

	return r
}

// Record enqueues a usage event without blocking. When the buffer is
// full the oldest queued event is evicted so the newest is kept.
func (r *Recorder) Record(event *Event) {
	if !r.config.Enabled {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-r.done:
		return
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		select {
		case r.eventChan <- event:
			return
		default:
		}

		select {
		case old := <-r.eventChan:
			r.dropped++
			r.logger.Warn("usage buffer full, dropping oldest event",
				"dropped_request_id", old.RequestID,
				"dropped_total", r.dropped,
			)
		default:
		}
	}
}

// Dropped returns the number of events evicted under backpressure.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close drains the buffer and waits for pending writes to complete.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("shutting down usage recorder")
		close(r.done)
		r.wg.Wait()
		r.logger.Info("usage recorder shut down complete")
	})
	return r.sink.Close()
}

// worker drains the event channel and writes events to the sink.
func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case event := <-r.eventChan:
			r.writeEvent(event)

		case <-r.done:
			r.logger.Info("draining usage channel before shutdown",
				"pending_count", len(r.eventChan),
			)
			for {
				select {
				case event := <-r.eventChan:
					r.writeEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeEvent(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.sink.Store(ctx, event); err != nil {
		r.logger.Error("failed to store usage event",
			"request_id", event.RequestID,
			"account_id", event.AccountID,
			"error", err,
		)
		return
	}

	r.logger.Debug("usage recorded",
		"request_id", event.RequestID,
		"account_id", event.AccountID,
		"input_tokens", event.InputTokens,
		"output_tokens", event.OutputTokens,
	)
}
