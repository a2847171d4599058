// Package track wraps the platform location API behind the Locator
// interface and runs the sampling loop that feeds the geofence engine and
// the distribution path.
package track

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Failure taxonomy. Permission denial is fatal to tracking until the user
// re-grants it; the other two resolve on the next natural cycle.
var (
	ErrPermissionDenied    = errors.New("track: location permission denied")
	ErrPositionUnavailable = errors.New("track: position unavailable")
	ErrTimeout             = errors.New("track: position request timed out")
)

// Sample is one immutable position fix.
type Sample struct {
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Accuracy     float64   `json:"accuracy"`
	Altitude     float64   `json:"altitude,omitempty"`
	Speed        float64   `json:"speed,omitempty"`
	Heading      float64   `json:"heading,omitempty"`
	BatteryLevel int       `json:"battery_level"`
	IsCharging   bool      `json:"is_charging"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Options mirror the platform position-request knobs.
type Options struct {
	HighAccuracy bool
	MaxSampleAge time.Duration // oldest acceptable cached fix; 0 = always fresh
	Timeout      time.Duration
}

// Locator is the platform location API. Current blocks until a fix is
// available, the per-request timeout elapses, or ctx is cancelled.
type Locator interface {
	Current(ctx context.Context, opt Options) (Sample, error)
}

// Config drives the sampling loop.
type Config struct {
	Options
	Interval  time.Duration // regular sampling cadence
	Heartbeat time.Duration // forced refresh even when the regular loop stalls
}

// Source runs the sampling loop and publishes samples and errors.
type Source struct {
	loc Locator
	cfg Config

	samples chan Sample
	errs    chan error

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool

	lastMu sync.RWMutex
	last   *Sample
}

func NewSource(loc Locator, cfg Config) *Source {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Source{
		loc:     loc,
		cfg:     cfg,
		samples: make(chan Sample, 16),
		errs:    make(chan error, 4),
	}
}

// Samples is the stream of position fixes. Closed when the loop ends.
func (s *Source) Samples() <-chan Sample { return s.samples }

// Errors reports non-fatal and fatal sampling failures. A fatal
// ErrPermissionDenied is the last value before the loop ends.
func (s *Source) Errors() <-chan error { return s.errs }

// Last returns the most recent sample, if any. Used by the teardown beacon
// and by Refresh callers that only need the cached fix.
func (s *Source) Last() (Sample, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return Sample{}, false
	}
	return *s.last, true
}

// Start launches the sampling loop. Returns an error if already running.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("track: source already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	go s.loop(loopCtx)
	return nil
}

// Stop cancels the loop. The underlying location watch is released as soon
// as any in-flight request returns.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.running = false
}

func (s *Source) loop(ctx context.Context) {
	defer close(s.samples)
	defer close(s.errs)

	tick := time.NewTicker(s.cfg.Interval)
	defer tick.Stop()

	var heartbeat <-chan time.Time
	if s.cfg.Heartbeat > 0 {
		hb := time.NewTicker(s.cfg.Heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	// Prime immediately rather than waiting a full interval.
	if fatal := s.sampleOnce(ctx); fatal {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		case <-heartbeat:
			log.Printf("TRACK: heartbeat refresh")
		}
		if fatal := s.sampleOnce(ctx); fatal {
			return
		}
	}
}

// sampleOnce requests one fresh fix. Returns true when the failure is fatal
// and the loop must halt.
func (s *Source) sampleOnce(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	sample, err := s.loc.Current(reqCtx, s.cfg.Options)
	if err != nil {
		if ctx.Err() != nil {
			return true // stopped, not a failure
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		s.reportError(err)
		if errors.Is(err, ErrPermissionDenied) {
			log.Printf("TRACK: permission denied, halting until re-authorized")
			return true
		}
		// Unavailable or timed out: the next cycle retries naturally.
		return false
	}

	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = time.Now()
	}

	// Keep capture times monotonic within one source session.
	s.lastMu.Lock()
	if s.last != nil && sample.CapturedAt.Before(s.last.CapturedAt) {
		sample.CapturedAt = s.last.CapturedAt
	}
	cp := sample
	s.last = &cp
	s.lastMu.Unlock()

	select {
	case s.samples <- sample:
	default:
		log.Printf("TRACK: consumer slow, dropping sample")
	}
	return false
}

func (s *Source) reportError(err error) {
	select {
	case s.errs <- err:
	default:
		log.Printf("TRACK: error listener full, dropping: %v", err)
	}
}
