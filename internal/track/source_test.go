package track

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeLocator serves scripted results, one per Current call.
type fakeLocator struct {
	calls   int32
	results []func() (Sample, error)
}

func (f *fakeLocator) Current(ctx context.Context, opt Options) (Sample, error) {
	n := int(atomic.AddInt32(&f.calls, 1)) - 1
	if n < len(f.results) {
		return f.results[n]()
	}
	// After the script runs out, block until cancelled.
	<-ctx.Done()
	return Sample{}, ctx.Err()
}

func fix(lat, lon float64) func() (Sample, error) {
	return func() (Sample, error) {
		return Sample{Latitude: lat, Longitude: lon}, nil
	}
}

func fail(err error) func() (Sample, error) {
	return func() (Sample, error) { return Sample{}, err }
}

func collect(t *testing.T, ch <-chan Sample, n int) []Sample {
	t.Helper()
	var out []Sample
	deadline := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case s, ok := <-ch:
			if !ok {
				t.Fatalf("samples closed after %d of %d", len(out), n)
			}
			out = append(out, s)
		case <-deadline:
			t.Fatalf("timed out after %d of %d samples", len(out), n)
		}
	}
	return out
}

func TestSourcePrimesImmediately(t *testing.T) {
	loc := &fakeLocator{results: []func() (Sample, error){fix(-19.95, -44.05)}}
	src := NewSource(loc, Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	got := collect(t, src.Samples(), 1)
	if got[0].Latitude != -19.95 {
		t.Errorf("latitude = %f", got[0].Latitude)
	}
	if got[0].CapturedAt.IsZero() {
		t.Errorf("CapturedAt not filled in")
	}
	if last, ok := src.Last(); !ok || last.Latitude != -19.95 {
		t.Errorf("Last = %v, %v", last, ok)
	}
}

func TestSourceContinuesAfterTransientErrors(t *testing.T) {
	loc := &fakeLocator{results: []func() (Sample, error){
		fail(ErrPositionUnavailable),
		fail(context.DeadlineExceeded),
		fix(1, 2),
	}}
	src := NewSource(loc, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	got := collect(t, src.Samples(), 1)
	if got[0].Latitude != 1 {
		t.Errorf("latitude = %f", got[0].Latitude)
	}

	var sawUnavailable, sawTimeout bool
	for i := 0; i < 2; i++ {
		select {
		case err := <-src.Errors():
			if errors.Is(err, ErrPositionUnavailable) {
				sawUnavailable = true
			}
			if errors.Is(err, ErrTimeout) {
				sawTimeout = true
			}
		case <-time.After(time.Second):
			t.Fatal("missing error report")
		}
	}
	if !sawUnavailable || !sawTimeout {
		t.Errorf("unavailable=%v timeout=%v", sawUnavailable, sawTimeout)
	}
}

func TestSourceHaltsOnPermissionDenied(t *testing.T) {
	loc := &fakeLocator{results: []func() (Sample, error){
		fail(ErrPermissionDenied),
	}}
	src := NewSource(loc, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-src.Errors():
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no error reported")
	}

	// The loop must end: the samples channel closes.
	select {
	case _, ok := <-src.Samples():
		if ok {
			t.Fatal("got a sample after permission denial")
		}
	case <-time.After(time.Second):
		t.Fatal("samples channel not closed")
	}

	if n := atomic.LoadInt32(&loc.calls); n != 1 {
		t.Errorf("locator called %d times after fatal error", n)
	}
}

func TestSourceMonotonicCaptureTimes(t *testing.T) {
	now := time.Now()
	loc := &fakeLocator{results: []func() (Sample, error){
		func() (Sample, error) {
			return Sample{Latitude: 1, CapturedAt: now}, nil
		},
		func() (Sample, error) {
			// Platform clock stepped backwards.
			return Sample{Latitude: 2, CapturedAt: now.Add(-time.Minute)}, nil
		},
	}}
	src := NewSource(loc, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	got := collect(t, src.Samples(), 2)
	if got[1].CapturedAt.Before(got[0].CapturedAt) {
		t.Errorf("capture times went backwards: %v then %v", got[0].CapturedAt, got[1].CapturedAt)
	}
}

func TestSourceDoubleStart(t *testing.T) {
	loc := &fakeLocator{}
	src := NewSource(loc, Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	if err := src.Start(ctx); err == nil {
		t.Fatal("second Start succeeded")
	}
}

func TestSourceStopIsIdempotent(t *testing.T) {
	loc := &fakeLocator{results: []func() (Sample, error){fix(1, 2)}}
	src := NewSource(loc, Config{Interval: time.Hour})

	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	collect(t, src.Samples(), 1)

	src.Stop()
	src.Stop()
}
