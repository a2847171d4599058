package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func nominatimStub(hits *int32, status int, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

const sampleBody = `{"address":{"road":"Rua das Flores","house_number":"123","suburb":"Centro","city":"Betim","state":"Minas Gerais"}}`

func TestResolveFormatsAddress(t *testing.T) {
	var hits int32
	srv := nominatimStub(&hits, http.StatusOK, sampleBody)
	defer srv.Close()

	r := NewResolver(srv.URL, time.Second)
	addr, err := r.Resolve(context.Background(), -19.95299, -44.05019)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "Rua das Flores, 123 - Centro, Betim - Minas Gerais"
	if addr != want {
		t.Errorf("addr = %q, want %q", addr, want)
	}
}

func TestResolveQuantizedCacheHit(t *testing.T) {
	var hits int32
	srv := nominatimStub(&hits, http.StatusOK, sampleBody)
	defer srv.Close()

	r := NewResolver(srv.URL, time.Second)

	// Two fixes ~25m apart share the same 3-decimal cell, so the second
	// lookup must come from cache.
	first, err := r.Resolve(context.Background(), -19.95299, -44.05019)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), -19.95281, -44.05033)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if first != second {
		t.Errorf("cache returned different address: %q vs %q", first, second)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("upstream hit %d times, want 1", n)
	}
	if r.CachedKeys() != 1 {
		t.Errorf("CachedKeys = %d, want 1", r.CachedKeys())
	}
}

func TestResolveDistinctCells(t *testing.T) {
	var hits int32
	srv := nominatimStub(&hits, http.StatusOK, sampleBody)
	defer srv.Close()

	r := NewResolver(srv.URL, time.Second)
	r.Resolve(context.Background(), -19.953, -44.050)
	r.Resolve(context.Background(), -19.955, -44.050)

	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Errorf("upstream hit %d times, want 2", n)
	}
}

func TestResolveRateLimitedNotCached(t *testing.T) {
	var hits int32
	limited := int32(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if atomic.LoadInt32(&limited) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(sampleBody))
	}))
	defer srv.Close()

	r := NewResolver(srv.URL, time.Second)

	addr, err := r.Resolve(context.Background(), -19.953, -44.050)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if addr != "Address temporarily unavailable" {
		t.Errorf("addr = %q", addr)
	}
	if r.CachedKeys() != 0 {
		t.Fatalf("rate-limited result was cached")
	}

	// Upstream recovers: the same cell resolves and is cached now.
	atomic.StoreInt32(&limited, 0)
	addr, err = r.Resolve(context.Background(), -19.953, -44.050)
	if err != nil {
		t.Fatalf("Resolve after recovery: %v", err)
	}
	if addr == "Address temporarily unavailable" {
		t.Errorf("stale fallback returned after recovery")
	}
	if r.CachedKeys() != 1 {
		t.Errorf("CachedKeys = %d, want 1", r.CachedKeys())
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Errorf("upstream hit %d times, want 2", n)
	}
}

func TestResolveUpstreamErrorFallsBack(t *testing.T) {
	var hits int32
	srv := nominatimStub(&hits, http.StatusInternalServerError, "")
	defer srv.Close()

	r := NewResolver(srv.URL, time.Second)
	addr, err := r.Resolve(context.Background(), -19.95300, -44.05020)
	if err == nil {
		t.Fatal("expected error for 500 upstream")
	}
	if addr != "Coordinates: -19.95300, -44.05020" {
		t.Errorf("addr = %q", addr)
	}
	if r.CachedKeys() != 0 {
		t.Errorf("transient failure was cached")
	}
}

func TestCacheKey(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     string
	}{
		{-19.95299, -44.05019, "-19.953,-44.050"},
		{-19.95281, -44.05033, "-19.953,-44.050"},
		{0, 0, "0.000,0.000"},
		{-19.9556, -44.0500, "-19.956,-44.050"},
	}
	for _, tt := range tests {
		if got := CacheKey(tt.lat, tt.lon); got != tt.want {
			t.Errorf("CacheKey(%f, %f) = %q, want %q", tt.lat, tt.lon, got, tt.want)
		}
	}
}

func TestFormatAddressFallbacks(t *testing.T) {
	var body nominatimResponse
	if got := formatAddress(body); got != "Address not available" {
		t.Errorf("empty address = %q", got)
	}

	body.Address.Street = "Avenida Amazonas"
	body.Address.Town = "Contagem"
	if got := formatAddress(body); got != "Avenida Amazonas, Contagem" {
		t.Errorf("street/town fallback = %q", got)
	}
}
