// Package geocode resolves coordinates to human-readable addresses through
// a Nominatim-compatible upstream, memoizing results per quantized
// coordinate so nearby lookups never hit the service twice.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rlacerda/vigia/internal/util"
)

// Coordinates are rounded to 3 decimals (~111 m) before cache lookup, so two
// fixes from the same street corner share one upstream call.
const cachePrecision = 3

// ErrRateLimited reports an upstream 429/403. The result is intentionally
// not cached so a later call retries.
var ErrRateLimited = errors.New("geocode: upstream rate limited")

// Resolver caches reverse-geocoded addresses for one process lifetime.
// The cache is append-only: entries are never evicted or overwritten.
type Resolver struct {
	baseURL string
	client  *http.Client

	mu    sync.RWMutex
	cache map[string]string
}

func NewResolver(baseURL string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = util.DefaultFetchTimeout
	}
	return &Resolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		cache:   make(map[string]string),
	}
}

// CacheKey quantizes a coordinate pair to the cache precision.
func CacheKey(lat, lon float64) string {
	return fmt.Sprintf("%.*f,%.*f", cachePrecision, lat, cachePrecision, lon)
}

// nominatimResponse is the subset of the upstream reply we read.
type nominatimResponse struct {
	Address struct {
		Road          string `json:"road"`
		Street        string `json:"street"`
		HouseNumber   string `json:"house_number"`
		Suburb        string `json:"suburb"`
		Neighbourhood string `json:"neighbourhood"`
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		State         string `json:"state"`
	} `json:"address"`
}

// Resolve returns the address for (lat, lon). On rate limiting the fallback
// string is returned with ErrRateLimited and nothing is cached; on other
// failures a coordinate-formatted fallback is returned, also uncached since
// it reflects a transient error rather than a resolved "no address".
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64) (string, error) {
	key := CacheKey(lat, lon)

	r.mu.RLock()
	addr, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return addr, nil
	}

	u, err := url.Parse(r.baseURL)
	if err != nil {
		return coordFallback(lat, lon), fmt.Errorf("geocode: bad base URL: %w", err)
	}
	q := u.Query()
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lon))
	q.Set("format", "json")
	q.Set("addressdetails", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return coordFallback(lat, lon), fmt.Errorf("geocode: build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return coordFallback(lat, lon), fmt.Errorf("geocode: lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		log.Printf("GEOCODE: rate limited by upstream (%d), will retry on next lookup", resp.StatusCode)
		return "Address temporarily unavailable", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return coordFallback(lat, lon), fmt.Errorf("geocode: upstream status %d", resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return coordFallback(lat, lon), fmt.Errorf("geocode: decode response: %w", err)
	}

	addr = formatAddress(body)

	r.mu.Lock()
	r.cache[key] = addr
	r.mu.Unlock()
	return addr, nil
}

// CachedKeys reports how many distinct quantized keys have been resolved.
func (r *Resolver) CachedKeys() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func formatAddress(body nominatimResponse) string {
	a := body.Address
	street := a.Road
	if street == "" {
		street = a.Street
	}
	neighborhood := a.Suburb
	if neighborhood == "" {
		neighborhood = a.Neighbourhood
	}
	city := a.City
	if city == "" {
		city = a.Town
	}
	if city == "" {
		city = a.Village
	}

	var b strings.Builder
	if street != "" {
		b.WriteString(street)
		if a.HouseNumber != "" {
			b.WriteString(", " + a.HouseNumber)
		}
	}
	if neighborhood != "" {
		if b.Len() > 0 {
			b.WriteString(" - ")
		}
		b.WriteString(neighborhood)
	}
	if city != "" {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(city)
	}
	if a.State != "" {
		if b.Len() > 0 {
			b.WriteString(" - ")
		}
		b.WriteString(a.State)
	}
	if b.Len() == 0 {
		return "Address not available"
	}
	return b.String()
}

func coordFallback(lat, lon float64) string {
	return fmt.Sprintf("Coordinates: %.5f, %.5f", lat, lon)
}
