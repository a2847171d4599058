package track

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/rlacerda/vigia/internal/util"
)

// Beacon posts a best-effort final sample during process teardown. It is a
// separate path from the realtime distribution channel: fire-and-forget,
// at-most-once, and failures degrade silently apart from a log line.
type Beacon struct {
	url    string
	userID string
	client *http.Client
}

func NewBeacon(url, userID string) *Beacon {
	return &Beacon{
		url:    url,
		userID: userID,
		client: &http.Client{Timeout: util.ShortTimeout},
	}
}

type beaconBody struct {
	UserID string `json:"user_id"`
	Sample
}

// Flush sends the sample once and never retries. Safe to call with a zero
// beacon URL (no-op).
func (b *Beacon) Flush(s Sample) {
	if b == nil || b.url == "" {
		return
	}
	body, err := json.Marshal(beaconBody{UserID: b.userID, Sample: s})
	if err != nil {
		log.Printf("TRACK: beacon marshal: %v", err)
		return
	}
	resp, err := b.client.Post(b.url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("TRACK: beacon send failed: %v", err)
		return
	}
	resp.Body.Close()
	log.Printf("TRACK: teardown beacon sent (%s)", resp.Status)
}

// FlushAsync fires the beacon in the background with a hard deadline, for
// teardown paths that cannot block.
func (b *Beacon) FlushAsync(s Sample) {
	if b == nil || b.url == "" {
		return
	}
	done := make(chan struct{})
	go func() {
		b.Flush(s)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(util.ShortTimeout):
		log.Printf("TRACK: beacon still in flight at teardown, abandoning")
	}
}
