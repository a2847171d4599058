// Package geofence turns position samples into edge-triggered zone
// crossing events. The engine owns the inside/outside flag of every zone;
// nothing else mutates it.
package geofence

import (
	"log"
	"math"
	"sync"

	"github.com/rlacerda/vigia/internal/track"
)

const earthRadiusMeters = 6371000

// Tri is the tri-state inside flag. A zone starts Unknown so the very first
// evaluation outside a zone cannot fire a spurious Exit, and the first
// evaluation inside fires exactly one Enter.
type Tri int

const (
	TriUnknown Tri = iota
	TriInside
	TriOutside
)

// Zone is a circular region with an enter/exit notification policy.
type Zone struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	RadiusMeters  float64 `json:"radius"`
	NotifyOnEnter bool    `json:"notify_on_enter"`
	NotifyOnExit  bool    `json:"notify_on_exit"`
	Active        bool    `json:"is_active"`
}

// Transition is the direction of a zone crossing.
type Transition int

const (
	Enter Transition = iota
	Exit
)

func (t Transition) String() string {
	if t == Enter {
		return "enter"
	}
	return "exit"
}

// Crossing is one edge-triggered zone event produced by Evaluate. The zone
// snapshot is included so dispatch can honor the notify flags without a
// second lookup.
type Crossing struct {
	Zone       Zone
	Transition Transition
	Distance   float64 // meters from zone center at the triggering sample
}

// zoneState pairs a zone with its engine-private inside flag.
type zoneState struct {
	zone   Zone
	mu     sync.Mutex
	inside Tri
}

// Engine evaluates samples against the active zone set.
type Engine struct {
	mu    sync.RWMutex
	zones []*zoneState
}

func NewEngine() *Engine {
	return &Engine{}
}

// LoadZones replaces the working set atomically. Inside flags reset to
// Unknown: a reload is a fresh observation window, and an in-flight Evaluate
// keeps operating on the snapshot it took at its start.
func (e *Engine) LoadZones(zones []Zone) {
	states := make([]*zoneState, 0, len(zones))
	for _, z := range zones {
		if z.RadiusMeters <= 0 {
			log.Printf("GEO: skipping zone %q with non-positive radius %.1f", z.Name, z.RadiusMeters)
			continue
		}
		states = append(states, &zoneState{zone: z, inside: TriUnknown})
	}

	e.mu.Lock()
	e.zones = states
	e.mu.Unlock()
	log.Printf("GEO: loaded %d zone(s)", len(states))
}

// Zones returns a copy of the current zone set.
func (e *Engine) Zones() []Zone {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Zone, 0, len(e.zones))
	for _, s := range e.zones {
		out = append(out, s.zone)
	}
	return out
}

// Evaluate checks the sample against every active zone and returns at most
// one crossing per zone. If the sampling cadence is coarser than a visit to
// a zone, the full enter+exit cycle is missed; the engine does not try to
// reconstruct it.
func (e *Engine) Evaluate(s track.Sample) []Crossing {
	e.mu.RLock()
	snapshot := e.zones
	e.mu.RUnlock()

	var events []Crossing
	for _, st := range snapshot {
		if !st.zone.Active {
			continue
		}
		dist := Distance(s.Latitude, s.Longitude, st.zone.Latitude, st.zone.Longitude)
		inside := dist <= st.zone.RadiusMeters

		st.mu.Lock()
		prev := st.inside
		if inside {
			st.inside = TriInside
		} else {
			st.inside = TriOutside
		}
		st.mu.Unlock()

		switch {
		case inside && prev != TriInside:
			events = append(events, Crossing{Zone: st.zone, Transition: Enter, Distance: dist})
		case !inside && prev == TriInside:
			events = append(events, Crossing{Zone: st.zone, Transition: Exit, Distance: dist})
		}
	}
	return events
}

// Distance is the great-circle distance in meters between two points,
// computed with the Haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
