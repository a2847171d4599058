package geofence

import (
	"math"
	"testing"

	"github.com/rlacerda/vigia/internal/track"
)

const (
	homeLat = -19.9530
	homeLon = -44.0502
)

// sampleAt returns a sample the given number of meters due north of the
// test zone center.
func sampleAt(meters float64) track.Sample {
	return track.Sample{
		Latitude:  homeLat + meters/111320.0,
		Longitude: homeLon,
	}
}

func homeZone() Zone {
	return Zone{
		ID:            "zone-home",
		Name:          "Home",
		Latitude:      homeLat,
		Longitude:     homeLon,
		RadiusMeters:  200,
		NotifyOnEnter: true,
		NotifyOnExit:  true,
		Active:        true,
	}
}

func TestEvaluateEdgeTriggered(t *testing.T) {
	eng := NewEngine()
	eng.LoadZones([]Zone{homeZone()})

	// First sample inside fires exactly one Enter.
	events := eng.Evaluate(sampleAt(150))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Transition != Enter {
		t.Errorf("expected Enter, got %s", events[0].Transition)
	}
	if events[0].Zone.ID != "zone-home" {
		t.Errorf("expected zone-home, got %s", events[0].Zone.ID)
	}

	// Staying inside is silent.
	if events := eng.Evaluate(sampleAt(150)); len(events) != 0 {
		t.Fatalf("repeat inside sample fired %d event(s)", len(events))
	}
	if events := eng.Evaluate(sampleAt(100)); len(events) != 0 {
		t.Fatalf("moving within the zone fired %d event(s)", len(events))
	}

	// Leaving fires exactly one Exit.
	events = eng.Evaluate(sampleAt(250))
	if len(events) != 1 || events[0].Transition != Exit {
		t.Fatalf("expected single Exit, got %v", events)
	}

	// Staying outside is silent.
	if events := eng.Evaluate(sampleAt(300)); len(events) != 0 {
		t.Fatalf("repeat outside sample fired %d event(s)", len(events))
	}
}

func TestEvaluateFirstSampleOutside(t *testing.T) {
	eng := NewEngine()
	eng.LoadZones([]Zone{homeZone()})

	// Unknown -> outside must not fire a spurious Exit.
	if events := eng.Evaluate(sampleAt(250)); len(events) != 0 {
		t.Fatalf("first outside sample fired %d event(s)", len(events))
	}
}

func TestEvaluateBoundaryIsInside(t *testing.T) {
	eng := NewEngine()
	eng.LoadZones([]Zone{homeZone()})

	// A sample right at the rim (distance <= radius) counts as inside.
	events := eng.Evaluate(sampleAt(199.9))
	if len(events) != 1 || events[0].Transition != Enter {
		t.Fatalf("rim sample should Enter, got %v", events)
	}
}

func TestEvaluateSkipsInactiveZones(t *testing.T) {
	z := homeZone()
	z.Active = false

	eng := NewEngine()
	eng.LoadZones([]Zone{z})

	if events := eng.Evaluate(sampleAt(0)); len(events) != 0 {
		t.Fatalf("inactive zone fired %d event(s)", len(events))
	}
}

func TestLoadZonesResetsFlags(t *testing.T) {
	eng := NewEngine()
	eng.LoadZones([]Zone{homeZone()})

	if events := eng.Evaluate(sampleAt(150)); len(events) != 1 {
		t.Fatalf("expected initial Enter, got %v", events)
	}

	// Reload resets the flag: the next inside sample re-fires Enter.
	eng.LoadZones([]Zone{homeZone()})
	events := eng.Evaluate(sampleAt(150))
	if len(events) != 1 || events[0].Transition != Enter {
		t.Fatalf("expected Enter after reload, got %v", events)
	}
}

func TestLoadZonesRejectsNonPositiveRadius(t *testing.T) {
	z := homeZone()
	z.RadiusMeters = 0

	eng := NewEngine()
	eng.LoadZones([]Zone{z})

	if got := len(eng.Zones()); got != 0 {
		t.Fatalf("zero-radius zone accepted, %d zone(s) loaded", got)
	}
}

func TestEvaluateMultipleZones(t *testing.T) {
	school := Zone{
		ID: "zone-school", Name: "School",
		Latitude: homeLat + 5000/111320.0, Longitude: homeLon,
		RadiusMeters: 300, NotifyOnEnter: true, Active: true,
	}
	eng := NewEngine()
	eng.LoadZones([]Zone{homeZone(), school})

	// Inside home, outside school: one Enter for home only.
	events := eng.Evaluate(sampleAt(100))
	if len(events) != 1 || events[0].Zone.ID != "zone-home" {
		t.Fatalf("expected home Enter only, got %v", events)
	}

	// Move to school: home Exit + school Enter in one evaluation.
	events = eng.Evaluate(sampleAt(5000))
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %v", events)
	}
	for _, ev := range events {
		switch ev.Zone.ID {
		case "zone-home":
			if ev.Transition != Exit {
				t.Errorf("home: expected Exit, got %s", ev.Transition)
			}
		case "zone-school":
			if ev.Transition != Enter {
				t.Errorf("school: expected Enter, got %s", ev.Transition)
			}
		default:
			t.Errorf("unexpected zone %s", ev.Zone.ID)
		}
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64 // meters
		tolerance              float64
	}{
		{"same point", homeLat, homeLon, homeLat, homeLon, 0, 0.001},
		{"one degree latitude", 0, 0, 1, 0, 111195, 100},
		{"equator degree longitude", 0, 0, 0, 1, 111195, 100},
		{"across town", -19.9530, -44.0502, -19.9245, -44.0310, 3700, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("Distance = %.1f, want %.1f ± %.1f", got, tt.want, tt.tolerance)
			}
			// Symmetry.
			back := Distance(tt.lat2, tt.lon2, tt.lat1, tt.lon1)
			if math.Abs(got-back) > 1e-9 {
				t.Errorf("Distance not symmetric: %.6f vs %.6f", got, back)
			}
		})
	}
}
