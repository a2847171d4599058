package geofence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeZones(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write zones: %v", err)
	}
}

func TestLoadZoneFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.json")
	writeZones(t, path, `[
		{"id":"z1","name":"Home","latitude":-19.953,"longitude":-44.0502,"radius":200,"is_active":true}
	]`)

	zones, err := LoadZoneFile(path)
	if err != nil {
		t.Fatalf("LoadZoneFile: %v", err)
	}
	if len(zones) != 1 || zones[0].Name != "Home" || zones[0].RadiusMeters != 200 {
		t.Errorf("zones = %+v", zones)
	}
}

func TestLoadZoneFileErrors(t *testing.T) {
	if _, err := LoadZoneFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file accepted")
	}
	path := filepath.Join(t.TempDir(), "bad.json")
	writeZones(t, path, `{not json`)
	if _, err := LoadZoneFile(path); err == nil {
		t.Error("malformed file accepted")
	}
}

func TestWatchZoneFileReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zones.json")
	writeZones(t, path, `[{"id":"z1","name":"Home","latitude":1,"longitude":2,"radius":100,"is_active":true}]`)

	eng := NewEngine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := WatchZoneFile(ctx, path, eng); err != nil {
		t.Fatalf("WatchZoneFile: %v", err)
	}
	if zones := eng.Zones(); len(zones) != 1 {
		t.Fatalf("initial load: %d zones", len(zones))
	}

	writeZones(t, path, `[
		{"id":"z1","name":"Home","latitude":1,"longitude":2,"radius":100,"is_active":true},
		{"id":"z2","name":"School","latitude":3,"longitude":4,"radius":300,"is_active":true}
	]`)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(eng.Zones()) == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("reload not observed, %d zones", len(eng.Zones()))
}

func TestWatchZoneFileKeepsZonesOnBadRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zones.json")
	writeZones(t, path, `[{"id":"z1","name":"Home","latitude":1,"longitude":2,"radius":100,"is_active":true}]`)

	eng := NewEngine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := WatchZoneFile(ctx, path, eng); err != nil {
		t.Fatalf("WatchZoneFile: %v", err)
	}

	// A malformed rewrite is logged and ignored; the engine keeps the last
	// good zone set.
	writeZones(t, path, `{broken`)
	time.Sleep(200 * time.Millisecond)
	if zones := eng.Zones(); len(zones) != 1 {
		t.Fatalf("zones after bad rewrite: %d", len(zones))
	}
}
