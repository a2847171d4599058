package geofence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// LoadZoneFile reads a JSON zone set from disk.
func LoadZoneFile(path string) ([]Zone, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone file: %w", err)
	}
	var zones []Zone
	if err := json.Unmarshal(b, &zones); err != nil {
		return nil, fmt.Errorf("parse zone file %s: %w", path, err)
	}
	return zones, nil
}

// WatchZoneFile loads path into the engine and reloads it whenever the file
// changes, until ctx is cancelled. The watch is on the parent directory so
// editors that replace the file (write temp + rename) are still caught.
func WatchZoneFile(ctx context.Context, path string, eng *Engine) error {
	zones, err := LoadZoneFile(path)
	if err != nil {
		return err
	}
	eng.LoadZones(zones)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("zone watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("zone watcher add: %w", err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				zones, err := LoadZoneFile(path)
				if err != nil {
					log.Printf("GEO: zone file reload failed: %v", err)
					continue
				}
				eng.LoadZones(zones)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("GEO: zone watcher error: %v", err)
			}
		}
	}()
	return nil
}
