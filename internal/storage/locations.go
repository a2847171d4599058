package storage

import (
	"time"

	"github.com/rlacerda/vigia/internal/track"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

// LocationRecord is one stored position fix for a family member.
type LocationRecord struct {
	ID         int64
	UserID     string
	Latitude   float64
	Longitude  float64
	Accuracy   float64
	Altitude   float64
	Speed      float64
	Heading    float64
	Battery    int
	IsCharging bool
	CapturedAt time.Time
}

// InsertLocation appends a position sample to the history for a member.
func (d *DB) InsertLocation(userID string, s track.Sample) error {
	charging := 0
	if s.IsCharging {
		charging = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO locations
			(user_id, latitude, longitude, accuracy, altitude, speed, heading, battery, is_charging, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, s.Latitude, s.Longitude, s.Accuracy, s.Altitude, s.Speed, s.Heading,
		s.BatteryLevel, charging, s.CapturedAt.UTC().Format(sqliteTimeLayout),
	)
	return err
}

// LatestLocations returns the newest stored fix per member, newest first.
func (d *DB) LatestLocations() ([]LocationRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT id, user_id, latitude, longitude, accuracy, altitude, speed, heading,
		       battery, is_charging, captured_at
		FROM locations
		WHERE id IN (SELECT MAX(id) FROM locations GROUP BY user_id)
		ORDER BY captured_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLocations(rows)
}

// LocationHistory returns up to limit fixes for one member, newest first.
func (d *DB) LocationHistory(userID string, limit int) ([]LocationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT id, user_id, latitude, longitude, accuracy, altitude, speed, heading,
		       battery, is_charging, captured_at
		FROM locations
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLocations(rows)
}

// PruneLocations deletes fixes captured before the cutoff and reports how
// many rows were removed.
func (d *DB) PruneLocations(before time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.Exec(`DELETE FROM locations WHERE captured_at < ?`,
		before.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanLocations(rows rowScanner) ([]LocationRecord, error) {
	var out []LocationRecord
	for rows.Next() {
		var r LocationRecord
		var charging int
		var captured string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Latitude, &r.Longitude, &r.Accuracy,
			&r.Altitude, &r.Speed, &r.Heading, &r.Battery, &charging, &captured); err != nil {
			return nil, err
		}
		r.IsCharging = charging != 0
		r.CapturedAt, _ = time.Parse(sqliteTimeLayout, captured)
		out = append(out, r)
	}
	return out, rows.Err()
}
