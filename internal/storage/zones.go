package storage

import (
	"github.com/rlacerda/vigia/internal/geofence"
)

// UpsertZone stores or fully replaces a safe zone definition.
func (d *DB) UpsertZone(z geofence.Zone) error {
	enter, exit, active := 0, 0, 0
	if z.NotifyOnEnter {
		enter = 1
	}
	if z.NotifyOnExit {
		exit = 1
	}
	if z.Active {
		active = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO zones
			(id, name, latitude, longitude, radius_meters, notify_on_enter, notify_on_exit, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name            = excluded.name,
			latitude        = excluded.latitude,
			longitude       = excluded.longitude,
			radius_meters   = excluded.radius_meters,
			notify_on_enter = excluded.notify_on_enter,
			notify_on_exit  = excluded.notify_on_exit,
			active          = excluded.active`,
		z.ID, z.Name, z.Latitude, z.Longitude, z.RadiusMeters, enter, exit, active,
	)
	return err
}

// ListZones returns all stored safe zones, including inactive ones.
func (d *DB) ListZones() ([]geofence.Zone, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT id, name, latitude, longitude, radius_meters, notify_on_enter, notify_on_exit, active
		FROM zones ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var zones []geofence.Zone
	for rows.Next() {
		var z geofence.Zone
		var enter, exit, active int
		if err := rows.Scan(&z.ID, &z.Name, &z.Latitude, &z.Longitude,
			&z.RadiusMeters, &enter, &exit, &active); err != nil {
			return nil, err
		}
		z.NotifyOnEnter = enter != 0
		z.NotifyOnExit = exit != 0
		z.Active = active != 0
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// GetZone returns one zone by ID, or false if unknown.
func (d *DB) GetZone(id string) (geofence.Zone, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var z geofence.Zone
	var enter, exit, active int
	err := d.db.QueryRow(`
		SELECT id, name, latitude, longitude, radius_meters, notify_on_enter, notify_on_exit, active
		FROM zones WHERE id = ?`, id).
		Scan(&z.ID, &z.Name, &z.Latitude, &z.Longitude,
			&z.RadiusMeters, &enter, &exit, &active)
	if err != nil {
		return geofence.Zone{}, false
	}
	z.NotifyOnEnter = enter != 0
	z.NotifyOnExit = exit != 0
	z.Active = active != 0
	return z, true
}

// DeleteZone removes a zone entirely. Deleting an unknown ID is not an error.
func (d *DB) DeleteZone(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`DELETE FROM zones WHERE id = ?`, id)
	return err
}
