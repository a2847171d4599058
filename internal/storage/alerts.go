package storage

import "time"

// AlertRecord is one row in the persistent alert log. Kind mirrors the
// realtime topic that produced it (geofence_alert, panic_alert, battery_alert).
type AlertRecord struct {
	ID        int64
	Kind      string
	UserID    string
	UserName  string
	ZoneID    string
	ZoneName  string
	Action    string
	Detail    string
	CreatedAt time.Time
}

// InsertAlert appends an alert to the log.
func (d *DB) InsertAlert(a AlertRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO alerts (kind, user_id, user_name, zone_id, zone_name, action, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Kind, a.UserID, a.UserName, a.ZoneID, a.ZoneName, a.Action, a.Detail,
	)
	return err
}

// ListAlerts returns up to limit alerts, newest first.
func (d *DB) ListAlerts(limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT id, kind, user_id, user_name, zone_id, zone_name, action, detail, created_at
		FROM alerts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AlertRecord
	for rows.Next() {
		var a AlertRecord
		var created string
		if err := rows.Scan(&a.ID, &a.Kind, &a.UserID, &a.UserName,
			&a.ZoneID, &a.ZoneName, &a.Action, &a.Detail, &created); err != nil {
			return nil, err
		}
		a.CreatedAt, _ = time.Parse(sqliteTimeLayout, created)
		out = append(out, a)
	}
	return out, rows.Err()
}
