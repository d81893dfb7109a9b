// Package store persists mitigation events and quarantine history to
// SQLite and exports telemetry samples to InfluxDB and CSV files.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mycobarrier/mycobarrier/data"

	// tell sql to use sqlite
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed event and quarantine history store
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the store database
func NewStore(dbFile string) (*Store, error) {
	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS events (id TEXT NOT NULL PRIMARY KEY,
				strategy TEXT,
				target_ip TEXT,
				target_mac TEXT,
				target_dpid INT,
				proxy_ip TEXT,
				proxy_mac TEXT,
				proxy_port INT,
				duration_ms INT,
				cookie INT,
				start_ns INT,
				end_ns INT)`)
	if err != nil {
		return nil, fmt.Errorf("Error creating events table: %v", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS quarantine (id INTEGER PRIMARY KEY AUTOINCREMENT,
				mac TEXT,
				dpid INT,
				verdict TEXT,
				time_ns INT,
				release_ns INT)`)
	if err != nil {
		return nil, fmt.Errorf("Error creating quarantine table: %v", err)
	}

	return &Store{db: db}, nil
}

// Close the store database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveEvent inserts or updates an event. The event manager calls it
// once at start and again at end, so the row always reflects the
// latest state.
func (s *Store) SaveEvent(ev data.Event) error {
	var endNs int64
	if !ev.End.IsZero() {
		endNs = ev.End.UnixNano()
	}

	_, err := s.db.Exec(`INSERT OR REPLACE INTO events (id, strategy, target_ip,
				target_mac, target_dpid, proxy_ip, proxy_mac, proxy_port,
				duration_ms, cookie, start_ns, end_ns)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Strategy), ev.TargetIP, ev.TargetMAC, ev.TargetDpid,
		ev.ProxyIP, ev.ProxyMAC, ev.ProxyPort, ev.Duration.Milliseconds(),
		int64(ev.Cookie), ev.Start.UnixNano(), endNs)
	if err != nil {
		return fmt.Errorf("Error saving event %v: %v", ev.ID, err)
	}
	return nil
}

// Events returns the most recent events, newest first
func (s *Store) Events(limit int) ([]data.Event, error) {
	rows, err := s.db.Query(`SELECT id, strategy, target_ip, target_mac,
				target_dpid, proxy_ip, proxy_mac, proxy_port, duration_ms,
				cookie, start_ns, end_ns
				FROM events ORDER BY start_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("Error querying events: %v", err)
	}
	defer rows.Close()

	var events []data.Event
	for rows.Next() {
		var ev data.Event
		var strategy string
		var durationMs, cookie, startNs, endNs int64
		err = rows.Scan(&ev.ID, &strategy, &ev.TargetIP, &ev.TargetMAC,
			&ev.TargetDpid, &ev.ProxyIP, &ev.ProxyMAC, &ev.ProxyPort,
			&durationMs, &cookie, &startNs, &endNs)
		if err != nil {
			return nil, fmt.Errorf("Error scanning event row: %v", err)
		}
		ev.Strategy = data.Strategy(strategy)
		ev.Duration = time.Duration(durationMs) * time.Millisecond
		ev.Cookie = uint64(cookie)
		ev.Start = time.Unix(0, startNs)
		if endNs != 0 {
			ev.End = time.Unix(0, endNs)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// AddQuarantine appends a quarantine transition to the history
func (s *Store) AddQuarantine(r data.QuarantineRecord) error {
	var releaseNs int64
	if !r.Release.IsZero() {
		releaseNs = r.Release.UnixNano()
	}

	_, err := s.db.Exec(`INSERT INTO quarantine (mac, dpid, verdict, time_ns, release_ns)
				VALUES (?, ?, ?, ?, ?)`,
		r.MAC, r.Dpid, r.Verdict, r.Time.UnixNano(), releaseNs)
	if err != nil {
		return fmt.Errorf("Error saving quarantine record: %v", err)
	}
	return nil
}

// QuarantineHistory returns the most recent quarantine transitions,
// newest first.
func (s *Store) QuarantineHistory(limit int) ([]data.QuarantineRecord, error) {
	rows, err := s.db.Query(`SELECT mac, dpid, verdict, time_ns, release_ns
				FROM quarantine ORDER BY time_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("Error querying quarantine history: %v", err)
	}
	defer rows.Close()

	var records []data.QuarantineRecord
	for rows.Next() {
		var r data.QuarantineRecord
		var timeNs, releaseNs int64
		err = rows.Scan(&r.MAC, &r.Dpid, &r.Verdict, &timeNs, &releaseNs)
		if err != nil {
			return nil, fmt.Errorf("Error scanning quarantine row: %v", err)
		}
		r.Time = time.Unix(0, timeNs)
		if releaseNs != 0 {
			r.Release = time.Unix(0, releaseNs)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}
