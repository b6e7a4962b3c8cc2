package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

var _ Store = (*SQLiteDB)(nil)

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("error setting pragmas: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sensors (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			unit TEXT NOT NULL,
			city_id TEXT NOT NULL,
			region_id TEXT,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			min_value REAL,
			max_value REAL,
			thresholds TEXT NOT NULL,
			hourly_thresholds TEXT NOT NULL,
			daily_thresholds TEXT NOT NULL,
			status INTEGER NOT NULL DEFAULT 0,
			alerted_band INTEGER NOT NULL DEFAULT 0,
			hourly_band INTEGER NOT NULL DEFAULT 0,
			daily_band INTEGER NOT NULL DEFAULT 0,
			active_alert_id TEXT,
			hourly_alert_id TEXT,
			daily_alert_id TEXT,
			last_value REAL,
			last_reading_at INTEGER,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sensor_id TEXT NOT NULL,
			value REAL NOT NULL,
			unit TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			valid INTEGER NOT NULL,
			rate_of_change REAL NOT NULL,
			band INTEGER NOT NULL,
			FOREIGN KEY (sensor_id) REFERENCES sensors(id)
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			severity INTEGER NOT NULL,
			status TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			instructions TEXT,
			areas TEXT NOT NULL,
			source TEXT NOT NULL,
			sensor_id TEXT,
			supersedes TEXT,
			superseded_by TEXT,
			issued_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS alert_areas (
			alert_id TEXT NOT NULL,
			city_id TEXT,
			region_id TEXT,
			FOREIGN KEY (alert_id) REFERENCES alerts(id)
		);

		CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			alert_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			destination TEXT NOT NULL,
			language TEXT NOT NULL,
			subject TEXT,
			payload TEXT NOT NULL,
			payload_digest TEXT NOT NULL,
			severity INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			external_id TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL,
			next_retry_at INTEGER,
			error_code TEXT,
			error_message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			sent_at INTEGER,
			delivered_at INTEGER,
			CHECK (retry_count <= max_retries)
		);

		CREATE TABLE IF NOT EXISTS delivery_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id TEXT NOT NULL,
			from_status TEXT,
			to_status TEXT NOT NULL,
			retry_count INTEGER NOT NULL,
			note TEXT,
			at INTEGER NOT NULL,
			FOREIGN KEY (record_id) REFERENCES deliveries(id)
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT NOT NULL,
			channel TEXT NOT NULL,
			caller_id TEXT NOT NULL,
			state TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_activity INTEGER NOT NULL,
			active INTEGER NOT NULL,
			PRIMARY KEY (channel, caller_id, id)
		);

		CREATE TABLE IF NOT EXISTS devices (
			token TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			active INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS device_topics (
			token TEXT NOT NULL,
			topic TEXT NOT NULL,
			PRIMARY KEY (token, topic),
			FOREIGN KEY (token) REFERENCES devices(token)
		);

		CREATE TABLE IF NOT EXISTS subscribers (
			phone TEXT PRIMARY KEY,
			name TEXT,
			city_id TEXT NOT NULL,
			region_id TEXT,
			language TEXT NOT NULL,
			channels TEXT NOT NULL,
			active INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON readings(sensor_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE INDEX IF NOT EXISTS idx_alert_areas_city ON alert_areas(city_id);
		CREATE INDEX IF NOT EXISTS idx_alert_areas_region ON alert_areas(region_id);
		CREATE INDEX IF NOT EXISTS idx_deliveries_alert ON deliveries(alert_id);
		CREATE INDEX IF NOT EXISTS idx_deliveries_external ON deliveries(external_id);
		CREATE INDEX IF NOT EXISTS idx_deliveries_retry ON deliveries(status, next_retry_at);
		CREATE INDEX IF NOT EXISTS idx_delivery_events_record ON delivery_events(record_id);
		CREATE INDEX IF NOT EXISTS idx_device_topics_topic ON device_topics(topic);
		CREATE INDEX IF NOT EXISTS idx_subscribers_city ON subscribers(city_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

// Times are stored as unix nanoseconds; 0 is the zero time.
func toNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNano(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNano(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
