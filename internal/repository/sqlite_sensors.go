package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/models"
)

const sensorColumns = `id, name, type, unit, city_id, region_id, latitude, longitude, min_value, max_value,
	thresholds, hourly_thresholds, daily_thresholds, status, alerted_band, hourly_band, daily_band,
	active_alert_id, hourly_alert_id, daily_alert_id, last_value, last_reading_at, updated_at`

// UpsertSensor writes a sensor's configuration. State columns of an existing
// sensor are left alone.
func (s *SQLiteDB) UpsertSensor(ctx context.Context, sensor *models.Sensor) error {
	th, err := json.Marshal(sensor.Thresholds)
	if err != nil {
		return fmt.Errorf("marshal thresholds: %w", err)
	}
	hourly, err := json.Marshal(sensor.HourlyThresholds)
	if err != nil {
		return fmt.Errorf("marshal hourly thresholds: %w", err)
	}
	daily, err := json.Marshal(sensor.DailyThresholds)
	if err != nil {
		return fmt.Errorf("marshal daily thresholds: %w", err)
	}
	updated := sensor.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sensors (`+sensorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			unit = excluded.unit,
			city_id = excluded.city_id,
			region_id = excluded.region_id,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			min_value = excluded.min_value,
			max_value = excluded.max_value,
			thresholds = excluded.thresholds,
			hourly_thresholds = excluded.hourly_thresholds,
			daily_thresholds = excluded.daily_thresholds
	`,
		sensor.ID, sensor.Name, string(sensor.Type), sensor.Unit, sensor.CityID, nullString(sensor.RegionID),
		sensor.Latitude, sensor.Longitude, nullFloat(sensor.MinValue), nullFloat(sensor.MaxValue),
		string(th), string(hourly), string(daily),
		int(sensor.Status), int(sensor.AlertedBand), int(sensor.HourlyBand), int(sensor.DailyBand),
		nullString(sensor.ActiveAlertID), nullString(sensor.HourlyAlertID), nullString(sensor.DailyAlertID),
		nullFloat(sensor.LastValue), nullTime(sensor.LastReadingAt), toNano(updated),
	)
	if err != nil {
		return fmt.Errorf("upsert sensor %s: %w", sensor.ID, err)
	}
	return nil
}

func (s *SQLiteDB) GetSensor(ctx context.Context, id string) (*models.Sensor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sensorColumns+` FROM sensors WHERE id = ?`, id)
	sensor, err := scanSensor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("sensor %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sensor %s: %w", id, err)
	}
	return sensor, nil
}

func (s *SQLiteDB) ListSensors(ctx context.Context) ([]models.Sensor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sensorColumns+` FROM sensors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sensors: %w", err)
	}
	defer rows.Close()

	var out []models.Sensor
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sensor: %w", err)
		}
		out = append(out, *sensor)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) RecordReading(ctx context.Context, r *models.SensorReading, sensor *models.Sensor, alerts ...*models.Alert) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, a := range alerts {
		if err := writeAlert(ctx, tx, a); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO readings (sensor_id, value, unit, timestamp, valid, rate_of_change, band)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.SensorID, r.Value, r.Unit, toNano(r.Timestamp), boolInt(r.Valid), r.RateOfChange, int(r.Band))
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}

	if err := updateSensorState(ctx, tx, sensor); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteDB) UpdateSensorState(ctx context.Context, sensor *models.Sensor, alerts ...*models.Alert) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, a := range alerts {
		if err := writeAlert(ctx, tx, a); err != nil {
			return err
		}
	}
	if err := updateSensorState(ctx, tx, sensor); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateSensorState(ctx context.Context, db execer, sensor *models.Sensor) error {
	res, err := db.ExecContext(ctx, `
		UPDATE sensors SET status = ?, alerted_band = ?, hourly_band = ?, daily_band = ?,
			active_alert_id = ?, hourly_alert_id = ?, daily_alert_id = ?,
			last_value = ?, last_reading_at = ?, updated_at = ?
		WHERE id = ?
	`, int(sensor.Status), int(sensor.AlertedBand), int(sensor.HourlyBand), int(sensor.DailyBand),
		nullString(sensor.ActiveAlertID), nullString(sensor.HourlyAlertID), nullString(sensor.DailyAlertID), nullFloat(sensor.LastValue), nullTime(sensor.LastReadingAt),
		toNano(sensor.UpdatedAt), sensor.ID)
	if err != nil {
		return fmt.Errorf("update sensor %s: %w", sensor.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("sensor %s not found", sensor.ID)
	}
	return nil
}

// SumReadings totals valid readings with since < timestamp <= until.
func (s *SQLiteDB) SumReadings(ctx context.Context, sensorID string, since, until time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(value) FROM readings
		WHERE sensor_id = ? AND valid = 1 AND timestamp > ? AND timestamp <= ?
	`, sensorID, toNano(since), toNano(until)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum readings %s: %w", sensorID, err)
	}
	return total.Float64, nil
}

// ListReadings returns the newest readings first.
func (s *SQLiteDB) ListReadings(ctx context.Context, sensorID string, limit int) ([]models.SensorReading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sensor_id, value, unit, timestamp, valid, rate_of_change, band
		FROM readings WHERE sensor_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?
	`, sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	var out []models.SensorReading
	for rows.Next() {
		var (
			r     models.SensorReading
			ts    int64
			valid int
			band  int
		)
		if err := rows.Scan(&r.ID, &r.SensorID, &r.Value, &r.Unit, &ts, &valid, &r.RateOfChange, &band); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Timestamp = fromNano(ts)
		r.Valid = valid == 1
		r.Band = models.Band(band)
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanSensor(row scanner) (*models.Sensor, error) {
	var (
		sensor                  models.Sensor
		typ                     string
		region, activeAlert     sql.NullString
		hourlyAlert, dailyAlert sql.NullString
		minV, maxV, lastValue   sql.NullFloat64
		th, hourly, daily       string
		status, alerted, hb, db int
		lastAt                  sql.NullInt64
		updated                 int64
	)
	err := row.Scan(&sensor.ID, &sensor.Name, &typ, &sensor.Unit, &sensor.CityID, &region,
		&sensor.Latitude, &sensor.Longitude, &minV, &maxV, &th, &hourly, &daily,
		&status, &alerted, &hb, &db, &activeAlert, &hourlyAlert, &dailyAlert, &lastValue, &lastAt, &updated)
	if err != nil {
		return nil, err
	}
	sensor.Type = models.SensorType(typ)
	sensor.RegionID = region.String
	sensor.MinValue = floatPtr(minV)
	sensor.MaxValue = floatPtr(maxV)
	if err := json.Unmarshal([]byte(th), &sensor.Thresholds); err != nil {
		return nil, fmt.Errorf("decode thresholds: %w", err)
	}
	if err := json.Unmarshal([]byte(hourly), &sensor.HourlyThresholds); err != nil {
		return nil, fmt.Errorf("decode hourly thresholds: %w", err)
	}
	if err := json.Unmarshal([]byte(daily), &sensor.DailyThresholds); err != nil {
		return nil, fmt.Errorf("decode daily thresholds: %w", err)
	}
	sensor.Status = models.Band(status)
	sensor.AlertedBand = models.Band(alerted)
	sensor.HourlyBand = models.Band(hb)
	sensor.DailyBand = models.Band(db)
	sensor.ActiveAlertID = activeAlert.String
	sensor.HourlyAlertID = hourlyAlert.String
	sensor.DailyAlertID = dailyAlert.String
	sensor.LastValue = floatPtr(lastValue)
	sensor.LastReadingAt = timePtr(lastAt)
	sensor.UpdatedAt = fromNano(updated)
	return &sensor, nil
}
