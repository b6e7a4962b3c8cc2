package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/models"
)

const alertColumns = `id, category, severity, status, title, description, instructions, areas, source,
	sensor_id, supersedes, superseded_by, issued_at, expires_at, created_at, updated_at`

func (s *SQLiteDB) CreateAlert(ctx context.Context, a *models.Alert) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertAlert(ctx, tx, a); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteDB) SupersedeAlert(ctx context.Context, oldID string, next *models.Alert) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	next.Supersedes = oldID
	if err := writeAlert(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

// writeAlert inserts a. When a.Supersedes names a live alert, that alert is
// expired in favour of a; otherwise a stands on its own as active.
func writeAlert(ctx context.Context, tx *sql.Tx, a *models.Alert) error {
	if a.Supersedes == "" {
		return insertAlert(ctx, tx, a)
	}

	prev, err := scanAlert(tx.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, a.Supersedes))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load superseded alert %s: %w", a.Supersedes, err)
	}
	if prev == nil || prev.Supersede(a, a.UpdatedAt) != nil {
		a.Supersedes = ""
		a.Status = models.AlertStatusActive
		return insertAlert(ctx, tx, a)
	}

	if err := insertAlert(ctx, tx, a); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE alerts SET status = ?, superseded_by = ?, updated_at = ?
		WHERE id = ?
	`, string(prev.Status), prev.SupersededBy, toNano(prev.UpdatedAt), prev.ID)
	if err != nil {
		return fmt.Errorf("expire superseded alert %s: %w", prev.ID, err)
	}
	return nil
}

func insertAlert(ctx context.Context, db execer, a *models.Alert) error {
	areas, err := json.Marshal(a.Areas)
	if err != nil {
		return fmt.Errorf("marshal areas: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.Category), int(a.Severity), string(a.Status), a.Title, a.Description, a.Instructions,
		string(areas), string(a.Source), nullString(a.SensorID), nullString(a.Supersedes), nullString(a.SupersededBy),
		toNano(a.IssuedAt), toNano(a.ExpiresAt), toNano(a.CreatedAt), toNano(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}

	for _, area := range a.Areas {
		if _, err := db.ExecContext(ctx, `INSERT INTO alert_areas (alert_id, city_id, region_id) VALUES (?, ?, ?)`,
			a.ID, nullString(area.CityID), nullString(area.RegionID)); err != nil {
			return fmt.Errorf("insert alert area: %w", err)
		}
	}
	return nil
}

func (s *SQLiteDB) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("alert %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteDB) ListAlerts(ctx context.Context, opts AlertFilter) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	var args []any

	if opts.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*opts.Status))
	}
	if opts.ActiveOnly {
		query += ` AND status IN (?, ?)`
		args = append(args, string(models.AlertStatusActive), string(models.AlertStatusUpdated))
	}
	if opts.CityID != "" {
		query += ` AND EXISTS (SELECT 1 FROM alert_areas aa WHERE aa.alert_id = alerts.id AND aa.city_id = ?)`
		args = append(args, opts.CityID)
	}
	if opts.RegionID != "" {
		query += ` AND EXISTS (SELECT 1 FROM alert_areas aa WHERE aa.alert_id = alerts.id AND aa.region_id = ?)`
		args = append(args, opts.RegionID)
	}
	if opts.Since != nil {
		query += ` AND issued_at >= ?`
		args = append(args, toNano(*opts.Since))
	}

	query += ` ORDER BY issued_at DESC`

	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ExpireAlerts moves every live alert past its expiry to expired.
func (s *SQLiteDB) ExpireAlerts(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE status IN (?, ?) AND expires_at > 0 AND expires_at <= ?
	`, string(models.AlertStatusActive), string(models.AlertStatusUpdated), toNano(now))
	if err != nil {
		return 0, fmt.Errorf("list expiring alerts: %w", err)
	}
	var due []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan alert: %w", err)
		}
		due = append(due, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("list expiring alerts: %w", err)
	}

	var n int64
	for _, a := range due {
		if err := a.Transition(models.AlertStatusExpired, now); err != nil {
			return n, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE alerts SET status = ?, updated_at = ? WHERE id = ?`,
			string(a.Status), toNano(a.UpdatedAt), a.ID); err != nil {
			return 0, fmt.Errorf("expire alert %s: %w", a.ID, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit expiry: %w", err)
	}
	return n, nil
}

func scanAlert(row scanner) (*models.Alert, error) {
	var (
		a                                  models.Alert
		category, status, source, areas    string
		severity                           int
		description, instructions          sql.NullString
		sensorID, supersedes, supersededBy sql.NullString
		issued, expires, created, updated  int64
	)
	err := row.Scan(&a.ID, &category, &severity, &status, &a.Title, &description, &instructions, &areas,
		&source, &sensorID, &supersedes, &supersededBy, &issued, &expires, &created, &updated)
	if err != nil {
		return nil, err
	}
	a.Category = models.DisasterCategory(category)
	a.Severity = models.Severity(severity)
	a.Status = models.AlertStatus(status)
	a.Source = models.AlertSource(source)
	a.Description = description.String
	a.Instructions = instructions.String
	a.SensorID = sensorID.String
	a.Supersedes = supersedes.String
	a.SupersededBy = supersededBy.String
	if err := json.NewDecoder(strings.NewReader(areas)).Decode(&a.Areas); err != nil {
		return nil, fmt.Errorf("decode areas: %w", err)
	}
	a.IssuedAt = fromNano(issued)
	a.ExpiresAt = fromNano(expires)
	a.CreatedAt = fromNano(created)
	a.UpdatedAt = fromNano(updated)
	return &a, nil
}
