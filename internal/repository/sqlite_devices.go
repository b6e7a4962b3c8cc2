package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/models"
)

// RegisterDevice creates or reactivates a token and replaces its topics.
func (s *SQLiteDB) RegisterDevice(ctx context.Context, d *models.DeviceToken) error {
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	d.Active = true

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (token, platform, active, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(token) DO UPDATE SET platform = excluded.platform, active = 1, updated_at = excluded.updated_at
	`, d.Token, d.Platform, toNano(d.CreatedAt), toNano(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	if err := replaceTopics(ctx, tx, d.Token, d.Topics); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteDB) GetDevice(ctx context.Context, token string) (*models.DeviceToken, error) {
	var (
		d                models.DeviceToken
		active           int
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT token, platform, active, created_at, updated_at FROM devices WHERE token = ?`, token).
		Scan(&d.Token, &d.Platform, &active, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("device %s not found", token)
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	d.Active = active == 1
	d.CreatedAt = fromNano(created)
	d.UpdatedAt = fromNano(updated)

	rows, err := s.db.QueryContext(ctx, `SELECT topic FROM device_topics WHERE token = ? ORDER BY topic`, token)
	if err != nil {
		return nil, fmt.Errorf("list device topics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		d.Topics = append(d.Topics, topic)
	}
	return &d, rows.Err()
}

func (s *SQLiteDB) DeactivateDevice(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE devices SET active = 0, updated_at = ? WHERE token = ?`, toNano(time.Now()), token)
	if err != nil {
		return fmt.Errorf("deactivate device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("device %s not found", token)
	}
	return nil
}

func (s *SQLiteDB) SetDeviceTopics(ctx context.Context, token string, topics []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices WHERE token = ?`, token).Scan(&exists); err != nil {
		return fmt.Errorf("check device: %w", err)
	}
	if exists == 0 {
		return apperr.NotFound("device %s not found", token)
	}
	if err := replaceTopics(ctx, tx, token, topics); err != nil {
		return err
	}
	return tx.Commit()
}

// ListDevicesByTopic returns active devices subscribed to topic, without their topic lists.
func (s *SQLiteDB) ListDevicesByTopic(ctx context.Context, topic string) ([]models.DeviceToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.token, d.platform, d.created_at, d.updated_at
		FROM devices d JOIN device_topics t ON t.token = d.token
		WHERE t.topic = ? AND d.active = 1
		ORDER BY d.token
	`, topic)
	if err != nil {
		return nil, fmt.Errorf("list devices by topic: %w", err)
	}
	defer rows.Close()

	var out []models.DeviceToken
	for rows.Next() {
		var (
			d                models.DeviceToken
			created, updated int64
		)
		if err := rows.Scan(&d.Token, &d.Platform, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.Active = true
		d.CreatedAt = fromNano(created)
		d.UpdatedAt = fromNano(updated)
		out = append(out, d)
	}
	return out, rows.Err()
}

func replaceTopics(ctx context.Context, db execer, token string, topics []string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM device_topics WHERE token = ?`, token); err != nil {
		return fmt.Errorf("clear device topics: %w", err)
	}
	for _, topic := range topics {
		if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO device_topics (token, topic) VALUES (?, ?)`, token, topic); err != nil {
			return fmt.Errorf("insert device topic: %w", err)
		}
	}
	return nil
}
