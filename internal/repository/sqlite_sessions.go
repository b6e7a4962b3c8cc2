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

func (s *SQLiteDB) GetSession(ctx context.Context, key models.SessionKey) (*models.InteractiveSession, error) {
	var (
		sess            models.InteractiveSession
		data            string
		created, active int64
		last            int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, channel, caller_id, state, data, created_at, last_activity, active
		FROM sessions WHERE channel = ? AND caller_id = ? AND id = ?
	`, key.Channel, key.CallerID, key.ID).Scan(&sess.ID, &sess.Channel, &sess.CallerID, &sess.State, &data, &created, &last, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("session %s not found", key.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", key.ID, err)
	}
	if err := json.Unmarshal([]byte(data), &sess.Data); err != nil {
		return nil, fmt.Errorf("decode session data: %w", err)
	}
	if sess.Data == nil {
		sess.Data = make(map[string]string)
	}
	sess.CreatedAt = fromNano(created)
	sess.LastActivity = fromNano(last)
	sess.Active = active == 1
	return &sess, nil
}

func (s *SQLiteDB) SaveSession(ctx context.Context, sess *models.InteractiveSession) error {
	data, err := json.Marshal(sess.Data)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, channel, caller_id, state, data, created_at, last_activity, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel, caller_id, id) DO UPDATE SET
			state = excluded.state,
			data = excluded.data,
			created_at = excluded.created_at,
			last_activity = excluded.last_activity,
			active = excluded.active
	`, sess.ID, sess.Channel, sess.CallerID, sess.State, string(data),
		toNano(sess.CreatedAt), toNano(sess.LastActivity), boolInt(sess.Active))
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// DeactivateSessions marks active sessions idle since before idleSince as inactive.
func (s *SQLiteDB) DeactivateSessions(ctx context.Context, idleSince time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET active = 0 WHERE active = 1 AND last_activity < ?`, toNano(idleSince))
	if err != nil {
		return 0, fmt.Errorf("deactivate sessions: %w", err)
	}
	return res.RowsAffected()
}
