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

const deliveryColumns = `id, alert_id, channel, destination, language, subject, payload, payload_digest, severity, status,
	external_id, retry_count, max_retries, next_retry_at, error_code, error_message,
	created_at, updated_at, sent_at, delivered_at`

func (s *SQLiteDB) CreateDelivery(ctx context.Context, r *models.DeliveryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deliveries (`+deliveryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.AlertID, string(r.Channel), r.Destination, r.Language, nullString(r.Subject), r.Payload, r.PayloadDigest,
		int(r.Severity), string(r.Status), nullString(r.ExternalID), r.RetryCount, r.MaxRetries, nullTime(r.NextRetryAt),
		nullString(r.ErrorCode), nullString(r.ErrorMessage), toNano(r.CreatedAt), toNano(r.UpdatedAt),
		nullTime(r.SentAt), nullTime(r.DeliveredAt))
	if err != nil {
		return fmt.Errorf("insert delivery %s: %w", r.ID, err)
	}

	if err := insertEvent(ctx, tx, r.ID, "", r.Status, r.RetryCount, "created", r.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteDB) GetDelivery(ctx context.Context, id string) (*models.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id)
	r, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("delivery %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteDB) GetDeliveryByExternalID(ctx context.Context, externalID string) (*models.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE external_id = ?`, externalID)
	r, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("delivery with external id %s not found", externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery by external id %s: %w", externalID, err)
	}
	return r, nil
}

func (s *SQLiteDB) ListDeliveries(ctx context.Context, opts DeliveryFilter) ([]models.DeliveryRecord, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE 1=1`
	var args []any

	if opts.AlertID != "" {
		query += ` AND alert_id = ?`
		args = append(args, opts.AlertID)
	}
	if opts.Channel != "" {
		query += ` AND channel = ?`
		args = append(args, string(opts.Channel))
	}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}

	query += ` ORDER BY created_at DESC, id`

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	return s.queryDeliveries(ctx, query, args...)
}

func (s *SQLiteDB) CompareAndSwap(ctx context.Context, id string, t Transition) (bool, error) {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE deliveries SET
			status = ?,
			retry_count = ?,
			next_retry_at = ?,
			external_id = COALESCE(?, external_id),
			error_code = ?,
			error_message = ?,
			sent_at = COALESCE(?, sent_at),
			delivered_at = COALESCE(?, delivered_at),
			updated_at = ?
		WHERE id = ? AND status = ? AND retry_count = ?
	`, string(t.To), t.RetryCount, nullTime(t.NextRetryAt), nullString(t.ExternalID),
		nullString(t.ErrorCode), nullString(t.ErrorMessage), nullTime(t.SentAt), nullTime(t.DeliveredAt),
		toNano(at), id, string(t.From), t.FromRetry)
	if err != nil {
		return false, fmt.Errorf("update delivery %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := insertEvent(ctx, tx, id, t.From, t.To, t.RetryCount, t.Note, at); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// ListDueRetries returns failed records whose retry time has passed and whose
// budget is not spent, oldest first.
func (s *SQLiteDB) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]models.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.queryDeliveries(ctx, `
		SELECT `+deliveryColumns+` FROM deliveries
		WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ? AND retry_count < max_retries
		ORDER BY next_retry_at
		LIMIT ?
	`, string(models.DeliveryFailed), toNano(now), limit)
}

func (s *SQLiteDB) ListEvents(ctx context.Context, recordID string) ([]models.DeliveryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, from_status, to_status, retry_count, note, at
		FROM delivery_events WHERE record_id = ? ORDER BY id
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.DeliveryEvent
	for rows.Next() {
		var (
			e          models.DeliveryEvent
			from, note sql.NullString
			to         string
			at         int64
		)
		if err := rows.Scan(&e.ID, &e.RecordID, &from, &to, &e.RetryCount, &note, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.FromStatus = models.DeliveryStatus(from.String)
		e.ToStatus = models.DeliveryStatus(to)
		e.Note = note.String
		e.At = fromNano(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func insertEvent(ctx context.Context, db execer, recordID string, from, to models.DeliveryStatus, retry int, note string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO delivery_events (record_id, from_status, to_status, retry_count, note, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, recordID, nullString(string(from)), string(to), retry, nullString(note), toNano(at))
	if err != nil {
		return fmt.Errorf("insert delivery event: %w", err)
	}
	return nil
}

func (s *SQLiteDB) queryDeliveries(ctx context.Context, query string, args ...any) ([]models.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []models.DeliveryRecord
	for rows.Next() {
		r, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanDelivery(row scanner) (*models.DeliveryRecord, error) {
	var (
		r                            models.DeliveryRecord
		channel, status              string
		subject, externalID          sql.NullString
		errorCode, errorMessage      sql.NullString
		nextRetry, sentAt, delivered sql.NullInt64
		severity                     int
		created, updated             int64
	)
	err := row.Scan(&r.ID, &r.AlertID, &channel, &r.Destination, &r.Language, &subject, &r.Payload, &r.PayloadDigest,
		&severity, &status, &externalID, &r.RetryCount, &r.MaxRetries, &nextRetry, &errorCode, &errorMessage,
		&created, &updated, &sentAt, &delivered)
	if err != nil {
		return nil, err
	}
	r.Channel = models.Channel(channel)
	r.Severity = models.Severity(severity)
	r.Status = models.DeliveryStatus(status)
	r.Subject = subject.String
	r.ExternalID = externalID.String
	r.ErrorCode = errorCode.String
	r.ErrorMessage = errorMessage.String
	r.NextRetryAt = timePtr(nextRetry)
	r.SentAt = timePtr(sentAt)
	r.DeliveredAt = timePtr(delivered)
	r.CreatedAt = fromNano(created)
	r.UpdatedAt = fromNano(updated)
	return &r, nil
}
