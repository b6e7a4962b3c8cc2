package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

func (s *SQLiteDB) UpsertSubscriber(ctx context.Context, sub *models.Subscriber) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	channels := make([]string, len(sub.Channels))
	for i, c := range sub.Channels {
		channels[i] = string(c)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (phone, name, city_id, region_id, language, channels, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			name = excluded.name,
			city_id = excluded.city_id,
			region_id = excluded.region_id,
			language = excluded.language,
			channels = excluded.channels,
			active = excluded.active
	`, sub.Phone, nullString(sub.Name), sub.CityID, nullString(sub.RegionID), sub.Language,
		strings.Join(channels, ","), boolInt(sub.Active), toNano(sub.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}
	return nil
}

// ListSubscribers returns active subscribers matching every non-empty field of opts.
func (s *SQLiteDB) ListSubscribers(ctx context.Context, opts SubscriberFilter) ([]models.Subscriber, error) {
	query := `SELECT phone, COALESCE(name, ''), city_id, COALESCE(region_id, ''), language, channels, active, created_at
		FROM subscribers WHERE active = 1`
	var args []any

	if opts.CityID != "" {
		query += ` AND city_id = ?`
		args = append(args, opts.CityID)
	}
	if opts.RegionID != "" {
		query += ` AND region_id = ?`
		args = append(args, opts.RegionID)
	}
	if len(opts.Phones) > 0 {
		query += ` AND phone IN (?` + strings.Repeat(`, ?`, len(opts.Phones)-1) + `)`
		for _, p := range opts.Phones {
			args = append(args, p)
		}
	}
	query += ` ORDER BY phone`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var out []models.Subscriber
	for rows.Next() {
		var (
			sub      models.Subscriber
			channels string
			active   int
			created  int64
		)
		if err := rows.Scan(&sub.Phone, &sub.Name, &sub.CityID, &sub.RegionID, &sub.Language, &channels, &active, &created); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		for _, c := range strings.Split(channels, ",") {
			if c != "" {
				sub.Channels = append(sub.Channels, models.Channel(c))
			}
		}
		sub.Active = active == 1
		sub.CreatedAt = fromNano(created)
		out = append(out, sub)
	}
	return out, rows.Err()
}
