package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type feedResponse struct {
	Readings []Reading `json:"readings"`
}

func (m *Manager) runPoller(ctx context.Context) {
	defer m.wg.Done()
	m.logger.Info("starting feed poller", "url", m.cfg.FeedURL, "interval", m.cfg.FeedInterval)

	ticker := m.clock.NewTicker(m.cfg.FeedInterval)
	defer ticker.Stop()

	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("feed poller shutting down")
			return
		case <-ticker.Chan():
			m.poll(ctx)
		}
	}
}

func (m *Manager) poll(ctx context.Context) {
	readings, err := m.fetchFeed(ctx)
	if err != nil {
		m.logger.Error("feed poll failed", "error", err)
		return
	}
	queued := 0
	for _, r := range readings {
		r.source = "feed"
		if err := m.submit(r); err != nil {
			m.logger.Warn("drop feed reading", "sensor_id", r.SensorID, "error", err)
			continue
		}
		queued++
	}
	m.logger.Debug("feed poll complete", "count", len(readings), "queued", queued)
}

func (m *Manager) fetchFeed(ctx context.Context) ([]Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var data feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}
	return data.Readings, nil
}
