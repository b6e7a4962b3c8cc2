package models

import "time"

type InteractiveSession struct {
	ID           string
	Channel      string
	CallerID     string
	State        string
	Data         map[string]string
	CreatedAt    time.Time
	LastActivity time.Time
	Active       bool
}

// SessionKey identifies a session. The same provider session id from another
// caller or channel is a different session.
type SessionKey struct {
	Channel  string
	CallerID string
	ID       string
}

func (s *InteractiveSession) Key() SessionKey {
	return SessionKey{Channel: s.Channel, CallerID: s.CallerID, ID: s.ID}
}
