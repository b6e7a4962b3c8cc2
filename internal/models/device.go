package models

import "time"

type DeviceToken struct {
	Token     string
	Platform  string
	Topics    []string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscriber is a phone contact registered to receive alerts for an area.
type Subscriber struct {
	Phone     string
	Name      string
	CityID    string
	RegionID  string
	Language  string
	Channels  []Channel
	Active    bool
	CreatedAt time.Time
}

func (s *Subscriber) Accepts(ch Channel) bool {
	for _, c := range s.Channels {
		if c == ch {
			return true
		}
	}
	return false
}
