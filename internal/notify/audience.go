package notify

import (
	"context"
	"fmt"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
)

// Recipient is one destination. Channels limits which channels may reach it;
// nil means any requested channel.
type Recipient struct {
	Destination string
	Language    string
	Channels    []models.Channel
}

func (r Recipient) accepts(ch models.Channel) bool {
	if r.Channels == nil {
		return true
	}
	for _, c := range r.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// Selector picks an audience by area or by explicit destinations.
type Selector struct {
	CityID       string   `json:"cityId,omitempty"`
	RegionID     string   `json:"regionId,omitempty"`
	Destinations []string `json:"destinations,omitempty"`
}

func (s Selector) empty() bool {
	return s.CityID == "" && s.RegionID == "" && len(s.Destinations) == 0
}

var phoneChannels = []models.Channel{models.ChannelSMS, models.ChannelVoice, models.ChannelChat}

// AudienceResolver turns a selector into recipients using the subscriber
// directory and the device registry.
type AudienceResolver struct {
	subscribers repository.SubscriberRepository
	devices     repository.DeviceRepository
}

func NewAudienceResolver(subscribers repository.SubscriberRepository, devices repository.DeviceRepository) *AudienceResolver {
	return &AudienceResolver{subscribers: subscribers, devices: devices}
}

// Resolve returns the recipients for sel, deduplicated by destination.
// Subscribers are reached on their opted-in phone channels and devices on
// push when their topics cover the city or region.
func (r *AudienceResolver) Resolve(ctx context.Context, sel Selector) ([]Recipient, error) {
	if sel.empty() {
		return nil, apperr.Validation("audience selector is empty")
	}

	seen := make(map[string]bool)
	var out []Recipient
	add := func(rc Recipient) {
		if seen[rc.Destination] {
			return
		}
		seen[rc.Destination] = true
		out = append(out, rc)
	}

	if len(sel.Destinations) > 0 {
		known, err := r.subscribers.ListSubscribers(ctx, repository.SubscriberFilter{Phones: sel.Destinations})
		if err != nil {
			return nil, fmt.Errorf("list subscribers: %w", err)
		}
		lang := make(map[string]string, len(known))
		for _, s := range known {
			lang[s.Phone] = s.Language
		}
		for _, d := range sel.Destinations {
			add(Recipient{Destination: d, Language: lang[d]})
		}
	}
	if sel.CityID == "" && sel.RegionID == "" {
		return out, nil
	}

	subs, err := r.subscribers.ListSubscribers(ctx, repository.SubscriberFilter{CityID: sel.CityID, RegionID: sel.RegionID})
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	for _, s := range subs {
		if !s.Active {
			continue
		}
		chans := s.Channels
		if len(chans) == 0 {
			chans = phoneChannels
		}
		add(Recipient{Destination: s.Phone, Language: s.Language, Channels: chans})
	}

	var topics []string
	if sel.CityID != "" {
		topics = append(topics, "city:"+sel.CityID)
	}
	if sel.RegionID != "" {
		topics = append(topics, "region:"+sel.RegionID)
	}
	for _, topic := range topics {
		devices, err := r.devices.ListDevicesByTopic(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("list devices for %s: %w", topic, err)
		}
		for _, d := range devices {
			add(Recipient{Destination: d.Token, Channels: []models.Channel{models.ChannelPush}})
		}
	}
	return out, nil
}
