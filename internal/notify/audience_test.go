package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
)

func TestAudienceResolver(t *testing.T) {
	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	subs := []models.Subscriber{
		{Phone: "+2348011111111", CityID: "lagos", RegionID: "kosofe", Language: "pcm", Channels: []models.Channel{models.ChannelSMS, models.ChannelVoice}, Active: true},
		{Phone: "+2348022222222", CityID: "lagos", RegionID: "ikeja", Language: "en", Active: true},
		{Phone: "+2348033333333", CityID: "abuja", RegionID: "amac", Language: "ha", Active: true},
	}
	for i := range subs {
		require.NoError(t, db.UpsertSubscriber(ctx, &subs[i]))
	}
	require.NoError(t, db.RegisterDevice(ctx, &models.DeviceToken{Token: "tok-city", Platform: "ios", Topics: []string{"city:lagos"}, Active: true}))
	require.NoError(t, db.RegisterDevice(ctx, &models.DeviceToken{Token: "tok-region", Platform: "android", Topics: []string{"region:kosofe", "city:lagos"}, Active: true}))
	require.NoError(t, db.RegisterDevice(ctx, &models.DeviceToken{Token: "tok-abuja", Platform: "android", Topics: []string{"city:abuja"}, Active: true}))

	r := NewAudienceResolver(db, db)

	t.Run("city", func(t *testing.T) {
		got, err := r.Resolve(ctx, Selector{CityID: "lagos"})
		require.NoError(t, err)
		dests := destinations(got)
		assert.ElementsMatch(t, []string{"+2348011111111", "+2348022222222", "tok-city", "tok-region"}, dests)

		for _, rc := range got {
			if rc.Destination == "+2348022222222" {
				assert.ElementsMatch(t, phoneChannels, rc.Channels)
			}
			if rc.Destination == "tok-city" {
				assert.Equal(t, []models.Channel{models.ChannelPush}, rc.Channels)
			}
		}
	})

	t.Run("region", func(t *testing.T) {
		got, err := r.Resolve(ctx, Selector{CityID: "lagos", RegionID: "kosofe"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"+2348011111111", "tok-city", "tok-region"}, destinations(got))
	})

	t.Run("explicit list picks up known language", func(t *testing.T) {
		got, err := r.Resolve(ctx, Selector{Destinations: []string{"+2348033333333", "+2348099999999", "+2348033333333"}})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "ha", got[0].Language)
		assert.Equal(t, "", got[1].Language)
		assert.Nil(t, got[0].Channels)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := r.Resolve(ctx, Selector{})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}

func destinations(rs []Recipient) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Destination
	}
	return out
}
