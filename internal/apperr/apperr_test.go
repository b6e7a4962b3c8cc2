package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("load sensor: %w", NotFound("sensor %q", "WL-01"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, `load sensor: sensor "WL-01"`, err.Error())
}

func TestKindOf_PlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("send: %w", WithCode(KindProviderPermanent, "21211", "invalid number"))

	assert.Equal(t, "21211", CodeOf(err))
	assert.ErrorIs(t, err, ErrProviderPermanent)
	assert.Empty(t, CodeOf(errors.New("x")))
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(KindInternal, nil, "ignored"))
}
