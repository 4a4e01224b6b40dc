package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/vdavid/chatsync/internal/models"
)

func TestCookieConversion(t *testing.T) {
	captured := []*proto.NetworkCookie{
		{
			Name:     "xman_us_t",
			Value:    "abc",
			Domain:   ".example.com",
			Path:     "/",
			Expires:  proto.TimeSinceEpoch(1735689600),
			HTTPOnly: true,
			Secure:   true,
			SameSite: proto.NetworkCookieSameSiteLax,
		},
		nil,
	}

	cookies := fromProtoCookies(captured)
	assert.Equal(t, []models.Cookie{{
		Name:     "xman_us_t",
		Value:    "abc",
		Domain:   ".example.com",
		Path:     "/",
		Expires:  1735689600,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	}}, cookies)

	params := toProtoCookies(cookies)
	assert.Len(t, params, 1)
	assert.Equal(t, "xman_us_t", params[0].Name)
	assert.Equal(t, proto.TimeSinceEpoch(1735689600), params[0].Expires)
	assert.Equal(t, proto.NetworkCookieSameSiteLax, params[0].SameSite)
}
