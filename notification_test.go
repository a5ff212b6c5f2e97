package pushkit

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/daaku/ensure"
)

func TestNotificationDeclarativeMinimal(t *testing.T) {
	n := &Notification{
		Title:     "New Anime",
		Navigate:  "https://jiiiii.moe",
		Timestamp: time.Unix(1_000_000_000, 0),
	}
	data, err := n.Encode()
	ensure.Nil(t, err)
	ensure.DeepEqual(t, string(data),
		`{"notification":{"navigate":"https://jiiiii.moe","timestamp":1000000000000,"title":"New Anime"},"web_push":8030}`)
}

func TestNotificationLegacyOmitsDiscriminator(t *testing.T) {
	n := &Notification{Title: "t", Navigate: "https://example.com", Legacy: true}
	data, err := n.Encode()
	ensure.Nil(t, err)
	ensure.False(t, strings.Contains(string(data), "web_push"))
}

func TestNotificationFull(t *testing.T) {
	badge := int64(3)
	n := &Notification{
		Title:              "title",
		Navigate:           "https://example.com/page",
		Body:               "body",
		Language:           "en",
		Tag:                "tag",
		Image:              "https://example.com/image.png",
		Icon:               "https://example.com/icon.png",
		Badge:              "https://example.com/badge.png",
		Direction:          DirectionRightToLeft,
		Vibrate:            []int{100, 50, 100},
		Timestamp:          time.UnixMilli(1700000000123),
		Renotify:           true,
		Silent:             true,
		RequireInteraction: true,
		Data:               map[string]any{"k": "v"},
		Actions: []Action{
			{Action: "open", Title: "Open", Navigate: "https://example.com/open", Icon: "https://example.com/a.png"},
		},
		AppBadge: &badge,
		Mutable:  true,
	}
	data, err := n.Encode()
	ensure.Nil(t, err)
	s := string(data)

	ensure.True(t, strings.Contains(s, `"web_push":8030`))
	ensure.True(t, strings.Contains(s, `"dir":"rtl"`))
	ensure.True(t, strings.Contains(s, `"vibrate":[100,50,100]`))
	ensure.True(t, strings.Contains(s, `"timestamp":1700000000123`))
	ensure.True(t, strings.Contains(s, `"renotify":true`))
	ensure.True(t, strings.Contains(s, `"silent":true`))
	ensure.True(t, strings.Contains(s, `"require_interaction":true`))
	ensure.True(t, strings.Contains(s, `"app_badge":3`))
	ensure.True(t, strings.Contains(s, `"mutable":true`))
	ensure.True(t, strings.Contains(s, `"actions":[{"action":"open","icon":"https://example.com/a.png","navigate":"https://example.com/open","title":"Open"}]`))
	// Forward slashes stay unescaped.
	ensure.True(t, strings.Contains(s, "https://example.com/page"))
}

func TestNotificationDefaultsOmitted(t *testing.T) {
	n := &Notification{Title: "t", Navigate: "https://example.com", Direction: DirectionAuto}
	data, err := n.Encode()
	ensure.Nil(t, err)
	s := string(data)
	for _, key := range []string{"dir", "renotify", "silent", "require_interaction", "mutable", "app_badge", "vibrate", "timestamp"} {
		ensure.False(t, strings.Contains(s, `"`+key+`"`), key)
	}
}

func TestNotificationRequiredFields(t *testing.T) {
	_, err := (&Notification{Navigate: "https://example.com"}).Encode()
	ensure.Err(t, err, regexp.MustCompile("requires a title"))
	_, err = (&Notification{Title: "t"}).Encode()
	ensure.Err(t, err, regexp.MustCompile("requires a destination"))
}
