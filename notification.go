package pushkit

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Direction is the text direction of a displayed notification.
type Direction string

const (
	DirectionAuto        Direction = "auto"
	DirectionLeftToRight Direction = "ltr"
	DirectionRightToLeft Direction = "rtl"
)

// Action is a button on a displayed notification.
type Action struct {
	// Action identifies the button to the service worker.
	Action string
	// Title is the button label.
	Title string
	// Navigate is the URL opened when the button is activated.
	Navigate string
	// Icon is an optional button icon URL.
	Icon string
}

// A Notification is a push payload the browser can display. The zero kind is
// declarative: the document carries the "web_push": 8030 discriminator and
// needs no service worker to display. Setting Legacy omits the discriminator
// for payloads handled by an application's own service worker.
type Notification struct {
	// Title is the notification title. Required.
	Title string
	// Navigate is the destination URL opened on activation. Required.
	Navigate string

	Body     string
	Language string
	Tag      string
	Image    string
	Icon     string
	Badge    string

	Direction Direction
	Vibrate   []int
	// Timestamp is rendered as integer milliseconds since the Unix epoch.
	Timestamp time.Time

	Renotify           bool
	Silent             bool
	RequireInteraction bool

	// Data is arbitrary caller-defined JSON made available to the service
	// worker.
	Data any

	Actions []Action

	// AppBadge sets the application badge count when present.
	AppBadge *int64
	// Mutable marks the notification as modifiable by the service worker.
	Mutable bool
	// Legacy omits the declarative-push discriminator.
	Legacy bool
}

// MarshalJSON encodes the notification document with sorted keys and no
// slash escaping, so encoded output is stable for tests and topic
// derivation.
func (n *Notification) MarshalJSON() ([]byte, error) {
	if n.Title == "" {
		return nil, errors.New("pushkit: notification requires a title")
	}
	if n.Navigate == "" {
		return nil, errors.New("pushkit: notification requires a destination URL")
	}

	inner := map[string]any{
		"title":    n.Title,
		"navigate": n.Navigate,
	}
	if n.Direction != "" && n.Direction != DirectionAuto {
		inner["dir"] = string(n.Direction)
	}
	if n.Language != "" {
		inner["lang"] = n.Language
	}
	if n.Body != "" {
		inner["body"] = n.Body
	}
	if n.Tag != "" {
		inner["tag"] = n.Tag
	}
	if n.Image != "" {
		inner["image"] = n.Image
	}
	if n.Icon != "" {
		inner["icon"] = n.Icon
	}
	if n.Badge != "" {
		inner["badge"] = n.Badge
	}
	if len(n.Vibrate) > 0 {
		inner["vibrate"] = n.Vibrate
	}
	if !n.Timestamp.IsZero() {
		inner["timestamp"] = n.Timestamp.UnixMilli()
	}
	if n.Renotify {
		inner["renotify"] = true
	}
	if n.Silent {
		inner["silent"] = true
	}
	if n.RequireInteraction {
		inner["require_interaction"] = true
	}
	if n.Data != nil {
		inner["data"] = n.Data
	}
	if len(n.Actions) > 0 {
		actions := make([]map[string]any, 0, len(n.Actions))
		for _, a := range n.Actions {
			m := map[string]any{
				"action":   a.Action,
				"title":    a.Title,
				"navigate": a.Navigate,
			}
			if a.Icon != "" {
				m["icon"] = a.Icon
			}
			actions = append(actions, m)
		}
		inner["actions"] = actions
	}

	doc := map[string]any{"notification": inner}
	if !n.Legacy {
		doc["web_push"] = 8030
	}
	if n.AppBadge != nil {
		doc["app_badge"] = *n.AppBadge
	}
	if n.Mutable {
		doc["mutable"] = true
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Encode returns the notification document as message bytes for Send.
func (n *Notification) Encode() ([]byte, error) {
	return n.MarshalJSON()
}
