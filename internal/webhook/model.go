package webhook

import (
	"slices"

	"github.com/sydlexius/bucketscope/internal/event"
)

// Webhook represents a configured webhook endpoint.
type Webhook struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
	Type string `yaml:"type" json:"type"`
	// Events lists the event types delivered to this endpoint. Empty means
	// every terminal job event.
	Events   []string `yaml:"events" json:"events"`
	Disabled bool     `yaml:"disabled" json:"disabled,omitempty"`
}

// Webhook types.
const (
	TypeGeneric = "generic"
	TypeDiscord = "discord"
	TypeSlack   = "slack"
	TypeGotify  = "gotify"
)

// Matches reports whether w should receive events of type t.
func (w Webhook) Matches(t event.Type) bool {
	if w.Disabled {
		return false
	}
	if len(w.Events) == 0 {
		return t.Terminal()
	}
	return slices.Contains(w.Events, string(t))
}
