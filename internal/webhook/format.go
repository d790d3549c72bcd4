package webhook

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sydlexius/bucketscope/internal/event"
)

// Discord embed colors.
const (
	colorGreen  = 0x2ECC71
	colorOrange = 0xE67E22
	colorRed    = 0xE74C3C
	colorBlue   = 0x3498DB
)

type genericPayload struct {
	Event     event.Type     `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type slackPayload struct {
	Text string `json:"text"`
}

type gotifyPayload struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

// formatPayload returns the request body and content type for delivering e
// to w.
func formatPayload(w *Webhook, e event.Event) ([]byte, string) {
	var payload any
	switch w.Type {
	case TypeDiscord:
		payload = discordPayload{Embeds: []discordEmbed{{
			Title:       title(e),
			Description: describe(e),
			Color:       embedColor(e.Type),
			Timestamp:   e.Timestamp.UTC().Format(time.RFC3339),
		}}}
	case TypeSlack:
		payload = slackPayload{Text: fmt.Sprintf("*%s*\n%s", title(e), describe(e))}
	case TypeGotify:
		payload = gotifyPayload{Title: title(e), Message: describe(e), Priority: gotifyPriority(e.Type)}
	default:
		payload = genericPayload{Event: e.Type, Timestamp: e.Timestamp, Data: e.Data}
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func title(e event.Event) string {
	return "Bucketscope: " + string(e.Type)
}

func embedColor(t event.Type) int {
	switch t {
	case event.JobCompleted:
		return colorGreen
	case event.JobPartial:
		return colorOrange
	case event.JobFailed:
		return colorRed
	}
	return colorBlue
}

// gotifyPriority raises failures above Gotify's default notification level.
func gotifyPriority(t event.Type) int {
	if t == event.JobFailed {
		return 8
	}
	return 5
}

// describe renders a one-line job summary such as
// "media/photos/: 1,204 objects, 3.2 GB (Stopped after hitting max-objects cap)".
// Events without job totals fall back to the message or the raw data.
func describe(e event.Event) string {
	if len(e.Data) == 0 {
		return string(e.Type)
	}
	msg, _ := e.Data["message"].(string)
	bucket, _ := e.Data["bucket_id"].(string)
	prefix, _ := e.Data["prefix"].(string)
	objects, haveObjects := toUint64(e.Data["objects_scanned"])
	size, haveSize := toUint64(e.Data["total_size_bytes"])

	if bucket == "" || !haveObjects || !haveSize {
		if msg != "" {
			return msg
		}
		raw, _ := json.Marshal(e.Data)
		return string(raw)
	}

	line := fmt.Sprintf("%s/%s: %s objects, %s", bucket, prefix,
		humanize.Comma(int64(min(objects, math.MaxInt64))), humanize.Bytes(size))
	if msg != "" {
		line += " (" + msg + ")"
	}
	return line
}

// toUint64 accepts the numeric types event data carries in process and after
// a JSON round trip.
func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int:
		return nonNegative(int64(n))
	case int64:
		return nonNegative(n)
	case float64:
		if n >= 0 {
			return uint64(n), true
		}
	}
	return 0, false
}

func nonNegative(n int64) (uint64, bool) {
	if n < 0 {
		return 0, false
	}
	return uint64(n), true
}
