package webhook

import (
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/sydlexius/bucketscope/internal/event"
)

// Service holds the configured webhooks. The set can be replaced at runtime
// when the configuration file is reloaded.
type Service struct {
	mu       sync.RWMutex
	webhooks []Webhook
}

// NewService validates webhooks and returns a Service serving them.
func NewService(webhooks []Webhook) (*Service, error) {
	s := &Service{}
	if err := s.Replace(webhooks); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks every webhook and fills in the default type.
func Validate(webhooks []Webhook) ([]Webhook, error) {
	out := make([]Webhook, 0, len(webhooks))
	var errs []error
	for i, w := range webhooks {
		if w.Name == "" {
			errs = append(errs, fmt.Errorf("webhook %d: name is required", i))
		}
		u, err := url.Parse(w.URL)
		if w.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("webhook %q: url must be an absolute http(s) URL", w.Name))
		}
		switch w.Type {
		case "":
			w.Type = TypeGeneric
		case TypeGeneric, TypeDiscord, TypeSlack, TypeGotify:
		default:
			errs = append(errs, fmt.Errorf("webhook %q: unknown type %q", w.Name, w.Type))
		}
		for _, e := range w.Events {
			if !event.Known(event.Type(e)) {
				errs = append(errs, fmt.Errorf("webhook %q: unknown event %q", w.Name, e))
			}
		}
		out = append(out, w)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Replace swaps the webhook set. On a validation error the current set is kept.
func (s *Service) Replace(webhooks []Webhook) error {
	valid, err := Validate(webhooks)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.webhooks = valid
	s.mu.Unlock()
	return nil
}

// List returns a copy of every configured webhook.
func (s *Service) List() []Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Webhook, len(s.webhooks))
	copy(out, s.webhooks)
	return out
}

// ListByEvent returns the enabled webhooks subscribed to t.
func (s *Service) ListByEvent(t event.Type) []Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Webhook
	for _, w := range s.webhooks {
		if w.Matches(t) {
			out = append(out, w)
		}
	}
	return out
}
