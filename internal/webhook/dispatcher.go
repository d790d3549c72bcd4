package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sydlexius/bucketscope/internal/event"
	"github.com/sydlexius/bucketscope/internal/version"
)

const (
	maxAttempts    = 3
	requestTimeout = 10 * time.Second
	defaultBackoff = time.Second
)

// Dispatcher sends events to matching webhooks.
type Dispatcher struct {
	service    *Service
	httpClient *http.Client
	logger     *slog.Logger
	backoff    time.Duration

	// ctx is canceled by Close and only interrupts retry backoff. An
	// attempt already sending runs to completion or its own timeout.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(service *Service, logger *slog.Logger) *Dispatcher {
	return NewDispatcherWithHTTPClient(service, &http.Client{Timeout: requestTimeout}, logger)
}

// NewDispatcherWithHTTPClient creates a dispatcher with a custom HTTP client (for testing).
func NewDispatcherWithHTTPClient(service *Service, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		service:    service,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "webhook-dispatcher")),
		backoff:    defaultBackoff,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// HandleEvent is an event.Handler that dispatches the event to all matching webhooks.
// Events arriving after Close are dropped.
func (d *Dispatcher) HandleEvent(e event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Debug("dispatcher closed, dropping event", slog.String("event", string(e.Type)))
		return
	}
	for _, w := range d.service.ListByEvent(e.Type) {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(w, e)
		}()
	}
}

// Close stops accepting events, abandons deliveries waiting to retry and
// waits for attempts already in flight to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

// deliver posts e to w, retrying with doubling backoff until an attempt
// succeeds, the attempts run out or the dispatcher closes.
func (d *Dispatcher) deliver(w Webhook, e event.Event) {
	body, contentType := formatPayload(&w, e)
	log := d.logger.With(slog.String("webhook", w.Name), slog.String("event", string(e.Type)))

	wait := d.backoff
	for attempt := 1; ; attempt++ {
		err := d.send(w.URL, body, contentType)
		if err == nil {
			log.Debug("webhook delivered", slog.Int("attempt", attempt))
			return
		}
		if attempt == maxAttempts {
			log.Error("webhook delivery exhausted retries", slog.Int("attempts", attempt), slog.Any("error", err))
			return
		}
		log.Warn("webhook delivery failed", slog.Int("attempt", attempt), slog.Any("error", err))

		timer := time.NewTimer(wait)
		select {
		case <-d.ctx.Done():
			timer.Stop()
			log.Warn("webhook delivery abandoned", slog.Int("attempt", attempt))
			return
		case <-timer.C:
		}
		wait *= 2
	}
}

func (d *Dispatcher) send(url string, body []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "Bucketscope-Webhook/"+version.Version)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
