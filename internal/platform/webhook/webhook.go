// Package webhook delivers appointment events to external HTTP endpoints.
// Each payload is signed with HMAC-SHA256 so receivers can verify it came
// from this service.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ehr/intake/internal/platform/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEventID   = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// Endpoint is a configured delivery target. Events holds the subscribed
// patterns; an empty list subscribes to everything.
type Endpoint struct {
	URL    string   `json:"url"`
	Secret string   `json:"-"`
	Events []string `json:"events"`
}

// Delivery records one attempt to deliver an event to an endpoint.
type Delivery struct {
	ID         string        `json:"id"`
	URL        string        `json:"url"`
	EventID    string        `json:"eventId"`
	EventType  string        `json:"eventType"`
	Attempt    int           `json:"attempt"`
	StatusCode int           `json:"statusCode,omitempty"`
	Status     string        `json:"status"` // "success" or "failed"
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"durationNs"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// SignPayload returns the hex encoded HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature as sent in the signature header, with
// or without its "sha256=" prefix.
func VerifySignature(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// ParseEndpoints builds endpoints from a comma separated URL list sharing one
// secret and one pattern list.
func ParseEndpoints(urls, secret string, patterns []string) ([]Endpoint, error) {
	var out []Endpoint
	for _, raw := range strings.Split(urls, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if err := validateURL(raw); err != nil {
			return nil, err
		}
		out = append(out, Endpoint{URL: raw, Secret: secret, Events: patterns})
	}
	return out, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url %q: %w", rawURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url %q has no host", rawURL)
	}
	return nil
}

// eventMatches reports whether eventType matches a subscription pattern:
// an exact type, "*", "appointment.*" or "*.deleted".
func eventMatches(pattern, eventType string) bool {
	switch {
	case pattern == "*" || pattern == eventType:
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(eventType, pattern[1:])
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func (ep Endpoint) subscribed(eventType string) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, p := range ep.Events {
		if eventMatches(p, eventType) {
			return true
		}
	}
	return false
}

type Option func(*Publisher)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Publisher) { p.client = c }
}

// WithRetryDelays sets the waits between attempts. The number of delays is
// the number of retries.
func WithRetryDelays(d ...time.Duration) Option {
	return func(p *Publisher) { p.retryDelays = d }
}

// WithQueueSize bounds the number of events waiting for delivery.
func WithQueueSize(n int) Option {
	return func(p *Publisher) { p.queueSize = n }
}

// WithHistory sets how many deliveries are kept for inspection.
func WithHistory(n int) Option {
	return func(p *Publisher) { p.historySize = n }
}

// ErrQueueFull is returned by Publish when the delivery queue is saturated.
var ErrQueueFull = errors.New("webhook queue full")

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("webhook publisher closed")

// Publisher implements events.Publisher by POSTing each event to every
// subscribed endpoint. Publish only enqueues; workers started with Start do
// the delivery. Failed deliveries are retried with the configured delays and
// a non-2xx response counts as a failure.
type Publisher struct {
	endpoints   []Endpoint
	client      *http.Client
	retryDelays []time.Duration
	logger      zerolog.Logger
	queueSize   int

	queue   chan events.Event
	closeMu sync.RWMutex
	closed  bool
	cancels []context.CancelFunc
	wg      sync.WaitGroup

	mu          sync.Mutex
	history     []Delivery
	historySize int
}

func NewPublisher(endpoints []Endpoint, logger zerolog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		endpoints:   endpoints,
		client:      &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
		logger:      logger.With().Str("component", "webhook").Logger(),
		historySize: 100,
		queueSize:   256,
	}
	for _, o := range opts {
		o(p)
	}
	p.queue = make(chan events.Event, p.queueSize)
	return p
}

// Start launches n delivery workers. They run until the queue is drained by
// Shutdown or Close. Cancelling ctx, or a Shutdown deadline passing, aborts
// in-flight deliveries and pending retries.
func (p *Publisher) Start(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p.closeMu.Lock()
	p.cancels = append(p.cancels, cancel)
	p.closeMu.Unlock()
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for ev := range p.queue {
				if err := p.Deliver(ctx, ev); err != nil {
					p.logger.Error().Err(err).Str("event_id", ev.ID).Str("event_type", ev.Type).Msg("webhook delivery abandoned")
				}
			}
		}()
	}
}

// Publish queues the event for delivery without blocking.
func (p *Publisher) Publish(_ context.Context, event events.Event) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for the workers to drain the queue.
func (p *Publisher) Close() {
	_ = p.Shutdown(context.Background())
}

// Shutdown stops accepting events and waits for the workers to drain the
// queue. When ctx ends first the workers are cancelled, remaining events are
// dropped and ctx's error is returned.
func (p *Publisher) Shutdown(ctx context.Context) error {
	p.closeMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	cancels := p.cancels
	p.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		for _, cancel := range cancels {
			cancel()
		}
		return nil
	case <-ctx.Done():
		for _, cancel := range cancels {
			cancel()
		}
		<-done
		return ctx.Err()
	}
}

// Deliver sends the event to every subscribed endpoint and returns the joined
// errors of endpoints that never accepted it.
func (p *Publisher) Deliver(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	var errs []error
	for _, ep := range p.endpoints {
		if !ep.subscribed(event.Type) {
			continue
		}
		if err := p.deliver(ctx, ep, event, payload); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", ep.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) deliver(ctx context.Context, ep Endpoint, event events.Event, payload []byte) error {
	var last error
	for attempt := 1; attempt <= len(p.retryDelays)+1; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.retryDelays[attempt-2]):
			}
		}
		d := p.attempt(ctx, ep, event, payload, attempt)
		p.record(d)
		if d.Status == "success" {
			return nil
		}
		last = errors.New(d.Error)
		p.logger.Warn().Str("url", ep.URL).Str("event_id", event.ID).Int("attempt", attempt).Str("error", d.Error).Msg("webhook delivery failed")
	}
	return last
}

func (p *Publisher) attempt(ctx context.Context, ep Endpoint, event events.Event, payload []byte, n int) Delivery {
	now := time.Now()
	d := Delivery{
		ID:        uuid.New().String(),
		URL:       ep.URL,
		EventID:   event.ID,
		EventType: event.Type,
		Attempt:   n,
		CreatedAt: now,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		d.Status, d.Error = "failed", err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventID, event.ID)
	req.Header.Set(HeaderTimestamp, now.UTC().Format(time.RFC3339))
	if ep.Secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+SignPayload(payload, ep.Secret))
	}

	resp, err := p.client.Do(req)
	d.Duration = time.Since(now)
	if err != nil {
		d.Status, d.Error = "failed", err.Error()
		return d
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	d.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.Status = "success"
	} else {
		d.Status = "failed"
		d.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return d
}

func (p *Publisher) record(d Delivery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, d)
	if over := len(p.history) - p.historySize; over > 0 {
		p.history = append(p.history[:0], p.history[over:]...)
	}
}

// Deliveries returns recorded attempts, newest first.
func (p *Publisher) Deliveries() []Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Delivery, len(p.history))
	for i, d := range p.history {
		out[len(out)-1-i] = d
	}
	return out
}

// Endpoints returns the configured endpoints.
func (p *Publisher) Endpoints() []Endpoint {
	return append([]Endpoint(nil), p.endpoints...)
}
