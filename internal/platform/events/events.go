// Package events carries appointment lifecycle notifications to interested
// consumers: the WebSocket change feed and, when configured, Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	TypeCreated = "appointment.created"
	TypeUpdated = "appointment.updated"
	TypeDeleted = "appointment.deleted"
)

// Topic is the single topic appointment events are published on.
const Topic = "appointments"

// Event is one change to the appointment collection.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Topic      string          `json:"topic"`
	ResourceID string          `json:"resourceId"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// New builds an event for the given resource, marshalling data as the payload.
func New(eventType, resourceID string, data interface{}) (Event, error) {
	ev := Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Topic:      Topic,
		ResourceID: resourceID,
		Timestamp:  time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		ev.Data = raw
	}
	return ev, nil
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
