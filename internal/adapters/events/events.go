package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"execEngine/internal/domain"
	"execEngine/internal/ports"
)

// Event types carried in the envelope.
const (
	TypeOrder    = "order"
	TypePosition = "position"
)

// Envelope is the wire form of every event.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	TS   time.Time       `json:"ts"`
}

func encode(eventType string, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	return json.Marshal(Envelope{Type: eventType, Data: data, TS: time.Now().UTC()})
}

var _ ports.EventPublisher = Multi(nil)

// Multi fans an event out to every publisher and joins their errors.
type Multi []ports.EventPublisher

func (m Multi) PublishOrder(ctx context.Context, order *domain.Order) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishOrder(ctx, order); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) PublishPosition(ctx context.Context, pos *domain.Position) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishPosition(ctx, pos); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
