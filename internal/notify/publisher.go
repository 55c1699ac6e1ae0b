// Package notify publishes appointment events for downstream consumers.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"calendar-service/internal/domain"
)

// TopicPrefix is prepended to the event kind to form the topic name.
const TopicPrefix = "appointments."

func Topic(kind domain.Event) string {
	return TopicPrefix + string(kind)
}

// Event is the message payload.
type Event struct {
	Kind          domain.Event       `json:"kind"`
	ContextID     int64              `json:"context_id"`
	AppointmentID int64              `json:"appointment_id"`
	RecurrenceID  int64              `json:"recurrence_id,omitempty"`
	Sequence      int                `json:"sequence"`
	Appointment   domain.Appointment `json:"appointment"`
	// Recipients are the attendees to inform. Attendees flagged with
	// SuppressNotification are left out.
	Recipients []int64 `json:"recipients"`
}

func newEvent(kind domain.Event, a *domain.Appointment) Event {
	e := Event{
		Kind:          kind,
		ContextID:     a.ContextID,
		AppointmentID: a.ID,
		RecurrenceID:  a.RecurrenceID,
		Sequence:      a.Sequence,
		Appointment:   a.Clone(),
		Recipients:    []int64{},
	}
	for _, u := range a.Users {
		if !u.SuppressNotification {
			e.Recipients = append(e.Recipients, u.UserID)
		}
	}
	return e
}

// Publisher implements calendar.Notifier on top of a watermill publisher.
type Publisher struct {
	publisher message.Publisher
	mu        sync.RWMutex
	closed    bool
}

func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{publisher: pub}
}

// NewGoChannel returns an in-process pub/sub usable as both publisher and
// subscriber.
func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
}

func (p *Publisher) Trigger(_ context.Context, kind domain.Event, a *domain.Appointment) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	data, err := json.Marshal(newEvent(kind, a))
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("kind", string(kind))
	msg.Metadata.Set("context_id", strconv.FormatInt(a.ContextID, 10))
	msg.Metadata.Set("appointment_id", strconv.FormatInt(a.ID, 10))

	if err := p.publisher.Publish(Topic(kind), msg); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
