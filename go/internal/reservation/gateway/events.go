package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/devmate/go/internal/models"
	"github.com/mcdev12/devmate/go/internal/reservation"
)

// Event is the envelope of every message pushed to WebSocket clients.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type EventType string

const (
	EventTypeSnapshot EventType = "snapshot"
	EventTypeTick     EventType = "tick"
	EventTypeHealth   EventType = "health"
	EventTypeNotice   EventType = "notice"
)

// DevicesPayload carries the full device list for snapshot and tick events.
type DevicesPayload struct {
	Devices []models.Device `json:"devices"`
}

// HealthPayload reports the authority's availability.
type HealthPayload struct {
	Available bool      `json:"available"`
	Since     time.Time `json:"since"`
	Cause     string    `json:"cause,omitempty"`
}

func newEvent(eventType EventType, at time.Time, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: at,
		Data:      data,
	}, nil
}

// storeEvent translates a cache change. A cleared cache is sent as an
// empty snapshot.
func storeEvent(ev reservation.StoreEvent) (*Event, error) {
	eventType := EventTypeSnapshot
	if ev.Kind == reservation.EventTicked {
		eventType = EventTypeTick
	}
	devices := ev.Devices
	if devices == nil {
		devices = []models.Device{}
	}
	return newEvent(eventType, ev.At, DevicesPayload{Devices: devices})
}

func healthEvent(ev reservation.HealthEvent) (*Event, error) {
	return newEvent(EventTypeHealth, ev.At, HealthPayload{Available: ev.Available, Since: ev.At, Cause: ev.Cause})
}

func noticeEvent(n reservation.Notice) (*Event, error) {
	return newEvent(EventTypeNotice, n.At, n)
}

// ParseEventPayload decodes the data of an event into its payload type.
func ParseEventPayload(event *Event) (any, error) {
	switch event.Type {
	case EventTypeSnapshot, EventTypeTick:
		var payload DevicesPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	case EventTypeHealth:
		var payload HealthPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	case EventTypeNotice:
		var payload reservation.Notice
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
	return nil, fmt.Errorf("unknown event type: %s", event.Type)
}
