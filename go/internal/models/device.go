package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Status defines the reservation status of a device.
type Status string

const (
	StatusFree     Status = "free"
	StatusReserved Status = "reserved"
	StatusOffline  Status = "offline"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusFree, StatusReserved, StatusOffline:
		return true
	}
	return false
}

// Device mirrors a device as reported by the authority.
type Device struct {
	Name            string     `json:"name"`
	Model           string     `json:"model"`
	Info            string     `json:"info,omitempty"`
	Status          Status     `json:"status"`
	User            *string    `json:"user,omitempty"`
	ReservationTime *Timestamp `json:"reservation_time,omitempty"`

	// Duration is derived locally from ReservationTime; empty unless reserved.
	Duration string `json:"duration,omitempty"`
}

// IsReserved returns true if the device is held by a user.
func (d *Device) IsReserved() bool {
	return d.Status == StatusReserved
}

// Holder returns the reserving user, or "" when the device is not reserved.
func (d *Device) Holder() string {
	if d.User == nil {
		return ""
	}
	return *d.User
}

// ReservedAt returns the UTC reservation time and whether one is present.
func (d *Device) ReservedAt() (time.Time, bool) {
	if d.ReservationTime == nil || d.ReservationTime.IsZero() {
		return time.Time{}, false
	}
	return d.ReservationTime.Time, true
}

// CheckInvariant verifies that user and reservation time are present
// exactly when the device is reserved.
func (d *Device) CheckInvariant() error {
	if !d.Status.Valid() {
		return fmt.Errorf("device %s: unknown status %q", d.Name, d.Status)
	}
	_, hasTime := d.ReservedAt()
	hasUser := d.User != nil && *d.User != ""
	if d.IsReserved() && (!hasUser || !hasTime) {
		return fmt.Errorf("device %s: reserved without user and reservation time", d.Name)
	}
	if !d.IsReserved() && (hasUser || hasTime) {
		return fmt.Errorf("device %s: %s but carries reservation data", d.Name, d.Status)
	}
	return nil
}

// Clone returns a deep copy of the device.
func (d Device) Clone() Device {
	out := d
	if d.User != nil {
		u := *d.User
		out.User = &u
	}
	if d.ReservationTime != nil {
		t := *d.ReservationTime
		out.ReservationTime = &t
	}
	return out
}

// Timestamp is a UTC instant as encoded by the authority.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t, normalized to UTC.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t.UTC()}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	http.TimeFormat,
	time.RFC1123Z,
	time.RFC1123,
}

// ParseTimestamp parses any of the encodings the authority is known to emit.
// Values without an offset are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	// An unreadable value decodes as absent so one bad record cannot fail a
	// whole device list. CheckInvariant reports the reserved device it leaves.
	t.Time = time.Time{}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn().Str("value", string(data)).Msg("ignoring non-string timestamp")
		return nil
	}
	if raw == "" {
		return nil
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring unparseable timestamp")
		return nil
	}
	t.Time = parsed
	return nil
}
