package reservation

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	unreachableNotice = "Authority is unreachable. Changes made by others will not show until it is back."
	recoveredNotice   = "Connection to the authority restored."
)

// HealthEvent is emitted on every availability edge.
type HealthEvent struct {
	Available bool      `json:"available"`
	At        time.Time `json:"at"`
	Cause     string    `json:"cause,omitempty"`
}

// HealthMonitor owns the authority availability flag. Only edges are
// published, so a sustained outage produces a single notice.
type HealthMonitor struct {
	authority Authority
	clock     clockwork.Clock
	notifier  Notifier

	mu        sync.Mutex
	available bool
	changedAt time.Time

	subsMu sync.RWMutex
	subs   map[int]func(HealthEvent)
	nextID int
}

func NewHealthMonitor(authority Authority, clock clockwork.Clock, notifier Notifier) *HealthMonitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &HealthMonitor{
		authority: authority,
		clock:     clock,
		notifier:  notifier,
		available: true,
		changedAt: clock.Now(),
		subs:      make(map[int]func(HealthEvent)),
	}
}

func (h *HealthMonitor) Available() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available
}

// Since returns when the current availability state began.
func (h *HealthMonitor) Since() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changedAt
}

// ReportUnreachable marks the authority unavailable.
func (h *HealthMonitor) ReportUnreachable(cause error) {
	ev, edge := h.set(false, cause)
	if !edge {
		return
	}
	log.Warn().Err(cause).Msg("authority became unreachable")
	h.notifier.Notify(Notice{Level: NoticeWarn, Message: unreachableNotice, At: ev.At})
	h.publish(ev)
}

// ReportHealthy marks the authority available.
func (h *HealthMonitor) ReportHealthy() {
	ev, edge := h.set(true, nil)
	if !edge {
		return
	}
	log.Info().Msg("authority reachable again")
	h.notifier.Notify(Notice{Level: NoticeInfo, Message: recoveredNotice, At: ev.At})
	h.publish(ev)
}

// Probe calls the health endpoint and records the outcome.
func (h *HealthMonitor) Probe(ctx context.Context) bool {
	res := h.authority.Health(ctx)
	if res.OK() {
		h.ReportHealthy()
		return true
	}
	h.ReportUnreachable(res.Cause)
	return false
}

// Subscribe registers fn for availability edges. The returned function removes it.
func (h *HealthMonitor) Subscribe(fn func(HealthEvent)) (unsubscribe func()) {
	h.subsMu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.subsMu.Lock()
			delete(h.subs, id)
			h.subsMu.Unlock()
		})
	}
}

func (h *HealthMonitor) set(available bool, cause error) (HealthEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.available == available {
		return HealthEvent{}, false
	}
	h.available = available
	h.changedAt = h.clock.Now()
	ev := HealthEvent{Available: available, At: h.changedAt}
	if cause != nil {
		ev.Cause = cause.Error()
	}
	return ev, true
}

func (h *HealthMonitor) publish(ev HealthEvent) {
	h.subsMu.RLock()
	targets := make([]func(HealthEvent), 0, len(h.subs))
	for _, fn := range h.subs {
		targets = append(targets, fn)
	}
	h.subsMu.RUnlock()

	for _, fn := range targets {
		fn(ev)
	}
}
