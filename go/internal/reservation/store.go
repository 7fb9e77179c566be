package reservation

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/devmate/go/internal/models"
	"github.com/rs/zerolog/log"
)

// StoreEventKind tells subscribers why the cache changed.
type StoreEventKind string

const (
	EventReconciled StoreEventKind = "snapshot"
	EventTicked     StoreEventKind = "tick"
	EventCleared    StoreEventKind = "cleared"
)

// StoreEvent is delivered to subscribers after every cache change. Devices
// is shared between subscribers and must not be modified.
type StoreEvent struct {
	Kind    StoreEventKind  `json:"type"`
	Devices []models.Device `json:"devices"`
	At      time.Time       `json:"at"`
}

// Store is the in-memory mirror of the authority's devices. It is mutated
// only by Reconcile (authoritative replacement) and Tick (derived duration).
type Store struct {
	clock clockwork.Clock

	// writeMu orders each mutation together with its event, so subscribers
	// never see a tick computed from a cache that a later snapshot replaced.
	// Subscribers must not call Reconcile, Tick or Clear.
	writeMu sync.Mutex

	mu      sync.RWMutex
	devices []models.Device
	index   map[string]int

	subsMu sync.RWMutex
	subs   map[int]func(StoreEvent)
	nextID int
}

func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock: clock,
		index: make(map[string]int),
		subs:  make(map[int]func(StoreEvent)),
	}
}

// Reconcile replaces the cache with snapshot. Durations are recomputed from
// each device's reservation time; nothing is carried over from the old cache.
func (s *Store) Reconcile(snapshot []models.Device) {
	now := s.clock.Now()

	devices := make([]models.Device, 0, len(snapshot))
	index := make(map[string]int, len(snapshot))
	for _, d := range snapshot {
		d = d.Clone()
		if err := d.CheckInvariant(); err != nil {
			log.Warn().Err(err).Str("device", d.Name).Msg("authority reported inconsistent device")
		}
		d.Duration = ""
		if at, ok := d.ReservedAt(); ok && d.IsReserved() {
			d.Duration = FormatSince(at, now)
		}
		if i, dup := index[d.Name]; dup {
			devices[i] = d
			continue
		}
		index[d.Name] = len(devices)
		devices = append(devices, d)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.devices = devices
	s.index = index
	s.mu.Unlock()

	log.Debug().Int("devices", len(devices)).Msg("store reconciled")
	s.publish(StoreEvent{Kind: EventReconciled, Devices: cloneAll(devices), At: now})
}

// Tick recomputes the duration of every reserved device as of now.
func (s *Store) Tick(now time.Time) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	changed := false
	for i := range s.devices {
		d := &s.devices[i]
		at, ok := d.ReservedAt()
		if !d.IsReserved() || !ok {
			continue
		}
		d.Duration = FormatSince(at, now)
		changed = true
	}
	var out []models.Device
	if changed {
		out = cloneAll(s.devices)
	}
	s.mu.Unlock()

	if changed {
		s.publish(StoreEvent{Kind: EventTicked, Devices: out, At: now})
	}
}

// Snapshot returns a copy of the cache in the order the authority reported.
func (s *Store) Snapshot() []models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.devices)
}

// Get returns a copy of the named device.
func (s *Store) Get(name string) (models.Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[name]
	if !ok {
		return models.Device{}, false
	}
	return s.devices[i].Clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// Clear empties the cache. Used on teardown.
func (s *Store) Clear() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.devices = nil
	s.index = make(map[string]int)
	s.mu.Unlock()
	s.publish(StoreEvent{Kind: EventCleared, Devices: []models.Device{}, At: s.clock.Now()})
}

// Subscribe registers fn for every store event. The returned function removes it.
func (s *Store) Subscribe(fn func(StoreEvent)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Store) publish(ev StoreEvent) {
	s.subsMu.RLock()
	targets := make([]func(StoreEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		targets = append(targets, fn)
	}
	s.subsMu.RUnlock()

	for _, fn := range targets {
		fn(ev)
	}
}

func cloneAll(devices []models.Device) []models.Device {
	out := make([]models.Device, len(devices))
	for i, d := range devices {
		out[i] = d.Clone()
	}
	return out
}
