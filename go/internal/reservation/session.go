package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// SessionConfig holds the timing and policy knobs of a Session.
type SessionConfig struct {
	PollInterval time.Duration
	TickInterval time.Duration
	Policy       Policy
	Clock        clockwork.Clock
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		PollInterval: DefaultPollInterval,
		TickInterval: DefaultTickInterval,
		Policy:       DefaultPolicy(),
		Clock:        clockwork.NewRealClock(),
	}
}

// Session wires the synchronization engine together for one application run.
type Session struct {
	ID string

	Store      *Store
	Health     *HealthMonitor
	Drafts     *Drafts
	Poller     *Poller
	Ticker     *Ticker
	Dispatcher *Dispatcher

	notices *Notices
}

func NewSession(authority Authority, cfg SessionConfig) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	notices := &Notices{}
	notices.Add(LogNotifier{})

	store := NewStore(cfg.Clock)
	health := NewHealthMonitor(authority, cfg.Clock, notices)
	drafts := NewDrafts()
	poller := NewPoller(authority, store, health, cfg.Clock, cfg.PollInterval)

	return &Session{
		ID:         uuid.New().String()[:8],
		Store:      store,
		Health:     health,
		Drafts:     drafts,
		Poller:     poller,
		Ticker:     NewTicker(store, cfg.Clock, cfg.TickInterval),
		Dispatcher: NewDispatcher(authority, health, poller, store, drafts, notices, cfg.Clock, cfg.Policy),
		notices:    notices,
	}
}

// AddNotifier registers an additional receiver of user-facing notices.
// The returned function unregisters it.
func (s *Session) AddNotifier(n Notifier) (remove func()) {
	return s.notices.Add(n)
}

func (s *Session) Start(ctx context.Context) error {
	if err := s.Poller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}
	if err := s.Ticker.Start(ctx); err != nil {
		_ = s.Poller.Stop()
		return fmt.Errorf("failed to start ticker: %w", err)
	}
	log.Info().Str("session", s.ID).Msg("reservation session started")
	return nil
}

// Stop halts ticking and polling, then clears the cache.
func (s *Session) Stop() error {
	var firstErr error
	if err := s.Ticker.Stop(); err != nil {
		firstErr = fmt.Errorf("failed to stop ticker: %w", err)
	}
	if err := s.Poller.Stop(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to stop poller: %w", err)
	}
	s.Store.Clear()
	log.Info().Str("session", s.ID).Msg("reservation session stopped")
	return firstErr
}
