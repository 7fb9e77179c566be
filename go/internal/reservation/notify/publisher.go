// Package notify mirrors a reservation session's events onto NATS subjects
// so that other processes can follow the device pool.
package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/devmate/go/internal/reservation"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	SubjectHealth   = "health"
	SubjectSnapshot = "snapshot"
	SubjectNotice   = "notice"
)

type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "devmate.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// msgPublisher is the part of *nats.Conn the publisher needs.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// Publisher sends health edges, snapshots and notices as core NATS messages.
// Failures are logged and never reach the engine.
type Publisher struct {
	nc     *nats.Conn
	conn   msgPublisher
	config Config

	mu          sync.Mutex
	sessionID   string
	unsubscribe []func()
	closed      bool
}

func Connect(cfg Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("devmate"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	p := newPublisher(nc, cfg)
	p.nc = nc
	return p, nil
}

func newPublisher(conn msgPublisher, cfg Config) *Publisher {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultConfig().SubjectPrefix
	}
	return &Publisher{conn: conn, config: cfg}
}

// Subject returns the full subject for an event kind.
func (p *Publisher) Subject(kind string) string {
	return fmt.Sprintf("%s.%s", p.config.SubjectPrefix, kind)
}

// Attach subscribes to session events. Ticks are derived locally by every
// client and are not published.
func (p *Publisher) Attach(session *reservation.Session) {
	p.mu.Lock()
	p.sessionID = session.ID
	p.mu.Unlock()

	storeUnsub := session.Store.Subscribe(func(ev reservation.StoreEvent) {
		if ev.Kind == reservation.EventTicked {
			return
		}
		p.publish(SubjectSnapshot, ev)
	})
	healthUnsub := session.Health.Subscribe(func(ev reservation.HealthEvent) {
		p.publish(SubjectHealth, ev)
	})
	noticeUnsub := session.AddNotifier(reservation.NotifierFunc(func(n reservation.Notice) {
		p.publish(SubjectNotice, n)
	}))

	p.mu.Lock()
	p.unsubscribe = append(p.unsubscribe, storeUnsub, healthUnsub, noticeUnsub)
	p.mu.Unlock()
}

func (p *Publisher) publish(kind string, payload any) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	if err := p.Publish(kind, payload); err != nil {
		log.Warn().Err(err).Str("subject", p.Subject(kind)).Msg("failed to publish event")
	}
}

// Publish sends one envelope on the subject for kind.
func (p *Publisher) Publish(kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	sessionID := p.sessionID
	p.mu.Unlock()

	eventID := uuid.New().String()
	env := map[string]interface{}{
		"eventId":   eventID,
		"eventType": kind,
		"sessionId": sessionID,
		"timestamp": time.Now().UTC(),
		"payload":   json.RawMessage(raw),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := p.Subject(kind)
	err = p.conn.PublishMsg(&nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{kind},
			"Event-ID":   []string{eventID},
			"Session-ID": []string{sessionID},
		},
	})
	if err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", eventID).
		Int("size", len(data)).
		Msg("published to NATS")
	return nil
}

// Close detaches from the session and closes the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	unsub := p.unsubscribe
	p.unsubscribe = nil
	p.closed = true
	p.mu.Unlock()
	for _, fn := range unsub {
		fn()
	}
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
			return fmt.Errorf("drain NATS connection: %w", err)
		}
	}
	return nil
}
