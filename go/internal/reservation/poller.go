package reservation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	client "github.com/mcdev12/devmate/go/clients/devmate_client"
	"github.com/mcdev12/devmate/go/internal/models"
	"github.com/rs/zerolog/log"
)

const DefaultPollInterval = 10 * time.Second

// PollerStats is a point-in-time view of the poller's activity.
type PollerStats struct {
	Polls         uint64    `json:"polls"`
	Skipped       uint64    `json:"skipped"`
	LastReconcile time.Time `json:"last_reconcile"`
}

// Poller reconciles the store with the authority on a fixed interval.
// At most one list request is outstanding at any time.
type Poller struct {
	authority Authority
	store     *Store
	health    *HealthMonitor
	clock     clockwork.Clock
	interval  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	flightMu sync.Mutex
	inFlight bool
	rerun    bool

	// applyMu gates store writes so none can happen once Stop has returned.
	applyMu sync.Mutex
	stopped bool

	statsMu sync.Mutex
	stats   PollerStats
}

func NewPoller(authority Authority, store *Store, health *HealthMonitor, clock clockwork.Clock, interval time.Duration) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		authority: authority,
		store:     store,
		health:    health,
		clock:     clock,
		interval:  interval,
	}
}

func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("poller already running")
	}
	p.running = true

	p.applyMu.Lock()
	p.stopped = false
	p.applyMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(runCtx)

	log.Info().Dur("poll_interval", p.interval).Msg("poller started")
	return nil
}

// Stop cancels the schedule and any in-flight poll. Once Stop returns the
// store is no longer written by this poller.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller not running")
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	p.applyMu.Lock()
	p.stopped = true
	p.applyMu.Unlock()

	cancel()
	p.wg.Wait()

	log.Info().Msg("poller stopped")
	return nil
}

// Refresh reconciles now, in the caller's goroutine. If a poll is already in
// flight, one more poll is queued behind it instead.
func (p *Poller) Refresh(ctx context.Context) {
	p.applyMu.Lock()
	stopped := p.stopped
	p.applyMu.Unlock()
	if stopped {
		return
	}
	if !p.acquire(true) {
		log.Debug().Msg("poll in flight, refresh queued")
		return
	}
	p.drain(ctx)
}

func (p *Poller) Stats() PollerStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	// Poll immediately on start
	p.schedule(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.schedule(ctx)
		}
	}
}

func (p *Poller) schedule(ctx context.Context) {
	if !p.acquire(false) {
		p.statsMu.Lock()
		p.stats.Skipped++
		p.statsMu.Unlock()
		log.Debug().Msg("poll still in flight, skipping tick")
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.drain(ctx)
	}()
}

// acquire claims the single in-flight slot. When the slot is taken and
// queue is set, the holder is asked to poll once more before releasing it.
func (p *Poller) acquire(queue bool) bool {
	p.flightMu.Lock()
	defer p.flightMu.Unlock()
	if p.inFlight {
		if queue {
			p.rerun = true
		}
		return false
	}
	p.inFlight = true
	return true
}

func (p *Poller) drain(ctx context.Context) {
	for {
		p.pollOnce(ctx)

		p.flightMu.Lock()
		if !p.rerun || ctx.Err() != nil {
			p.rerun = false
			p.inFlight = false
			p.flightMu.Unlock()
			return
		}
		p.rerun = false
		p.flightMu.Unlock()
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	res := p.authority.List(ctx)

	p.statsMu.Lock()
	p.stats.Polls++
	p.statsMu.Unlock()

	switch res.Kind {
	case client.KindOK:
		p.health.ReportHealthy()
		if p.apply(res) {
			p.statsMu.Lock()
			p.stats.LastReconcile = p.clock.Now()
			p.statsMu.Unlock()
		}
	case client.KindUnreachable:
		if ctx.Err() != nil {
			return
		}
		p.health.ReportUnreachable(res.Cause)
		p.health.Probe(ctx)
	case client.KindRejected:
		log.Warn().
			Err(res.Cause).
			Int("status", res.StatusCode).
			Str("message", client.Message(res.Body)).
			Msg("authority rejected device list")
	}
}

func (p *Poller) apply(res client.Result[[]models.Device]) bool {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()
	if p.stopped {
		return false
	}
	p.store.Reconcile(res.Payload)
	return true
}
