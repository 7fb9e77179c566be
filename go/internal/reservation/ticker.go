package reservation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const DefaultTickInterval = time.Second

// Ticker advances the derived reservation durations once per period
// without any network I/O.
type Ticker struct {
	store  *Store
	clock  clockwork.Clock
	period time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	tickMu  sync.Mutex
	stopped bool
}

func NewTicker(store *Store, clock clockwork.Clock, period time.Duration) *Ticker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if period <= 0 {
		period = DefaultTickInterval
	}
	return &Ticker{store: store, clock: clock, period: period}
}

func (t *Ticker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("ticker already running")
	}
	t.running = true
	t.stopCh = make(chan struct{})

	t.tickMu.Lock()
	t.stopped = false
	t.tickMu.Unlock()

	t.wg.Add(1)
	go t.run(ctx, t.stopCh)

	log.Debug().Dur("period", t.period).Msg("duration ticker started")
	return nil
}

// Stop halts the ticker. No tick reaches the store after Stop returns.
func (t *Ticker) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return fmt.Errorf("ticker not running")
	}
	t.running = false
	stopCh := t.stopCh
	t.mu.Unlock()

	t.tickMu.Lock()
	t.stopped = true
	t.tickMu.Unlock()

	close(stopCh)
	t.wg.Wait()

	log.Debug().Msg("duration ticker stopped")
	return nil
}

func (t *Ticker) run(ctx context.Context, stopCh <-chan struct{}) {
	defer t.wg.Done()

	ticker := t.clock.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.Chan():
			t.tick()
		}
	}
}

func (t *Ticker) tick() {
	t.tickMu.Lock()
	defer t.tickMu.Unlock()
	if t.stopped {
		return
	}
	t.store.Tick(t.clock.Now())
}
