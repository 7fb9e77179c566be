package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	client "github.com/mcdev12/devmate/go/clients/devmate_client"
	"github.com/mcdev12/devmate/go/internal/models"
	"github.com/mcdev12/devmate/go/internal/reservation/authoritytest"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// mockAuthority records calls and answers with scripted results.
type mockAuthority struct {
	mu      sync.Mutex
	calls   []string
	list    client.Result[[]models.Device]
	health  client.Result[struct{}]
	command client.Result[struct{}]
	reserve client.Result[client.ReserveReply]
}

func newMockAuthority() *mockAuthority {
	return &mockAuthority{
		list:    client.Result[[]models.Device]{Kind: client.KindOK, StatusCode: 204, Payload: []models.Device{}},
		health:  client.Result[struct{}]{Kind: client.KindOK, StatusCode: 200},
		command: client.Result[struct{}]{Kind: client.KindOK, StatusCode: 200},
		reserve: client.Result[client.ReserveReply]{Kind: client.KindOK, StatusCode: 200},
	}
}

func (m *mockAuthority) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockAuthority) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockAuthority) List(ctx context.Context) client.Result[[]models.Device] {
	m.record("list")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list
}

func (m *mockAuthority) Health(ctx context.Context) client.Result[struct{}] {
	m.record("health")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

func (m *mockAuthority) cmd(name string) client.Result[struct{}] {
	m.record(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.command
}

func (m *mockAuthority) Add(ctx context.Context, device, model string) client.Result[struct{}] {
	return m.cmd("add")
}

func (m *mockAuthority) Reserve(ctx context.Context, device, username string) client.Result[client.ReserveReply] {
	m.record("reserve")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserve
}

func (m *mockAuthority) Release(ctx context.Context, device string) client.Result[struct{}] {
	return m.cmd("release")
}

func (m *mockAuthority) SetOffline(ctx context.Context, device string) client.Result[struct{}] {
	return m.cmd("offline")
}

func (m *mockAuthority) SetOnline(ctx context.Context, device string) client.Result[struct{}] {
	return m.cmd("online")
}

func (m *mockAuthority) Delete(ctx context.Context, device string) client.Result[struct{}] {
	return m.cmd("delete")
}

var errDown = errors.New("connection refused")

func unreachableList() client.Result[[]models.Device] {
	return client.Result[[]models.Device]{Kind: client.KindUnreachable, Cause: errDown}
}

// noticeRecorder collects notices for assertions.
type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) All() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// env is a complete engine wired to a fake HTTP authority.
type env struct {
	authority *authoritytest.Authority
	clock     *clockwork.FakeClock
	store     *Store
	health    *HealthMonitor
	poller    *Poller
	drafts    *Drafts
	notices   *noticeRecorder
	dispatch  *Dispatcher
}

func newEnv(t *testing.T, policy Policy) *env {
	t.Helper()
	a := authoritytest.New()
	t.Cleanup(a.Close)

	fc := clockwork.NewFakeClockAt(t0)
	a.SetNow(fc.Now)

	c := client.NewDevmateClient(a.URL())
	c.SetTimeout(5 * time.Second)

	rec := &noticeRecorder{}
	store := NewStore(fc)
	health := NewHealthMonitor(c, fc, rec)
	poller := NewPoller(c, store, health, fc, DefaultPollInterval)
	drafts := NewDrafts()

	return &env{
		authority: a,
		clock:     fc,
		store:     store,
		health:    health,
		poller:    poller,
		drafts:    drafts,
		notices:   rec,
		dispatch:  NewDispatcher(c, health, poller, store, drafts, rec, fc, policy),
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func blockUntil(t *testing.T, fc *clockwork.FakeClock, waiters int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := fc.BlockUntilContext(ctx, waiters); err != nil {
		t.Fatalf("waiting for %d clock waiters: %v", waiters, err)
	}
}

func strptr(s string) *string { return &s }

func reservedDevice(name, user string, at time.Time) models.Device {
	return models.Device{
		Name:            name,
		Model:           "model-" + name,
		Status:          models.StatusReserved,
		User:            strptr(user),
		ReservationTime: models.NewTimestamp(at),
	}
}

func freeDevice(name string) models.Device {
	return models.Device{Name: name, Model: "model-" + name, Status: models.StatusFree}
}
