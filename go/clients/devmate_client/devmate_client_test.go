package devmate_client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/devmate/go/clients"
	"github.com/mcdev12/devmate/go/internal/models"
	"github.com/mcdev12/devmate/go/internal/reservation/authoritytest"
)

func newFake(t *testing.T) (*authoritytest.Authority, *DevmateClient) {
	t.Helper()
	a := authoritytest.New()
	t.Cleanup(a.Close)
	return a, NewDevmateClient(a.URL())
}

func TestList_EmptyIsNoContent(t *testing.T) {
	_, c := newFake(t)

	res := c.List(context.Background())
	if !res.OK() {
		t.Fatalf("expected OK, got %s (%v)", res.Kind, res.Cause)
	}
	if res.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", res.StatusCode)
	}
	if res.Payload == nil || len(res.Payload) != 0 {
		t.Errorf("expected empty non-nil payload, got %#v", res.Payload)
	}
}

func TestList_DecodesDevices(t *testing.T) {
	a, c := newFake(t)
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	user := "alice"
	a.Seed(models.Device{Name: "dev1", Model: "pixel", Status: models.StatusFree})
	a.Seed(models.Device{Name: "dev2", Model: "ipad", Status: models.StatusReserved, User: &user, ReservationTime: models.NewTimestamp(at)})

	res := c.List(context.Background())
	if !res.OK() {
		t.Fatalf("expected OK, got %s (%v)", res.Kind, res.Cause)
	}
	if len(res.Payload) != 2 || res.Payload[0].Name != "dev1" || res.Payload[1].Name != "dev2" {
		t.Fatalf("unexpected devices %+v", res.Payload)
	}
	got := res.Payload[1]
	if got.Holder() != "alice" {
		t.Errorf("expected holder alice, got %q", got.Holder())
	}
	if reservedAt, _ := got.ReservedAt(); !reservedAt.Equal(at) {
		t.Errorf("expected reservation time %v, got %v", at, reservedAt)
	}
}

func TestList_ServerErrorIsRejected(t *testing.T) {
	a, c := newFake(t)
	a.SetListStatus(http.StatusInternalServerError)

	res := c.List(context.Background())
	if !res.Rejected() || res.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected rejected 500, got %s %d", res.Kind, res.StatusCode)
	}
}

func TestList_MalformedBodyIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "{not json")
	}))
	defer srv.Close()

	res := NewDevmateClient(srv.URL).List(context.Background())
	if !res.Rejected() {
		t.Fatalf("expected rejected, got %s", res.Kind)
	}
	if res.Cause == nil {
		t.Error("expected decode error as cause")
	}
}

func TestList_BadTimestampKeepsList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"devices":[
			{"name":"dev1","model":"m","status":"reserved","user":"alice","reservation_time":"garbage"},
			{"name":"dev2","model":"m","status":"free"}
		]}`)
	}))
	defer srv.Close()

	res := NewDevmateClient(srv.URL).List(context.Background())
	if !res.OK() {
		t.Fatalf("expected ok, got %s (%v)", res.Kind, res.Cause)
	}
	if len(res.Payload) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(res.Payload))
	}
	if _, ok := res.Payload[0].ReservedAt(); ok {
		t.Error("expected unreadable reservation time to be absent")
	}
}

func TestUnreachable(t *testing.T) {
	a, c := newFake(t)
	a.SetReachable(false)
	ctx := context.Background()

	if res := c.List(ctx); !res.Unreachable() || res.Cause == nil {
		t.Errorf("list: expected unreachable with cause, got %s", res.Kind)
	}
	if res := c.Health(ctx); !res.Unreachable() {
		t.Errorf("health: expected unreachable, got %s", res.Kind)
	}
	if res := c.Reserve(ctx, "dev1", "alice"); !res.Unreachable() {
		t.Errorf("reserve: expected unreachable, got %s", res.Kind)
	}
	if res := c.Delete(ctx, "dev1"); !res.Unreachable() {
		t.Errorf("delete: expected unreachable, got %s", res.Kind)
	}
}

func TestUnreachable_ClosedServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := NewDevmateClient(url).List(context.Background())
	if !res.Unreachable() {
		t.Errorf("expected unreachable, got %s", res.Kind)
	}
}

func TestHealth(t *testing.T) {
	a, c := newFake(t)
	ctx := context.Background()

	if res := c.Health(ctx); !res.OK() {
		t.Errorf("expected OK, got %s", res.Kind)
	}

	a.SetHealthy(false)
	res := c.Health(ctx)
	if !res.Unreachable() || res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected unreachable 503, got %s %d", res.Kind, res.StatusCode)
	}
}

func TestReserve_ConflictCarriesHolder(t *testing.T) {
	a, c := newFake(t)
	a.Seed(models.Device{Name: "dev1", Model: "pixel", Status: models.StatusFree})
	ctx := context.Background()

	if res := c.Reserve(ctx, "dev1", "alice"); !res.OK() {
		t.Fatalf("expected OK, got %s %d", res.Kind, res.StatusCode)
	}

	res := c.Reserve(ctx, "dev1", "bob")
	if !res.Rejected() || res.StatusCode != http.StatusConflict {
		t.Fatalf("expected rejected 409, got %s %d", res.Kind, res.StatusCode)
	}
	if res.Payload.ReservedBy != "alice" {
		t.Errorf("expected holder alice, got %q", res.Payload.ReservedBy)
	}
	if Message(res.Body) != "Device not available for reservation" {
		t.Errorf("unexpected message %q", Message(res.Body))
	}
}

func TestCommands_StatusClassification(t *testing.T) {
	a, c := newFake(t)
	a.Seed(models.Device{Name: "dev1", Model: "pixel", Status: models.StatusFree})
	ctx := context.Background()

	cases := []struct {
		name   string
		res    Result[struct{}]
		kind   Kind
		status int
	}{
		{"add new", c.Add(ctx, "dev2", "ipad"), KindOK, http.StatusCreated},
		{"add duplicate", c.Add(ctx, "dev2", "ipad"), KindRejected, http.StatusConflict},
		{"add empty model", c.Add(ctx, "dev3", ""), KindRejected, http.StatusBadRequest},
		{"release free", c.Release(ctx, "dev1"), KindRejected, http.StatusNotModified},
		{"online free", c.SetOnline(ctx, "dev1"), KindRejected, http.StatusNotModified},
		{"offline", c.SetOffline(ctx, "dev1"), KindOK, http.StatusOK},
		{"offline again", c.SetOffline(ctx, "dev1"), KindRejected, http.StatusNotModified},
		{"online", c.SetOnline(ctx, "dev1"), KindOK, http.StatusOK},
		{"delete", c.Delete(ctx, "dev1"), KindOK, http.StatusNoContent},
		{"delete missing", c.Delete(ctx, "dev1"), KindRejected, http.StatusNotFound},
	}

	for _, tc := range cases {
		if tc.res.Kind != tc.kind || tc.res.StatusCode != tc.status {
			t.Errorf("%s: expected %s %d, got %s %d", tc.name, tc.kind, tc.status, tc.res.Kind, tc.res.StatusCode)
		}
	}
}

func TestRequests_WireShape(t *testing.T) {
	type seen struct {
		method, path, contentType, requestID string
		body                                 map[string]any
	}
	var (
		mu  sync.Mutex
		got []seen
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := seen{
			method:      r.Method,
			path:        r.URL.EscapedPath(),
			contentType: r.Header.Get("Content-Type"),
			requestID:   r.Header.Get(clients.RequestIDHeader),
		}
		_ = json.NewDecoder(r.Body).Decode(&s.body)
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewDevmateClient(srv.URL + "/")
	ctx := context.Background()
	c.Reserve(ctx, "dev 1", "alice")
	c.Delete(ctx, "dev 1")

	mu.Lock()
	defer mu.Unlock()

	if len(got) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(got))
	}

	reserve := got[0]
	if reserve.method != http.MethodPost || reserve.path != "/devices/reserve" {
		t.Errorf("unexpected reserve request %s %s", reserve.method, reserve.path)
	}
	if !strings.HasPrefix(reserve.contentType, "application/json") {
		t.Errorf("unexpected content type %q", reserve.contentType)
	}
	if reserve.body["device"] != "dev 1" || reserve.body["username"] != "alice" {
		t.Errorf("unexpected reserve body %v", reserve.body)
	}
	if _, leaked := reserve.body["duration"]; leaked {
		t.Error("duration must never be sent to the authority")
	}

	del := got[1]
	if del.method != http.MethodDelete || del.path != "/devices/delete/dev%201" {
		t.Errorf("unexpected delete request %s %s", del.method, del.path)
	}
	if del.requestID == "" || del.requestID == reserve.requestID {
		t.Errorf("expected a fresh request id per call, got %q and %q", reserve.requestID, del.requestID)
	}
}

func TestMessage(t *testing.T) {
	if got := Message([]byte(`{"message":"Device not found"}`)); got != "Device not found" {
		t.Errorf("unexpected message %q", got)
	}
	if got := Message(nil); got != "" {
		t.Errorf("expected empty message, got %q", got)
	}
	if got := Message([]byte("<html>")); got != "" {
		t.Errorf("expected empty message for non-JSON, got %q", got)
	}
}
