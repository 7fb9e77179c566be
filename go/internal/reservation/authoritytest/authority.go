// Package authoritytest provides an in-memory device authority served over
// HTTP, with the same routes and status codes as the real backend.
package authoritytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcdev12/devmate/go/internal/models"
)

// Authority is a fake device backend.
type Authority struct {
	mu      sync.Mutex
	order   []string
	devices map[string]*models.Device
	now     func() time.Time
	healthy bool
	drop    bool

	listCalls      atomic.Int64
	inFlightLists  atomic.Int64
	maxInFlight    atomic.Int64
	listGate       chan struct{}
	listEntered    chan struct{}
	listStatusCode int

	server *httptest.Server
}

// New starts a fake authority. Call Close when done.
func New() *Authority {
	a := &Authority{
		devices: make(map[string]*models.Device),
		now:     time.Now,
		healthy: true,
	}
	a.server = httptest.NewServer(a.Router())
	return a
}

func (a *Authority) URL() string { return a.server.URL }

func (a *Authority) Close() { a.server.Close() }

// SetReachable controls whether requests get an answer. While unreachable,
// every connection is closed without a response.
func (a *Authority) SetReachable(reachable bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drop = !reachable
}

// SetNow overrides the clock used for reservation timestamps.
func (a *Authority) SetNow(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// SetHealthy controls the /health status (200 or 503).
func (a *Authority) SetHealthy(healthy bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = healthy
}

// SetListStatus forces /devices/list to answer with code. Zero restores normal behavior.
func (a *Authority) SetListStatus(code int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listStatusCode = code
}

// HoldLists makes every list request block until ReleaseLists is called.
// Each blocked request first sends on the returned channel.
func (a *Authority) HoldLists() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listGate = make(chan struct{})
	a.listEntered = make(chan struct{}, 16)
	return a.listEntered
}

func (a *Authority) ReleaseLists() {
	a.mu.Lock()
	gate := a.listGate
	a.listGate = nil
	a.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// ListCalls reports how many list requests have been received.
func (a *Authority) ListCalls() int64 { return a.listCalls.Load() }

// MaxConcurrentLists reports the highest number of list requests seen in flight at once.
func (a *Authority) MaxConcurrentLists() int64 { return a.maxInFlight.Load() }

// Seed inserts a device directly, bypassing the API.
func (a *Authority) Seed(d models.Device) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := d.Clone()
	cp.Duration = ""
	if _, exists := a.devices[cp.Name]; !exists {
		a.order = append(a.order, cp.Name)
	}
	a.devices[cp.Name] = &cp
}

// Device returns the authority's view of a device.
func (a *Authority) Device(name string) (models.Device, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.devices[name]
	if !ok {
		return models.Device{}, false
	}
	return d.Clone(), true
}

func (a *Authority) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	devices := r.PathPrefix("/devices").Subrouter()
	devices.HandleFunc("/list", a.handleList).Methods(http.MethodGet)
	devices.HandleFunc("/add", a.handleAdd).Methods(http.MethodPost)
	devices.HandleFunc("/reserve", a.handleReserve).Methods(http.MethodPost)
	devices.HandleFunc("/release", a.handleRelease).Methods(http.MethodPost)
	devices.HandleFunc("/offline", a.handleOffline).Methods(http.MethodPost)
	devices.HandleFunc("/online", a.handleOnline).Methods(http.MethodPost)
	devices.HandleFunc("/delete/", a.handleDelete).Methods(http.MethodDelete)
	devices.HandleFunc("/delete/{device}", a.handleDelete).Methods(http.MethodDelete)
	r.Use(a.dropMiddleware)
	return r
}

func (a *Authority) dropMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		drop := a.drop
		a.mu.Unlock()
		if !drop {
			next.ServeHTTP(w, r)
			return
		}
		hj, ok := w.(http.Hijacker)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			return
		}
		_ = conn.Close()
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func message(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// decode reads the JSON body and checks required fields the way the backend does.
func decode(w http.ResponseWriter, r *http.Request, fields ...string) (map[string]string, bool) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body == nil {
		message(w, http.StatusBadRequest, "JSON body expected")
		return nil, false
	}
	var missing, empty []string
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		v, ok := body[f]
		if !ok {
			missing = append(missing, f)
			continue
		}
		s, _ := v.(string)
		if s == "" {
			empty = append(empty, f)
			continue
		}
		out[f] = s
	}
	var msgs []string
	if len(missing) > 0 {
		msgs = append(msgs, "Missing parameters: "+strings.Join(missing, ", "))
	}
	if len(empty) > 0 {
		msgs = append(msgs, "Empty parameters: "+strings.Join(empty, ", "))
	}
	if len(msgs) > 0 {
		message(w, http.StatusBadRequest, strings.Join(msgs, ", "))
		return nil, false
	}
	return out, true
}

func (a *Authority) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	healthy := a.healthy
	a.mu.Unlock()
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *Authority) handleList(w http.ResponseWriter, r *http.Request) {
	a.listCalls.Add(1)
	current := a.inFlightLists.Add(1)
	defer a.inFlightLists.Add(-1)
	for {
		seen := a.maxInFlight.Load()
		if current <= seen || a.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}

	a.mu.Lock()
	gate, entered := a.listGate, a.listEntered
	a.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	a.mu.Lock()
	forced := a.listStatusCode
	devices := make([]models.Device, 0, len(a.order))
	for _, name := range a.order {
		devices = append(devices, a.devices[name].Clone())
	}
	a.mu.Unlock()

	if forced != 0 {
		w.WriteHeader(forced)
		return
	}
	if len(devices) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (a *Authority) handleAdd(w http.ResponseWriter, r *http.Request) {
	body, ok := decode(w, r, "device", "model")
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.devices[body["device"]]; exists {
		message(w, http.StatusConflict, "Device with this name already exists")
		return
	}
	a.devices[body["device"]] = &models.Device{Name: body["device"], Model: body["model"], Status: models.StatusFree}
	a.order = append(a.order, body["device"])
	message(w, http.StatusCreated, "Device added")
}

func (a *Authority) handleReserve(w http.ResponseWriter, r *http.Request) {
	body, ok := decode(w, r, "device", "username")
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	d, exists := a.devices[body["device"]]
	if !exists {
		message(w, http.StatusNotFound, "Device not found")
		return
	}
	if d.Status != models.StatusFree {
		writeJSON(w, http.StatusConflict, map[string]any{
			"message":     "Device not available for reservation",
			"reserved_by": d.User,
		})
		return
	}
	user := body["username"]
	d.Status = models.StatusReserved
	d.User = &user
	d.ReservationTime = models.NewTimestamp(a.now())
	message(w, http.StatusOK, "Device reserved")
}

func (a *Authority) handleRelease(w http.ResponseWriter, r *http.Request) {
	body, ok := decode(w, r, "device")
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	d, exists := a.devices[body["device"]]
	if !exists {
		message(w, http.StatusNotFound, "Device not found")
		return
	}
	if d.Status != models.StatusReserved {
		message(w, http.StatusNotModified, "Device is not reserved")
		return
	}
	d.Status = models.StatusFree
	d.User = nil
	d.ReservationTime = nil
	message(w, http.StatusOK, "Device released")
}

func (a *Authority) handleOffline(w http.ResponseWriter, r *http.Request) {
	body, ok := decode(w, r, "device")
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	d, exists := a.devices[body["device"]]
	if !exists {
		message(w, http.StatusNotFound, "Device not found")
		return
	}
	if d.Status == models.StatusOffline {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	d.Status = models.StatusOffline
	d.User = nil
	d.ReservationTime = nil
	message(w, http.StatusOK, "Device set to offline")
}

func (a *Authority) handleOnline(w http.ResponseWriter, r *http.Request) {
	body, ok := decode(w, r, "device")
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	d, exists := a.devices[body["device"]]
	if !exists {
		message(w, http.StatusNotFound, "Device not found")
		return
	}
	if d.Status != models.StatusOffline {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	d.Status = models.StatusFree
	message(w, http.StatusOK, "Device set to available")
}

func (a *Authority) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["device"]
	if name == "" {
		message(w, http.StatusBadRequest, "Device name missing")
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.devices[name]; !exists {
		message(w, http.StatusNotFound, "Device not found")
		return
	}
	delete(a.devices, name)
	for i, n := range a.order {
		if n == name {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
