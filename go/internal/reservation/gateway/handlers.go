package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcdev12/devmate/go/internal/models"
	"github.com/mcdev12/devmate/go/internal/reservation"
	"github.com/rs/zerolog/log"
)

// CommandRequest is the body of POST /api/devices/{op}.
type CommandRequest struct {
	Device   string `json:"device"`
	Username string `json:"username,omitempty"`
	Model    string `json:"model,omitempty"`
}

// CommandResponse is returned for every command, successful or not.
type CommandResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Holder  string `json:"holder,omitempty"`
}

type DraftRequest struct {
	Username string `json:"username"`
}

type DraftResponse struct {
	Device     string `json:"device"`
	Username   string `json:"username"`
	CanReserve bool   `json:"can_reserve"`
}

type DevicesResponse struct {
	Devices []models.Device `json:"devices"`
}

type HealthResponse struct {
	Available     bool       `json:"available"`
	Since         time.Time  `json:"since"`
	Polls         uint64     `json:"polls"`
	Skipped       uint64     `json:"skipped"`
	LastReconcile *time.Time `json:"last_reconcile,omitempty"`
	Connections   int        `json:"connections"`
}

func (s *Service) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, DevicesResponse{Devices: s.session.Store.Snapshot()})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.session.Poller.Stats()
	resp := HealthResponse{
		Available:   s.session.Health.Available(),
		Since:       s.session.Health.Since(),
		Polls:       stats.Polls,
		Skipped:     stats.Skipped,
		Connections: s.connectionManager.ConnectionCount(),
	}
	if !stats.LastReconcile.IsZero() {
		resp.LastReconcile = &stats.LastReconcile
	}

	status := http.StatusOK
	if !resp.Available {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Service) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CommandResponse{Message: "Invalid JSON body", Kind: reservation.ErrLocalValidation.String()})
		return
	}

	d := s.session.Dispatcher
	ctx := r.Context()
	var (
		msg string
		err error
	)
	switch reservation.Op(mux.Vars(r)["op"]) {
	case reservation.OpReserve:
		if req.Username == "" {
			msg, err = d.ReserveDraft(ctx, req.Device)
		} else {
			msg, err = d.Reserve(ctx, req.Device, req.Username)
		}
	case reservation.OpRelease:
		msg, err = d.Release(ctx, req.Device)
	case reservation.OpOffline:
		msg, err = d.SetOffline(ctx, req.Device)
	case reservation.OpOnline:
		msg, err = d.SetOnline(ctx, req.Device)
	case reservation.OpAdd:
		msg, err = d.Add(ctx, req.Device, req.Model)
	}
	writeCommandResult(w, msg, err)
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	msg, err := s.session.Dispatcher.Delete(r.Context(), mux.Vars(r)["name"])
	writeCommandResult(w, msg, err)
}

func (s *Service) handlePutDraft(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CommandResponse{Message: "Invalid JSON body"})
		return
	}
	name := mux.Vars(r)["name"]
	drafts := s.session.Drafts
	drafts.SetUsername(name, req.Username)
	writeJSON(w, http.StatusOK, DraftResponse{
		Device:     name,
		Username:   drafts.Username(name),
		CanReserve: drafts.CanReserve(name),
	})
}

func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	greeting, err := newEvent(EventTypeSnapshot, time.Now(), DevicesPayload{Devices: s.session.Store.Snapshot()})
	if err != nil {
		log.Error().Err(err).Msg("failed to build snapshot greeting")
		http.Error(w, "failed to build snapshot", http.StatusInternalServerError)
		return
	}
	// The upgrader has already answered the request on failure.
	if err := s.connectionManager.UpgradeConnection(w, r, greeting); err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
	}
}

// StatusFor maps a command failure to an HTTP status. A 304 from the
// authority cannot carry a body, so it is reported as a conflict.
func StatusFor(err error) int {
	var cmdErr *reservation.CommandError
	if !errors.As(err, &cmdErr) {
		return http.StatusInternalServerError
	}
	switch cmdErr.Kind {
	case reservation.ErrLocalValidation:
		return http.StatusBadRequest
	case reservation.ErrUnreachable:
		return http.StatusServiceUnavailable
	}
	if cmdErr.StatusCode == http.StatusNotModified {
		return http.StatusConflict
	}
	if cmdErr.StatusCode < 400 || cmdErr.StatusCode > 599 {
		return http.StatusBadGateway
	}
	return cmdErr.StatusCode
}

func writeCommandResult(w http.ResponseWriter, msg string, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, CommandResponse{Message: msg})
		return
	}
	resp := CommandResponse{Message: err.Error()}
	var cmdErr *reservation.CommandError
	if errors.As(err, &cmdErr) {
		resp.Message = cmdErr.Message
		resp.Kind = cmdErr.Kind.String()
		resp.Holder = cmdErr.Holder
	}
	writeJSON(w, StatusFor(err), resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
