package gateway

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mcdev12/devmate/go/internal/reservation"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Service exposes a reservation session to presentation clients over REST
// and a WebSocket event stream.
type Service struct {
	config            Config
	session           *reservation.Session
	connectionManager *ConnectionManager
	router            *mux.Router
	unsubscribe       []func()
}

type Config struct {
	ConnectionConfig ConnectionConfig
	AllowedOrigins   []string
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		AllowedOrigins:   []string{"*"},
	}
}

func NewService(config Config, session *reservation.Session) *Service {
	s := &Service{
		config:            config,
		session:           session,
		connectionManager: NewConnectionManager(config.ConnectionConfig),
	}
	s.router = s.routes()

	s.unsubscribe = append(s.unsubscribe,
		session.Store.Subscribe(s.onStoreEvent),
		session.Health.Subscribe(s.onHealthEvent),
		session.AddNotifier(reservation.NotifierFunc(s.onNotice)),
	)
	return s
}

// Start runs the broadcast loop until ctx is done.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting device gateway")
	s.connectionManager.Start(ctx)
}

// Stop detaches the gateway from the session's events and notices.
func (s *Service) Stop() {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.unsubscribe = nil
	log.Info().Msg("device gateway stopped")
}

// Handler returns the routed HTTP handler wrapped with CORS.
func (s *Service) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
		},
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(s.router)
}

func (s *Service) routes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{op:reserve|release|offline|online|add}", s.handleCommand).Methods(http.MethodPost)
	api.HandleFunc("/devices/{name}", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/drafts/{name}", s.handlePutDraft).Methods(http.MethodPut)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws/devices", s.handleWebSocket).Methods(http.MethodGet)
	return r
}

func (s *Service) onStoreEvent(ev reservation.StoreEvent) {
	event, err := storeEvent(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to build store event")
		return
	}
	s.connectionManager.Broadcast(event)
}

func (s *Service) onHealthEvent(ev reservation.HealthEvent) {
	event, err := healthEvent(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to build health event")
		return
	}
	s.connectionManager.Broadcast(event)
}

func (s *Service) onNotice(n reservation.Notice) {
	event, err := noticeEvent(n)
	if err != nil {
		log.Error().Err(err).Msg("failed to build notice event")
		return
	}
	s.connectionManager.Broadcast(event)
}
