package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/epw80/muc-history/pkg/client"
	"github.com/epw80/muc-history/pkg/config"
	"github.com/epw80/muc-history/pkg/history"
	"github.com/epw80/muc-history/pkg/message"
	"github.com/epw80/muc-history/pkg/muc"
	"github.com/epw80/muc-history/pkg/snapshot"
	"github.com/epw80/muc-history/pkg/storage"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxStateBody bounds uploaded room state
const maxStateBody = snapshot.MaxStateSize + 1<<20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins in development
		return true
	},
}

type Server struct {
	cfg     *config.Config
	service *muc.Service
	store   storage.PropertyStore
	logger  *slog.Logger
}

func NewServer(cfg *config.Config, service *muc.Service, store storage.PropertyStore, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		service: service,
		store:   store,
		logger:  logger,
	}
}

// historySettings is the admin view of a history strategy
type historySettings struct {
	Policy          string `json:"policy"`
	Bound           int    `json:"bound"`
	EffectivePolicy string `json:"effectivePolicy"`
	EffectiveBound  int    `json:"effectiveBound"`
	Retained        int    `json:"retained"`
	HasSubject      bool   `json:"hasSubject"`
}

// historyUpdate is the body of a history settings change; absent fields
// are left unchanged
type historyUpdate struct {
	Policy *string `json:"policy"`
	Bound  *int    `json:"bound"`
}

type roomHistory struct {
	Room     string             `json:"room"`
	Messages []*message.Message `json:"messages"`
	Subject  *message.Message   `json:"subject,omitempty"`
}

func settingsOf(s *history.Strategy) historySettings {
	effectivePolicy, effectiveBound := s.EffectivePolicy()
	return historySettings{
		Policy:          s.Policy().String(),
		Bound:           s.Bound(),
		EffectivePolicy: effectivePolicy.String(),
		EffectiveBound:  effectiveBound,
		Retained:        s.Len(),
		HasSubject:      s.HasPinnedSubject(),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("error", err.Error()))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","rooms":%d}`, len(s.service.Rooms()))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Occupant info from query params (in production, use proper auth)
	roomName := r.URL.Query().Get("room")
	nick := r.URL.Query().Get("nick")
	if nick == "" {
		nick = "anonymous"
	}

	room, err := s.service.Room(roomName)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	// Upgrade connection
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection",
			slog.String("error", err.Error()))
		return
	}

	// Start the pumps before registering; registration replays the room history
	c := client.New(room.Hub(), conn, s.cfg.RoomAddress(roomName), nick, s.logger)
	c.Start()
	room.Hub().Register(c)

	s.logger.Info("new websocket connection",
		slog.String("room", roomName),
		slog.String("nick", nick),
		slog.String("clientID", c.ID()))
}

func (s *Server) handleGetDefaults(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, settingsOf(s.service.Defaults()))
}

func (s *Server) handlePutDefaults(w http.ResponseWriter, r *http.Request) {
	s.updateHistory(w, r, s.service.Defaults())
}

func (s *Server) handleGetRoomSettings(w http.ResponseWriter, r *http.Request) {
	room, ok := s.service.LookupRoom(r.PathValue("room"))
	if !ok {
		s.writeError(w, http.StatusNotFound, muc.ErrRoomNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, settingsOf(room.History()))
}

func (s *Server) handlePutRoomSettings(w http.ResponseWriter, r *http.Request) {
	room, ok := s.service.LookupRoom(r.PathValue("room"))
	if !ok {
		s.writeError(w, http.StatusNotFound, muc.ErrRoomNotFound)
		return
	}
	s.updateHistory(w, r, room.History())
}

func (s *Server) updateHistory(w http.ResponseWriter, r *http.Request, strategy *history.Strategy) {
	var update historyUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if update.Policy != nil {
		policy, ok := history.LookupPolicy(*update.Policy)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown history policy %q", *update.Policy))
			return
		}
		if err := strategy.SetPolicy(r.Context(), policy); err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
	}
	if update.Bound != nil {
		if err := strategy.SetBound(r.Context(), *update.Bound); err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
	}

	s.logger.Info("history settings updated",
		slog.String("policy", strategy.Policy().String()),
		slog.Int("bound", strategy.Bound()))

	s.writeJSON(w, http.StatusOK, settingsOf(strategy))
}

func (s *Server) handleExportState(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportRoom(r.PathValue("room"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/cbor")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleImportState(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStateBody))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	roomName := r.PathValue("room")
	room, err := s.service.ImportRoom(roomName, data)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, settingsOf(room.History()))
}

func (s *Server) handleRoomHistory(w http.ResponseWriter, r *http.Request) {
	roomName := r.PathValue("room")
	room, ok := s.service.LookupRoom(roomName)
	if !ok {
		s.writeError(w, http.StatusNotFound, muc.ErrRoomNotFound)
		return
	}

	var messages []*message.Message
	if r.URL.Query().Get("order") == "newest" {
		cursor, err := room.History().ReplayReversed()
		if err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
		messages = make([]*message.Message, 0, cursor.Len())
		for cursor.HasPrevious() {
			messages = append(messages, cursor.Previous())
		}
	} else {
		var err error
		if messages, err = room.Replay(); err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, roomHistory{
		Room:     roomName,
		Messages: messages,
		Subject:  room.PinnedSubject(),
	})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, muc.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, muc.ErrInvalidRoomName),
		errors.Is(err, muc.ErrRoomMismatch),
		errors.Is(err, history.ErrInheritWithoutParent),
		errors.Is(err, history.ErrNegativeBound),
		errors.Is(err, history.ErrCorruptState),
		errors.Is(err, snapshot.ErrMalformed),
		errors.Is(err, snapshot.ErrChecksumMismatch),
		errors.Is(err, snapshot.ErrUnsupportedVersion):
		return http.StatusBadRequest
	case errors.Is(err, muc.ErrServiceShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /admin/history", s.handleGetDefaults)
	mux.HandleFunc("PUT /admin/history", s.handlePutDefaults)
	mux.HandleFunc("GET /admin/rooms/{room}/history", s.handleGetRoomSettings)
	mux.HandleFunc("PUT /admin/rooms/{room}/history", s.handlePutRoomSettings)

	mux.HandleFunc("GET /cluster/rooms/{room}/state", s.handleExportState)
	mux.HandleFunc("PUT /cluster/rooms/{room}/state", s.handleImportState)

	mux.HandleFunc("GET /rooms/{room}/history", s.handleRoomHistory)
	return mux
}
