// Package server exposes the broker over websockets and reports health over
// HTTP and gRPC.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/kingsgate/stakechess/internal/broker"
	"github.com/kingsgate/stakechess/internal/config"
	"github.com/kingsgate/stakechess/internal/game"
	"go.uber.org/zap"
)

// Server upgrades connections and feeds their requests to the broker.
type Server struct {
	broker   *broker.Broker
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New creates a websocket front end for b.
func New(cfg config.WebSocketConfig, b *broker.Broker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		broker: b,
		cfg:    cfg,
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler routes /ws, /healthz and /replays/{id}.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", s.serveHealth)
	mux.HandleFunc("GET /replays/{id}", s.serveReplay)
	return mux
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	s.logger.Warn("rejected websocket origin", zap.String("origin", origin))
	return false
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(conn, s.cfg, s.logger)
	c.logger.Debug("connection opened", zap.String("remote", r.RemoteAddr))

	go c.writePump()
	go c.readPump(s)
}

// HealthReport is the body of /healthz.
type HealthReport struct {
	Status       string `json:"status"`
	Sessions     int    `json:"sessions"`
	Waiting      bool   `json:"waiting"`
	Recording    int    `json:"recording"`
	PlatformBank int    `json:"platformBank"`
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{
		Status:       "ok",
		Sessions:     s.broker.SessionCount(),
		Waiting:      s.broker.Waiting(),
		Recording:    s.broker.Recording(),
		PlatformBank: s.broker.PlatformBank(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Debug("failed to write health report", zap.Error(err))
	}
}

// ReplayReport is the body of /replays/{id}.
type ReplayReport struct {
	SessionID string       `json:"sessionId"`
	Live      bool         `json:"live"`
	Plies     int          `json:"plies"`
	Position  string       `json:"position,omitempty"`
	Frames    []game.Frame `json:"frames"`
}

// serveReplay returns the moves of a session. With ?ply=N only that frame
// is returned.
func (s *Server) serveReplay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	replay, live, err := s.broker.Replay(id)
	if errors.Is(err, game.ErrReplayNotFound) {
		http.Error(w, "replay not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("failed to load replay", zap.String("session_id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var body any
	if raw := r.URL.Query().Get("ply"); raw != "" {
		ply, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "ply must be a number", http.StatusBadRequest)
			return
		}
		frame := replay.FrameAt(ply - 1)
		if frame == nil {
			http.Error(w, "no such ply", http.StatusNotFound)
			return
		}
		body = frame
	} else {
		frames := replay.Copy()
		report := ReplayReport{
			SessionID: replay.SessionID,
			Live:      live,
			Plies:     len(frames),
			Frames:    frames,
		}
		if n := len(frames); n > 0 {
			report.Position = frames[n-1].Position
		}
		body = report
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("failed to write replay", zap.Error(err))
	}
}
