// Package api exposes the tracker and alert engine over HTTP: frame
// ingestion, runtime tuning, the interaction state machine, persisted
// announcement history, and a websocket event feed.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clearpath-assist/clearpath/internal/monitoring"
	"github.com/clearpath-assist/clearpath/internal/storage/sqlite"
	"github.com/clearpath-assist/clearpath/internal/timeutil"
	"github.com/clearpath-assist/clearpath/internal/vision"
	"github.com/clearpath-assist/clearpath/internal/vision/alert"
	"github.com/clearpath-assist/clearpath/internal/vision/track"
)

type Server struct {
	tracker *track.Tracker
	engine  *alert.Engine
	store   *sqlite.Store
	hub     *Hub
	clock   timeutil.Clock

	upgrader websocket.Upgrader
}

func NewServer(tracker *track.Tracker, engine *alert.Engine, store *sqlite.Store, hub *Hub, clock timeutil.Clock) *Server {
	return &Server{
		tracker: tracker,
		engine:  engine,
		store:   store,
		hub:     hub,
		clock:   clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/entities", s.handleEntities)
	mux.HandleFunc("/api/frames", s.handleFrames)
	mux.HandleFunc("/api/config/critical-distance", s.handleCriticalDistance)
	mux.HandleFunc("/api/interrupt", s.handleInterrupt)
	mux.HandleFunc("/api/resume", s.handleResume)
	mux.HandleFunc("/api/speak", s.handleSpeak)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/tracker/reset", s.handleTrackerReset)
	mux.HandleFunc("/api/announcements", s.handleAnnouncements)
	mux.HandleFunc("/api/stability", s.handleStability)
	mux.HandleFunc("/debug/announcements/chart", s.handleAnnouncementsChart)
	mux.HandleFunc("/ws", s.handleWebsocket)
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	total, active, memory := s.tracker.EntityCount()
	created, expired := s.tracker.Counters()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entities": map[string]interface{}{
			"total":   total,
			"active":  active,
			"memory":  memory,
			"created": created,
			"expired": expired,
		},
		"engine":            s.engine.Status(),
		"websocket_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var entities []*track.TrackedEntity
	switch state := r.URL.Query().Get("state"); state {
	case "":
		entities = s.tracker.Snapshot()
	case "active":
		entities = s.tracker.ActiveOnly()
	case "memory":
		entities = s.tracker.MemoryOnly()
	default:
		writeJSONError(w, http.StatusBadRequest, "state must be active or memory")
		return
	}
	if entities == nil {
		entities = []*track.TrackedEntity{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entities": entities,
	})
}

type frameRequest struct {
	Detections []vision.Detection `json:"detections"`
	CapturedAt *time.Time         `json:"captured_at,omitempty"`
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req frameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid frame payload: "+err.Error())
		return
	}
	now := s.clock.Now()
	if req.CapturedAt != nil {
		now = *req.CapturedAt
	}

	enriched := s.tracker.ProcessFrame(req.Detections, now)

	if msg, err := json.Marshal(map[string]interface{}{
		"type": "entities",
		"data": enriched,
	}); err == nil {
		s.hub.Broadcast(msg)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tracked": enriched,
	})
}

func (s *Server) handleCriticalDistance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Meters float32 `json:"meters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	if req.Meters <= 0 || req.Meters > 100 {
		writeJSONError(w, http.StatusBadRequest, "meters must be in (0, 100]")
		return
	}

	s.engine.SetCriticalDistance(req.Meters)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"critical_distance": req.Meters,
	})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted": s.engine.Interrupt(),
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.engine.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	if req.Text == "" {
		writeJSONError(w, http.StatusBadRequest, "text must not be empty")
		return
	}

	s.engine.SpeakInteraction(req.Text)
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.engine.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleTrackerReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.tracker.Reset()
	s.engine.ClearAllState()
	monitoring.Logf("api: tracker reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeJSONError(w, http.StatusBadRequest, "limit must be an integer in [1, 500]")
			return
		}
		limit = n
	}

	announcements, err := s.store.RecentAnnouncements(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "query announcements: "+err.Error())
		return
	}
	if announcements == nil {
		announcements = []alert.Announcement{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"announcements": announcements,
	})
}

func (s *Server) handleStability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report := s.tracker.StabilityReport()
	if report == nil {
		report = []track.StabilityStats{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stability": report,
	})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("api: websocket upgrade failed: %v", err)
		return
	}
	s.hub.Register(conn)
	defer s.hub.Unregister(conn)

	// Clients are listen-only; drain incoming frames until the peer goes
	// away so pings and close frames are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
