// Package api provides the gateway's REST surface: connection status,
// channel listing, and on-demand read/write.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fieldlink/channel"
	"fieldlink/config"
	"fieldlink/driver"
	"fieldlink/logging"
)

// Server is the REST API server.
type Server struct {
	config  *config.Config
	drv     *driver.Driver
	cache   *Cache
	server  *http.Server
	router  chi.Router
	running bool
	mu      sync.RWMutex
}

// NewServer creates a server around the driver and the latest-value cache.
func NewServer(cfg *config.Config, drv *driver.Driver, cache *Cache) *Server {
	return &Server{config: cfg, drv: drv, cache: cache}
}

// IsRunning reports whether the HTTP server is up.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start begins serving. It returns once the listener goroutine is launched;
// bind errors are logged.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	r := s.buildRouter()
	s.router = r

	addr := fmt.Sprintf("%s:%d", s.config.Web.Host, s.config.Web.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logging.DebugLog("api", "listening on %s", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.DebugError("api", "serve", err)
		}
	}()

	s.running = true
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/channels", s.handleChannels)
		r.Post("/read", s.handleRead)
		r.Post("/write", s.handleWrite)
	})
	return r
}

// Handler returns the API router without binding a listener. Tests serve it
// through httptest.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.running = false
	s.mu.Unlock()

	if server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}

// StatusResponse is the JSON shape of GET /api/status.
type StatusResponse struct {
	Namespace string `json:"namespace"`
	State     string `json:"state"`
	Endpoint  string `json:"endpoint"`
	DeviceUID string `json:"device_uid"`
	Channels  int    `json:"channels"`
}

// ChannelResponse is the JSON shape of one channel in GET /api/channels and
// of each result in POST /api/read.
type ChannelResponse struct {
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	Writable  bool        `json:"writable"`
	Value     interface{} `json:"value,omitempty"`
	Status    string      `json:"status"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// ReadRequest is the JSON body of POST /api/read. An empty channel list
// reads every enabled channel.
type ReadRequest struct {
	Channels []string `json:"channels"`
}

// WriteRequest is the JSON body of POST /api/write.
type WriteRequest struct {
	Channel string      `json:"channel"`
	Value   interface{} `json:"value"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	opts := s.drv.Options()
	writeJSON(w, http.StatusOK, StatusResponse{
		Namespace: s.config.Namespace,
		State:     s.drv.State().String(),
		Endpoint:  opts.Endpoint(),
		DeviceUID: opts.DeviceUID,
		Channels:  len(s.config.EnabledChannels()),
	})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels := s.config.EnabledChannels()
	out := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		resp := ChannelResponse{
			Name:     ch.Name,
			Type:     ch.Type,
			Writable: ch.Writable,
			Status:   "Unset",
		}
		if ev, ok := s.cache.Get(ch.Name); ok {
			resp.Status = ev.Status.String()
			resp.Timestamp = ev.Timestamp.Format(time.RFC3339Nano)
			if ev.Value != nil {
				resp.Value = ev.Value.Value
			}
			if ev.Status != nil && ev.Status.Cause != nil {
				resp.Error = ev.Status.Cause.Error()
			}
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	var req ReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed request: %w", err))
		return
	}

	var selected []config.ChannelConfig
	if len(req.Channels) == 0 {
		selected = s.config.EnabledChannels()
	} else {
		for _, name := range req.Channels {
			ch := s.config.FindChannel(name)
			if ch == nil {
				writeError(w, http.StatusNotFound, fmt.Errorf("unknown channel %q", name))
				return
			}
			selected = append(selected, *ch)
		}
	}

	records := make([]*channel.Record, len(selected))
	for i, ch := range selected {
		t, err := ch.DataType()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		records[i] = channel.NewReadRecord(ch.Name, t)
	}

	if err := s.drv.Read(records); err != nil {
		writeError(w, statusFromError(err), err)
		return
	}

	out := make([]ChannelResponse, len(records))
	for i, rec := range records {
		out[i] = recordResponse(rec, selected[i].Writable)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed request: %w", err))
		return
	}

	ch := s.config.FindChannel(req.Channel)
	if ch == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown channel %q", req.Channel))
		return
	}
	if !ch.Writable {
		writeError(w, http.StatusForbidden, fmt.Errorf("channel %q is not writable", req.Channel))
		return
	}

	t, err := ch.DataType()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	value, err := channel.CoerceValue(t, req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec := channel.NewWriteRecord(ch.Name, value)
	if err := s.drv.Write([]*channel.Record{rec}); err != nil {
		writeError(w, statusFromError(err), err)
		return
	}

	writeJSON(w, http.StatusOK, recordResponse(rec, ch.Writable))
}

func recordResponse(rec *channel.Record, writable bool) ChannelResponse {
	resp := ChannelResponse{
		Name:      rec.Name,
		Type:      string(rec.Type),
		Writable:  writable,
		Status:    rec.Status.String(),
		Timestamp: rec.Timestamp.Format(time.RFC3339Nano),
	}
	if rec.Value != nil {
		resp.Value = rec.Value.Value
	}
	if rec.Status != nil && rec.Status.Cause != nil {
		resp.Error = rec.Status.Cause.Error()
	}
	return resp
}

// statusFromError maps driver errors onto HTTP status codes: connection
// trouble is 503, everything else is a server defect.
func statusFromError(err error) int {
	if driver.IsLikelyConnectionError(err) {
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, driver.ErrNoValue) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
