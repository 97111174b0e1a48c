// Package server exposes the engine over HTTP on a Unix socket.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/internal/daemon/engine"
	"github.com/grovetools/synctray/internal/daemon/metrics"
	"github.com/grovetools/synctray/internal/daemon/store"
	"github.com/grovetools/synctray/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512

	// launcherStopWait bounds POST /api/launcher/stop beyond the configured stop timeout.
	launcherStopWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	// Only local processes can reach the socket.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server manages the engine's HTTP server over a Unix socket.
type Server struct {
	logger *logrus.Entry
	engine *engine.Engine

	mu     sync.Mutex
	server *http.Server

	closeOnce sync.Once
	closing   chan struct{}
	streams   sync.WaitGroup
}

// New creates a new Server instance.
func New(logger *logrus.Entry) *Server {
	return &Server{
		logger:  logger,
		closing: make(chan struct{}),
	}
}

// SetEngine sets the engine served by the API.
func (s *Server) SetEngine(eng *engine.Engine) {
	s.engine = eng
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/snapshot", s.withEngine(s.handleSnapshot))
	mux.HandleFunc("GET /api/notifications", s.withEngine(s.handleNotifications))
	mux.HandleFunc("POST /api/notifications/{id}/seen", s.withEngine(s.handleNotificationSeen))
	mux.HandleFunc("DELETE /api/notifications/{id}", s.withEngine(s.handleNotificationDismiss))
	mux.HandleFunc("POST /api/commands", s.withEngine(s.handleCommand))
	mux.HandleFunc("GET /api/profiles", s.withEngine(s.handleProfiles))
	mux.HandleFunc("POST /api/profiles/select", s.withEngine(s.handleSelectProfile))
	mux.HandleFunc("GET /api/launcher", s.withEngine(s.handleLauncher))
	mux.HandleFunc("POST /api/launcher/start", s.withEngine(s.handleLauncherStart))
	mux.HandleFunc("POST /api/launcher/stop", s.withEngine(s.handleLauncherStop))
	mux.HandleFunc("GET /api/stream", s.withEngine(s.handleStream))

	return mux
}

// ListenAndServe starts serving on the given unix socket path.
// It blocks until the server stops or fails.
func (s *Server) ListenAndServe(socketPath string) error {
	// Cleanup stale socket
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// Set restrictive permissions on socket
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.WithField("socket", socketPath).Info("API listening")
	err = srv.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server and closes open streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	s.closeOnce.Do(func() { close(s.closing) })

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	// Hijacked websocket connections are not tracked by http.Server.
	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) withEngine(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.engine == nil {
			http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody converts err to a SyncError body. The cause is folded into the
// message because it does not survive JSON encoding.
func errorBody(err error) *errors.SyncError {
	se, ok := err.(*errors.SyncError)
	if !ok {
		se = errors.Wrap(err, errors.ErrCodeInternal, "internal error")
	}
	body := &errors.SyncError{Code: se.Code, Message: se.Message, Details: se.Details}
	if se.Cause != nil {
		body.Message = fmt.Sprintf("%s: %v", se.Message, se.Cause)
	}
	return body
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody(err)
	writeJSON(w, statusFor(body.Code), body)
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidCommand, errors.ErrCodeConfigInvalid:
		return http.StatusBadRequest
	case errors.ErrCodeConfig, errors.ErrCodeConfigNotFound:
		return http.StatusNotFound
	case errors.ErrCodeConnection, errors.ErrCodeAuth, errors.ErrCodeProtocol, errors.ErrCodeCursor:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Notifications().List())
}

func (s *Server) handleNotificationSeen(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.engine.Notifications().MarkSeen(id) {
		http.Error(w, "notification not found", http.StatusNotFound)
		return
	}
	n, _ := s.engine.Notifications().Get(id)
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleNotificationDismiss(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Notifications().Dismiss(r.PathValue("id")) {
		http.Error(w, "notification not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd models.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.Submit(r.Context(), cmd); err != nil {
		body := errorBody(err)
		writeJSON(w, statusFor(body.Code), models.CommandResult{
			Error: body.Message,
			Code:  string(body.Code),
		})
		return
	}
	writeJSON(w, http.StatusOK, models.CommandResult{Accepted: true})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	selected, _ := s.engine.SelectedProfile()
	profiles := s.engine.Profiles()
	out := make([]models.ProfileInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, models.ProfileInfo{Profile: p, Selected: p.ID == selected.ID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	var req models.SelectProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.engine.SelectProfile(req.ID); err != nil {
		writeError(w, err)
		return
	}
	s.logger.WithField("profile", req.ID).Info("Profile selected")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) launcherInfo() models.LauncherInfo {
	cfg := s.engine.Config()
	return models.LauncherInfo{
		LauncherProcess: s.engine.Launcher().Status(),
		Enabled:         cfg.Launcher.Enabled,
		Profile:         cfg.Launcher.Profile,
		LogFile:         s.engine.Launcher().LogFile(),
	}
}

func (s *Server) handleLauncher(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.launcherInfo())
}

func (s *Server) handleLauncherStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.StartLauncher(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.launcherInfo())
}

func (s *Server) handleLauncherStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(),
		s.engine.Config().Launcher.StopTimeout.Std()+launcherStopWait)
	defer cancel()
	if err := s.engine.StopLauncher(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.launcherInfo())
}

// handleStream upgrades to a websocket and pushes every published snapshot
// and notification change until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("Stream upgrade failed")
		return
	}

	s.streams.Add(1)
	defer s.streams.Done()
	metrics.StreamClientConnected(1)
	defer metrics.StreamClientConnected(-1)

	st := s.engine.Store()
	updates := st.Subscribe()
	defer st.Unsubscribe(updates)
	feed := s.engine.Notifications().Subscribe()
	defer s.engine.Notifications().Unsubscribe(feed)

	s.logger.Debug("Stream client connected")

	gone := make(chan struct{})
	go readPump(conn, gone)
	s.writePump(conn, updates, feed, gone)

	s.logger.Debug("Stream client disconnected")
}

// readPump discards client messages and closes gone when the peer stops
// answering pings or closes the connection.
func readPump(conn *websocket.Conn, gone chan struct{}) {
	defer close(gone)
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, updates <-chan store.Update, feed <-chan models.Notification, gone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	snap := s.engine.Snapshot()
	if err := send(conn, models.StreamMessage{Kind: models.StreamSnapshot, Version: snap.Version, Snapshot: snap}); err != nil {
		return
	}

	for {
		var msg models.StreamMessage
		select {
		case <-gone:
			return
		case <-s.closing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			msg = models.StreamMessage{
				Kind:     models.StreamSnapshot,
				Version:  u.Version,
				Source:   string(u.Source),
				Snapshot: u.Snapshot,
			}
		case n, ok := <-feed:
			if !ok {
				return
			}
			msg = models.StreamMessage{Kind: models.StreamNotification, Notification: &n}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		if err := send(conn, msg); err != nil {
			s.logger.WithError(err).Debug("Stream write failed")
			return
		}
	}
}

func send(conn *websocket.Conn, msg models.StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
