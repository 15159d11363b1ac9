package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/shadefetch/shadefetch/internal/engine"
)

// Server answers the daemon's HTTP endpoints against one Engine. Every
// fetchd process that connects to the same socket drives the same
// transfers, closing the gap a standalone per-command Engine left: a
// "pause" invocation in one process previously had no way to reach a
// transfer an "add" invocation had started in another.
type Server struct {
	Engine *engine.Engine
	http   *http.Server
}

// NewServer wires handlers for add/pause/resume/cancel/delete/clear/get/list.
func NewServer(e *engine.Engine) *Server {
	s := &Server{Engine: e}
	mux := http.NewServeMux()
	mux.HandleFunc("/add", s.handleAdd)
	mux.HandleFunc("/pause", s.handleAction(e.Pause))
	mux.HandleFunc("/resume", s.handleAction(e.Resume))
	mux.HandleFunc("/cancel", s.handleAction(e.Cancel))
	mux.HandleFunc("/delete", s.handleAction(e.Delete))
	mux.HandleFunc("/clear", s.handleClear)
	mux.HandleFunc("/get", s.handleGet)
	mux.HandleFunc("/list", s.handleList)
	s.http = &http.Server{Handler: mux}
	return s
}

// ListenAndServe removes any stale socket left by an unclean shutdown,
// binds a Unix listener at socketPath, and serves until Shutdown is called.
func (s *Server) ListenAndServe(socketPath string) error {
	if c, err := net.Dial("unix", socketPath); err == nil {
		c.Close()
		return fmt.Errorf("daemon: %s is already served by a running daemon", socketPath)
	}
	_ = os.Remove(socketPath)
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen on %s: %w", socketPath, err)
	}
	err = s.http.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the listener, letting in-flight requests finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := s.Engine.AddDownload(req.URL, req.TargetDir, req.Filename, req.Mode)
	writeJSON(w, http.StatusOK, AddResponse{ID: id})
}

func (s *Server) handleAction(fn func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IDRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := fn(req.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.Engine.ClearCompleted()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	snap := s.Engine.Get(id)
	if snap == nil {
		writeError(w, http.StatusNotFound, engine.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.ListAll())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
