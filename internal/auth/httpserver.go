package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ewalk/calbot/internal/logging"
)

// HTTPServer serves the OAuth redirect callback and a health endpoint.
// The redirect handshake itself is thin; the real work (state validation,
// code exchange, credential storage) lives in Manager.HandleCallback.
type HTTPServer struct {
	manager   *Manager
	server    *http.Server
	startedAt time.Time
}

// NewHTTPServer creates the callback/health server on addr
func NewHTTPServer(addr string, manager *Manager) *HTTPServer {
	h := &HTTPServer{manager: manager}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/oauth/callback", h.handleCallback)
	r.Get("/healthz", h.handleHealth)

	h.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return h
}

// Start begins serving in the background
func (h *HTTPServer) Start() {
	h.startedAt = time.Now()
	go func() {
		logging.Info("http", "Listening on %s", h.server.Addr)
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Warn("http", "Server error: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully
func (h *HTTPServer) Stop(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		http.Error(w, "missing state or code", http.StatusBadRequest)
		return
	}

	identity, err := h.manager.HandleCallback(r.Context(), state, code)
	if err != nil {
		logging.Warn("http", "OAuth callback failed: %v", err)
		http.Error(w, "authorization failed; please start over from the chat", http.StatusBadRequest)
		return
	}

	logging.Info("http", "OAuth callback completed for %s", identity)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><p>Calendar connected. You can close this window and return to the chat.</p></body></html>")
}

type healthResponse struct {
	Status     string  `json:"status"`
	UptimeSecs float64 `json:"uptime_secs"`
	RSSBytes   uint64  `json:"rss_bytes,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		UptimeSecs: time.Since(h.startedAt).Seconds(),
	}

	// Process stats are best-effort; health is "ok" without them
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			resp.RSSBytes = mem.RSS
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			resp.CPUPercent = cpu
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
