package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bdobrica/InfraWhiz/common/version"
)

// statusProvider supplies the numbers reported by GET /status.
type statusProvider interface {
	ServerCount(ctx context.Context) (int, error)
	Connections() int
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status      string    `json:"status"`
	Version     string    `json:"version"`
	Commit      string    `json:"commit"`
	BuildTime   string    `json:"build_time"`
	StartedAt   time.Time `json:"started_at"`
	UptimeSecs  float64   `json:"uptime_seconds"`
	ServerCount int       `json:"server_count"`
	Consoles    int       `json:"console_connections"`
}

// NewRouter assembles the HTTP surface: health and status, the console
// channel at /ws, and the REST API under /api.
func NewRouter(sp statusProvider, ws http.Handler, api *API) chi.Router {
	startedAt := time.Now()
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.Version, Commit: version.GitCommit})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Status:     "ok",
			Version:    version.Version,
			Commit:     version.GitCommit,
			BuildTime:  version.BuildTime,
			StartedAt:  startedAt,
			UptimeSecs: time.Since(startedAt).Seconds(),
		}
		if sp != nil {
			if n, err := sp.ServerCount(r.Context()); err == nil {
				resp.ServerCount = n
			}
			resp.Consoles = sp.Connections()
		}
		writeJSON(w, http.StatusOK, resp)
	})
	if ws != nil {
		r.Handle("/ws", ws)
	}
	if api != nil {
		r.Route("/api", api.Routes)
	}
	return r
}

// requestLogger logs each request at debug level. The console channel is
// logged by the gateway itself.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// HTTPServer runs the router on a TCP listener.
type HTTPServer struct {
	addr    string
	handler http.Handler
	server  *http.Server
	ln      net.Listener
}

func NewHTTPServer(addr string, handler http.Handler) *HTTPServer {
	return &HTTPServer{addr: addr, handler: handler}
}

// Start listens in the background. It returns once the port is open.
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", h.addr, err)
	}
	h.ln = ln
	h.server = &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server stopped", "err", err)
		}
	}()
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (h *HTTPServer) Addr() string {
	if h.ln == nil {
		return h.addr
	}
	return h.ln.Addr().String()
}

// Stop shuts the server down, waiting up to five seconds for requests.
func (h *HTTPServer) Stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("http: failed to encode JSON response", "err", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
