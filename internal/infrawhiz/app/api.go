package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bdobrica/InfraWhiz/common/wire"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/registry"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/store"
)

type connections interface {
	Connect(ctx context.Context, srv *registry.Server) error
	Disconnect(serverID string)
}

type responder interface {
	Respond(ctx context.Context, connID string, msg wire.UserMessage, servers []wire.ServerInfo) *wire.AIResponse
}

type metricsSource interface {
	Collect(ctx context.Context, srv *registry.Server) (*wire.Metrics, error)
}

type historyLister interface {
	ListHistory(ctx context.Context, f store.HistoryFilter) ([]*store.HistoryEntry, error)
}

// API is the REST surface for server management and command history.
// Commands only run through the console channel, behind its confirmation
// gate, so no endpoint here executes one.
type API struct {
	servers   *registry.Registry
	conns     connections
	metrics   metricsSource
	history   historyLister
	responder responder
}

// APIConfig lists the API's collaborators.
type APIConfig struct {
	Servers     *registry.Registry
	Connections connections
	Metrics     metricsSource
	History     historyLister
	// Responder answers POST /process. The answer is returned as-is; none
	// of its actions run.
	Responder responder
}

func NewAPI(cfg APIConfig) *API {
	return &API{
		servers:   cfg.Servers,
		conns:     cfg.Connections,
		metrics:   cfg.Metrics,
		history:   cfg.History,
		responder: cfg.Responder,
	}
}

// Routes mounts the API on r.
func (a *API) Routes(r chi.Router) {
	r.Route("/servers", func(r chi.Router) {
		r.Get("/", a.listServers)
		r.Post("/", a.createServer)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getServer)
			r.Put("/", a.updateServer)
			r.Delete("/", a.deleteServer)
			r.Post("/connect", a.connect)
			r.Post("/disconnect", a.disconnect)
			r.Get("/metrics", a.serverMetrics)
		})
	})
	r.Get("/command/history", a.commandHistory)
	r.Post("/process", a.process)
}

func (a *API) listServers(w http.ResponseWriter, r *http.Request) {
	servers, err := a.servers.List(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (a *API) createServer(w http.ResponseWriter, r *http.Request) {
	var in registry.Input
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	srv, err := a.servers.Add(r.Context(), in)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, srv)
}

func (a *API) getServer(w http.ResponseWriter, r *http.Request) {
	srv, err := a.servers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (a *API) updateServer(w http.ResponseWriter, r *http.Request) {
	var in registry.Input
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	srv, err := a.servers.Update(r.Context(), id, in)
	if err != nil {
		a.fail(w, err)
		return
	}
	// Settings changed; the next command redials.
	a.conns.Disconnect(id)
	writeJSON(w, http.StatusOK, srv)
}

func (a *API) deleteServer(w http.ResponseWriter, r *http.Request) {
	if err := a.servers.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) connect(w http.ResponseWriter, r *http.Request) {
	srv, err := a.servers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	if err := a.conns.Connect(r.Context(), srv); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

func (a *API) disconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.servers.Get(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	a.conns.Disconnect(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (a *API) serverMetrics(w http.ResponseWriter, r *http.Request) {
	srv, err := a.servers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	m, err := a.metrics.Collect(r.Context(), srv)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type historyItem struct {
	ID         string    `json:"id"`
	ServerID   string    `json:"serverId"`
	ActionID   string    `json:"actionId,omitempty"`
	TraceID    string    `json:"traceId,omitempty"`
	Command    string    `json:"command"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	ExitCode   int       `json:"exitCode"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"durationMs"`
	ExecutedAt time.Time `json:"executedAt"`
}

func (a *API) commandHistory(w http.ResponseWriter, r *http.Request) {
	f := store.HistoryFilter{ServerID: r.URL.Query().Get("serverId")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		f.Limit = n
	}
	entries, err := a.history.ListHistory(r.Context(), f)
	if err != nil {
		a.fail(w, err)
		return
	}
	items := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyItem{
			ID: e.ID, ServerID: e.ServerID, ActionID: e.ActionID, TraceID: e.TraceID,
			Command: e.Command, Stdout: e.Stdout, Stderr: e.Stderr, ExitCode: e.ExitCode,
			Error: e.Error, DurationMS: e.Duration.Milliseconds(), ExecutedAt: e.ExecutedAt,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type processRequest struct {
	Text string `json:"text"`
}

// process parses a request into an ai_response for preview. Nothing is
// executed; running an action still requires the console.
func (a *API) process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	servers, err := a.servers.List(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	infos := make([]wire.ServerInfo, 0, len(servers))
	for _, s := range servers {
		infos = append(infos, s.Info())
	}
	resp := a.responder.Respond(r.Context(), "api:"+r.RemoteAddr, wire.UserMessage{Text: req.Text}, infos)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "server not found")
	case errors.Is(err, registry.ErrInvalid), errors.Is(err, registry.ErrNoMasterKey):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("api: request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}
