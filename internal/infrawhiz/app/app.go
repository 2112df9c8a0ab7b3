// Package app wires the InfraWhiz backend together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/InfraWhiz/internal/console/classify"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/audit"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/collector"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/config"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/executor"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/gateway"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/nlp"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/registry"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/store"
)

// App is a configured backend.
type App struct {
	cfg      *config.Config
	store    *store.Store
	registry *registry.Registry
	exec     *executor.Router
	audit    *audit.Log
	gateway  *gateway.Gateway
	http     *HTTPServer
}

// New opens the database and builds every component. Nothing listens until
// Run.
func New(cfg *config.Config) (*App, error) {
	slog.Info("opening database", "path", cfg.DBPath)
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	sealer, err := cfg.Sealer()
	if err != nil {
		st.Close()
		return nil, err
	}
	if sealer == nil {
		slog.Warn("no master key configured; password authentication is unavailable")
	}
	reg := registry.New(st, sealer)

	pool, err := executor.NewSSHPool(executor.SSHConfig{
		KnownHostsFile: cfg.KnownHosts,
		IdleTimeout:    cfg.SSHIdleTimeout,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	var docker executor.Runner
	if cfg.DockerEnabled {
		d, err := executor.NewDockerRunner()
		if err != nil {
			pool.Close()
			st.Close()
			return nil, err
		}
		docker = d
		slog.Info("docker targets enabled")
	}
	exec := executor.NewRouter(pool, docker, cfg.CommandTimeout)

	sinks := []audit.Sink{audit.NewStoreSink(st)}
	if cfg.Kafka.Enabled() {
		k, err := audit.NewKafkaSink(audit.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			exec.Close()
			st.Close()
			return nil, err
		}
		sinks = append(sinks, k)
		slog.Info("streaming command history to kafka", "topic", cfg.Kafka.Topic)
	}
	auditLog := audit.New(sinks...)

	policy := classify.DefaultPolicy()
	keyword := nlp.NewKeyword(policy)
	var primary, secondary nlp.Parser = keyword, nil
	if cfg.NLP.LLMEnabled() {
		primary = nlp.NewOpenAI(nlp.OpenAIConfig{
			APIKey:  cfg.NLP.APIKey,
			BaseURL: cfg.NLP.BaseURL,
			Model:   cfg.NLP.Model,
			Timeout: cfg.NLP.Timeout,
		}, policy)
		secondary = keyword
		slog.Info("llm intent parsing enabled", "model", cfg.NLP.Model)
	}
	limiter := nlp.NewRateLimiter(cfg.NLP.RateLimit, time.Minute)
	coll := collector.New(exec)

	responder := nlp.NewService(primary, secondary, limiter)
	gw := gateway.New(gateway.Config{
		Servers:        reg,
		Responder:      responder,
		Runner:         exec,
		Metrics:        coll,
		Recorder:       auditLog,
		OnDisconnect:   limiter.Forget,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	reg.OnRemoved(gw.ServerRemoved)
	reg.OnRemoved(exec.Disconnect)

	a := &App{
		cfg:      cfg,
		store:    st,
		registry: reg,
		exec:     exec,
		audit:    auditLog,
		gateway:  gw,
	}
	api := NewAPI(APIConfig{
		Servers:     reg,
		Connections: exec,
		Metrics:     coll,
		History:     st,
		Responder:   responder,
	})
	router := NewRouter(a, gw, api)
	a.http = NewHTTPServer(cfg.Addr, router)
	return a, nil
}

// Registry exposes the server registry for the CLI.
func (a *App) Registry() *registry.Registry { return a.registry }

// ServerCount implements statusProvider.
func (a *App) ServerCount(ctx context.Context) (int, error) {
	servers, err := a.registry.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(servers), nil
}

// Connections implements statusProvider.
func (a *App) Connections() int { return a.gateway.Connections() }

// Run serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.http.Start(); err != nil {
		return err
	}
	slog.Info("InfraWhiz backend is running", "addr", a.http.Addr())
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// Stop releases every resource. Safe to call after a failed Run.
func (a *App) Stop() {
	a.gateway.Close()
	a.http.Stop()
	if err := a.exec.Close(); err != nil {
		slog.Warn("closing executor", "err", err)
	}
	if err := a.audit.Close(); err != nil {
		slog.Warn("closing audit sinks", "err", err)
	}
	slog.Info("closing database")
	a.store.Close()
}
