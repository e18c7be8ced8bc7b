package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/accreditationplan/internal/api"
	"github.com/Lllllllleong/accreditationplan/internal/config"
	"github.com/Lllllllleong/accreditationplan/internal/session"
)

// PlanAPIFunction holds the dependencies of the HTTP plan API.
type PlanAPIFunction struct {
	backends *Backends
	sessions *session.Registry
	server   *api.Server
	config   config.Config
}

// NewPlanAPI loads the configuration from the environment and opens every
// backend it names.
func NewPlanAPI(ctx context.Context) (*PlanAPIFunction, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	backends, err := OpenBackends(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open backends: %w", err)
	}
	return NewPlanAPIWith(cfg, backends), nil
}

// NewPlanAPIWith builds the API over already opened backends.
func NewPlanAPIWith(cfg config.Config, backends *Backends) *PlanAPIFunction {
	sessions := session.NewRegistry(backends.SessionFactory(cfg), cfg.SessionIdle)
	return &PlanAPIFunction{
		backends: backends,
		sessions: sessions,
		server:   api.NewServer(sessions, slog.Default(), cfg.MaxUploadBytes),
		config:   cfg,
	}
}

func (f *PlanAPIFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.server.ServeHTTP(w, r)
}

// Sweep retires sessions idle for longer than the configured period.
func (f *PlanAPIFunction) Sweep(ctx context.Context) {
	if err := f.sessions.Sweep(ctx); err != nil {
		slog.Warn("Failed to flush idle sessions.", "error", err)
	}
}

// Close flushes every session and releases the backends.
func (f *PlanAPIFunction) Close(ctx context.Context) error {
	flushErr := f.sessions.Close(ctx)
	if err := f.backends.Close(); err != nil {
		return err
	}
	return flushErr
}
