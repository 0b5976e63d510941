// Package app assembles the platform: configuration, database, genkit
// provider, agents, graph and HTTP server.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerchat/ledgerchat/internal/api"
	"github.com/ledgerchat/ledgerchat/internal/config"
	"github.com/ledgerchat/ledgerchat/internal/graph"
	"github.com/ledgerchat/ledgerchat/internal/knowledge"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/session"
)

// App holds the assembled application and its teardown hooks.
type App struct {
	Config    *config.Config
	Logger    log.Logger
	Genkit    *genkit.Genkit
	Pool      *pgxpool.Pool
	Store     *session.Store
	Cache     *session.Cache
	Knowledge *knowledge.Store
	Engine    *graph.Engine
	Server    *api.Server

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

// Close releases everything Setup acquired. Safe to call on a
// partially initialized App.
func (a *App) Close(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}

	var errs []error
	if a.otelShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
