package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seastock/shrinkage-cli/internal/engine"
	"github.com/seastock/shrinkage-cli/internal/store"
)

// runEnv holds the initialized store and engine shared by the fit, forecast,
// states, and serve commands.
type runEnv struct {
	Store  store.Store
	Engine *engine.Engine
}

// Close releases resources held by the environment.
func (e *runEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the configured store, runs migrations, and builds an engine
// seeded with the persisted adaptive states. Callers should defer env.Close().
func initEnv(ctx context.Context) (*runEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	eng := engine.New(cfg)

	states, err := st.LoadStates(ctx)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load adaptive states")
	}
	eng.Estimator().Seed(states)
	zap.L().Info("adaptive states loaded", zap.Int("count", len(states)))

	return &runEnv{Store: st, Engine: eng}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
