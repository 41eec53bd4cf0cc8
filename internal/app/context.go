package app

import (
	"database/sql"
	"fmt"
	"log/slog"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/engine"
	"caseline/internal/migrate"
)

// Options select the workspace and the logger the engine writes to.
type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/caseline.yml.
	ConfigPath string
	Logger     *slog.Logger
}

// Workspace is an opened, migrated caseline workspace.
type Workspace struct {
	Engine engine.Engine
	conn   *sql.DB
}

func (w *Workspace) Close() error {
	if w == nil || w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

// Open loads the workflow config, opens the workspace database and applies
// pending migrations. A missing caseline.yml falls back to the default config.
func Open(opts Options) (*Workspace, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	if opts.Logger != nil {
		e.Logger = opts.Logger
	}
	return &Workspace{Engine: e, conn: conn}, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOrDefault(opts.Workspace)
}
