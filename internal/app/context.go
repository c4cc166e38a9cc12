package app

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"relosla/internal/config"
	"relosla/internal/db"
	"relosla/internal/engine"
	"relosla/internal/migrate"
)

// Context is an opened workspace: config, migrated database and engine.
type Context struct {
	Config *config.Config
	DB     *sql.DB
	Engine engine.Engine
}

// Options select the workspace and optional overrides.
type Options struct {
	Workspace string
	// DSN overrides config.database.dsn when set.
	DSN string
	Log logrus.FieldLogger
}

// Open loads relosla.yml from the workspace (defaults when absent), opens
// the database and applies migrations.
func Open(opts Options) (*Context, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	dsn := cfg.Database.DSN
	if opts.DSN != "" {
		dsn = opts.DSN
	}
	conn, dialect, err := db.Open(db.Config{Workspace: opts.Workspace, DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Context{
		Config: cfg,
		DB:     conn,
		Engine: engine.New(conn, dialect, cfg, opts.Log),
	}, nil
}

// Close releases the database.
func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
