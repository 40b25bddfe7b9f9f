package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpq" // Registers "nrpostgres" driver
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"

	"farmdispatch/internal/config"
)

// DSN builds the lib/pq connection string.
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)
}

// NewDatabase creates a new PostgreSQL connection with tuned pool settings.
// If nrApp is provided, it uses New Relic instrumented driver for automatic SQL tracing.
func NewDatabase(ctx context.Context, cfg config.DatabaseConfig, nrApp *newrelic.Application) (*sqlx.DB, error) {
	driver := "postgres"
	if nrApp != nil {
		driver = "nrpostgres"
	}

	db, err := sql.Open(driver, DSN(cfg))
	if err != nil {
		return nil, errors.Wrapf(err, "open database with %s", driver)
	}

	// MaxOpenConns: an accept holds one connection for its match transaction and another
	// for the stop append, so keep headroom over expected concurrent accepts.
	db.SetMaxOpenConns(50)

	// MaxIdleConns: ~50% of MaxOpenConns; offer bursts reuse warm connections.
	db.SetMaxIdleConns(25)

	// ConnMaxLifetime: rotate connections to follow DB failovers.
	db.SetConnMaxLifetime(30 * time.Minute)

	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	// Bind as "postgres" whatever the driver name, so named queries use $n placeholders.
	return sqlx.NewDb(db, "postgres"), nil
}
