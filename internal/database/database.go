// Package database opens the PostgreSQL document store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"docedit/internal/config"
)

const (
	applicationName = "docedit"
	pingTimeout     = 5 * time.Second
	maxBackoff      = 30 * time.Second
)

// ErrInvalidConfig reports a DatabaseConfig missing a required field.
var ErrInvalidConfig = errors.New("invalid database config")

var (
	sqlOpen = sql.Open
	wait    = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
)

// BuildPostgresDSN renders c as a postgres:// URL for the pgx driver.
// Parameters pgx does not know, such as statement_timeout, reach the server
// as session settings.
func BuildPostgresDSN(c config.DatabaseConfig) (string, error) {
	for field, v := range map[string]string{"host": c.Host, "port": c.Port, "user": c.User, "name": c.Name} {
		if v == "" {
			return "", fmt.Errorf("%w: %s is required", ErrInvalidConfig, field)
		}
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   c.Host + ":" + c.Port,
		Path:   c.Name,
		User:   url.User(c.User),
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}

	q := url.Values{}
	q.Set("application_name", applicationName)
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.StatementTimeout > 0 {
		q.Set("statement_timeout", strconv.FormatInt(c.StatementTimeout.Milliseconds(), 10))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// NewPostgres opens a traced pgx pool and waits for the server to answer.
// Startup races a database container often enough that the first ping is
// retried up to c.ConnectAttempts times with a doubling backoff.
func NewPostgres(ctx context.Context, c config.DatabaseConfig, log zerolog.Logger) (*sql.DB, error) {
	dsn, err := BuildPostgresDSN(c)
	if err != nil {
		return nil, err
	}

	driverName, err := otelsql.Register("pgx",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
		otelsql.WithSQLCommenter(true),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sqlOpen(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	configurePool(db, c)

	if err := waitReady(ctx, db, c, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func configurePool(db *sql.DB, c config.DatabaseConfig) {
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	if c.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
	}
}

func waitReady(ctx context.Context, db *sql.DB, c config.DatabaseConfig, log zerolog.Logger) error {
	attempts := max(c.ConnectAttempts, 1)
	backoff := c.ConnectBackoff

	var err error
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			if attempt > 1 {
				log.Info().Int("attempt", attempt).Msg("database_ready")
			}
			return nil
		}
		if attempt >= attempts {
			break
		}

		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", backoff).Msg("database_unavailable")
		if werr := wait(ctx, backoff); werr != nil {
			return fmt.Errorf("db ping: %w", werr)
		}
		backoff = min(backoff*2, maxBackoff)
	}
	return fmt.Errorf("db ping after %d attempts: %w", attempts, err)
}
