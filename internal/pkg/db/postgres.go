// Package db opens the ledger's PostgreSQL pool and applies its schema.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reward-bridge/internal/config"
)

const applicationName = "reward-bridge"

// Pool is the ledger connection pool.
type Pool struct {
	*pgxpool.Pool
}

// PoolConfig translates the database section into a pgxpool config. Every
// session reports the bridge's application name and runs in tz so that
// timestamps read back in the same zone the ledger uses to decide days.
func PoolConfig(cfg *config.DatabaseConfig, tz *time.Location) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pc.MaxConns = int32(max(cfg.PoolSize, 1))
	pc.MinConns = int32(max(cfg.PoolSize/4, 1))
	pc.ConnConfig.ConnectTimeout = orDefault(cfg.ConnectTimeout, 10*time.Second)
	pc.MaxConnLifetime = orDefault(cfg.MaxConnLifetime, time.Hour)
	pc.MaxConnIdleTime = orDefault(cfg.MaxConnIdleTime, 30*time.Minute)
	pc.HealthCheckPeriod = 30 * time.Second

	pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	if tz != nil && tz != time.Local {
		pc.ConnConfig.RuntimeParams["timezone"] = tz.String()
	}

	level, err := tracelog.LogLevelFromString(orString(cfg.QueryLog, "error"))
	if err != nil {
		return nil, fmt.Errorf("invalid database.query_log: %w", err)
	}
	if level != tracelog.LogLevelNone {
		pc.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   tracelog.LoggerFunc(logQuery),
			LogLevel: level,
		}
	}
	return pc, nil
}

// NewPool connects to PostgreSQL and verifies the connection.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig, tz *time.Location) (*Pool, error) {
	pc, err := PoolConfig(cfg, tz)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Int32("max_conns", pc.MaxConns).
		Msg("Connecting to PostgreSQL")

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	if p.Pool != nil {
		p.Pool.Close()
		log.Info().Msg("PostgreSQL connection pool closed")
	}
}

// HealthCheck pings the database.
func (p *Pool) HealthCheck(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

// logQuery writes pgx trace events to the global zerolog logger.
func logQuery(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	event := log.WithLevel(zerologLevel(level))
	if event == nil {
		return
	}
	event.Str("component", "pgx").Fields(data).Msg(msg)
}

func zerologLevel(level tracelog.LogLevel) zerolog.Level {
	switch level {
	case tracelog.LogLevelTrace:
		return zerolog.TraceLevel
	case tracelog.LogLevelDebug:
		return zerolog.DebugLevel
	case tracelog.LogLevelInfo:
		return zerolog.InfoLevel
	case tracelog.LogLevelWarn:
		return zerolog.WarnLevel
	case tracelog.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.NoLevel
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func orString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
