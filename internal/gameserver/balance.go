package gameserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrAccountNotFound is returned when the balance table has no row for an account.
var ErrAccountNotFound = errors.New("account not found in balance view")

// BalanceView reads balances from the economy plugin's user table. It
// never writes; all changes go through the command sink.
type BalanceView struct {
	db    *gorm.DB
	table string
}

// OpenBalanceView connects to the economy plugin's MySQL database.
func OpenBalanceView(dsn, table, logLevel string) (*BalanceView, error) {
	gLogger := logger.New(
		gormWriter{logger: log.With().Str("component", "balance_view").Logger()},
		logger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  toGormLogLevel(logLevel),
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open balance database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get balance sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping balance database: %w", err)
	}

	return NewBalanceView(db, table), nil
}

// NewBalanceView wraps an open gorm connection.
func NewBalanceView(db *gorm.DB, table string) *BalanceView {
	return &BalanceView{db: db, table: table}
}

type balanceRow struct {
	Balance float64 `gorm:"column:Balance"`
}

// Balance returns the account's balance rounded down to whole currency.
func (v *BalanceView) Balance(ctx context.Context, account string) (int64, error) {
	var row balanceRow
	err := v.db.WithContext(ctx).
		Table(v.table).
		Select("Balance").
		Where("username = ?", account).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to read balance of %s: %w", account, err)
	}
	return int64(math.Floor(row.Balance)), nil
}

// Close releases the underlying connection pool.
func (v *BalanceView) Close() error {
	sqlDB, err := v.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormWriter sends gorm's log lines to zerolog. gorm filters by its own
// level before calling Printf.
type gormWriter struct {
	logger zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.logger.Info().Msgf(format, args...)
}

func toGormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.Info
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Warn
	}
}
