package utils

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormConfig selects the backing database for the gorm stores.
type GormConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string
	// DSN is a libpq-style DSN for postgres or a file path for sqlite.
	DSN  string
	Pool PostgresPoolConfig
	// Debug enables SQL logging.
	Debug bool
}

// OpenGorm opens a *gorm.DB and returns the underlying *sql.DB for health checks and Close.
// Postgres goes through the pgx stdlib pool from OpenPostgres.
// SQLite is limited to one open connection so writers serialize.
func OpenGorm(ctx context.Context, cfg GormConfig) (*gorm.DB, *sql.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "postgres"
	}
	gcfg := &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if cfg.Debug {
		gcfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	switch driver {
	case "sqlite":
		if err := ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, nil, err
		}
		db, err := gorm.Open(sqlite.Open(cfg.DSN), gcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, sqlDB, nil
	case "postgres":
		sqlDB, err := OpenPostgres(ctx, "pgx", cfg.DSN, cfg.Pool)
		if err != nil {
			return nil, nil, err
		}
		db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gcfg)
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, fmt.Errorf("open gorm postgres: %w", err)
		}
		return db, sqlDB, nil
	default:
		return nil, nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

func ensureSQLiteDir(dsn string) error {
	p := strings.TrimSpace(dsn)
	if p == "" || p == ":memory:" || strings.HasPrefix(p, "file:") {
		return nil
	}
	if i := strings.Index(p, "?"); i >= 0 {
		p = p[:i]
	}
	dir := filepath.Dir(p)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite dir: %w", err)
	}
	return nil
}
