package ospbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"

	// createUserInfoTable is the only schema statement run at startup
	createUserInfoTable = "CREATE TABLE IF NOT EXISTS userinfo(user_id bigint PRIMARY KEY, birthdate date);"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
	}
	dbOperationTimeout = 30 * time.Second
)

// Database is the bot's connection pool. With postgres, a pgx pool is
// opened and gorm runs on top of it, otherwise gorm opens a sqlite file.
type Database struct {
	db     *gorm.DB
	pool   *pgxpool.Pool
	dbType string
	logger *slog.Logger
}

// OpenDatabase connects to the configured database and verifies the
// connection
func OpenDatabase(ctx context.Context, config *Config, logger *slog.Logger) (
	*Database,
	error,
) {
	if logger == nil {
		logger = slog.Default()
	}
	gormLogger := newGORMLogger(
		newLogHandler(defaultLogWriter, config.DatabaseLogLevel),
		config.DatabaseSlowThreshold,
	)
	gormConfig := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	d := &Database{
		dbType: config.DatabaseType,
		logger: logger.With(loggerNameKey, "database"),
	}

	switch config.DatabaseType {
	case dbTypePostgres:
		poolConfig, err := pgxpool.ParseConfig(config.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("error parsing database config: %w", err)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("error creating connection pool: %w", err)
		}
		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("error connecting to database: %w", err)
		}
		db, err := gorm.Open(
			postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}),
			gormConfig,
		)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("error opening database: %w", err)
		}
		d.db = db
		d.pool = pool
		d.logger.InfoContext(
			ctx,
			"connected to postgres",
			"host", config.PostgresHost,
			"database", config.PostgresDB,
			"max_conns", poolConfig.MaxConns,
		)
	case dbTypeSQLite:
		db, err := openSQLite(ctx, config.SQLitePath, gormConfig)
		if err != nil {
			return nil, err
		}
		d.db = db
		d.logger.InfoContext(ctx, "opened sqlite database", "path", config.SQLitePath)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			config.DatabaseType, dbTypePostgres, dbTypeSQLite,
		)
	}
	return d, nil
}

func openSQLite(ctx context.Context, path string, gormConfig *gorm.Config) (
	*gorm.DB,
	error,
) {
	parentDir := filepath.Dir(path)
	if parentDir != "" {
		if err := os.MkdirAll(parentDir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting database connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
	sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
	sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

	pragmaErrors := make([]error, 0, len(sqliteExecPragma))
	for _, p := range sqliteExecPragma {
		pragmaErrors = append(pragmaErrors, db.WithContext(ctx).Exec(p).Error)
	}
	if err = errors.Join(pragmaErrors...); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the userinfo table if it doesn't already exist
func (d *Database) Migrate(ctx context.Context) error {
	d.logger.DebugContext(ctx, "migrating database")
	if err := d.db.WithContext(ctx).Exec(createUserInfoTable).Error; err != nil {
		d.logger.ErrorContext(ctx, "error migrating database", tint.Err(err))
		return fmt.Errorf("error migrating database: %w", err)
	}
	return nil
}

func (d *Database) DB() *gorm.DB {
	return d.db
}

// Pool returns the pgx pool backing the database, or nil when using sqlite
func (d *Database) Pool() *pgxpool.Pool {
	return d.pool
}

// Ping verifies the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	if d.pool != nil {
		return d.pool.Ping(ctx)
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (d *Database) Close() error {
	var errs []error
	if d.db != nil {
		sqlDB, err := d.db.DB()
		if err != nil {
			errs = append(errs, err)
		} else {
			errs = append(errs, sqlDB.Close())
		}
	}
	if d.pool != nil {
		d.pool.Close()
	}
	return errors.Join(errs...)
}

// withDBTimeout applies dbOperationTimeout to ctx, unless it already
// has a deadline
func withDBTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}
