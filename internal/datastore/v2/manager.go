// Package v2 opens the relational store and applies the schema.
package v2

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/envsense/envsense/internal/conf"
	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/errors"
)

// Config describes a store connection.
type Config struct {
	// DataDir holds the SQLite file when Path is relative.
	DataDir string
	// Path is the SQLite file name, or ":memory:".
	Path  string
	MySQL conf.MySQLSettings
	Debug bool
}

// Manager owns a gorm connection pool.
type Manager struct {
	db      *gorm.DB
	dialect string
}

// Models lists every persisted entity in dependency order.
func Models() []any {
	return []any{
		&entities.User{},
		&entities.Device{},
		&entities.SensorReading{},
		&entities.AlertRule{},
		&entities.AlertRecord{},
		&entities.NotificationConfig{},
		&entities.NotificationLog{},
	}
}

func gormConfig(debug bool) *gorm.Config {
	level := gorm_logger.Silent
	if debug {
		level = gorm_logger.Info
	}
	return &gorm.Config{
		Logger:         gorm_logger.Default.LogMode(level),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// NewSQLiteManager opens a SQLite database with foreign keys enforced.
func NewSQLiteManager(cfg Config) (*Manager, error) {
	path := cfg.Path
	if path == "" {
		path = "envsense.db"
	}
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&_foreign_keys=ON"
	} else {
		if cfg.DataDir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(cfg.DataDir, path)
		}
		dsn = "file:" + path + "?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg.Debug))
	if err != nil {
		return nil, storeError("failed to open sqlite database", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, storeError("failed to get sql.DB", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	return &Manager{db: db, dialect: "sqlite"}, nil
}

// MySQLDSN renders the connection string for s. ClientFoundRows makes
// RowsAffected count matched rows, as SQLite does, so conditional updates
// that leave a row unchanged are not mistaken for misses.
func MySQLDSN(s conf.MySQLSettings) string {
	cfg := mysqldrv.NewConfig()
	cfg.User = s.Username
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	cfg.DBName = s.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// NewMySQLManager opens a MySQL connection pool.
func NewMySQLManager(cfg Config) (*Manager, error) {
	db, err := gorm.Open(mysql.Open(MySQLDSN(cfg.MySQL)), gormConfig(cfg.Debug))
	if err != nil {
		return nil, storeError("failed to open mysql database", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, storeError("failed to get sql.DB", err)
	}
	if cfg.MySQL.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	}
	if cfg.MySQL.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	}
	if cfg.MySQL.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime.Std())
	}
	return &Manager{db: db, dialect: "mysql"}, nil
}

// Open picks the backend named by settings.
func Open(s conf.DatabaseSettings) (*Manager, error) {
	switch s.Type {
	case "sqlite", "":
		return NewSQLiteManager(Config{Path: s.SQLite.Path, Debug: s.Debug})
	case "mysql":
		return NewMySQLManager(Config{MySQL: s.MySQL, Debug: s.Debug})
	default:
		return nil, errors.Newf("unsupported database type %q", s.Type).
			Component("datastore").Category(errors.CategoryConfiguration).Build()
	}
}

// Initialize creates or updates the schema.
func (m *Manager) Initialize() error {
	if err := m.db.AutoMigrate(Models()...); err != nil {
		return storeError("failed to migrate schema", err)
	}
	return nil
}

// Ping verifies the connection.
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return storeError("failed to get sql.DB", err)
	}
	return sqlDB.PingContext(ctx)
}

// DB returns the gorm handle.
func (m *Manager) DB() *gorm.DB { return m.db }

// Dialect returns "sqlite" or "mysql".
func (m *Manager) Dialect() string { return m.dialect }

// Close releases the pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func storeError(msg string, err error) error {
	return errors.New(fmt.Errorf("%s: %w", msg, err)).
		Component("datastore").Category(errors.CategoryDatabase).Build()
}
