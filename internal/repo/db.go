// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and PostgreSQL, plus ordered schema migrations
// tracked in the migrations table.
package repo

import (
	"context"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/obervinov/instabot-downloader/internal/domain"
)

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	tunePool(db)
	return db, nil
}

// OpenPostgres connects to a PostgreSQL database using the given DSN.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	tunePool(db)
	return db, nil
}

// Open selects the driver from configuration: a non-empty DSN means
// PostgreSQL, otherwise the embedded SQLite file is used.
func Open(dbPath, dsn string) (*gorm.DB, error) {
	if dsn != "" {
		return OpenPostgres(dsn)
	}
	return OpenSQLite(dbPath)
}

// EnableTracing installs the GORM OpenTelemetry plugin so database calls
// show up as spans under the service traces.
func EnableTracing(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

func tunePool(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
}

// migration is one named schema change. Migrations run in slice order inside
// a transaction and are recorded in the migrations table so they execute
// exactly once per database.
type migration struct {
	name    string
	version string
	run     func(tx *gorm.DB) error
}

var migrations = []migration{
	{
		name:    "0001_initial_schema",
		version: "1.0",
		run: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&domain.QueueEntry{},
				&domain.ProcessedEntry{},
				&domain.User{},
				&domain.UserRequestProfile{},
				&domain.BotMessage{},
			)
		},
	},
	{
		name:    "0002_messages_state",
		version: "1.0",
		run: func(tx *gorm.DB) error {
			// Rows created before the state column existed.
			return tx.Model(&domain.BotMessage{}).
				Where("state IS NULL OR state = ''").
				Update("state", domain.MessageAdded).Error
		},
	},
	{
		name:    "0003_users_status",
		version: "1.0",
		run: func(tx *gorm.DB) error {
			return tx.Model(&domain.User{}).
				Where("status IS NULL OR status = ''").
				Update("status", domain.UserDenied).Error
		},
	},
}

// Migrate applies all pending migrations in ascending order. Each migration
// runs in its own transaction together with the bookkeeping insert, so a
// failed migration leaves no partial state.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&domain.Migration{}); err != nil {
		return err
	}
	for _, m := range migrations {
		var count int64
		if err := db.WithContext(ctx).
			Model(&domain.Migration{}).
			Where("name = ?", m.name).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := m.run(tx); err != nil {
				return err
			}
			return tx.Create(&domain.Migration{
				Name:      m.name,
				Version:   m.version,
				AppliedAt: time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return err
		}
	}
	return nil
}
