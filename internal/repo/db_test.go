package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/obervinov/instabot-downloader/internal/domain"
)

// newTestDB opens a fresh in-memory SQLite database with the full schema
// applied. Each call gets its own database via a unique shared-cache name.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "nope", "bot.db")); err == nil {
		t.Fatalf("expected error for missing parent directory")
	}
}

func TestOpenSQLite_CreatesFile(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Running the migrations again must be a no-op.
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var count int64
	if err := db.Model(&domain.Migration{}).Count(&count).Error; err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != int64(len(migrations)) {
		t.Fatalf("expected %d migration rows, got %d", len(migrations), count)
	}
}

func TestMigrate_RecordsNames(t *testing.T) {
	db := newTestDB(t)

	var rows []domain.Migration
	if err := db.Order("id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(rows) != len(migrations) {
		t.Fatalf("expected %d rows, got %d", len(migrations), len(rows))
	}
	for i, m := range migrations {
		if rows[i].Name != m.name {
			t.Fatalf("migration %d: got %q, want %q", i, rows[i].Name, m.name)
		}
		if rows[i].AppliedAt.IsZero() {
			t.Fatalf("migration %q has zero applied_at", rows[i].Name)
		}
	}
}
