package migrate_test

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/akua-anchor/pkg/config"
	"github.com/angelmondragon/akua-anchor/pkg/migrate"
)

func TestPublishRecordsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_publish_records.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no publish_records migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS publish_records",
		"sha256 varchar(64) NOT NULL",
		"CONSTRAINT publish_records_sha256_key UNIQUE (sha256)",
		"meta jsonb",
		"published_at timestamptz NOT NULL DEFAULT now()",
		"DROP TABLE IF EXISTS publish_records",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_bad.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename to be rejected")
	}

	dir = t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "20260101000000_no_down.sql"), []byte("-- +goose Up\nSELECT 1;\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected missing down section to be rejected")
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Receipt Index!")
	if err != nil {
		t.Fatalf("CreateSQLMigration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_receipt_index.sql") {
		t.Fatalf("unexpected path %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration does not validate: %v", err)
	}
}

func TestEmbeddedSourceValidates(t *testing.T) {
	source, err := migrate.Source("")
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	if err := migrate.Validate(source); err != nil {
		t.Fatalf("embedded migrations do not validate: %v", err)
	}
	if _, err := migrate.Source(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected missing dir to be rejected")
	}
}

func TestValidateRejectsDuplicateVersions(t *testing.T) {
	body := []byte("-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n")
	source := fstest.MapFS{
		"20260101000000_first.sql":  {Data: body},
		"20260101000000_second.sql": {Data: body},
	}
	if err := migrate.Validate(source); err == nil {
		t.Fatal("expected duplicate version to be rejected")
	}
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "anchors.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func TestRunnerAppliesAndRollsBack(t *testing.T) {
	ctx := context.Background()
	source := fstest.MapFS{
		"20260101000000_receipts.sql": {Data: []byte(`-- +goose Up
CREATE TABLE receipts (sha256 TEXT PRIMARY KEY, txid TEXT NOT NULL);
-- +goose Down
DROP TABLE receipts;
`)},
		"20260102000000_receipts_txid.sql": {Data: []byte(`-- +goose Up
CREATE INDEX receipts_txid_idx ON receipts (txid);
-- +goose Down
DROP INDEX receipts_txid_idx;
`)},
	}

	var out bytes.Buffer
	runner, err := migrate.NewRunner(openSQLite(t), config.DriverSQLite, source, &out)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	if err := runner.Run(ctx, "up"); err != nil {
		t.Fatalf("up: %v", err)
	}
	if v, _ := runner.Version(ctx); v != 20260102000000 {
		t.Fatalf("expected latest version after up, got %d", v)
	}

	if err := runner.ToVersion(ctx, "20260101000000"); err != nil {
		t.Fatalf("ToVersion: %v", err)
	}
	if v, _ := runner.Version(ctx); v != 20260101000000 {
		t.Fatalf("expected first version, got %d", v)
	}

	if err := runner.Run(ctx, "redo"); err != nil {
		t.Fatalf("redo: %v", err)
	}
	if v, _ := runner.Version(ctx); v != 20260101000000 {
		t.Fatalf("redo should land on the same version, got %d", v)
	}

	out.Reset()
	if err := runner.Run(ctx, "status"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "pending") || !strings.Contains(out.String(), "20260102000000_receipts_txid.sql") {
		t.Fatalf("unexpected status output:\n%s", out.String())
	}

	if err := runner.Run(ctx, "sideways"); err == nil {
		t.Fatal("expected unknown command to be rejected")
	}
	if err := runner.ToVersion(ctx, "latest"); err == nil {
		t.Fatal("expected non-numeric version to be rejected")
	}
}
