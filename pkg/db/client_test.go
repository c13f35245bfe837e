package db

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/akua-anchor/pkg/config"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
)

func TestNewRequiresDSNForPostgres(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{Driver: config.DriverPostgres, DSN: "  "}, nil)
	if err == nil || !strings.Contains(err.Error(), "DSN is required") {
		t.Fatalf("expected dsn error, got %v", err)
	}
}

func TestNewOpensSQLiteWithSingleConnection(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{
		Driver:       config.DriverSQLite,
		SQLitePath:   filepath.Join(t.TempDir(), "akua.db"),
		MaxOpenConns: 10,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	if client.Dialect() != config.DriverSQLite {
		t.Fatalf("unexpected dialect %q", client.Dialect())
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	sqlDB, _ := client.DB().DB()
	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("expected sqlite pool capped at 1, got %d", got)
	}
}

func TestConfigurePoolHonorsPostgresLimits(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{Driver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "p.db")}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	sqlDB, _ := client.DB().DB()
	configurePool(sqlDB, config.DriverPostgres, config.DBConfig{MaxOpenConns: 7, ConnMaxLifetime: time.Minute})
	if got := sqlDB.Stats().MaxOpenConnections; got != 7 {
		t.Fatalf("expected 7 open connections, got %d", got)
	}
}

func TestGormWriterLogsThroughServiceLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "publisher", Output: buf})

	gormWriter{ctx: context.Background(), logg: logg}.Printf("SLOW SQL >= %v\n", slowQueryThreshold)
	if !strings.Contains(buf.String(), `"component":"gorm"`) || !strings.Contains(buf.String(), "SLOW SQL") {
		t.Fatalf("unexpected log entry %s", buf.String())
	}
}
