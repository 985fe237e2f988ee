//go:build postgres_integration

package store

import (
	"os"
	"testing"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	if err := p.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := p.MigrateDir("../../db/migrations"); err != nil {
		t.Fatalf("MigrateDir: %v", err)
	}

	// Seeded by 001_init.sql.
	if _, err := p.GetLocation(t.Context(), "t_demo", "WH001"); err != nil {
		t.Fatalf("GetLocation: %v", err)
	}
	if _, _, err := p.ListSolutions(t.Context(), "t_demo", "", "", 1); err != nil {
		t.Fatalf("ListSolutions: %v", err)
	}
	ws, err := p.ListWarehouses(t.Context(), "t_demo")
	if err != nil || len(ws) < 2 {
		t.Fatalf("ListWarehouses: %v (%d rows)", err, len(ws))
	}
}
