package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/matebook/internal/database"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func TestRegisterCollectorsExposesPoolStats(t *testing.T) {
	gateway, err := database.Open(context.Background(), database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "metrics.db"),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open gateway: %v", err)
	}
	t.Cleanup(func() {
		_ = gateway.Close()
	})

	registry := prometheus.NewRegistry()
	if err := registerCollectors(registry, gateway); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	found := false
	for _, family := range families {
		if strings.HasPrefix(family.GetName(), "go_sql_") {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected database pool metrics to be registered")
	}

	if err := registerCollectors(registry, gateway); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
