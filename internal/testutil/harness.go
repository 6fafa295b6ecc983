// Package testutil provides the workspace-building test harness shared by
// every service-level test: a real temp directory plus a freshly
// initialised Metis workspace, so tests exercise the same fsx.Real /
// index.Open code paths production does.
package testutil

import (
	"context"
	"testing"

	"github.com/colliery-io/metis-sub002/internal/config"
	"github.com/colliery-io/metis-sub002/internal/fsx"
	"github.com/colliery-io/metis-sub002/internal/service"
)

// NewWorkspace initialises a fresh workspace under t.TempDir() with the
// given prefix/preset and returns the opened Service. The Service is
// closed automatically via t.Cleanup.
func NewWorkspace(t *testing.T, prefix string, preset config.Preset) *service.Service {
	t.Helper()

	dir := t.TempDir()

	svc, err := service.InitializeWorkspace(context.Background(), fsx.NewReal(), dir, prefix, preset)
	if err != nil {
		t.Fatalf("InitializeWorkspace: %v", err)
	}

	t.Cleanup(func() { _ = svc.Close() })

	return svc
}
