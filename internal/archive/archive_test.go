package archive_test

import (
	"context"
	"testing"

	"github.com/colliery-io/metis-sub002/internal/archive"
	"github.com/colliery-io/metis-sub002/internal/config"
	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/service"
	"github.com/colliery-io/metis-sub002/internal/testutil"
)

// An initiative archive drags its tasks/ subtree along with it; Archive
// only moves files, and the sync that follows records both moved rows as
// archived in the index.
func TestArchive_InitiativeDragsTaskSubtree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := testutil.NewClock()
	svc := testutil.NewWorkspace(t, "acme", config.PresetStreamlined)

	initCode, _, err := svc.CreateDocument(ctx, service.CreateOptions{
		Level: document.LevelInitiative,
		Title: "Caching layer",
	}, clock.Next())
	if err != nil {
		t.Fatalf("create initiative: %v", err)
	}

	if _, err = svc.TransitionPhase(ctx, initCode, "design", true, clock.Next()); err != nil {
		t.Fatalf("advance to design: %v", err)
	}

	if _, err = svc.TransitionPhase(ctx, initCode, "ready", true, clock.Next()); err != nil {
		t.Fatalf("advance to ready: %v", err)
	}

	if _, err = svc.TransitionPhase(ctx, initCode, "decompose", true, clock.Next()); err != nil {
		t.Fatalf("advance to decompose: %v", err)
	}

	taskCode, _, err := svc.CreateDocument(ctx, service.CreateOptions{
		Level:  document.LevelTask,
		Title:  "Add LRU",
		Parent: initCode,
	}, clock.Next())
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	archivedPaths, err := archive.Archive(ctx, svc.WS, svc.Idx, initCode, clock.Next())
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if len(archivedPaths) != 2 {
		t.Fatalf("archivedPaths = %v, want 2 entries (initiative + task)", archivedPaths)
	}

	if _, err = svc.Sync(ctx, clock.Next()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	initRow, err := svc.Idx.FindByShortCode(ctx, initCode)
	if err != nil {
		t.Fatalf("FindByShortCode init: %v", err)
	}

	if !initRow.Archived {
		t.Error("initiative not marked archived")
	}

	taskRow, err := svc.Idx.FindByShortCode(ctx, taskCode)
	if err != nil {
		t.Fatalf("FindByShortCode task: %v", err)
	}

	if !taskRow.Archived {
		t.Error("task not marked archived even though its parent initiative was archived")
	}
}

// Archiving a single task is a no-op for anything else in the workspace.
func TestArchive_TaskIsSingleFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := testutil.NewClock()
	svc := testutil.NewWorkspace(t, "acme", config.PresetDirect)

	taskCode, _, err := svc.CreateDocument(ctx, service.CreateOptions{
		Level:           document.LevelTask,
		Title:           "Fix flaky test",
		BacklogCategory: "bug",
	}, clock.Next())
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	archivedPaths, err := archive.Archive(ctx, svc.WS, svc.Idx, taskCode, clock.Next())
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if len(archivedPaths) != 1 {
		t.Fatalf("archivedPaths = %v, want exactly 1 path", archivedPaths)
	}
}
