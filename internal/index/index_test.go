package index_test

import (
	"context"
	"errors"
	"testing"

	"github.com/colliery-io/metis-sub002/internal/config"
	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/metiserr"
	"github.com/colliery-io/metis-sub002/internal/service"
	"github.com/colliery-io/metis-sub002/internal/testutil"
)

func TestResolveShortCodePrefix_UniquePrefixResolves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := testutil.NewClock()
	svc := testutil.NewWorkspace(t, "acme", config.PresetDirect)

	code, _, err := svc.CreateDocument(ctx, service.CreateOptions{
		Level:           document.LevelTask,
		Title:           "Add LRU",
		BacklogCategory: "feature",
	}, clock.Next())
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	got, err := svc.Idx.ResolveShortCodePrefix(ctx, "ACME-T")
	if err != nil {
		t.Fatalf("ResolveShortCodePrefix: %v", err)
	}

	if got != code {
		t.Errorf("resolved %q, want %q", got, code)
	}
}

func TestResolveShortCodePrefix_AmbiguousPrefixErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := testutil.NewClock()
	svc := testutil.NewWorkspace(t, "acme", config.PresetDirect)

	for _, title := range []string{"Add LRU", "Fix flaky test"} {
		if _, _, err := svc.CreateDocument(ctx, service.CreateOptions{
			Level:           document.LevelTask,
			Title:           title,
			BacklogCategory: "feature",
		}, clock.Next()); err != nil {
			t.Fatalf("create task %q: %v", title, err)
		}
	}

	_, err := svc.Idx.ResolveShortCodePrefix(ctx, "ACME-T")
	if err == nil {
		t.Fatal("ResolveShortCodePrefix succeeded, want ErrAmbiguous for two matches")
	}

	if !errors.Is(err, metiserr.ErrAmbiguous) {
		t.Errorf("err = %v, want wrapping ErrAmbiguous", err)
	}
}

func TestSearch_EscapesFTSSpecialCharacters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := testutil.NewClock()
	svc := testutil.NewWorkspace(t, "acme", config.PresetDirect)

	_, _, err := svc.CreateDocument(ctx, service.CreateOptions{
		Level:           document.LevelTask,
		Title:           "Fix the quoting bug",
		BacklogCategory: "bug",
	}, clock.Next())
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	// A query containing FTS5-significant punctuation must not error out;
	// it is escaped into a sequence of quoted phrase terms (spec.md §8),
	// rather than being interpreted as FTS5 query syntax.
	if _, err = svc.Idx.Search(ctx, `"quoting"* OR bug`, 10); err != nil {
		t.Fatalf("Search with special characters: %v", err)
	}

	results, err := svc.Idx.Search(ctx, "quoting bug", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results) == 0 {
		t.Error("Search returned no results for a plain title-matching query")
	}
}
