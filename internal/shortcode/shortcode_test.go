package shortcode_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/index"
	"github.com/colliery-io/metis-sub002/internal/shortcode"
)

func openIndex(t *testing.T) *index.Index {
	t.Helper()

	idx, err := index.Open(context.Background(), filepath.Join(t.TempDir(), "metis.db"))
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}

	t.Cleanup(func() { _ = idx.Close() })

	return idx
}

func TestAllocate_IncrementsPerLevel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := openIndex(t)

	first, err := shortcode.Allocate(ctx, idx, "ACME", document.LevelTask)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if first != "ACME-T-0001" {
		t.Errorf("first = %q, want ACME-T-0001", first)
	}

	second, err := shortcode.Allocate(ctx, idx, "ACME", document.LevelTask)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if second != "ACME-T-0002" {
		t.Errorf("second = %q, want ACME-T-0002", second)
	}

	// A different level's counter is independent.
	vision, err := shortcode.Allocate(ctx, idx, "ACME", document.LevelVision)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if vision != "ACME-V-0001" {
		t.Errorf("vision = %q, want ACME-V-0001", vision)
	}
}

func TestRecoverCounters_AdvancesPastFilesystemMax(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := openIndex(t)

	// Filesystem scan saw ACME-T-0042 as the highest task short-code, so
	// the floor is 43 regardless of the counter currently in the index.
	if err := shortcode.RecoverCounters(ctx, idx, map[document.Level]int{document.LevelTask: 43}); err != nil {
		t.Fatalf("RecoverCounters: %v", err)
	}

	next, err := shortcode.Allocate(ctx, idx, "ACME", document.LevelTask)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if next != "ACME-T-0043" {
		t.Errorf("next = %q, want ACME-T-0043 (counter after emission > max seen on disk)", next)
	}
}

func TestRecoverCounters_NeverLowersCounter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := openIndex(t)

	for i := 0; i < 5; i++ {
		if _, err := shortcode.Allocate(ctx, idx, "ACME", document.LevelTask); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}

	// A filesystem scan that only saw ACME-T-0001 must not roll the
	// counter back below what has already been allocated.
	if err := shortcode.RecoverCounters(ctx, idx, map[document.Level]int{document.LevelTask: 2}); err != nil {
		t.Fatalf("RecoverCounters: %v", err)
	}

	next, err := shortcode.Allocate(ctx, idx, "ACME", document.LevelTask)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if next != "ACME-T-0006" {
		t.Errorf("next = %q, want ACME-T-0006 (monotonic, never regresses)", next)
	}
}
