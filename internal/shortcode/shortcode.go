// Package shortcode allocates and recovers the {PREFIX}-{TYPE}-{NNNN}
// identifiers of spec.md §4.3. Allocate commits the counter increment
// before the caller writes the new file (create_document and sync's
// collision renumbering both allocate first), so a crash between the two
// leaves an unused number behind; the commit is not deferred until the
// file is on disk. RecoverCounters, run on every sync, raises each counter
// past the highest number found on disk.
package shortcode

import (
	"context"
	"fmt"

	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/index"
)

// Allocate increments prefix's counter for level and formats the new
// short-code.
func Allocate(ctx context.Context, idx *index.Index, prefix string, level document.Level) (string, error) {
	n, err := idx.NextCounter(ctx, level)
	if err != nil {
		return "", fmt.Errorf("shortcode: allocate %s: %w", level, err)
	}

	return document.FormatShortCode(prefix, level, n), nil
}

// RecoverCounters sets every level's counter to
// max(counter_in_db, 1+max_number_seen_on_disk), healing a crash that
// happened after a file was written but before its counter commit
// (spec.md §4.3). seenMax maps level to the highest short-code number
// found during the filesystem scan (0 if none were seen).
func RecoverCounters(ctx context.Context, idx *index.Index, seenMax map[document.Level]int) error {
	for _, level := range []document.Level{
		document.LevelVision, document.LevelStrategy, document.LevelInitiative,
		document.LevelTask, document.LevelADR,
	} {
		floor := seenMax[level] // 1 + max seen, computed by the caller
		if floor == 0 {
			continue
		}

		if err := idx.SetCounterIfHigher(ctx, level, floor); err != nil {
			return fmt.Errorf("shortcode: recover counter %s: %w", level, err)
		}
	}

	return nil
}
