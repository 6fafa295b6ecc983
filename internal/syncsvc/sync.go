// Package syncsvc implements sync, the single operation that reconciles
// the filesystem's markdown files with the rebuildable SQLite index
// (spec.md §4.6). It is the only writer of document_relationships and
// the only reader allowed to treat the filesystem as ground truth over
// the index.
package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/calvinalkan/fileproc"
	"github.com/google/uuid"

	"github.com/colliery-io/metis-sub002/internal/config"
	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/fsx"
	"github.com/colliery-io/metis-sub002/internal/index"
	"github.com/colliery-io/metis-sub002/internal/phase"
	"github.com/colliery-io/metis-sub002/internal/shortcode"
	"github.com/colliery-io/metis-sub002/internal/workspace"
)

// FileError records a single file's non-fatal scan or commit failure
// (spec.md §4.6 "Failure model").
type FileError struct {
	Path string
	Kind string // ParseError, InvalidPhase, IoError, Database
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

// Stats summarises one sync run (spec.md §4.6: "returning {imported,
// updated, moved, deleted, up_to_date, errors, messages}").
type Stats struct {
	// RunID identifies this sync invocation for log correlation, the same
	// operational role uuid.UUID plays for the teacher's ticket reindex
	// log entries (internal/store/reindex.go) — Metis documents are
	// identified by short_code, not UUID, so the dependency is repurposed
	// here rather than carried unused.
	RunID string

	Imported int
	Updated  int
	Moved    int
	Deleted  int
	UpToDate int
	Errors   []FileError
	Messages []string
}

// scanned is one successfully parsed filesystem file, pending
// classification against the index.
type scanned struct {
	relPath string
	doc     *document.Document
	hash    string
	modTime time.Time
}

// Sync reconciles the filesystem under ws with idx (spec.md §4.6). now
// stamps updated_at on the files sync itself rewrites: collision losers it
// renumbers and documents whose parent/blocked_by references it updates.
func Sync(ctx context.Context, ws *workspace.Workspace, idx *index.Index, now time.Time) (Stats, error) {
	var stats Stats

	stats.RunID = uuid.NewString()

	cfg, err := config.Load(ws)
	if err != nil {
		return Stats{}, err // fatal: spec.md §4.6 step 1
	}

	if err = idx.UpsertConfigMirror(ctx, cfg.Prefix, cfg.StrategiesEnabled, cfg.InitiativesEnabled); err != nil {
		return Stats{}, err
	}

	files, scanErrors, err := scanFilesystem(ctx, ws)
	if err != nil {
		return Stats{}, err
	}

	stats.Errors = append(stats.Errors, scanErrors...)

	sort.Slice(files, func(i, j int) bool { return files[i].relPath < files[j].relPath })

	seenMax := seenMaxByLevel(files)
	if err = shortcode.RecoverCounters(ctx, idx, seenMax); err != nil {
		return stats, err
	}

	snapshot, err := idx.Snapshot(ctx)
	if err != nil {
		return stats, err
	}

	byFilepath := make(map[string]index.SnapshotEntry, len(snapshot))
	byShortCode := make(map[string]index.SnapshotEntry, len(snapshot))

	for _, entry := range snapshot {
		byFilepath[entry.FilePath] = entry
		byShortCode[entry.ShortCode] = entry
	}

	pathShortCode := make(map[string]string, len(files))
	for _, f := range files {
		pathShortCode[f.relPath] = f.doc.ShortCode
	}

	consumedOldPaths := make(map[string]bool)
	seenPaths := make(map[string]bool, len(files))

	for i := range files {
		f := &files[i]
		seenPaths[f.relPath] = true

		applyDefaultPhase(f.doc, &stats)
		inferLineage(f.doc, pathShortCode)

		existing, byPath := byFilepath[f.relPath]

		var priorFilePath string

		switch {
		case byPath && existing.ContentHash == f.hash:
			stats.UpToDate++

			continue
		case byPath:
			stats.Updated++
		default:
			if prior, moved := byShortCode[f.doc.ShortCode]; moved && prior.FilePath != f.relPath {
				consumedOldPaths[prior.FilePath] = true
				priorFilePath = prior.FilePath
				stats.Moved++
			} else {
				stats.Imported++
			}
		}

		// The old row must go before the new one lands: short_code is
		// UNIQUE, and ON CONFLICT(filepath) only covers the filepath
		// conflict target, so leaving the old-path row in place makes the
		// new-path insert fail its short_code constraint (spec.md §4.6
		// step 4: "delete the old row, import the new filepath; preserve
		// the short_code").
		if priorFilePath != "" {
			if err = idx.DeleteByFilepath(ctx, priorFilePath); err != nil {
				stats.Errors = append(stats.Errors, FileError{Path: priorFilePath, Kind: "Database", Err: err})

				continue
			}
		}

		if err = idx.Upsert(ctx, f.doc, f.hash, f.modTime); err != nil {
			stats.Errors = append(stats.Errors, FileError{Path: f.relPath, Kind: "Database", Err: err})
		}
	}

	for _, entry := range snapshot {
		if seenPaths[entry.FilePath] || consumedOldPaths[entry.FilePath] {
			continue
		}

		if err = idx.DeleteByFilepath(ctx, entry.FilePath); err != nil {
			stats.Errors = append(stats.Errors, FileError{Path: entry.FilePath, Kind: "Database", Err: err})

			continue
		}

		stats.Deleted++
	}

	if err = resolveCollisions(ctx, ws, idx, files, cfg.Prefix, now, &stats); err != nil {
		return stats, err
	}

	if err = idx.Reconcile(ctx); err != nil {
		return stats, err
	}

	return stats, nil
}

// scanFilesystem walks every .md file under ws.Root, parsing and hashing
// each (spec.md §4.6 step 2). Malformed or unreadable files are reported
// as non-fatal FileErrors and excluded from the returned slice.
func scanFilesystem(ctx context.Context, ws *workspace.Workspace) ([]scanned, []FileError, error) {
	opts := fileproc.Options{
		Recursive: true,
		Suffix:    ".md",
		OnError:   func(error, int, int) bool { return true },
	}

	results, errs := fileproc.ProcessStat(ctx, ws.Root, func(path []byte, st fileproc.Stat, f fileproc.LazyFile) (*scanned, error) {
		relPath := filepath.ToSlash(string(path))

		data, readErr := io.ReadAll(f)
		if readErr != nil {
			return nil, fmt.Errorf("%w: %w", errIO, readErr)
		}

		doc, parseErr := document.Parse(relPath, data)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: %w", errParse, parseErr)
		}

		return &scanned{
			relPath: relPath,
			doc:     doc,
			hash:    fsx.ContentHash(data),
			modTime: time.Unix(0, st.ModTime),
		}, nil
	}, opts)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, nil, fmt.Errorf("sync: canceled: %w", ctxErr)
	}

	files := make([]scanned, 0, len(results))

	for _, r := range results {
		if r.Value != nil {
			files = append(files, *r.Value)
		}
	}

	fileErrors := make([]FileError, 0, len(errs))

	for _, scanErr := range errs {
		fileErrors = append(fileErrors, classifyScanError(scanErr))
	}

	return files, fileErrors, nil
}

var (
	errIO    = errors.New("io error")
	errParse = errors.New("parse error")
)

func classifyScanError(err error) FileError {
	var procErr *fileproc.ProcessError
	if errors.As(err, &procErr) {
		kind := "IoError"
		if errors.Is(procErr.Err, errParse) {
			kind = "ParseError"
		}

		return FileError{Path: procErr.Path, Kind: kind, Err: procErr.Err}
	}

	var ioErr *fileproc.IOError
	if errors.As(err, &ioErr) {
		return FileError{Path: ioErr.Path, Kind: "IoError", Err: ioErr.Err}
	}

	return FileError{Path: "", Kind: "IoError", Err: err}
}

// applyDefaultPhase implements spec.md §4.6's "Unknown phase tag → record
// InvalidPhase, import with phase = <level>_default".
func applyDefaultPhase(doc *document.Document, stats *Stats) {
	if doc.Phase != "" && phase.Valid(doc.Level, doc.Phase) {
		return
	}

	stats.Errors = append(stats.Errors, FileError{
		Path: doc.FilePath,
		Kind: "InvalidPhase",
		Err:  fmt.Errorf("phase %q is not valid for level %s", doc.Phase, doc.Level),
	})

	doc.Phase = phase.DefaultPhaseFor(doc.Level)
}

// seenMaxByLevel returns, for each level, 1 + the highest short-code
// number seen on disk (spec.md §4.3), the floor RecoverCounters raises
// each counter to.
func seenMaxByLevel(files []scanned) map[document.Level]int {
	seen := make(map[document.Level]int)

	for _, f := range files {
		n, ok := document.ParseShortCodeNumber(f.doc.ShortCode)
		if !ok {
			continue
		}

		if n+1 > seen[f.doc.Level] {
			seen[f.doc.Level] = n + 1
		}
	}

	return seen
}

// resolveCollisions implements spec.md §4.3's collision resolution: for
// each short_code with more than one file after the import pass, the
// lexicographically smallest filepath keeps the code and the rest are
// renumbered, with their parent/blocked_by references to the old code
// rewritten transitively.
func resolveCollisions(ctx context.Context, ws *workspace.Workspace, idx *index.Index, files []scanned, prefix string, now time.Time, stats *Stats) error {
	byShortCode := make(map[string][]string)
	levelByPath := make(map[string]document.Level, len(files))

	for _, f := range files {
		byShortCode[f.doc.ShortCode] = append(byShortCode[f.doc.ShortCode], f.relPath)
		levelByPath[f.relPath] = f.doc.Level
	}

	codes := make([]string, 0, len(byShortCode))
	for code := range byShortCode {
		codes = append(codes, code)
	}

	sort.Strings(codes)

	renamed := make(map[string]string) // old short_code -> new short_code, scoped to the losing filepath

	writer := fsx.NewAtomicWriter(ws.FS)

	for _, code := range codes {
		paths := byShortCode[code]
		if len(paths) < 2 {
			continue
		}

		sort.Strings(paths)

		for _, losingPath := range paths[1:] {
			// The loser's import already failed on the UNIQUE short_code,
			// so it has no index row; its level comes from the scan.
			level := levelByPath[losingPath]

			newCode, err := shortcode.Allocate(ctx, idx, prefix, level)
			if err != nil {
				stats.Errors = append(stats.Errors, FileError{Path: losingPath, Kind: "Database", Err: err})

				continue
			}

			// A 3+ way collision only remembers the last loser's new code;
			// stale references to the old code are ambiguous past the
			// first reassignment anyway, since the code no longer
			// identifies a single document once more than one file loses.
			renamed[code] = newCode

			raw, readErr := ws.FS.ReadFile(ws.Abs(losingPath))
			if readErr != nil {
				stats.Errors = append(stats.Errors, FileError{Path: losingPath, Kind: "IoError", Err: readErr})

				continue
			}

			doc, parseErr := document.Parse(losingPath, raw)
			if parseErr != nil {
				stats.Errors = append(stats.Errors, FileError{Path: losingPath, Kind: "ParseError", Err: parseErr})

				continue
			}

			doc.ShortCode = newCode
			doc.UpdatedAt = document.NextUpdatedAt(now, doc.UpdatedAt)

			rendered, renderErr := doc.Render()
			if renderErr != nil {
				stats.Errors = append(stats.Errors, FileError{Path: losingPath, Kind: "IoError", Err: renderErr})

				continue
			}

			if err = writer.WriteBytes(ws.Abs(losingPath), rendered); err != nil {
				stats.Errors = append(stats.Errors, FileError{Path: losingPath, Kind: "IoError", Err: err})

				continue
			}

			fileInfo, statErr := ws.FS.Stat(ws.Abs(losingPath))
			if statErr != nil {
				stats.Errors = append(stats.Errors, FileError{Path: losingPath, Kind: "IoError", Err: statErr})

				continue
			}

			if err = idx.Upsert(ctx, doc, fsx.ContentHash(rendered), fileInfo.ModTime()); err != nil {
				stats.Errors = append(stats.Errors, FileError{Path: losingPath, Kind: "Database", Err: err})

				continue
			}

			stats.Messages = append(stats.Messages, fmt.Sprintf("renumbered %s to %s (collision with %s)", code, newCode, paths[0]))
		}
	}

	if len(renamed) == 0 {
		return nil
	}

	return rewriteReferences(ctx, ws, idx, renamed, now, stats)
}

// rewriteReferences updates every document's parent/blocked_by fields
// that still point at an old, now-renumbered short-code (spec.md §4.3:
// "rewritten transitively in the same commit").
func rewriteReferences(ctx context.Context, ws *workspace.Workspace, idx *index.Index, renamed map[string]string, now time.Time, stats *Stats) error {
	rows, err := idx.FindByType(ctx, index.ListFilter{})
	if err != nil {
		return err
	}

	writer := fsx.NewAtomicWriter(ws.FS)

	for _, row := range rows {
		raw, readErr := ws.FS.ReadFile(ws.Abs(row.FilePath))
		if readErr != nil {
			stats.Errors = append(stats.Errors, FileError{Path: row.FilePath, Kind: "IoError", Err: readErr})

			continue
		}

		doc, parseErr := document.Parse(row.FilePath, raw)
		if parseErr != nil {
			stats.Errors = append(stats.Errors, FileError{Path: row.FilePath, Kind: "ParseError", Err: parseErr})

			continue
		}

		changed := false

		if newCode, ok := renamed[doc.Parent]; ok {
			doc.Parent = newCode
			changed = true
		}

		for i, blocker := range doc.BlockedBy {
			if newCode, ok := renamed[blocker]; ok {
				doc.BlockedBy[i] = newCode
				changed = true
			}
		}

		if !changed {
			continue
		}

		doc.UpdatedAt = document.NextUpdatedAt(now, doc.UpdatedAt)

		rendered, renderErr := doc.Render()
		if renderErr != nil {
			stats.Errors = append(stats.Errors, FileError{Path: row.FilePath, Kind: "IoError", Err: renderErr})

			continue
		}

		if err = writer.WriteBytes(ws.Abs(row.FilePath), rendered); err != nil {
			stats.Errors = append(stats.Errors, FileError{Path: row.FilePath, Kind: "IoError", Err: err})

			continue
		}

		fileInfo, statErr := ws.FS.Stat(ws.Abs(row.FilePath))
		if statErr != nil {
			stats.Errors = append(stats.Errors, FileError{Path: row.FilePath, Kind: "IoError", Err: statErr})

			continue
		}

		if err = idx.Upsert(ctx, doc, fsx.ContentHash(rendered), fileInfo.ModTime()); err != nil {
			stats.Errors = append(stats.Errors, FileError{Path: row.FilePath, Kind: "Database", Err: err})
		}
	}

	return nil
}

// inferLineage fills in parent/strategy_id/initiative_id from path
// structure when front matter leaves them blank (spec.md §4.6 step 7).
// pathShortCode maps every file in this sync's scan to its short_code, so
// a task can resolve its initiative's and strategy's codes even though
// those ancestor files were only just imported in this same run.
func inferLineage(doc *document.Document, pathShortCode map[string]string) {
	parts := strings.Split(doc.FilePath, "/")

	switch doc.Level {
	case document.LevelTask:
		if len(parts) < 5 || parts[0] != "strategies" || parts[2] != "initiatives" || parts[4] != "tasks" {
			return
		}

		initiativePath := workspace.InitiativeRelPath(destrategySlug(parts[1]), parts[3])

		if doc.Parent == "" {
			doc.Parent = pathShortCode[initiativePath]
		}

		if doc.InitiativeID == "" {
			doc.InitiativeID = pathShortCode[initiativePath]
		}

		if doc.StrategyID == "" && parts[1] != workspace.StrategyDirSlug {
			doc.StrategyID = pathShortCode[workspace.StrategyRelPath(parts[1])]
		}
	case document.LevelInitiative:
		if len(parts) < 2 || parts[0] != "strategies" {
			return
		}

		if parts[1] == workspace.StrategyDirSlug {
			return
		}

		strategyPath := workspace.StrategyRelPath(parts[1])

		if doc.Parent == "" {
			doc.Parent = pathShortCode[strategyPath]
		}

		if doc.StrategyID == "" {
			doc.StrategyID = pathShortCode[strategyPath]
		}
	}
}

// destrategySlug maps the streamlined preset's "NULL" directory segment
// back to an empty slug, mirroring workspace.InitiativeRelPath's own
// substitution in the other direction.
func destrategySlug(segment string) string {
	if segment == workspace.StrategyDirSlug {
		return ""
	}

	return segment
}
