// Package workspace locates the .metis/ directory that anchors every Metis
// operation (spec.md §4.1) and centralises the on-disk layout of §3.2 so
// every other service builds paths the same way.
package workspace

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/fsx"
	"github.com/colliery-io/metis-sub002/internal/metiserr"
)

// DirName is the workspace directory's fixed name.
const DirName = ".metis"

// ConfigFileName is the authoritative configuration file's fixed name.
const ConfigFileName = "config.toml"

// DBFileName is the rebuildable SQLite index's fixed name.
const DBFileName = "metis.db"

// Workspace is a resolved .metis/ directory: an absolute path plus the
// filesystem used to reach it.
type Workspace struct {
	FS   fsx.FS
	Root string // absolute path to the .metis directory
}

// Locate walks upward from start until it finds a directory containing
// .metis/config.toml, returning the resolved .metis path. It fails with
// ErrNotAMetisProject if the filesystem root is reached first.
func Locate(fs fsx.FS, start string) (*Workspace, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", metiserr.ErrIO, err)
	}

	for {
		candidate := filepath.Join(dir, DirName)

		exists, err := fs.Exists(filepath.Join(candidate, ConfigFileName))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", metiserr.ErrIO, err)
		}

		if exists {
			return &Workspace{FS: fs, Root: candidate}, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("%w: no .metis/config.toml above %s", metiserr.ErrNotAMetisProject, start)
		}

		dir = parent
	}
}

// New wraps an already-known .metis directory without walking the
// filesystem; used right after initialise_workspace creates it.
func New(fs fsx.FS, metisDir string) *Workspace {
	return &Workspace{FS: fs, Root: metisDir}
}

// Abs resolves a path stored relative to the workspace (spec.md §4.5: "all
// paths stored in the index are relative to .metis/") to an absolute
// filesystem path.
func (w *Workspace) Abs(relPath string) string {
	return filepath.Join(w.Root, filepath.FromSlash(relPath))
}

// Rel converts an absolute path under the workspace back to the
// slash-separated relative form stored in the index.
func (w *Workspace) Rel(absPath string) (string, error) {
	rel, err := filepath.Rel(w.Root, absPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", metiserr.ErrIO, err)
	}

	return filepath.ToSlash(rel), nil
}

// ConfigPath is the absolute path to config.toml.
func (w *Workspace) ConfigPath() string { return filepath.Join(w.Root, ConfigFileName) }

// DBPath is the absolute path to metis.db.
func (w *Workspace) DBPath() string { return filepath.Join(w.Root, DBFileName) }

// VisionRelPath is the singleton vision document's path.
const VisionRelPath = "vision.md"

// StrategyDirSlug is "NULL" when the streamlined/direct preset skips the
// strategy level (spec.md §3.2).
const StrategyDirSlug = "NULL"

// StrategyRelPath returns the relative path of a strategy document.
func StrategyRelPath(slug string) string {
	return join("strategies", slug, "strategy.md")
}

// InitiativeRelPath returns the relative path of an initiative document. If
// strategySlug is empty, the streamlined "NULL" strategy segment is used.
func InitiativeRelPath(strategySlug, initiativeSlug string) string {
	if strategySlug == "" {
		strategySlug = StrategyDirSlug
	}

	return join("strategies", strategySlug, "initiatives", initiativeSlug, "initiative.md")
}

// TaskRelPath returns the relative path of a task filed under an
// initiative.
func TaskRelPath(strategySlug, initiativeSlug, taskSlug string) string {
	if strategySlug == "" {
		strategySlug = StrategyDirSlug
	}

	return join("strategies", strategySlug, "initiatives", initiativeSlug, "tasks", taskSlug+".md")
}

// BacklogTaskRelPath returns the relative path of an unassigned task.
func BacklogTaskRelPath(category, taskSlug string) string {
	return join("backlog", category, taskSlug+".md")
}

// ADRRelPath returns the relative path of an architecture decision record.
func ADRRelPath(slug string) string {
	return join("adrs", slug+".md")
}

// ArchivedRelPath mirrors a relative path under archived/, preserving
// internal structure (spec.md §4.8).
func ArchivedRelPath(original string) string {
	return join("archived", original)
}

// IsArchivedPath reports whether rel lives under archived/ — the invariant
// spec.md §3.1.5 and §8.3 require to hold in both directions.
func IsArchivedPath(rel string) bool {
	return rel == "archived" || strings.HasPrefix(rel, "archived/")
}

// BacklogCategoryDir maps a backlog category to its directory segment.
func BacklogCategoryDir(category string) string {
	switch category {
	case "bug", "feature", "tech-debt":
		return category
	default:
		return category
	}
}

// LevelDirDepth hints how many path segments a file of the given level has
// under its strategy/initiative ancestors; used by sync's path-based
// lineage inference (spec.md §4.6 step 7).
func LevelDirDepth(level document.Level) int {
	switch level {
	case document.LevelTask:
		return 2 // strategies/<s>/initiatives/<i>/tasks/<slug>.md (ancestor dirs beyond strategies/)
	case document.LevelInitiative:
		return 1
	default:
		return 0
	}
}

func join(parts ...string) string {
	return strings.Join(parts, "/")
}
