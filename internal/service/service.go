// Package service is the façade of spec.md §6.2: it wires workspace
// location, configuration, the short-code allocator, the index, sync,
// phase transitions, archive, reassignment, and query into the single
// operation surface every frontend (CLI, TUI, MCP server, GUI) calls
// against. No frontend talks to internal/index or internal/syncsvc
// directly.
package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/colliery-io/metis-sub002/internal/archive"
	"github.com/colliery-io/metis-sub002/internal/config"
	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/edit"
	"github.com/colliery-io/metis-sub002/internal/fsx"
	"github.com/colliery-io/metis-sub002/internal/index"
	"github.com/colliery-io/metis-sub002/internal/metiserr"
	"github.com/colliery-io/metis-sub002/internal/phase"
	"github.com/colliery-io/metis-sub002/internal/query"
	"github.com/colliery-io/metis-sub002/internal/reassign"
	"github.com/colliery-io/metis-sub002/internal/shortcode"
	"github.com/colliery-io/metis-sub002/internal/syncsvc"
	"github.com/colliery-io/metis-sub002/internal/template"
	"github.com/colliery-io/metis-sub002/internal/workspace"
)

// lockTimeout bounds how long a service call waits for the workspace lock
// held by a concurrent process (spec.md §5: "will either block on the
// database lock or retry").
const lockTimeout = 30 * time.Second

// lockFileName is the dedicated flock target guarding the whole workspace,
// separate from metis.db itself so readers never contend with the SQLite
// file lock (spec.md §5 "shared resource: the SQLite index file").
const lockFileName = ".metis-lock"

// Service is a resolved, open workspace: the filesystem, the SQLite index,
// and the cross-process lock every mutating operation acquires.
type Service struct {
	FS     fsx.FS
	WS     *workspace.Workspace
	Idx    *index.Index
	locker *fsx.Locker
}

// InitializeWorkspace creates a new .metis/ directory at path with the
// given prefix and preset (spec.md §6.2 "initialise_workspace"). It fails
// with ErrAlreadyInitialised if .metis/config.toml already exists there.
func InitializeWorkspace(ctx context.Context, fs fsx.FS, path, prefix string, preset config.Preset) (*Service, error) {
	metisDir := filepath.Join(path, workspace.DirName)
	ws := workspace.New(fs, metisDir)

	exists, err := fs.Exists(ws.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("%w: checking %s: %w", metiserr.ErrIO, ws.ConfigPath(), err)
	}

	if exists {
		return nil, fmt.Errorf("%w: %s already has a .metis/config.toml", metiserr.ErrAlreadyInitialised, path)
	}

	if err = fs.MkdirAll(ws.Root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %w", metiserr.ErrIO, ws.Root, err)
	}

	cfg := config.ForPreset(strings.ToUpper(prefix), preset)
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", metiserr.ErrConfiguration, err)
	}

	if err = config.Save(ws, cfg); err != nil {
		return nil, err
	}

	idx, err := index.Open(ctx, ws.DBPath())
	if err != nil {
		return nil, err
	}

	if err = idx.UpsertConfigMirror(ctx, cfg.Prefix, cfg.StrategiesEnabled, cfg.InitiativesEnabled); err != nil {
		_ = idx.Close()

		return nil, err
	}

	return &Service{FS: fs, WS: ws, Idx: idx, locker: fsx.NewLocker(fs)}, nil
}

// Open locates an existing workspace above start and opens its index
// (spec.md §4.1). Callers must call Close when done.
func Open(ctx context.Context, fs fsx.FS, start string) (*Service, error) {
	ws, err := workspace.Locate(fs, start)
	if err != nil {
		return nil, err
	}

	idx, err := index.Open(ctx, ws.DBPath())
	if err != nil {
		return nil, err
	}

	return &Service{FS: fs, WS: ws, Idx: idx, locker: fsx.NewLocker(fs)}, nil
}

// Close releases the index handle.
func (s *Service) Close() error {
	return s.Idx.Close()
}

// withWorkspaceLock serialises mutating operations across processes
// (spec.md §5): sync, create, transition, archive, and reassign all take
// it before touching the filesystem or the index.
func (s *Service) withWorkspaceLock(fn func() error) error {
	lock, err := s.locker.LockWithTimeout(filepath.Join(s.WS.Root, lockFileName), lockTimeout)
	if err != nil {
		return fmt.Errorf("%w: acquiring workspace lock: %w", metiserr.ErrIO, err)
	}

	defer func() { _ = lock.Close() }()

	return fn()
}

// Sync reconciles the filesystem with the index (spec.md §4.6).
func (s *Service) Sync(ctx context.Context, now time.Time) (syncsvc.Stats, error) {
	var stats syncsvc.Stats

	err := s.withWorkspaceLock(func() error {
		var syncErr error

		stats, syncErr = syncsvc.Sync(ctx, s.WS, s.Idx, now)

		return syncErr
	})

	return stats, err
}

// CreateOptions supplies everything create_document needs beyond the
// workspace and level (spec.md §6.2 "create_document").
type CreateOptions struct {
	Level  document.Level
	Title  string
	Parent string // parent short-code; "" for vision/adr/backlog task/streamlined initiative

	BacklogCategory string // task only, used when Parent == ""

	ADR        document.ADRFields
	Strategy   document.StrategyFields
	Initiative document.InitiativeFields
}

// CreateDocument allocates a short-code, renders the initial file via
// internal/template, writes it, and upserts it into the index
// (spec.md §6.2 "create_document"). It returns the new short-code and its
// workspace-relative path.
func (s *Service) CreateDocument(ctx context.Context, opts CreateOptions, now time.Time) (shortCodeOut, filePathOut string, err error) {
	err = s.withWorkspaceLock(func() error {
		cfg, loadErr := config.Load(s.WS)
		if loadErr != nil {
			return loadErr
		}

		if !cfg.AllowsLevel(opts.Level == document.LevelStrategy, opts.Level == document.LevelInitiative) {
			return fmt.Errorf("%w: preset %s disallows %s", metiserr.ErrPresetDisallowsType, cfg.PresetName(), opts.Level)
		}

		if strings.TrimSpace(opts.Title) == "" {
			return fmt.Errorf("%w: title must not be empty", metiserr.ErrParse)
		}

		destPath, parentCode, strategyID, initiativeID, destErr := s.resolveCreateDestination(ctx, cfg, opts)
		if destErr != nil {
			return destErr
		}

		newCode, allocErr := shortcode.Allocate(ctx, s.Idx, cfg.Prefix, opts.Level)
		if allocErr != nil {
			return allocErr
		}

		rendered, renderErr := template.Render(template.DocumentContext{
			Level:           opts.Level,
			ShortCode:       newCode,
			Title:           opts.Title,
			Now:             now,
			Parent:          parentCode,
			StrategyID:      strategyID,
			InitiativeID:    initiativeID,
			BacklogCategory: opts.BacklogCategory,
			ADR:             opts.ADR,
			Strategy:        opts.Strategy,
			Initiative:      opts.Initiative,
		})
		if renderErr != nil {
			return renderErr
		}

		destAbs := s.WS.Abs(destPath)

		if mkdirErr := s.FS.MkdirAll(filepath.Dir(destAbs), 0o750); mkdirErr != nil {
			return fmt.Errorf("%w: mkdir for %s: %w", metiserr.ErrIO, destPath, mkdirErr)
		}

		writer := fsx.NewAtomicWriter(s.FS)
		if writeErr := writer.WriteBytes(destAbs, rendered); writeErr != nil {
			return fmt.Errorf("%w: write %s: %w", metiserr.ErrIO, destPath, writeErr)
		}

		doc, parseErr := document.Parse(destPath, rendered)
		if parseErr != nil {
			return parseErr
		}

		fileInfo, statErr := s.FS.Stat(destAbs)
		if statErr != nil {
			return fmt.Errorf("%w: stat %s: %w", metiserr.ErrIO, destPath, statErr)
		}

		if upsertErr := s.Idx.Upsert(ctx, doc, fsx.ContentHash(rendered), fileInfo.ModTime()); upsertErr != nil {
			return upsertErr
		}

		shortCodeOut, filePathOut = newCode, destPath

		return nil
	})

	return shortCodeOut, filePathOut, err
}

// resolveCreateDestination validates the requested parent/category and
// computes the new document's workspace-relative path plus the
// parent/strategy_id/initiative_id it should carry (spec.md §3.2, §4.9).
func (s *Service) resolveCreateDestination(ctx context.Context, cfg config.Config, opts CreateOptions) (destPath, parentCode, strategyID, initiativeID string, err error) {
	switch opts.Level {
	case document.LevelVision:
		return workspace.VisionRelPath, "", "", "", nil

	case document.LevelADR:
		return workspace.ADRRelPath(slugify(opts.Title)), "", "", "", nil

	case document.LevelStrategy:
		parentRow, findErr := s.Idx.FindByShortCode(ctx, opts.Parent)
		if findErr != nil {
			return "", "", "", "", fmt.Errorf("%w: strategy requires a vision parent: %w", metiserr.ErrInvalidParent, findErr)
		}

		if document.Level(parentRow.DocumentType) != document.LevelVision {
			return "", "", "", "", fmt.Errorf("%w: %s is not a vision", metiserr.ErrInvalidParent, opts.Parent)
		}

		return workspace.StrategyRelPath(slugify(opts.Title)), parentRow.ShortCode, "", "", nil

	case document.LevelInitiative:
		if !cfg.StrategiesEnabled {
			return workspace.InitiativeRelPath("", slugify(opts.Title)), "", "", "", nil
		}

		parentRow, findErr := s.Idx.FindByShortCode(ctx, opts.Parent)
		if findErr != nil {
			return "", "", "", "", fmt.Errorf("%w: initiative requires a strategy parent: %w", metiserr.ErrInvalidParent, findErr)
		}

		if document.Level(parentRow.DocumentType) != document.LevelStrategy {
			return "", "", "", "", fmt.Errorf("%w: %s is not a strategy", metiserr.ErrInvalidParent, opts.Parent)
		}

		strategySlug := filepath.Base(filepath.Dir(parentRow.FilePath))

		return workspace.InitiativeRelPath(strategySlug, slugify(opts.Title)), parentRow.ShortCode, parentRow.ShortCode, "", nil

	case document.LevelTask:
		return s.resolveTaskDestination(ctx, opts)

	default:
		return "", "", "", "", fmt.Errorf("%w: unknown level %q", metiserr.ErrParse, opts.Level)
	}
}

func (s *Service) resolveTaskDestination(ctx context.Context, opts CreateOptions) (destPath, parentCode, strategyID, initiativeID string, err error) {
	if opts.Parent == "" {
		if opts.BacklogCategory == "" {
			return "", "", "", "", fmt.Errorf("%w: task needs either an initiative parent or a backlog category", metiserr.ErrInvalidParent)
		}

		return workspace.BacklogTaskRelPath(opts.BacklogCategory, slugify(opts.Title)), "", "", "", nil
	}

	parentRow, findErr := s.Idx.FindByShortCode(ctx, opts.Parent)
	if findErr != nil {
		return "", "", "", "", findErr
	}

	if document.Level(parentRow.DocumentType) != document.LevelInitiative {
		return "", "", "", "", fmt.Errorf("%w: %s is not an initiative", metiserr.ErrInvalidParent, opts.Parent)
	}

	if parentRow.Phase != "decompose" && parentRow.Phase != "active" {
		return "", "", "", "", fmt.Errorf("%w: initiative %s is in phase %q, must be decompose or active", metiserr.ErrParentNotInPhase, opts.Parent, parentRow.Phase)
	}

	parts := strings.Split(parentRow.FilePath, "/")
	if len(parts) < 4 || parts[0] != "strategies" || parts[2] != "initiatives" {
		return "", "", "", "", fmt.Errorf("%w: unexpected initiative path %s", metiserr.ErrIO, parentRow.FilePath)
	}

	strategySlug := parts[1]
	if strategySlug == workspace.StrategyDirSlug {
		strategySlug = ""
	}

	strategyCode := ""

	if strategySlug != "" {
		if strategyRow, strategyErr := s.Idx.FindByFilepath(ctx, workspace.StrategyRelPath(strategySlug)); strategyErr == nil {
			strategyCode = strategyRow.ShortCode
		}
	}

	return workspace.TaskRelPath(strategySlug, parts[3], slugify(opts.Title)), parentRow.ShortCode, strategyCode, parentRow.ShortCode, nil
}

// slugify is the same title->id derivation internal/template uses,
// exposed here so path construction and the rendered id field agree.
func slugify(title string) string {
	var b strings.Builder

	prevDash := false

	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash && b.Len() > 0 {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > 32 {
		slug = strings.Trim(slug[:32], "-")
	}

	if slug == "" {
		slug = "untitled"
	}

	return slug
}

// ReadDocument resolves shortCode and returns its parsed document
// (spec.md §6.2 "read_document").
func (s *Service) ReadDocument(ctx context.Context, shortCode string) (*document.Document, error) {
	return query.Read(ctx, s.WS, s.Idx, shortCode)
}

// ListDocuments returns documents matching filter (spec.md §6.2
// "list_documents").
func (s *Service) ListDocuments(ctx context.Context, filter query.Filter) ([]index.Row, error) {
	return query.List(ctx, s.Idx, filter)
}

// SearchDocuments runs a full-text query (spec.md §6.2 "search_documents").
func (s *Service) SearchDocuments(ctx context.Context, q string, limit int) ([]index.SearchResult, error) {
	return query.Search(ctx, s.Idx, q, limit)
}

// AvailableParents lists valid parents for a new or reassigned document of
// childType (spec.md §6.2 "available_parents").
func (s *Service) AvailableParents(ctx context.Context, childType document.Level) ([]index.Row, error) {
	cfg, err := config.Load(s.WS)
	if err != nil {
		return nil, err
	}

	return query.AvailableParents(ctx, s.Idx, cfg, childType)
}

// ResolveShortCode resolves an exact or unique-prefix short-code match.
func (s *Service) ResolveShortCode(ctx context.Context, prefix string) (string, error) {
	return query.ResolveShortCode(ctx, s.Idx, prefix)
}

// EditDocument performs a literal search/replace against shortCode's body
// (spec.md §6.2 "edit_document").
func (s *Service) EditDocument(ctx context.Context, shortCode, search, replace string, replaceAll bool, now time.Time) (int, error) {
	var count int

	err := s.withWorkspaceLock(func() error {
		var editErr error

		count, editErr = edit.Edit(ctx, s.WS, s.Idx, shortCode, search, replace, replaceAll, now)

		return editErr
	})

	return count, err
}

// TransitionPhase advances or sets shortCode's phase (spec.md §6.2
// "transition_phase").
func (s *Service) TransitionPhase(ctx context.Context, shortCode, target string, force bool, now time.Time) (string, error) {
	var newPhase string

	err := s.withWorkspaceLock(func() error {
		var transErr error

		newPhase, transErr = phase.Transition(ctx, s.WS, s.Idx, shortCode, target, force, now)

		return transErr
	})

	return newPhase, err
}

// ArchiveDocument moves shortCode's subtree under archived/ and syncs
// immediately afterward so the index reflects the moves via short-code
// matching (spec.md §4.8 step 5, §6.2 "archive_document").
func (s *Service) ArchiveDocument(ctx context.Context, shortCode string, now time.Time) ([]string, error) {
	var paths []string

	err := s.withWorkspaceLock(func() error {
		var archiveErr error

		paths, archiveErr = archive.Archive(ctx, s.WS, s.Idx, shortCode, now)
		if archiveErr != nil {
			return archiveErr
		}

		_, syncErr := syncsvc.Sync(ctx, s.WS, s.Idx, now)

		return syncErr
	})

	return paths, err
}

// ReassignParent moves a task between initiatives or into the backlog and
// syncs immediately afterward (spec.md §4.9 step 5, §6.2
// "reassign_parent").
func (s *Service) ReassignParent(ctx context.Context, shortCode string, opts reassign.Options, now time.Time) (string, error) {
	var newPath string

	err := s.withWorkspaceLock(func() error {
		var reassignErr error

		newPath, reassignErr = reassign.Reassign(ctx, s.WS, s.Idx, shortCode, opts, now)
		if reassignErr != nil {
			return reassignErr
		}

		_, syncErr := syncsvc.Sync(ctx, s.WS, s.Idx, now)

		return syncErr
	})

	return newPath, err
}
