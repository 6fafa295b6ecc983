// Package metiserr defines the sentinel errors shared by every Metis
// service. Callers compare with errors.Is; service-level errors wrap one
// of these with a short, actionable message that names the short-code.
package metiserr

import "errors"

var (
	// ErrNotAMetisProject is returned when the workspace locator walks to
	// the filesystem root without finding a .metis/config.toml.
	ErrNotAMetisProject = errors.New("not a metis project")

	// ErrConfiguration means config.toml is missing or malformed; fatal
	// for sync.
	ErrConfiguration = errors.New("configuration error")

	// ErrParse means front matter was unparseable; per-file, non-fatal
	// during sync.
	ErrParse = errors.New("parse error")

	// ErrInvalidPhase means a phase tag is not a member of the
	// document's level's phase graph.
	ErrInvalidPhase = errors.New("invalid phase")

	// ErrInvalidTransition means (current, target) is not an edge of the
	// level's phase graph.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrExitCriteriaUnmet means exit_criteria_met is false and the body
	// has an unchecked item in its Exit Criteria section.
	ErrExitCriteriaUnmet = errors.New("exit criteria unmet")

	// ErrInvalidParent means the given parent short-code does not exist
	// or is not of the required level.
	ErrInvalidParent = errors.New("invalid parent")

	// ErrInvalidTarget means a reassignment target is not a valid
	// destination for the source's level.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrParentNotInPhase means the target parent exists but is not in
	// a phase that accepts new children.
	ErrParentNotInPhase = errors.New("parent not in required phase")

	// ErrPresetDisallowsType means the workspace's flight-level preset
	// does not permit creating a document of the requested level.
	ErrPresetDisallowsType = errors.New("preset disallows document type")

	// ErrNotFound means a short-code, filepath, or id did not resolve to
	// any document.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguous means a short-code prefix matched more than one
	// document.
	ErrAmbiguous = errors.New("ambiguous short-code")

	// ErrNoMatch means an edit_document search string matched nothing.
	ErrNoMatch = errors.New("no match")

	// ErrAmbiguousMatch means an edit_document search string matched
	// more than once and replace_all was not requested.
	ErrAmbiguousMatch = errors.New("ambiguous match")

	// ErrIO wraps filesystem failures.
	ErrIO = errors.New("io error")

	// ErrDatabase wraps SQLite failures.
	ErrDatabase = errors.New("database error")

	// ErrAlreadyInitialised means initialise_workspace was called on a
	// path that already has a .metis/ directory.
	ErrAlreadyInitialised = errors.New("workspace already initialised")

	// ErrAlreadyTerminal means transition_phase was called with no
	// target on a document already at its level's terminal phase.
	ErrAlreadyTerminal = errors.New("already at terminal phase")
)
