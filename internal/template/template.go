// Package template is the "Template output / Context validator" collaborator
// of spec.md §2 component 2: a pure function from a [DocumentContext] to the
// initial bytes of a new document. spec.md §1 lists rich template rendering
// as an external, frontend-owned concern; this package implements only the
// minimal, spec-mandated shape every new document needs to satisfy the
// core's invariants (a non-empty title, the level/phase tags, and — for
// levels with an exit-criteria gate — a seed "Exit Criteria" section so
// transition_phase has something to check against from the start).
package template

import (
	"fmt"
	"strings"
	"time"

	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/metiserr"
	"github.com/colliery-io/metis-sub002/internal/phase"
)

// DocumentContext carries everything needed to seed a new document's front
// matter and body. Which fields apply depends on Level; create_document
// (internal/service) is responsible for populating only the relevant ones.
type DocumentContext struct {
	Level     document.Level
	ShortCode string
	Title     string
	Now       time.Time

	Parent       string // parent short-code, or "" for a backlog task/root vision
	StrategyID   string // denormalised ancestor, "" renders as NULL
	InitiativeID string

	BacklogCategory string // task only

	ADR        document.ADRFields
	Strategy   document.StrategyFields
	Initiative document.InitiativeFields
}

// Validate checks the fields that matter across every level: a non-empty
// level, a non-empty short-code, and a title that is non-empty after
// trimming (spec.md §3.1 invariant 7).
func (c DocumentContext) Validate() error {
	if !c.Level.Valid() {
		return fmt.Errorf("%w: unknown level %q", metiserr.ErrParse, c.Level)
	}

	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", metiserr.ErrParse)
	}

	if strings.TrimSpace(c.ShortCode) == "" {
		return fmt.Errorf("%w: short_code must not be empty", metiserr.ErrParse)
	}

	return nil
}

// slugID derives the "id" front-matter field from a title: lowercase,
// hyphenated, truncated to ~32 chars (spec.md §3.1).
func slugID(title string) string {
	lower := strings.ToLower(strings.TrimSpace(title))

	var b strings.Builder

	prevDash := false

	for _, r := range lower {
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

// seedBody returns the initial body for a level: a single title heading
// plus, for levels whose phase graph is gated by HasUnmetExitCriteria, a
// starter "Exit Criteria" checklist.
func seedBody(ctx DocumentContext) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n", ctx.Title)

	switch ctx.Level {
	case document.LevelStrategy, document.LevelInitiative:
		b.WriteString("\n## Exit Criteria\n\n- [ ] Define what \"done\" means for this " + string(ctx.Level) + "\n")
	case document.LevelADR:
		b.WriteString("\n## Context\n\n## Decision\n\n## Consequences\n")
	case document.LevelVision:
		b.WriteString("\n## Summary\n")
	case document.LevelTask:
		b.WriteString("\n## Description\n")
	}

	return []byte(b.String())
}

// Render builds the full initial file bytes for a new document: front
// matter in the level's canonical field order, followed by the seed body.
// It is the sole entry point new documents are created through; sync later
// imports whatever this (or a subsequent hand edit) produced.
func Render(ctx DocumentContext) ([]byte, error) {
	if err := ctx.Validate(); err != nil {
		return nil, err
	}

	doc := &document.Document{
		ID:           slugID(ctx.Title),
		ShortCode:    ctx.ShortCode,
		Level:        ctx.Level,
		Title:        ctx.Title,
		Phase:        phase.InitialPhase(ctx.Level),
		CreatedAt:    ctx.Now,
		UpdatedAt:    ctx.Now,
		Parent:       ctx.Parent,
		Tags:         []string{"#" + string(ctx.Level), "#phase/" + phase.InitialPhase(ctx.Level)},
		StrategyID:   ctx.StrategyID,
		InitiativeID: ctx.InitiativeID,
		Body:         seedBody(ctx),
	}

	switch ctx.Level {
	case document.LevelADR:
		adr := ctx.ADR
		doc.ADR = &adr
	case document.LevelStrategy:
		strategy := ctx.Strategy
		doc.Strategy = &strategy
	case document.LevelInitiative:
		initiative := ctx.Initiative
		doc.Initiative = &initiative
	case document.LevelTask:
		doc.Task = &document.TaskFields{BacklogCategory: ctx.BacklogCategory}
	}

	return doc.Render()
}
