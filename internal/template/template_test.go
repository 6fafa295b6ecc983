package template_test

import (
	"strings"
	"testing"
	"time"

	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/template"
)

func Test_Render_ProducesParsableDocument_When_ContextValid(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)

	raw, err := template.Render(template.DocumentContext{
		Level:     document.LevelInitiative,
		ShortCode: "ACME-I-0001",
		Title:     "Caching Layer",
		Now:       now,
		Parent:    "ACME-S-0001",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	doc, err := document.Parse("strategies/perf/initiatives/caching/initiative.md", raw)
	if err != nil {
		t.Fatalf("Parse rendered bytes: %v", err)
	}

	if doc.ShortCode != "ACME-I-0001" {
		t.Errorf("ShortCode = %q, want ACME-I-0001", doc.ShortCode)
	}

	if doc.Phase != "discovery" {
		t.Errorf("Phase = %q, want discovery (initiative's initial phase)", doc.Phase)
	}

	if doc.Parent != "ACME-S-0001" {
		t.Errorf("Parent = %q, want ACME-S-0001", doc.Parent)
	}

	wantTags := []string{"#initiative", "#phase/discovery"}
	if strings.Join(doc.Tags, ",") != strings.Join(wantTags, ",") {
		t.Errorf("Tags = %v, want %v", doc.Tags, wantTags)
	}

	if !strings.Contains(string(doc.Body), "Exit Criteria") {
		t.Errorf("body missing seeded Exit Criteria section: %s", doc.Body)
	}
}

func Test_Render_RejectsEmptyTitle(t *testing.T) {
	t.Parallel()

	_, err := template.Render(template.DocumentContext{
		Level:     document.LevelTask,
		ShortCode: "ACME-T-0001",
		Title:     "   ",
		Now:       time.Now(),
	})
	if err == nil {
		t.Fatal("Render: want error for empty title, got nil")
	}
}

func Test_Render_SetsADRFields_When_LevelIsADR(t *testing.T) {
	t.Parallel()

	raw, err := template.Render(template.DocumentContext{
		Level:     document.LevelADR,
		ShortCode: "ACME-A-0001",
		Title:     "Use SQLite for the index",
		Now:       time.Now(),
		ADR:       document.ADRFields{Number: 1, DecisionMaker: "team"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	doc, err := document.Parse("adrs/use-sqlite-for-the-index.md", raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if doc.ADR == nil || doc.ADR.Number != 1 || doc.ADR.DecisionMaker != "team" {
		t.Errorf("ADR fields not preserved: %+v", doc.ADR)
	}

	if doc.Phase != "draft" {
		t.Errorf("Phase = %q, want draft", doc.Phase)
	}
}
