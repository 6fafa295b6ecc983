package document_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colliery-io/metis-sub002/internal/document"
)

func TestFormatShortCode_PadsBelow10000(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ACME-T-0007", document.FormatShortCode("ACME", document.LevelTask, 7))
}

func TestFormatShortCode_UnpaddedAt10000(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ACME-T-10000", document.FormatShortCode("ACME", document.LevelTask, 10000))
	assert.Equal(t, "ACME-T-10042", document.FormatShortCode("ACME", document.LevelTask, 10042))
}

func TestParseShortCodeNumber(t *testing.T) {
	t.Parallel()

	n, ok := document.ParseShortCodeNumber("ACME-T-0007")
	require.True(t, ok)
	assert.Equal(t, 7, n)

	n, ok = document.ParseShortCodeNumber("ACME-T-10042")
	require.True(t, ok)
	assert.Equal(t, 10042, n, "must compare numerically, not lexically (spec.md §9)")

	_, ok = document.ParseShortCodeNumber("garbage")
	assert.False(t, ok, "malformed short-code should not parse")
}

func TestPhaseTag_FirstWins(t *testing.T) {
	t.Parallel()

	tags := []string{"#task", "#phase/todo", "#phase/active"}

	p, extra, ok := document.PhaseTag(tags)
	require.True(t, ok)
	assert.True(t, extra, "a second #phase/* tag should be reported as extra")
	assert.Equal(t, "todo", p)
}

func TestPhaseTag_None(t *testing.T) {
	t.Parallel()

	_, _, ok := document.PhaseTag([]string{"#task"})
	assert.False(t, ok, "no #phase/ tag should report ok=false")
}

func TestSetPhaseTag_ReplacesSingleOccurrence(t *testing.T) {
	t.Parallel()

	got := document.SetPhaseTag([]string{"#task", "#phase/todo"}, "active")
	assert.Equal(t, []string{"#task", "#phase/active"}, got)
}

func TestSetPhaseTag_AppendsWhenAbsent(t *testing.T) {
	t.Parallel()

	got := document.SetPhaseTag([]string{"#task"}, "todo")
	assert.Equal(t, []string{"#task", "#phase/todo"}, got)
}

func TestSetPhaseTag_CollapsesDuplicates(t *testing.T) {
	t.Parallel()

	got := document.SetPhaseTag([]string{"#phase/todo", "#phase/active"}, "completed")

	count := 0

	for _, tag := range got {
		if tag == "#phase/completed" {
			count++
		}
	}

	assert.Equal(t, 1, count, "want exactly one #phase/completed tag, got %v", got)
}

func TestNextUpdatedAt_ClampsToPreviousPlusOneSecond(t *testing.T) {
	t.Parallel()

	previous := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := previous // same instant, e.g. clock didn't advance between calls

	got := document.NextUpdatedAt(now, previous)
	assert.True(t, got.Equal(previous.Add(time.Second)), "got %v", got)
}

func TestNextUpdatedAt_UsesNowWhenAhead(t *testing.T) {
	t.Parallel()

	previous := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := previous.Add(time.Hour)

	assert.True(t, document.NextUpdatedAt(now, previous).Equal(now))
}

func TestNextUpdatedAt_ZeroPrevious(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, document.NextUpdatedAt(now, time.Time{}).Equal(now))
}

func TestLevel_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, document.LevelTask.Valid())
	assert.False(t, document.Level("bogus").Valid())
}

func TestParse_RejectsEmptyTitle(t *testing.T) {
	t.Parallel()

	raw := []byte("---\n" +
		"id: x\n" +
		"short_code: ACME-T-0001\n" +
		"level: task\n" +
		"title: \"   \"\n" +
		"created_at: 2026-01-01T00:00:00Z\n" +
		"updated_at: 2026-01-01T00:00:00Z\n" +
		"tags: [\"#task\", \"#phase/backlog\"]\n" +
		"---\nbody\n")

	_, err := document.Parse("backlog/x.md", raw)
	require.Error(t, err, "blank title should be rejected")
}

func TestParseRenderRoundTrip(t *testing.T) {
	t.Parallel()

	raw := []byte("---\n" +
		"schema_version: 1\n" +
		"id: add-lru\n" +
		"short_code: ACME-T-0001\n" +
		"level: task\n" +
		"title: Add LRU\n" +
		"created_at: 2026-01-01T00:00:00Z\n" +
		"updated_at: 2026-01-01T00:00:00Z\n" +
		"parent: \"\"\n" +
		"blocked_by: []\n" +
		"tags: [\"#task\", \"#phase/todo\"]\n" +
		"archived: false\n" +
		"exit_criteria_met: false\n" +
		"strategy_id: NULL\n" +
		"initiative_id: NULL\n" +
		"---\n# Add LRU\n\nBody text.\n")

	doc, err := document.Parse("backlog/feature/add-lru.md", raw)
	require.NoError(t, err)

	assert.Empty(t, doc.StrategyID, "NULL literal should parse as absent")
	assert.Empty(t, doc.InitiativeID, "NULL literal should parse as absent")

	out, err := doc.Render()
	require.NoError(t, err)

	reparsed, err := document.Parse("backlog/feature/add-lru.md", out)
	require.NoError(t, err)

	// Compare the two parses field-by-field rather than requiring
	// byte-identical frontmatter: the round-trip law (spec.md §8) holds
	// "modulo field-order canonicalisation", and unexported fields (the
	// unknown-key bag) aren't comparable directly.
	diff := cmp.Diff(doc, reparsed, cmpopts.IgnoreUnexported(document.Document{}))
	assert.Empty(t, diff, "parse(write(fm, body)) should equal (fm, body) modulo field order")

	assert.Empty(t, reparsed.StrategyID)
	assert.Empty(t, reparsed.InitiativeID)
}
