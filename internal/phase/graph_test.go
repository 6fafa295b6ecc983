package phase_test

import (
	"testing"

	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/phase"
)

func TestInitialPhase(t *testing.T) {
	t.Parallel()

	cases := map[document.Level]string{
		document.LevelVision:     "draft",
		document.LevelStrategy:   "shaping",
		document.LevelInitiative: "discovery",
		document.LevelTask:       "backlog",
		document.LevelADR:        "draft",
	}

	for level, want := range cases {
		if got := phase.InitialPhase(level); got != want {
			t.Errorf("InitialPhase(%s) = %q, want %q", level, got, want)
		}
	}
}

func TestValidEdge_LinearAdvance(t *testing.T) {
	t.Parallel()

	if !phase.ValidEdge(document.LevelTask, "todo", "active") {
		t.Error("todo -> active should be valid")
	}

	if phase.ValidEdge(document.LevelTask, "todo", "completed") {
		t.Error("todo -> completed should skip active and be invalid")
	}
}

func TestValidEdge_NoOpIsAlwaysValid(t *testing.T) {
	t.Parallel()

	if !phase.ValidEdge(document.LevelInitiative, "ready", "ready") {
		t.Error("same-phase transition should be a valid no-op")
	}
}

func TestValidEdge_TaskBlockedSideEdges(t *testing.T) {
	t.Parallel()

	for _, e := range [][2]string{
		{"todo", "blocked"}, {"active", "blocked"},
		{"blocked", "todo"}, {"blocked", "active"},
	} {
		if !phase.ValidEdge(document.LevelTask, e[0], e[1]) {
			t.Errorf("%s -> %s should be a valid side-edge", e[0], e[1])
		}
	}

	if phase.ValidEdge(document.LevelTask, "blocked", "completed") {
		t.Error("blocked -> completed should not be a valid edge")
	}
}

func TestValidEdge_BackwardsReopening(t *testing.T) {
	t.Parallel()

	if phase.ValidEdge(document.LevelInitiative, "ready", "discovery") {
		t.Error("going backwards on the linear chain is not modeled as a valid edge without force")
	}
}

func TestNext(t *testing.T) {
	t.Parallel()

	next, ok := phase.Next(document.LevelVision, "draft")
	if !ok || next != "review" {
		t.Errorf("Next(vision, draft) = (%q, %v), want (review, true)", next, ok)
	}

	_, ok = phase.Next(document.LevelVision, "published")
	if ok {
		t.Error("Next on a terminal phase should report ok=false")
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	if !phase.IsTerminal(document.LevelADR, "superseded") {
		t.Error("superseded should be adr's terminal phase")
	}

	if phase.IsTerminal(document.LevelADR, "draft") {
		t.Error("draft should not be terminal")
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	if !phase.Valid(document.LevelTask, "blocked") {
		t.Error("blocked should be a member of task's phase graph even off the linear chain")
	}

	if phase.Valid(document.LevelTask, "nonexistent") {
		t.Error("unknown phase should not be valid")
	}
}

func TestDefaultPhaseFor(t *testing.T) {
	t.Parallel()

	if got := phase.DefaultPhaseFor(document.LevelTask); got != "task_default" {
		t.Errorf("DefaultPhaseFor(task) = %q, want task_default", got)
	}
}
