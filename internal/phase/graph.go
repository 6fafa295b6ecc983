// Package phase implements the per-level phase state machines of
// spec.md §4.7: a directed, mostly-linear graph per document level, with
// task's side-state "blocked" reachable from and returning to todo/active.
package phase

import "github.com/colliery-io/metis-sub002/internal/document"

// edge is one allowed (current, target) transition.
type edge struct {
	from, to string
}

// linearOrder lists each level's linear phase order; side edges off the
// main chain (task's "blocked" detour) live in sideEdges.
var linearOrder = map[document.Level][]string{
	document.LevelVision:     {"draft", "review", "published"},
	document.LevelStrategy:   {"shaping", "design", "ready", "active", "completed"},
	document.LevelInitiative: {"discovery", "design", "ready", "decompose", "active", "completed"},
	document.LevelTask:       {"backlog", "todo", "active", "completed"},
	document.LevelADR:        {"draft", "discussion", "decided", "superseded"},
}

// sideEdges are additional valid (from, to) pairs not on the linear chain.
var sideEdges = map[document.Level][]edge{
	document.LevelTask: {
		{"todo", "blocked"},
		{"active", "blocked"},
		{"blocked", "todo"},
		{"blocked", "active"},
	},
}

// InitialPhase returns the first phase new documents of level are created
// in.
func InitialPhase(level document.Level) string {
	order := linearOrder[level]
	if len(order) == 0 {
		return ""
	}

	return order[0]
}

// Valid reports whether phase is a member of level's phase graph,
// including side-state phases (e.g. a task's "blocked") that sit off the
// linear chain.
func Valid(level document.Level, phase string) bool {
	for _, p := range linearOrder[level] {
		if p == phase {
			return true
		}
	}

	for _, e := range sideEdges[level] {
		if e.to == phase {
			return true
		}
	}

	return false
}

// IsTerminal reports whether phase is level's terminal (last linear) phase.
func IsTerminal(level document.Level, phase string) bool {
	order := linearOrder[level]
	if len(order) == 0 {
		return false
	}

	return order[len(order)-1] == phase
}

// Next returns the phase immediately after current on level's linear
// chain. ok is false if current is terminal or off the linear chain (e.g.
// a task's "blocked" side-state), in which case callers must supply an
// explicit target.
func Next(level document.Level, current string) (next string, ok bool) {
	order := linearOrder[level]

	for i, p := range order {
		if p == current {
			if i == len(order)-1 {
				return "", false
			}

			return order[i+1], true
		}
	}

	return "", false
}

// ValidEdge reports whether (current, target) is an edge of level's phase
// graph: the next step on the linear chain, one of the level's side edges,
// or a no-op (current == target). Steps back to an earlier linear phase
// are not edges.
func ValidEdge(level document.Level, current, target string) bool {
	if current == target {
		return true // no-op transitions are always idempotent (spec.md §4.7)
	}

	order := linearOrder[level]

	currentIdx, targetIdx := -1, -1

	for i, p := range order {
		if p == current {
			currentIdx = i
		}

		if p == target {
			targetIdx = i
		}
	}

	if currentIdx != -1 && targetIdx == currentIdx+1 {
		return true
	}

	for _, e := range sideEdges[level] {
		if e.from == current && e.to == target {
			return true
		}
	}

	return false
}

// DefaultPhaseFor returns the placeholder phase sync imports a document
// under when its #phase/* tag isn't a member of its level's graph
// (spec.md §4.6: "import with phase = <level>_default").
func DefaultPhaseFor(level document.Level) string {
	return string(level) + "_default"
}
