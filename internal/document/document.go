// Package document is the typed representation of every Metis document:
// identity, type, phase, parent, tags, timestamps, and body (spec.md §3.1).
//
// A Document models the "tagged variant" design note of spec.md §9: common
// fields live on the struct directly, and the less-common per-level fields
// (ADR/Strategy/Initiative/Task-only) are attached as optional pointers so a
// vision document carries no ADR baggage. Service code switches on Level.
package document

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/colliery-io/metis-sub002/internal/frontmatter"
	"github.com/colliery-io/metis-sub002/internal/metiserr"
)

// Level is one of the five document levels in spec.md §3.1.
type Level string

// The five document levels.
const (
	LevelVision     Level = "vision"
	LevelStrategy   Level = "strategy"
	LevelInitiative Level = "initiative"
	LevelTask       Level = "task"
	LevelADR        Level = "adr"
)

// Valid reports whether l is one of the five known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelVision, LevelStrategy, LevelInitiative, LevelTask, LevelADR:
		return true
	default:
		return false
	}
}

// Code is the single-letter short-code segment for the level
// (spec.md §4.3: vision→V, strategy→S, initiative→I, task→T, adr→A).
func (l Level) Code() string {
	switch l {
	case LevelVision:
		return "V"
	case LevelStrategy:
		return "S"
	case LevelInitiative:
		return "I"
	case LevelTask:
		return "T"
	case LevelADR:
		return "A"
	default:
		return "?"
	}
}

// frontmatterSchemaVersion is an internal implementation detail carried in
// every document's front matter, not a spec.md field: it lets a future
// Metis version detect and migrate older on-disk documents, the same
// discipline the teacher enforces for ticket payloads (schema_version).
const frontmatterSchemaVersion = 1

// ADRFields holds front-matter fields specific to architecture decision
// records.
type ADRFields struct {
	Number        int
	DecisionDate  string
	DecisionMaker string
	Supersedes    string
}

// StrategyFields holds front-matter fields specific to strategies.
type StrategyFields struct {
	RiskLevel    string
	Stakeholders []string
	ReviewDate   string
}

// InitiativeFields holds front-matter fields specific to initiatives.
type InitiativeFields struct {
	EstimatedComplexity string
	TechnicalLead       string
	RelatedADRs         []string
}

// TaskFields holds front-matter fields specific to tasks.
type TaskFields struct {
	BacklogCategory string // one of "", bug, feature, tech-debt
}

// Document is the parsed, typed form of a Metis markdown file.
type Document struct {
	// FilePath is relative to the workspace's .metis/ directory, using
	// forward slashes regardless of host OS (spec.md §4.5).
	FilePath string

	ID        string
	ShortCode string
	Level     Level
	Title     string
	Phase     string
	CreatedAt time.Time
	UpdatedAt time.Time

	Parent    string
	BlockedBy []string
	Tags      []string
	Archived  bool

	ExitCriteriaMet bool
	StrategyID      string
	InitiativeID    string

	ADR        *ADRFields
	Strategy   *StrategyFields
	Initiative *InitiativeFields
	Task       *TaskFields

	Body []byte

	// unknown carries any front-matter fields this package doesn't model,
	// so Render can re-emit them (spec.md §4.4: "unknown fields verbatim").
	unknown map[string]frontmatter.Value
}

// Parse decodes raw bytes (front matter + body) at filePath into a
// Document. filePath must already be relative to .metis/.
func Parse(filePath string, raw []byte) (*Document, error) {
	fm, body, err := frontmatter.ParseFrontmatter(raw, frontmatter.WithRequireDelimiter(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", metiserr.ErrParse, filePath, err)
	}

	title, _ := fm.GetString("title")
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: %s: empty title", metiserr.ErrParse, filePath)
	}

	d := &Document{FilePath: filePath, Body: body, unknown: map[string]frontmatter.Value{}}

	d.ID, _ = fm.GetString("id")
	d.ShortCode, _ = fm.GetString("short_code")
	level, _ := fm.GetString("level")
	d.Level = Level(level)
	d.Title = title
	d.CreatedAt = parseTimestamp(fm, "created_at")
	d.UpdatedAt = parseTimestamp(fm, "updated_at")
	d.Parent, _ = fm.GetString("parent")
	d.BlockedBy, _ = fm.GetList("blocked_by")
	d.Tags, _ = fm.GetList("tags")
	d.Archived, _ = fm.GetBool("archived")
	d.ExitCriteriaMet, _ = fm.GetBool("exit_criteria_met")
	d.StrategyID = nullableString(fm, "strategy_id")
	d.InitiativeID = nullableString(fm, "initiative_id")

	phase, extra, ok := PhaseTag(d.Tags)
	if ok {
		d.Phase = phase
	}

	if extra {
		// Non-fatal per spec.md §4.4: the first phase tag wins and the
		// others are ignored.
		_ = extra
	}

	switch d.Level {
	case LevelADR:
		d.ADR = &ADRFields{}
		if n, ok := fm.GetInt("number"); ok {
			d.ADR.Number = int(n)
		}

		d.ADR.DecisionDate, _ = fm.GetString("decision_date")
		d.ADR.DecisionMaker, _ = fm.GetString("decision_maker")
		d.ADR.Supersedes, _ = fm.GetString("supersedes")
	case LevelStrategy:
		d.Strategy = &StrategyFields{}
		d.Strategy.RiskLevel, _ = fm.GetString("risk_level")
		d.Strategy.Stakeholders, _ = fm.GetList("stakeholders")
		d.Strategy.ReviewDate, _ = fm.GetString("review_date")
	case LevelInitiative:
		d.Initiative = &InitiativeFields{}
		d.Initiative.EstimatedComplexity, _ = fm.GetString("estimated_complexity")
		d.Initiative.TechnicalLead, _ = fm.GetString("technical_lead")
		d.Initiative.RelatedADRs, _ = fm.GetList("related_adrs")
	case LevelTask:
		d.Task = &TaskFields{}
		d.Task.BacklogCategory, _ = fm.GetString("backlog_category")
	}

	for _, key := range knownKeys(d.Level) {
		delete(fm, key)
	}

	d.unknown = fm

	return d, nil
}

func parseTimestamp(fm frontmatter.Frontmatter, key string) time.Time {
	s, ok := fm.GetString(key)
	if !ok {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}

	return t
}

func nullableString(fm frontmatter.Frontmatter, key string) string {
	s, ok := fm.GetString(key)
	if !ok || s == "NULL" {
		return ""
	}

	return s
}

func knownKeys(level Level) []string {
	keys := []string{
		"schema_version", "id", "short_code", "level", "title", "created_at",
		"updated_at", "parent", "blocked_by", "tags", "archived",
		"exit_criteria_met", "strategy_id", "initiative_id",
	}

	switch level {
	case LevelADR:
		keys = append(keys, "number", "decision_date", "decision_maker", "supersedes")
	case LevelStrategy:
		keys = append(keys, "risk_level", "stakeholders", "review_date")
	case LevelInitiative:
		keys = append(keys, "estimated_complexity", "technical_lead", "related_adrs")
	case LevelTask:
		keys = append(keys, "backlog_category")
	}

	return keys
}

// Render re-serialises the document to front matter + body bytes, in the
// template's canonical field order followed by any unknown fields in
// stable (alphabetical) order. Per spec.md §8 the round trip holds "modulo
// field-order canonicalisation" — exact original byte position of unknown
// fields is not preserved, their presence and values are.
func (d *Document) Render() ([]byte, error) {
	fm, order := d.toFrontmatterMap()

	yamlText, err := fm.MarshalYAML(frontmatter.WithKeyOrder(order), frontmatter.WithYAMLDelimiters(false))
	if err != nil {
		return nil, fmt.Errorf("document: render %s: %w", d.FilePath, err)
	}

	var out strings.Builder

	out.WriteString("---\n")
	out.WriteString(yamlText)
	out.WriteString("---\n")
	out.Write(d.Body)

	return []byte(out.String()), nil
}

// toFrontmatterMap rebuilds the full frontmatter map (known fields in
// template order, followed by unknown fields sorted by key) shared by
// Render and FrontmatterJSON.
func (d *Document) toFrontmatterMap() (frontmatter.Frontmatter, []string) {
	fm := frontmatter.Frontmatter{}

	fm["schema_version"] = frontmatter.Value{Kind: frontmatter.ValueScalar, Scalar: frontmatter.Scalar{Kind: frontmatter.ScalarInt, Int: frontmatterSchemaVersion}}
	fm["id"] = frontmatter.StringValue(d.ID)
	fm["short_code"] = frontmatter.StringValue(d.ShortCode)
	fm["level"] = frontmatter.StringValue(string(d.Level))
	fm["title"] = frontmatter.StringValue(d.Title)
	fm["created_at"] = frontmatter.StringValue(d.CreatedAt.UTC().Format(time.RFC3339))
	fm["updated_at"] = frontmatter.StringValue(d.UpdatedAt.UTC().Format(time.RFC3339))
	fm["parent"] = frontmatter.StringValue(d.Parent)
	fm["blocked_by"] = frontmatter.ListValue(nonNilSlice(d.BlockedBy))
	fm["tags"] = frontmatter.ListValue(nonNilSlice(d.Tags))
	fm["archived"] = frontmatter.Value{Kind: frontmatter.ValueScalar, Scalar: frontmatter.Scalar{Kind: frontmatter.ScalarBool, Bool: d.Archived}}
	fm["exit_criteria_met"] = frontmatter.Value{Kind: frontmatter.ValueScalar, Scalar: frontmatter.Scalar{Kind: frontmatter.ScalarBool, Bool: d.ExitCriteriaMet}}
	fm["strategy_id"] = frontmatter.StringValue(orNull(d.StrategyID))
	fm["initiative_id"] = frontmatter.StringValue(orNull(d.InitiativeID))

	order := append([]string{}, knownKeys(d.Level)...)

	switch d.Level {
	case LevelADR:
		if d.ADR != nil {
			fm["number"] = frontmatter.IntValue(int64(d.ADR.Number))
			fm["decision_date"] = frontmatter.StringValue(d.ADR.DecisionDate)
			fm["decision_maker"] = frontmatter.StringValue(d.ADR.DecisionMaker)
			fm["supersedes"] = frontmatter.StringValue(d.ADR.Supersedes)
		}
	case LevelStrategy:
		if d.Strategy != nil {
			fm["risk_level"] = frontmatter.StringValue(d.Strategy.RiskLevel)
			fm["stakeholders"] = frontmatter.ListValue(nonNilSlice(d.Strategy.Stakeholders))
			fm["review_date"] = frontmatter.StringValue(d.Strategy.ReviewDate)
		}
	case LevelInitiative:
		if d.Initiative != nil {
			fm["estimated_complexity"] = frontmatter.StringValue(d.Initiative.EstimatedComplexity)
			fm["technical_lead"] = frontmatter.StringValue(d.Initiative.TechnicalLead)
			fm["related_adrs"] = frontmatter.ListValue(nonNilSlice(d.Initiative.RelatedADRs))
		}
	case LevelTask:
		if d.Task != nil && d.Task.BacklogCategory != "" {
			fm["backlog_category"] = frontmatter.StringValue(d.Task.BacklogCategory)
		} else {
			// backlog_category is the last task key in order; omit it when unset.
			order = order[:len(order)-1]
		}
	}

	unknownKeys := make([]string, 0, len(d.unknown))
	for k := range d.unknown {
		unknownKeys = append(unknownKeys, k)
	}

	sort.Strings(unknownKeys)

	for _, k := range unknownKeys {
		fm[k] = d.unknown[k]
		order = append(order, k)
	}

	return fm, order
}

// FrontmatterJSON renders the document's full frontmatter (known fields plus
// any unknown ones) as JSON, for storage in the index's frontmatter_json
// column (spec.md §4.5).
func (d *Document) FrontmatterJSON() ([]byte, error) {
	fm, _ := d.toFrontmatterMap()

	data, err := fm.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("document: frontmatter json %s: %w", d.FilePath, err)
	}

	return data, nil
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}

func orNull(s string) string {
	if s == "" {
		return "NULL"
	}

	return s
}

// PhaseTag extracts the "#phase/*" tag from tags. If more than one is
// present, extra is true and the first occurrence wins (spec.md §4.4).
func PhaseTag(tags []string) (phase string, extra bool, ok bool) {
	const prefix = "#phase/"

	for _, tag := range tags {
		if !strings.HasPrefix(tag, prefix) {
			continue
		}

		if ok {
			extra = true
			continue
		}

		phase = strings.TrimPrefix(tag, prefix)
		ok = true
	}

	return phase, extra, ok
}

// SetPhaseTag rewrites tags so exactly one "#phase/*" entry exists, set to
// phase. Used by the transition service (spec.md §4.7 step 5).
func SetPhaseTag(tags []string, phase string) []string {
	const prefix = "#phase/"

	out := make([]string, 0, len(tags)+1)
	replaced := false

	for _, tag := range tags {
		if strings.HasPrefix(tag, prefix) {
			if replaced {
				continue // drop extras, see PhaseTag
			}

			out = append(out, prefix+phase)
			replaced = true

			continue
		}

		out = append(out, tag)
	}

	if !replaced {
		out = append(out, prefix+phase)
	}

	return out
}

// ShortCodePattern is the grammar of spec.md §6.3.
const ShortCodePattern = "^[A-Z]{2,6}-[VSITA]-[0-9]{1,}$"

// FormatShortCode renders {prefix}-{code}-{n}, padding n to 4 digits below
// 10000 and leaving it un-padded at or above (spec.md §4.3, §9 open
// question).
func FormatShortCode(prefix string, level Level, n int) string {
	if n < 10000 {
		return fmt.Sprintf("%s-%s-%04d", prefix, level.Code(), n)
	}

	return fmt.Sprintf("%s-%s-%d", prefix, level.Code(), n)
}

// ParseShortCodeNumber extracts the numeric suffix of a short code. Used by
// counter recovery (spec.md §4.3) which must compare numerically, not
// lexically, per spec.md §9.
func ParseShortCodeNumber(shortCode string) (int, bool) {
	idx := strings.LastIndex(shortCode, "-")
	if idx == -1 {
		return 0, false
	}

	n, err := strconv.Atoi(shortCode[idx+1:])
	if err != nil {
		return 0, false
	}

	return n, true
}

// NextUpdatedAt returns a timestamp for "now" clamped to be strictly after
// previous, implementing the monotonic updated_at requirement of spec.md §5
// ("clamped to max(now, previous_updated_at + 1s)").
func NextUpdatedAt(now, previous time.Time) time.Time {
	if previous.IsZero() {
		return now
	}

	floor := previous.Add(time.Second)
	if now.Before(floor) {
		return floor
	}

	return now
}
