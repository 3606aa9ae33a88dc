// Package assistant – summary.go derives structured artifacts from
// accumulated session history: checkpoint notes, end-of-session
// summaries, and readiness analysis. Results are written back through
// the session store's partial update, never into conversation history.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/soulpath/soulbot/pkg/soulbot/session"
)

// CheckpointInterval is how many assistant turns pass between lightweight
// "what next" checkpoints.
const CheckpointInterval = 5

// Section markers the generation collaborator is instructed to emit.
// The parser treats them as the only structure in the reply; anything
// the model omits simply stays empty.
const (
	sectionInsights    = "INSIGHTS"
	sectionPatterns    = "PATTERNS"
	sectionCoreIssue   = "CORE ISSUE"
	sectionDifficulty  = "DIFFICULTIES"
	sectionThemes      = "THEMES"
	sectionNextSteps   = "NEXT STEPS"
	sectionHealingPath = "HEALING PATH"
	sectionSphere      = "DOMINANT SPHERE"
	sectionArchetype   = "ARCHETYPE"
	sectionTracks      = "TRACKS"
)

var summaryMarkers = []string{
	sectionInsights, sectionPatterns, sectionCoreIssue, sectionDifficulty,
	sectionThemes, sectionNextSteps, sectionHealingPath,
	sectionSphere, sectionArchetype, sectionTracks,
}

// SessionSummary is the parsed end-of-session artifact. Every field
// defaults to empty: a missing section is expected input, not an error.
type SessionSummary struct {
	Insights     []string
	Patterns     []string
	CoreIssue    string
	Difficulties []string
	Themes       []string
	NextSteps    []string
	HealingPath  string
}

// TrackRecommendation is one ranked program track with its supporting
// evidence, from the readiness analysis.
type TrackRecommendation struct {
	Track    string
	Evidence string
}

// Analyzer reads a session, calls the generation collaborator once, and
// writes parsed results back via the store's partial update.
type Analyzer struct {
	store    *session.Store
	gen      Generator
	activity *ActivityClient
	logger   *slog.Logger
}

// NewAnalyzer creates a summary/readiness analyzer. activity may be nil;
// readiness analysis then uses session history only.
func NewAnalyzer(store *session.Store, gen Generator, activity *ActivityClient, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		store:    store,
		gen:      gen,
		activity: activity,
		logger:   logger.With("component", "analyzer"),
	}
}

// ShouldCheckpoint reports whether the session just crossed a checkpoint
// threshold (every 5th assistant turn).
func ShouldCheckpoint(questionCount int) bool {
	return questionCount > 0 && questionCount%CheckpointInterval == 0
}

// Checkpoint generates the lightweight "what next" note for the session
// and records it in the extension map.
func (a *Analyzer) Checkpoint(ctx context.Context, sess *session.Session) error {
	prompt := `Review the dialogue so far. In 2-3 sentences, note what
direction the conversation should take next and one theme worth going
deeper on. Address the guide, not the client.`

	note, err := a.gen.Generate(ctx, prompt, sess.LastTurns(CheckpointInterval*2), GenerationParams{MaxTokens: 200, Temperature: 0.4})
	if err != nil {
		return fmt.Errorf("checkpoint generation: %w", err)
	}

	// A session that reached a checkpoint has moved past intake.
	deepWork := session.StateDeepWork
	return a.store.UpdateData(ctx, sess.ID, session.Update{
		State: &deepWork,
		Extra: map[string]string{
			fmt.Sprintf("checkpoint_%d", sess.QuestionCount): note,
		},
	})
}

// Finalize generates the full structured end-of-session summary, parses
// it, and writes patterns, core issue, profile hints, and the summary
// text into the session. Parsing shortfalls are absorbed: whatever
// sections came through are kept, the rest stay empty.
func (a *Analyzer) Finalize(ctx context.Context, sess *session.Session) (*SessionSummary, error) {
	prompt := fmt.Sprintf(`Summarize this completed %s session. Use EXACTLY
these section markers, one per line, each followed by its content:

INSIGHTS:
PATTERNS:
CORE ISSUE:
DIFFICULTIES:
THEMES:
NEXT STEPS:
HEALING PATH:
DOMINANT SPHERE:
ARCHETYPE:

Under PATTERNS, DIFFICULTIES, THEMES, NEXT STEPS and INSIGHTS list one
item per line prefixed with "- ". Keep CORE ISSUE to one sentence.`, sess.Type)

	raw, err := a.gen.Generate(ctx, prompt, sess.History, GenerationParams{MaxTokens: 900, Temperature: 0.4})
	if err != nil {
		return nil, fmt.Errorf("summary generation: %w", err)
	}

	sections := parseSections(raw, summaryMarkers)
	summary := summaryFromSections(sections)
	a.warnMissing(sess.ID, sections, sectionInsights, sectionPatterns, sectionCoreIssue, sectionHealingPath)

	upd := session.Update{
		Patterns: summary.Patterns,
		Extra: map[string]string{
			"final_summary": raw,
		},
	}
	if summary.CoreIssue != "" {
		upd.CoreIssue = &summary.CoreIssue
	}
	if sphere := strings.TrimSpace(sections[sectionSphere]); sphere != "" {
		profile := sess.Profile
		if profile == nil {
			profile = &session.MetaphysicalProfile{}
		}
		profile.DominantSphere = strings.ToLower(sphere)
		if arch := strings.TrimSpace(sections[sectionArchetype]); arch != "" {
			profile.Archetype = arch
		}
		upd.Profile = profile
	}

	if err := a.store.UpdateData(ctx, sess.ID, upd); err != nil {
		return nil, err
	}
	return summary, nil
}

// Readiness ranks the program tracks the user looks prepared for,
// optionally enriched by the activity-history collaborator. Its absence
// or failure degrades to session-history-only analysis.
func (a *Analyzer) Readiness(ctx context.Context, sess *session.Session) ([]TrackRecommendation, error) {
	prompt := `Based on the dialogue, rank which program tracks this person
is ready for, most ready first. Use EXACTLY this format:

TRACKS:
- <track name>: <one sentence of supporting evidence>

Known tracks: foundations, deep-healing, past-life-intensive,
abundance-path, relationship-alchemy.`

	turns := make([]session.Turn, 0, len(sess.History)+1)
	turns = append(turns, sess.History...)

	if a.activity != nil {
		transcript, err := a.activity.RecentActivity(ctx, sess.UserID)
		if err != nil {
			a.logger.Warn("activity collaborator unavailable, using session history only",
				"session", sess.ID, "err", err)
		} else if transcript != "" {
			turns = append(turns, session.Turn{
				Role:    session.RoleUser,
				Content: "Recent platform activity:\n" + transcript,
			})
		}
	}

	raw, err := a.gen.Generate(ctx, prompt, turns, GenerationParams{MaxTokens: 600, Temperature: 0.3})
	if err != nil {
		return nil, fmt.Errorf("readiness generation: %w", err)
	}

	sections := parseSections(raw, summaryMarkers)
	tracks := parseTracks(sections[sectionTracks])
	a.warnMissing(sess.ID, sections, sectionTracks)

	upd := session.Update{
		Extra: map[string]string{"readiness": raw},
	}
	if sess.Active {
		// The user is now weighing program tracks.
		choosing := session.StateChoosingStream
		upd.State = &choosing
	}
	if err := a.store.UpdateData(ctx, sess.ID, upd); err != nil {
		return nil, err
	}
	return tracks, nil
}

// warnMissing logs sections the collaborator failed to produce. Missing
// sections are a warning, never a failure.
func (a *Analyzer) warnMissing(sessionID string, sections map[string]string, expected ...string) {
	var missing []string
	for _, name := range expected {
		if strings.TrimSpace(sections[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		a.logger.Warn("summary reply missing sections", "session", sessionID, "missing", missing)
	}
}

// ---------- parsing ----------

// parseSections splits free text into sections by marker lines of the
// form "MARKER:" (case-insensitive, optional leading #/* decoration).
// Text before the first marker is discarded. Unknown structure never
// fails — it just ends up inside the current section.
func parseSections(text string, markers []string) map[string]string {
	sections := make(map[string]string, len(markers))
	current := ""
	var buf strings.Builder

	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(buf.String())
		}
		buf.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if marker, rest, ok := matchMarker(line, markers); ok {
			flush()
			current = marker
			if rest != "" {
				buf.WriteString(rest)
				buf.WriteString("\n")
			}
			continue
		}
		if current != "" {
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}
	flush()

	return sections
}

// matchMarker checks whether the line begins a known section, returning
// the canonical marker and any content that follows the colon inline.
func matchMarker(line string, markers []string) (marker, rest string, ok bool) {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimLeft(trimmed, "#* ")
	upper := strings.ToUpper(trimmed)

	for _, m := range markers {
		if !strings.HasPrefix(upper, m+":") {
			continue
		}
		return m, strings.TrimSpace(trimmed[len(m)+1:]), true
	}
	return "", "", false
}

// parseList extracts "- item" lines from a section body; bare non-empty
// lines count too, so a model that forgets the dashes still parses.
func parseList(body string) []string {
	var items []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}

// parseTracks parses "- track: evidence" lines from the TRACKS section.
func parseTracks(body string) []TrackRecommendation {
	var out []TrackRecommendation
	for _, item := range parseList(body) {
		track, evidence, found := strings.Cut(item, ":")
		rec := TrackRecommendation{Track: strings.TrimSpace(track)}
		if found {
			rec.Evidence = strings.TrimSpace(evidence)
		}
		if rec.Track != "" {
			out = append(out, rec)
		}
	}
	return out
}

func summaryFromSections(sections map[string]string) *SessionSummary {
	return &SessionSummary{
		Insights:     parseList(sections[sectionInsights]),
		Patterns:     parseList(sections[sectionPatterns]),
		CoreIssue:    strings.TrimSpace(sections[sectionCoreIssue]),
		Difficulties: parseList(sections[sectionDifficulty]),
		Themes:       parseList(sections[sectionThemes]),
		NextSteps:    parseList(sections[sectionNextSteps]),
		HealingPath:  strings.TrimSpace(sections[sectionHealingPath]),
	}
}
