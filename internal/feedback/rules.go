// Package feedback turns detected gaze events into adaptive-feedback
// commands and tracks achievement progress for a reading session.
package feedback

import (
	"sync"

	"github.com/owlet-data/gaze.report/internal/gaze"
)

// CommandKind identifies what the frontend should show for a command.
type CommandKind string

const (
	CommandVocabCard    CommandKind = "vocab_card"    // definition card for a vocabulary word
	CommandGrammarPopup CommandKind = "grammar_popup" // grammar tip for a sentence region
	CommandHint         CommandKind = "hint"          // generic reading hint
)

// Command is a single adaptive-feedback instruction pushed to subscribers.
type Command struct {
	Kind           CommandKind `json:"kind"`
	SessionID      string      `json:"session_id"`
	TimestampNanos int64       `json:"ts_ns"`
	AOIID          string      `json:"aoi_id,omitempty"`
	Word           string      `json:"word,omitempty"`
	DurationMS     float64     `json:"duration_ms"`
}

// RuleConfig tunes the feedback rule table. All thresholds are fixation
// durations in milliseconds.
type RuleConfig struct {
	// VocabularyThresholdMS triggers a vocab card after a fixation of at
	// least this long on a vocabulary AOI.
	VocabularyThresholdMS float64

	// GrammarThresholdMS triggers a grammar popup after a fixation of at
	// least this long on a content (sentence) AOI.
	GrammarThresholdMS float64

	// HintThresholdMS triggers a generic hint after a fixation of at least
	// this long, on any AOI or none.
	HintThresholdMS float64

	// RateLimitMS is the minimum session-time spacing between any two
	// emitted commands. Commands matched inside the window are suppressed,
	// not queued.
	RateLimitMS float64

	// Per-rule enable switches.
	EnableVocabulary bool
	EnableGrammar    bool
	EnableHints      bool
}

// DefaultRuleConfig returns the product defaults.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		VocabularyThresholdMS: 1500,
		GrammarThresholdMS:    2000,
		HintThresholdMS:       3000,
		RateLimitMS:           5000,
		EnableVocabulary:      true,
		EnableGrammar:         true,
		EnableHints:           true,
	}
}

// recentCommandLimit bounds the per-session command history kept for
// snapshots and export.
const recentCommandLimit = 10

// RuleEngine evaluates the rule table against each finalized fixation.
// Rules are ordered: vocabulary before grammar before hint, so the most
// specific assistance wins when several rules match one event.
type RuleEngine struct {
	mu        sync.Mutex
	cfg       RuleConfig
	sessionID string
	aois      *gaze.AOIIndex

	lastEmitNanos int64 // end ts of the last emitted command, -1 before any
	emitted       int64
	suppressed    int64
	recent        []Command
}

// NewRuleEngine builds an engine for one session. The AOI index is shared
// with the rest of the pipeline and consulted to classify the fixated AOI.
func NewRuleEngine(sessionID string, cfg RuleConfig, aois *gaze.AOIIndex) *RuleEngine {
	return &RuleEngine{
		cfg:           cfg,
		sessionID:     sessionID,
		aois:          aois,
		lastEmitNanos: -1,
	}
}

// OnFixation evaluates the rule table for one fixation and returns the
// command to emit, or nil. The rate limit compares fixation end timestamps,
// so behaviour is deterministic for a given sample stream.
func (e *RuleEngine) OnFixation(fix gaze.Fixation) *Command {
	e.mu.Lock()
	defer e.mu.Unlock()

	cmd := e.match(fix)
	if cmd == nil {
		return nil
	}
	if e.lastEmitNanos >= 0 && gaze.DurationFromNanos(e.lastEmitNanos, fix.EndNanos) < e.cfg.RateLimitMS {
		e.suppressed++
		return nil
	}
	e.lastEmitNanos = fix.EndNanos
	e.emitted++
	e.recent = append(e.recent, *cmd)
	if len(e.recent) > recentCommandLimit {
		e.recent = e.recent[len(e.recent)-recentCommandLimit:]
	}
	return cmd
}

func (e *RuleEngine) match(fix gaze.Fixation) *Command {
	var aoi *gaze.AOI
	if fix.AOIID != "" {
		if a, ok := e.aois.Get(fix.AOIID); ok {
			aoi = &a
		}
	}

	if e.cfg.EnableVocabulary && aoi != nil && aoi.Kind == gaze.AOIVocab &&
		fix.DurationMS >= e.cfg.VocabularyThresholdMS {
		return &Command{
			Kind:           CommandVocabCard,
			SessionID:      e.sessionID,
			TimestampNanos: fix.EndNanos,
			AOIID:          aoi.ID,
			Word:           aoi.Text,
			DurationMS:     fix.DurationMS,
		}
	}
	if e.cfg.EnableGrammar && aoi != nil && aoi.Kind == gaze.AOIContent &&
		fix.DurationMS >= e.cfg.GrammarThresholdMS {
		return &Command{
			Kind:           CommandGrammarPopup,
			SessionID:      e.sessionID,
			TimestampNanos: fix.EndNanos,
			AOIID:          aoi.ID,
			DurationMS:     fix.DurationMS,
		}
	}
	if e.cfg.EnableHints && fix.DurationMS >= e.cfg.HintThresholdMS {
		cmd := &Command{
			Kind:           CommandHint,
			SessionID:      e.sessionID,
			TimestampNanos: fix.EndNanos,
			DurationMS:     fix.DurationMS,
		}
		if aoi != nil {
			cmd.AOIID = aoi.ID
		}
		return cmd
	}
	return nil
}

// Recent returns the bounded command history, oldest first.
func (e *RuleEngine) Recent() []Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Command, len(e.recent))
	copy(out, e.recent)
	return out
}

// Counters reports how many commands were emitted and how many were
// suppressed by the rate limiter.
func (e *RuleEngine) Counters() (emitted, suppressed int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitted, e.suppressed
}
