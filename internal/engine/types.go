// Package engine implements the message correction and gating core of the
// practice chat. It is a pure state machine: all state lives in State, every
// mutation is one named Event applied through Reduce, and all I/O the machine
// wants performed is returned as Effects for the caller to execute. Nothing in
// this package touches the network or the clock beyond timestamps handed in by
// the caller.
package engine

import (
	"time"

	"golang.org/x/text/language"
)

// Origin distinguishes typed input from transcribed voice input. Voice-origin
// turns take the mismatch practice handoff instead of a text suggestion when
// the attempt ceiling is reached.
type Origin string

const (
	OriginText  Origin = "text"
	OriginVoice Origin = "voice"
)

// Author identifies which side of the conversation produced a turn.
type Author string

const (
	AuthorLearner Author = "learner"
	AuthorPartner Author = "partner"
)

// Status is the lifecycle state of a learner turn. Absence of a status entry
// is equivalent to StatusCleared.
type Status string

const (
	// StatusChecking means analysis for the turn is in flight.
	StatusChecking Status = "checking"
	// StatusNeedsCorrection means analysis flagged errors and the learner
	// must retry before the partner may reply.
	StatusNeedsCorrection Status = "needs_correction"
	// StatusMismatch means the turn is owned by an open mismatch practice
	// session (wrong-language input).
	StatusMismatch Status = "mismatch"
	// StatusError means the analysis call itself failed; the learner may
	// retry without it counting as a failed attempt.
	StatusError Status = "error"
	// StatusCleared means the turn passed analysis (or was force-cleared)
	// and the response gate may open for it.
	StatusCleared Status = "cleared"
)

// Category names one axis of the external linguistic analysis.
type Category string

const (
	CategoryGrammar       Category = "grammar"
	CategoryVocabulary    Category = "vocabulary"
	CategoryPronunciation Category = "pronunciation"
)

// Turn is one message in the conversation. A retry reuses the original turn's
// ID and mutates Text in place; there is never a second turn for the same
// attempt sequence.
type Turn struct {
	ID          string    `json:"id"`
	Author      Author    `json:"author"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
	AudioOrigin bool      `json:"audio_origin"`
}

// AttemptState tracks the correction bookkeeping for one learner turn.
// Count > 0 means the turn is active for correction and blocks the gate.
type AttemptState struct {
	// Count is incremented each time analysis reports errors for the turn.
	// Retries do not reset it.
	Count int `json:"count"`
	// LastErrorSummary is the human-readable correction text from the most
	// recent failed analysis. Cleared pre-emptively when a retry starts.
	LastErrorSummary string `json:"last_error_summary,omitempty"`
	// OriginalText is the text first associated with the turn, kept for
	// suggestion generation.
	OriginalText string `json:"original_text"`
}

// Verdict is the closed result type for one linguistic analysis call.
// Malformed service payloads never reach the engine as a Verdict; the adapter
// converts them into an analysis failure instead.
type Verdict struct {
	HasErrors     bool
	Grammar       bool
	Vocabulary    bool
	Pronunciation bool
	// Corrections holds per-category correction detail where the service
	// provided it.
	Corrections map[Category]string
	// WordsForPractice is optional vocabulary the service suggested drilling.
	WordsForPractice []string
}

// Summary flattens the per-category corrections into one human-readable
// correction text, in a stable category order.
func (v Verdict) Summary() string {
	out := ""
	for _, c := range []Category{CategoryGrammar, CategoryVocabulary, CategoryPronunciation} {
		if d, ok := v.Corrections[c]; ok && d != "" {
			if out != "" {
				out += " "
			}
			out += d
		}
	}
	return out
}

// MismatchSession is the transient practice sub-flow opened when the learner
// answers in the wrong language. At most one session is live at a time.
type MismatchSession struct {
	OriginTurnID      string       `json:"origin_turn_id"`
	Detected          language.Tag `json:"detected"`
	OriginalUtterance string       `json:"original_utterance"`
	// TargetSentence is the German rendering of the learner's intent,
	// requested asynchronously; empty until the render completes (or if it
	// failed, in which case the session is still usable).
	TargetSentence string `json:"target_sentence,omitempty"`
	Trigger        Origin `json:"trigger"`
	// PriorStatus is the owning turn's status before the session opened,
	// restored if the learner skips.
	PriorStatus Status `json:"-"`
}

// Snapshot carries the blocking state a continuation should act against,
// captured when the continuation was requested rather than read ambiently at
// completion time. Epoch invalidates results that straddle a reset.
type Snapshot struct {
	// Epoch is the conversation's reset sequence number at capture time.
	Epoch uint64
	// ErrorSummary is the turn's stored correction summary at capture time.
	ErrorSummary string
	// ActiveTurnID is the turn blocking the gate at capture time, if any.
	ActiveTurnID string
	// VerdictHasErrors is whether the latest verdict for the turn reported
	// errors at capture time.
	VerdictHasErrors bool
}

// Rules are the tunable constants of the state machine.
type Rules struct {
	// MaxAttempts is the retry ceiling; reaching it with errors still
	// present triggers suggestion generation or the mismatch handoff.
	MaxAttempts int
	// EnglishWordThreshold is how many English function words flag
	// expected-German input as mismatched even when the classifier answers
	// German. The default is 1: any match triggers.
	EnglishWordThreshold int
}

// DefaultRules mirrors the production configuration defaults.
func DefaultRules() Rules {
	return Rules{MaxAttempts: 2, EnglishWordThreshold: 1}
}

// FallbackReply is appended as the partner turn when reply generation fails,
// so a service outage never corrupts turn state.
const FallbackReply = "Entschuldigung, ich habe das gerade nicht verstanden. Können wir es noch einmal versuchen?"
