package engine

import "time"

// Event is one named input to the state machine. Events fall in two groups:
// caller intents (Submitted, SuggestionAccepted, MismatchAttempted,
// MismatchSkipped, ResetRequested) and completions of previously requested
// effects (VerdictReceived, AnalysisFailed, SuggestionReady, SuggestionFailed,
// TargetRendered, ReplyReceived, ReplyFailed). Completion events carry the
// Snapshot captured when their effect was emitted; Reduce validates it before
// touching state.
type Event interface{ isEvent() }

// Submitted creates a new learner turn or retries an existing one. The caller
// allocates TurnID; a retry passes the original turn's ID.
type Submitted struct {
	TurnID string
	Text   string
	Origin Origin
	At     time.Time
}

// SuggestionAccepted replaces the turn's text with the stored suggestion and
// force-clears the turn in one step.
type SuggestionAccepted struct {
	TurnID string
}

// MismatchAttempted is a learner attempt inside the live mismatch session.
type MismatchAttempted struct {
	Text string
	At   time.Time
}

// MismatchSkipped tears down the live mismatch session without resolving it.
type MismatchSkipped struct{}

// ResetRequested wipes all per-turn state and invalidates in-flight work.
type ResetRequested struct{}

// VerdictReceived completes an AnalyzeEffect.
type VerdictReceived struct {
	TurnID   string
	Snapshot Snapshot
	Verdict  Verdict
}

// AnalysisFailed completes an AnalyzeEffect that errored. It must never be
// interpreted as "no errors found".
type AnalysisFailed struct {
	TurnID   string
	Snapshot Snapshot
}

// SuggestionReady completes a SuggestEffect.
type SuggestionReady struct {
	TurnID   string
	Snapshot Snapshot
	Sentence string
}

// SuggestionFailed completes a SuggestEffect that errored; the learner is
// simply not offered a suggestion.
type SuggestionFailed struct {
	TurnID   string
	Snapshot Snapshot
}

// TargetRendered completes a RenderEffect with the German practice target for
// the live mismatch session.
type TargetRendered struct {
	OriginTurnID string
	Snapshot     Snapshot
	Sentence     string
}

// ReplyReceived completes a RespondEffect: the partner's reply is appended to
// the transcript. ReplyTurnID is allocated by the caller so the reducer stays
// free of randomness.
type ReplyReceived struct {
	ForTurnID   string
	ReplyTurnID string
	Snapshot    Snapshot
	Text        string
	At          time.Time
}

// ReplyFailed completes a RespondEffect that errored; a fallback apology is
// appended instead so turn state stays consistent.
type ReplyFailed struct {
	ForTurnID   string
	ReplyTurnID string
	Snapshot    Snapshot
	At          time.Time
}

func (Submitted) isEvent()          {}
func (SuggestionAccepted) isEvent() {}
func (MismatchAttempted) isEvent()  {}
func (MismatchSkipped) isEvent()    {}
func (ResetRequested) isEvent()     {}
func (VerdictReceived) isEvent()    {}
func (AnalysisFailed) isEvent()     {}
func (SuggestionReady) isEvent()    {}
func (SuggestionFailed) isEvent()   {}
func (TargetRendered) isEvent()     {}
func (ReplyReceived) isEvent()      {}
func (ReplyFailed) isEvent()        {}

// Effect is I/O the machine wants performed. The executor runs the call and
// feeds the outcome back in as the matching completion event, passing the
// effect's Snapshot through untouched.
type Effect interface{ isEffect() }

// AnalyzeEffect asks the external linguistic analysis for a verdict on the
// turn's current text.
type AnalyzeEffect struct {
	TurnID   string
	Text     string
	Origin   Origin
	Snapshot Snapshot
}

// RespondEffect asks the reply service for the partner's turn. It is only
// emitted when the gate opened for the turn; the executor re-checks
// GateAllows(Snapshot) immediately before calling out.
type RespondEffect struct {
	ForTurnID string
	Text      string
	Snapshot  Snapshot
}

// SuggestEffect asks the completion service for one corrected sentence based
// on the turn's original text.
type SuggestEffect struct {
	TurnID       string
	OriginalText string
	Snapshot     Snapshot
}

// RenderEffect asks the translation service for a natural German rendering of
// the learner's wrong-language utterance.
type RenderEffect struct {
	OriginTurnID string
	Utterance    string
	Snapshot     Snapshot
}

func (AnalyzeEffect) isEffect() {}
func (RespondEffect) isEffect() {}
func (SuggestEffect) isEffect() {}
func (RenderEffect) isEffect()  {}
