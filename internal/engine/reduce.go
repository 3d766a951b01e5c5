package engine

import (
	"time"

	"golang.org/x/text/language"

	"github.com/tbourn/go-tandem-backend/internal/langid"
)

// Reduce applies one event to the state and returns the effects the caller
// must execute. Every transition of the lifecycle state machine lives here;
// completion events are validated against their snapshot (epoch and per-turn
// status) so a slow response can never undo a faster, later resolution.
func Reduce(s *State, ev Event) []Effect {
	switch e := ev.(type) {
	case Submitted:
		return reduceSubmitted(s, e)
	case VerdictReceived:
		return reduceVerdict(s, e)
	case AnalysisFailed:
		return reduceAnalysisFailed(s, e)
	case SuggestionReady:
		reduceSuggestionReady(s, e)
		return nil
	case SuggestionFailed:
		if e.Snapshot.Epoch == s.Epoch {
			// Allow a later ceiling hit to request generation again.
			delete(s.suggestionRequested, e.TurnID)
		}
		return nil
	case SuggestionAccepted:
		return reduceSuggestionAccepted(s, e)
	case MismatchAttempted:
		return reduceMismatchAttempted(s, e)
	case MismatchSkipped:
		reduceMismatchSkipped(s)
		return nil
	case TargetRendered:
		if e.Snapshot.Epoch == s.Epoch && s.Mismatch != nil && s.Mismatch.OriginTurnID == e.OriginTurnID {
			s.Mismatch.TargetSentence = e.Sentence
		}
		return nil
	case ReplyReceived:
		reduceReply(s, e.Snapshot, e.ReplyTurnID, e.Text, e.At)
		return nil
	case ReplyFailed:
		reduceReply(s, e.Snapshot, e.ReplyTurnID, FallbackReply, e.At)
		return nil
	case ResetRequested:
		s.wipe()
		return nil
	}
	return nil
}

// reduceSubmitted handles both new turns and retries. The language check runs
// on every learner submission: a wrong-language utterance opens (or replaces)
// the mismatch session instead of going to analysis.
func reduceSubmitted(s *State, e Submitted) []Effect {
	t := s.turn(e.TurnID)
	if t == nil {
		t = &Turn{
			ID:          e.TurnID,
			Author:      AuthorLearner,
			Text:        e.Text,
			CreatedAt:   e.At,
			AudioOrigin: e.Origin == OriginVoice,
		}
		s.Transcript = append(s.Transcript, t)
	} else {
		// Retry: text replaces in place, the stale correction summary is
		// cleared pre-emptively, the attempt count is kept.
		t.Text = e.Text
		if a, ok := s.Attempts[t.ID]; ok {
			a.LastErrorSummary = ""
		}
	}

	detected := langid.Classify(e.Text)
	if detected != language.German || langid.EnglishFunctionWords(e.Text) >= s.Rules.EnglishWordThreshold {
		return openMismatch(s, t, detected, e.Origin)
	}
	return startChecking(s, t)
}

// startChecking moves the turn to checking and requests analysis, honoring the
// re-analysis guard: a turn that already holds a clean verdict and is cleared
// must not be re-flagged by a fresh call, so the stored verdict is reused and
// the gate is invoked directly.
func startChecking(s *State, t *Turn) []Effect {
	if v, ok := s.Verdicts[t.ID]; ok && !v.HasErrors && s.StatusOf(t.ID) == StatusCleared {
		return []Effect{RespondEffect{ForTurnID: t.ID, Text: t.Text, Snapshot: s.snapshotFor(t.ID)}}
	}
	s.Statuses[t.ID] = StatusChecking
	origin := OriginText
	if t.AudioOrigin {
		origin = OriginVoice
	}
	return []Effect{AnalyzeEffect{TurnID: t.ID, Text: t.Text, Origin: origin, Snapshot: s.snapshotFor(t.ID)}}
}

// openMismatch starts (or supersedes into) the practice sub-flow for t and
// asks for a German rendering of the utterance to practice against.
func openMismatch(s *State, t *Turn, detected language.Tag, trigger Origin) []Effect {
	prior := s.StatusOf(t.ID)
	if m := s.Mismatch; m != nil {
		if m.OriginTurnID == t.ID {
			// Re-triggered by the same turn: the new session keeps the status
			// the turn held before the first one opened.
			prior = m.PriorStatus
		} else if m.PriorStatus == StatusCleared {
			// Replacing the session releases the previous origin turn back to
			// its pre-session status; it must not stay flagged mismatch with
			// no session owning it.
			delete(s.Statuses, m.OriginTurnID)
		} else {
			s.Statuses[m.OriginTurnID] = m.PriorStatus
		}
	}
	if prior == StatusMismatch {
		prior = StatusCleared
	}
	s.Mismatch = &MismatchSession{
		OriginTurnID:      t.ID,
		Detected:          detected,
		OriginalUtterance: t.Text,
		Trigger:           trigger,
		PriorStatus:       prior,
	}
	s.Statuses[t.ID] = StatusMismatch
	return []Effect{RenderEffect{OriginTurnID: t.ID, Utterance: t.Text, Snapshot: s.snapshotFor(t.ID)}}
}

func reduceVerdict(s *State, e VerdictReceived) []Effect {
	if e.Snapshot.Epoch != s.Epoch {
		return nil // conversation was reset while the call was in flight
	}
	t := s.turn(e.TurnID)
	if t == nil {
		return nil
	}
	// Only a turn still in checking may take a verdict. A turn that was
	// cleared through another path (accepted suggestion, resolved mismatch)
	// or superseded by the sub-flow must not be resurrected.
	if s.StatusOf(e.TurnID) != StatusChecking {
		return nil
	}

	if !e.Verdict.HasErrors {
		delete(s.Attempts, e.TurnID)
		s.Verdicts[e.TurnID] = e.Verdict
		s.Statuses[e.TurnID] = StatusCleared
		if s.ActiveTurnID == e.TurnID {
			s.ActiveTurnID = ""
		}
		return []Effect{RespondEffect{ForTurnID: t.ID, Text: t.Text, Snapshot: s.snapshotFor(t.ID)}}
	}

	a, ok := s.Attempts[e.TurnID]
	if !ok {
		a = &AttemptState{OriginalText: t.Text}
		s.Attempts[e.TurnID] = a
	}
	a.Count++
	a.LastErrorSummary = e.Verdict.Summary()
	s.Verdicts[e.TurnID] = e.Verdict
	s.Statuses[e.TurnID] = StatusNeedsCorrection
	s.ActiveTurnID = e.TurnID

	if a.Count < s.Rules.MaxAttempts {
		return nil
	}
	// Ceiling reached. Voice-origin turns become "say it correctly"
	// exercises; typed turns get a corrected exemplar to accept.
	if t.AudioOrigin {
		return openMismatch(s, t, language.German, OriginVoice)
	}
	if _, have := s.Suggestions[e.TurnID]; have || s.suggestionRequested[e.TurnID] {
		return nil
	}
	s.suggestionRequested[e.TurnID] = true
	return []Effect{SuggestEffect{TurnID: e.TurnID, OriginalText: a.OriginalText, Snapshot: s.snapshotFor(e.TurnID)}}
}

func reduceAnalysisFailed(s *State, e AnalysisFailed) []Effect {
	if e.Snapshot.Epoch != s.Epoch || s.turn(e.TurnID) == nil {
		return nil
	}
	if s.StatusOf(e.TurnID) == StatusChecking {
		// Recoverable: no attempt increment, gate stays closed.
		s.Statuses[e.TurnID] = StatusError
	}
	return nil
}

func reduceSuggestionReady(s *State, e SuggestionReady) {
	if e.Snapshot.Epoch != s.Epoch || s.turn(e.TurnID) == nil {
		return
	}
	// If the turn resolved while generation was in flight the suggestion is
	// stale; storing it would re-open a finished correction.
	if s.StatusOf(e.TurnID) == StatusCleared {
		return
	}
	if e.Sentence != "" {
		s.Suggestions[e.TurnID] = e.Sentence
	}
}

func reduceSuggestionAccepted(s *State, e SuggestionAccepted) []Effect {
	sugg, ok := s.Suggestions[e.TurnID]
	if !ok {
		return nil // already consumed or never generated: idempotent
	}
	t := s.turn(e.TurnID)
	if t == nil {
		return nil
	}
	t.Text = sugg
	s.clearTurn(e.TurnID)
	return []Effect{RespondEffect{ForTurnID: t.ID, Text: sugg, Snapshot: s.snapshotFor(t.ID)}}
}

func reduceMismatchAttempted(s *State, e MismatchAttempted) []Effect {
	m := s.Mismatch
	if m == nil {
		return nil
	}
	if langid.Classify(e.Text) != language.German {
		return nil // attempt discarded; the session has no retry ceiling
	}
	t := s.turn(m.OriginTurnID)
	if t == nil {
		s.Mismatch = nil
		return nil
	}
	t.Text = e.Text
	s.clearTurn(t.ID)
	s.Mismatch = nil
	return []Effect{RespondEffect{ForTurnID: t.ID, Text: e.Text, Snapshot: s.snapshotFor(t.ID)}}
}

func reduceMismatchSkipped(s *State) {
	m := s.Mismatch
	if m == nil {
		return
	}
	// The owning turn keeps whatever status it had before the session.
	if m.PriorStatus == StatusCleared {
		delete(s.Statuses, m.OriginTurnID)
	} else {
		s.Statuses[m.OriginTurnID] = m.PriorStatus
	}
	s.Mismatch = nil
}

// reduceReply appends the partner turn for a completed (or failed) reply
// generation. The snapshot epoch guards against replies for wiped turns.
func reduceReply(s *State, snap Snapshot, replyTurnID, text string, at time.Time) {
	if snap.Epoch != s.Epoch {
		return
	}
	s.Transcript = append(s.Transcript, &Turn{
		ID:        replyTurnID,
		Author:    AuthorPartner,
		Text:      text,
		CreatedAt: at,
	})
}
