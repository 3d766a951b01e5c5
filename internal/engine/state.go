package engine

// State is the complete mutable state of one conversation's correction
// engine. All maps are keyed by turn ID so that in-flight work for different
// turns stays independent. Callers must serialize access; the engine itself
// performs no locking.
type State struct {
	// Epoch is bumped by every reset. Continuations carry the epoch they
	// were requested under; a stale epoch makes their result a no-op.
	Epoch uint64

	// Transcript is the ordered conversation, learner and partner turns
	// interleaved. Learner retries mutate the existing entry in place.
	Transcript []*Turn

	// Statuses holds the lifecycle state per learner turn. A missing entry
	// means cleared.
	Statuses map[string]Status

	// Attempts holds correction bookkeeping per learner turn.
	Attempts map[string]*AttemptState

	// Verdicts retains the latest analysis verdict per turn, consulted by
	// the re-analysis guard and the response gate.
	Verdicts map[string]Verdict

	// Suggestions holds the generated corrected sentence per turn, present
	// only once the attempt ceiling was reached and generation succeeded.
	Suggestions map[string]string

	// suggestionRequested guards suggestion generation so at most one
	// request is ever issued per turn, even while one is in flight.
	suggestionRequested map[string]bool

	// ActiveTurnID is the single turn currently blocking the response gate,
	// or empty. Policy allows at most one.
	ActiveTurnID string

	// Mismatch is the live practice session, or nil.
	Mismatch *MismatchSession

	// Rules are the machine's tunable constants.
	Rules Rules
}

// NewState returns an empty conversation state governed by rules.
func NewState(rules Rules) *State {
	if rules.MaxAttempts <= 0 {
		rules.MaxAttempts = 2
	}
	if rules.EnglishWordThreshold <= 0 {
		rules.EnglishWordThreshold = 1
	}
	return &State{
		Statuses:            make(map[string]Status),
		Attempts:            make(map[string]*AttemptState),
		Verdicts:            make(map[string]Verdict),
		Suggestions:         make(map[string]string),
		suggestionRequested: make(map[string]bool),
		Rules:               rules,
	}
}

// StatusOf returns the turn's status, treating a missing entry as cleared.
func (s *State) StatusOf(turnID string) Status {
	if st, ok := s.Statuses[turnID]; ok {
		return st
	}
	return StatusCleared
}

// turn returns the transcript entry with the given ID, or nil.
func (s *State) turn(turnID string) *Turn {
	for _, t := range s.Transcript {
		if t.ID == turnID {
			return t
		}
	}
	return nil
}

// HasTurn reports whether the transcript contains a turn with the given ID.
func (s *State) HasTurn(turnID string) bool {
	return s.turn(turnID) != nil
}

// snapshotFor captures the gate-relevant blocking state for turnID as it
// exists right now. Transitions that clear a turn capture the snapshot after
// clearing, so the gate trusts the explicit values over ambient state.
func (s *State) snapshotFor(turnID string) Snapshot {
	snap := Snapshot{Epoch: s.Epoch, ActiveTurnID: s.ActiveTurnID}
	if a, ok := s.Attempts[turnID]; ok {
		snap.ErrorSummary = a.LastErrorSummary
	}
	if v, ok := s.Verdicts[turnID]; ok {
		snap.VerdictHasErrors = v.HasErrors
	}
	return snap
}

// GateAllows re-checks the three independent blocking conditions against the
// supplied snapshot: a stored error summary for the turn, any turn active for
// correction, and an erroring latest verdict. All three must be clear for the
// partner reply to be generated.
func GateAllows(snap Snapshot) bool {
	return snap.ErrorSummary == "" && snap.ActiveTurnID == "" && !snap.VerdictHasErrors
}

// wipe removes every per-turn entry and the mismatch session, and advances the
// epoch so any in-flight continuation result is dropped on arrival.
func (s *State) wipe() {
	s.Epoch++
	s.Transcript = nil
	s.Statuses = make(map[string]Status)
	s.Attempts = make(map[string]*AttemptState)
	s.Verdicts = make(map[string]Verdict)
	s.Suggestions = make(map[string]string)
	s.suggestionRequested = make(map[string]bool)
	s.ActiveTurnID = ""
	s.Mismatch = nil
}

// clearTurn force-clears a single turn: attempts, status, verdict, suggestion
// and the active-for-correction marker all go in one step.
func (s *State) clearTurn(turnID string) {
	delete(s.Attempts, turnID)
	delete(s.Statuses, turnID)
	delete(s.Verdicts, turnID)
	delete(s.Suggestions, turnID)
	delete(s.suggestionRequested, turnID)
	if s.ActiveTurnID == turnID {
		s.ActiveTurnID = ""
	}
}

// View is the read model handed to transport: a JSON-friendly projection of
// the engine state for one conversation.
type View struct {
	Transcript  []Turn                  `json:"transcript"`
	Statuses    map[string]Status       `json:"statuses"`
	Attempts    map[string]AttemptState `json:"attempts"`
	Suggestions map[string]string       `json:"suggestions"`
	Mismatch    *MismatchSession        `json:"mismatch,omitempty"`
}

// View projects the whole state for transport. Maps are copied so the caller
// can release the engine lock before serializing.
func (s *State) View() View {
	v := View{
		Transcript:  make([]Turn, 0, len(s.Transcript)),
		Statuses:    make(map[string]Status, len(s.Statuses)),
		Attempts:    make(map[string]AttemptState, len(s.Attempts)),
		Suggestions: make(map[string]string, len(s.Suggestions)),
	}
	for _, t := range s.Transcript {
		v.Transcript = append(v.Transcript, *t)
	}
	for id, st := range s.Statuses {
		v.Statuses[id] = st
	}
	for id, a := range s.Attempts {
		v.Attempts[id] = *a
	}
	for id, sugg := range s.Suggestions {
		v.Suggestions[id] = sugg
	}
	if s.Mismatch != nil {
		m := *s.Mismatch
		v.Mismatch = &m
	}
	return v
}
