// Package services – PracticeService
//
// This file implements PracticeService, the application-level component that
// drives the correction flow for live conversations. It validates input,
// checks conversation ownership, feeds events into the per-conversation
// engine state, executes the effects the engine returns (analysis, partner
// replies, suggestions, mismatch renderings), and writes turns and the
// correction log through to the database.
//
// The engine itself is synchronous and lock-free; this service serializes
// access per conversation and never holds the session lock across a network
// call. Every external call carries the snapshot the engine attached to its
// effect, and the outcome is fed back as the matching completion event.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include conversation/user identifiers where applicable.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-tandem-backend/internal/domain"
	"github.com/tbourn/go-tandem-backend/internal/engine"
	"github.com/tbourn/go-tandem-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	authorLearner = "learner"
	authorPartner = "partner"

	// default titles we consider placeholders eligible for auto-generation
	defaultTitleNew = "Neue Unterhaltung"
)

// Analyzer checks one learner sentence and returns a structured verdict.
// A parse failure must surface as an error, never as a clean verdict.
type Analyzer interface {
	Analyze(ctx context.Context, text string, origin engine.Origin) (engine.Verdict, error)
}

// Responder generates the AI partner's next turn for a transcript.
type Responder interface {
	Respond(ctx context.Context, transcript []engine.Turn, level string) (string, error)
}

// Suggester produces one corrected sentence for text the learner could not
// fix within the attempt ceiling.
type Suggester interface {
	Suggest(ctx context.Context, original string) (string, error)
}

// Renderer produces the German practice target for a wrong-language
// utterance.
type Renderer interface {
	Render(ctx context.Context, utterance string) (string, error)
}

// PracticeService coordinates the correction engine, the AI adapters, and
// persistence for live conversations.
type PracticeService struct {
	DB       *gorm.DB
	Sessions *SessionManager

	Analyzer  Analyzer
	Responder Responder
	Suggester Suggester
	Renderer  Renderer

	// MaxMessageRunes caps learner input length; 0 disables the check.
	MaxMessageRunes int
	// TitleMaxLen caps auto-generated titles by rune length.
	TitleMaxLen int
}

// SendMessage submits learner text to a conversation. An empty turnID starts
// a new turn; passing the ID of a flagged turn retries it in place. The
// returned view reflects all state transitions the submission caused,
// including any partner reply that was generated inline.
func (p *PracticeService) SendMessage(ctx context.Context, userID, conversationID, turnID, text string, voice bool) (engine.View, error) {
	tr := otel.Tracer("services/PracticeService")
	ctx, span := tr.Start(ctx, "SendMessage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
			attribute.Bool("voice", voice),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return engine.View{}, ErrEmptyMessage
	}
	if p.MaxMessageRunes > 0 && utf8.RuneCountInString(text) > p.MaxMessageRunes {
		return engine.View{}, ErrTooLong
	}

	conv, err := repo.GetConversation(ctx, p.DB, conversationID, userID)
	if err != nil {
		return engine.View{}, ErrConversationNotFound
	}

	sess, err := p.session(ctx, conversationID)
	if err != nil {
		return engine.View{}, err
	}

	origin := engine.OriginText
	if voice {
		origin = engine.OriginVoice
	}

	sess.mu.Lock()
	isNew := turnID == ""
	if isNew {
		turnID = uuid.NewString()
	} else if !sess.state.HasTurn(turnID) {
		sess.mu.Unlock()
		return engine.View{}, ErrTurnNotFound
	}
	prevMismatch := sess.state.Mismatch
	effs := engine.Reduce(sess.state, engine.Submitted{
		TurnID: turnID,
		Text:   text,
		Origin: origin,
		At:     time.Now().UTC(),
	})
	p.noteMismatchOpened(sess.state, prevMismatch)
	learnerTurns := 0
	for _, t := range sess.state.Transcript {
		if t.Author == engine.AuthorLearner {
			learnerTurns++
		}
	}
	sess.mu.Unlock()

	if isNew {
		if _, err := repo.CreateTurn(p.DB.WithContext(ctx), turnID, conversationID, authorLearner, text, voice); err != nil {
			return engine.View{}, err
		}
		if learnerTurns == 1 && p.shouldAutoTitle(conv.Title) {
			if gen := p.generateTitle(text); gen != "" {
				if uerr := repo.UpdateConversationTitle(ctx, p.DB, conversationID, userID, gen); uerr != nil {
					log.Warn().Err(uerr).Str("conversation", conversationID).Msg("auto-title failed")
				}
			}
		}
	} else if err := repo.UpdateTurnContent(p.DB.WithContext(ctx), turnID, text); err != nil {
		return engine.View{}, err
	}

	p.run(ctx, conv, sess, effs)
	return p.viewOf(sess), nil
}

// AcceptSuggestion replaces the turn's text with its stored suggestion and
// clears it, unblocking the conversation. Accepting twice is rejected with
// ErrNoSuggestion because the suggestion is consumed on first accept.
func (p *PracticeService) AcceptSuggestion(ctx context.Context, userID, conversationID, turnID string) (engine.View, error) {
	tr := otel.Tracer("services/PracticeService")
	ctx, span := tr.Start(ctx, "AcceptSuggestion",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("turn.id", turnID),
		),
	)
	defer span.End()

	conv, err := repo.GetConversation(ctx, p.DB, conversationID, userID)
	if err != nil {
		return engine.View{}, ErrConversationNotFound
	}
	sess, err := p.session(ctx, conversationID)
	if err != nil {
		return engine.View{}, err
	}

	sess.mu.Lock()
	if !sess.state.HasTurn(turnID) {
		sess.mu.Unlock()
		return engine.View{}, ErrTurnNotFound
	}
	accepted, ok := sess.state.Suggestions[turnID]
	if !ok {
		sess.mu.Unlock()
		return engine.View{}, ErrNoSuggestion
	}
	effs := engine.Reduce(sess.state, engine.SuggestionAccepted{TurnID: turnID})
	sess.mu.Unlock()

	suggestions.WithLabelValues("accepted").Inc()
	if err := repo.UpdateTurnContent(p.DB.WithContext(ctx), turnID, accepted); err != nil {
		return engine.View{}, err
	}

	p.run(ctx, conv, sess, effs)
	return p.viewOf(sess), nil
}

// MismatchAttempt submits a practice attempt to the live mismatch session.
// German attempts resolve the session and rewrite the origin turn; attempts
// in any other language are discarded and the session stays open. There is
// no attempt ceiling inside the session.
func (p *PracticeService) MismatchAttempt(ctx context.Context, userID, conversationID, text string) (engine.View, error) {
	tr := otel.Tracer("services/PracticeService")
	ctx, span := tr.Start(ctx, "MismatchAttempt",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return engine.View{}, ErrEmptyMessage
	}
	if p.MaxMessageRunes > 0 && utf8.RuneCountInString(text) > p.MaxMessageRunes {
		return engine.View{}, ErrTooLong
	}

	conv, err := repo.GetConversation(ctx, p.DB, conversationID, userID)
	if err != nil {
		return engine.View{}, ErrConversationNotFound
	}
	sess, err := p.session(ctx, conversationID)
	if err != nil {
		return engine.View{}, err
	}

	sess.mu.Lock()
	if sess.state.Mismatch == nil {
		sess.mu.Unlock()
		return engine.View{}, ErrNoMismatchSession
	}
	originID := sess.state.Mismatch.OriginTurnID
	effs := engine.Reduce(sess.state, engine.MismatchAttempted{Text: text, At: time.Now().UTC()})
	resolved := sess.state.Mismatch == nil
	sess.mu.Unlock()

	if resolved {
		if err := repo.UpdateTurnContent(p.DB.WithContext(ctx), originID, text); err != nil {
			return engine.View{}, err
		}
	}

	p.run(ctx, conv, sess, effs)
	return p.viewOf(sess), nil
}

// MismatchSkip abandons the live mismatch session. The owning turn falls
// back to the status it had before the session opened.
func (p *PracticeService) MismatchSkip(ctx context.Context, userID, conversationID string) (engine.View, error) {
	tr := otel.Tracer("services/PracticeService")
	ctx, span := tr.Start(ctx, "MismatchSkip",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	if _, err := repo.GetConversation(ctx, p.DB, conversationID, userID); err != nil {
		return engine.View{}, ErrConversationNotFound
	}
	sess, err := p.session(ctx, conversationID)
	if err != nil {
		return engine.View{}, err
	}

	sess.mu.Lock()
	if sess.state.Mismatch == nil {
		sess.mu.Unlock()
		return engine.View{}, ErrNoMismatchSession
	}
	engine.Reduce(sess.state, engine.MismatchSkipped{})
	sess.mu.Unlock()

	return p.viewOf(sess), nil
}

// Reset wipes the conversation: engine state, transcript rows, and (through
// the cascade) the correction log. In-flight AI calls for the old state are
// neutralized by the epoch bump.
func (p *PracticeService) Reset(ctx context.Context, userID, conversationID string) error {
	tr := otel.Tracer("services/PracticeService")
	ctx, span := tr.Start(ctx, "Reset",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	if _, err := repo.GetConversation(ctx, p.DB, conversationID, userID); err != nil {
		return ErrConversationNotFound
	}
	sess, err := p.session(ctx, conversationID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	engine.Reduce(sess.state, engine.ResetRequested{})
	sess.mu.Unlock()

	return repo.DeleteTurns(p.DB.WithContext(ctx), conversationID)
}

// View returns the conversation's current engine state for transport.
func (p *PracticeService) View(ctx context.Context, userID, conversationID string) (engine.View, error) {
	tr := otel.Tracer("services/PracticeService")
	ctx, span := tr.Start(ctx, "View",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	if _, err := repo.GetConversation(ctx, p.DB, conversationID, userID); err != nil {
		return engine.View{}, ErrConversationNotFound
	}
	sess, err := p.session(ctx, conversationID)
	if err != nil {
		return engine.View{}, err
	}
	return p.viewOf(sess), nil
}

// ListTurnsPage returns a page of the persisted transcript and the total
// turn count, enforcing ownership. The live view is authoritative for
// statuses; this is the durable history for scrollback.
func (p *PracticeService) ListTurnsPage(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Turn, int64, error) {
	tr := otel.Tracer("services/PracticeService")
	ctx, span := tr.Start(ctx, "ListTurnsPage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := repo.GetConversation(ctx, p.DB, conversationID, userID); err != nil {
		return nil, 0, ErrConversationNotFound
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountTurns(p.DB.WithContext(ctx), conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Turn{}, 0, nil
	}
	items, err := repo.ListTurnsPage(p.DB.WithContext(ctx), conversationID, offset, pageSize)
	return items, total, err
}

// Corrections returns the persisted correction log for the conversation,
// oldest first.
func (p *PracticeService) Corrections(ctx context.Context, userID, conversationID string) ([]domain.Correction, error) {
	tr := otel.Tracer("services/PracticeService")
	ctx, span := tr.Start(ctx, "Corrections",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	if _, err := repo.GetConversation(ctx, p.DB, conversationID, userID); err != nil {
		return nil, ErrConversationNotFound
	}
	return repo.ListConversationCorrections(ctx, p.DB, conversationID)
}

// session returns the live engine session for a conversation, rebuilding the
// transcript from the database when the session was just created or evicted.
func (p *PracticeService) session(ctx context.Context, conversationID string) (*session, error) {
	sess, created := p.Sessions.get(conversationID)
	liveSessions.Set(float64(p.Sessions.Len()))
	if !created {
		return sess, nil
	}

	turns, err := repo.ListTurns(p.DB.WithContext(ctx), conversationID, 0)
	if err != nil {
		p.Sessions.Drop(conversationID)
		return nil, err
	}
	sess.mu.Lock()
	for _, t := range turns {
		author := engine.AuthorLearner
		if t.Author == authorPartner {
			author = engine.AuthorPartner
		}
		sess.state.Transcript = append(sess.state.Transcript, &engine.Turn{
			ID:          t.ID,
			Author:      author,
			Text:        t.Content,
			CreatedAt:   t.CreatedAt,
			AudioOrigin: t.AudioOrigin,
		})
	}
	sess.mu.Unlock()
	return sess, nil
}

func (p *PracticeService) viewOf(sess *session) engine.View {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state.View()
}

// noteMismatchOpened increments the session counter when a reduce call
// replaced or created the live mismatch session. Must be called with the
// session lock held.
func (p *PracticeService) noteMismatchOpened(s *engine.State, prev *engine.MismatchSession) {
	if s.Mismatch != nil && s.Mismatch != prev {
		mismatchSessions.WithLabelValues(string(s.Mismatch.Trigger)).Inc()
	}
}

// run executes effects until the engine stops producing new ones. Completion
// events may fan out (a clean verdict triggers the partner reply), so the
// loop drains a queue rather than a single pass.
func (p *PracticeService) run(ctx context.Context, conv *domain.Conversation, sess *session, effs []engine.Effect) {
	queue := effs
	for len(queue) > 0 {
		eff := queue[0]
		queue = queue[1:]
		switch e := eff.(type) {
		case engine.AnalyzeEffect:
			queue = append(queue, p.execAnalyze(ctx, conv, sess, e)...)
		case engine.RespondEffect:
			queue = append(queue, p.execRespond(ctx, conv, sess, e)...)
		case engine.SuggestEffect:
			queue = append(queue, p.execSuggest(ctx, sess, e)...)
		case engine.RenderEffect:
			queue = append(queue, p.execRender(ctx, sess, e)...)
		}
	}
}

func (p *PracticeService) execAnalyze(ctx context.Context, conv *domain.Conversation, sess *session, e engine.AnalyzeEffect) []engine.Effect {
	tr := otel.Tracer("services/PracticeService")
	ctx, span := tr.Start(ctx, "execAnalyze",
		trace.WithAttributes(attribute.String("turn.id", e.TurnID)),
	)
	defer span.End()

	verdict, err := p.Analyzer.Analyze(ctx, e.Text, e.Origin)
	if err != nil {
		analysisResults.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("turn", e.TurnID).Msg("analysis failed")
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return engine.Reduce(sess.state, engine.AnalysisFailed{TurnID: e.TurnID, Snapshot: e.Snapshot})
	}

	sess.mu.Lock()
	var before int
	if a, ok := sess.state.Attempts[e.TurnID]; ok {
		before = a.Count
	}
	prevMismatch := sess.state.Mismatch
	more := engine.Reduce(sess.state, engine.VerdictReceived{TurnID: e.TurnID, Snapshot: e.Snapshot, Verdict: verdict})
	p.noteMismatchOpened(sess.state, prevMismatch)
	attempt := 0
	if a, ok := sess.state.Attempts[e.TurnID]; ok {
		attempt = a.Count
	}
	counted := verdict.HasErrors && attempt == before+1
	sess.mu.Unlock()

	if verdict.HasErrors {
		analysisResults.WithLabelValues("errors").Inc()
	} else {
		analysisResults.WithLabelValues("clean").Inc()
	}

	// Log the correction only when the verdict was actually applied; a stale
	// verdict for a resolved turn must leave no trace.
	if counted {
		if err := repo.CreateCorrection(ctx, p.DB, e.TurnID, attempt,
			verdict.Grammar, verdict.Vocabulary, verdict.Pronunciation,
			verdict.Summary(), e.Text); err != nil {
			log.Warn().Err(err).Str("turn", e.TurnID).Msg("correction log write failed")
		}
	}
	return more
}

func (p *PracticeService) execRespond(ctx context.Context, conv *domain.Conversation, sess *session, e engine.RespondEffect) []engine.Effect {
	tr := otel.Tracer("services/PracticeService")
	ctx, span := tr.Start(ctx, "execRespond",
		trace.WithAttributes(attribute.String("turn.id", e.ForTurnID)),
	)
	defer span.End()

	// The gate is re-checked against the snapshot captured when the effect
	// was emitted, not against ambient state.
	if !engine.GateAllows(e.Snapshot) {
		gateDecisions.WithLabelValues("blocked").Inc()
		return nil
	}
	gateDecisions.WithLabelValues("allowed").Inc()

	sess.mu.Lock()
	view := sess.state.View()
	sess.mu.Unlock()

	reply, err := p.Responder.Respond(ctx, view.Transcript, conv.Level)
	replyID := uuid.NewString()
	now := time.Now().UTC()

	sess.mu.Lock()
	text := reply
	if err != nil {
		log.Warn().Err(err).Str("turn", e.ForTurnID).Msg("reply generation failed, using fallback")
		fallbackReplies.Inc()
		text = engine.FallbackReply
		engine.Reduce(sess.state, engine.ReplyFailed{ForTurnID: e.ForTurnID, ReplyTurnID: replyID, Snapshot: e.Snapshot, At: now})
	} else {
		engine.Reduce(sess.state, engine.ReplyReceived{ForTurnID: e.ForTurnID, ReplyTurnID: replyID, Snapshot: e.Snapshot, Text: reply, At: now})
	}
	applied := sess.state.Epoch == e.Snapshot.Epoch
	sess.mu.Unlock()

	if applied {
		if _, perr := repo.CreateTurn(p.DB.WithContext(ctx), replyID, conv.ID, authorPartner, text, false); perr != nil {
			log.Warn().Err(perr).Str("conversation", conv.ID).Msg("partner turn write failed")
		}
	}
	return nil
}

func (p *PracticeService) execSuggest(ctx context.Context, sess *session, e engine.SuggestEffect) []engine.Effect {
	tr := otel.Tracer("services/PracticeService")
	ctx, span := tr.Start(ctx, "execSuggest",
		trace.WithAttributes(attribute.String("turn.id", e.TurnID)),
	)
	defer span.End()

	sugg, err := p.Suggester.Suggest(ctx, e.OriginalText)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err != nil {
		suggestions.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("turn", e.TurnID).Msg("suggestion generation failed")
		return engine.Reduce(sess.state, engine.SuggestionFailed{TurnID: e.TurnID, Snapshot: e.Snapshot})
	}
	suggestions.WithLabelValues("generated").Inc()
	return engine.Reduce(sess.state, engine.SuggestionReady{TurnID: e.TurnID, Snapshot: e.Snapshot, Sentence: sugg})
}

func (p *PracticeService) execRender(ctx context.Context, sess *session, e engine.RenderEffect) []engine.Effect {
	tr := otel.Tracer("services/PracticeService")
	ctx, span := tr.Start(ctx, "execRender",
		trace.WithAttributes(attribute.String("turn.id", e.OriginTurnID)),
	)
	defer span.End()

	target, err := p.Renderer.Render(ctx, e.Utterance)
	if err != nil {
		// The practice session works without a rendered target; the learner
		// just gets no exemplar sentence.
		log.Warn().Err(err).Str("turn", e.OriginTurnID).Msg("target rendering failed")
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return engine.Reduce(sess.state, engine.TargetRendered{OriginTurnID: e.OriginTurnID, Snapshot: e.Snapshot, Sentence: target})
}

// shouldAutoTitle reports whether the current title is a placeholder.
func (p *PracticeService) shouldAutoTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" || t == strings.ToLower(defaultTitleNew)
}

// generateTitle derives a concise title from the learner's first message.
func (p *PracticeService) generateTitle(text string) string {
	toks := titleWordRE.FindAllString(strings.ToLower(text), -1)
	if len(toks) == 0 {
		return ""
	}

	titleCaser := cases.Title(language.German)
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}
	return p.clipTitle(strings.Join(out, " "))
}

// clipTitle truncates a generated title to the configured maximum rune length.
func (p *PracticeService) clipTitle(title string) string {
	max := p.TitleMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		return string([]rune(title)[:max])
	}
	return title
}

// --- Title generation helpers ---

// Extract Unicode letters with optional trailing numbers (e.g., "kapitel2").
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

// Stop-words dropped from generated titles, covering the German the learner
// writes and the English beginners fall back to.
var titleStopWords = map[string]struct{}{
	"der": {}, "die": {}, "das": {}, "ein": {}, "eine": {}, "und": {}, "oder": {},
	"ich": {}, "du": {}, "wir": {}, "ist": {}, "sind": {}, "zu": {}, "in": {},
	"mit": {}, "von": {}, "für": {}, "auf": {}, "an": {}, "es": {}, "nicht": {},
	"the": {}, "a": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "i": {}, "it": {},
}

// isNotFound treats repo-level not found sentinels as "not found" in a
// driver-agnostic way.
func isNotFound(err error) bool {
	if errors.Is(err, repo.ErrNotFound) {
		return true
	}
	return errors.Is(err, gorm.ErrRecordNotFound)
}
