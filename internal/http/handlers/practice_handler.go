// Practice HTTP handlers.
//
// This file exposes REST endpoints for the correction flow of a conversation:
//   - POST /conversations/{id}/messages                            (send or retry a learner message)
//   - GET  /conversations/{id}/messages                            (list persisted transcript, paginated)
//   - GET  /conversations/{id}/state                               (live correction state)
//   - POST /conversations/{id}/turns/{turnID}/suggestion/accept    (accept stored suggestion)
//   - POST /conversations/{id}/mismatch/attempt                    (submit practice attempt)
//   - POST /conversations/{id}/mismatch/skip                       (abandon practice session)
//   - POST /conversations/{id}/reset                               (wipe conversation state)
//   - GET  /conversations/{id}/corrections                         (persisted correction log)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (including newline and length constraints)
//   - delegate to application services (PracticeService)
//   - implement conditional responses (ETag) for the transcript listing
//
// Retries reuse the flagged turn's ID: posting with the same turn_id replaces
// that turn's text in place instead of appending a new message.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-tandem-backend/internal/domain"
	"github.com/tbourn/go-tandem-backend/internal/engine"
	"github.com/tbourn/go-tandem-backend/internal/repo"
	"github.com/tbourn/go-tandem-backend/internal/services"
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for submitting a learner message.
//
// Content is normalized by the handler (line endings and excessive blank
// lines) before being passed to the service layer. The service also enforces
// a maximum rune count, which can be configured in PracticeService.
type SendMessageRequest struct {
	// Content is the learner utterance. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"Ich habe gestern ein Buch gelesen."`
	// TurnID retries an existing flagged turn when set; empty starts a new turn.
	TurnID string `json:"turn_id,omitempty" example:"7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab"`
	// Voice marks the message as transcribed speech.
	Voice bool `json:"voice,omitempty" example:"false"`
}

// MismatchAttemptRequest is the JSON payload for a practice attempt.
type MismatchAttemptRequest struct {
	// Content is the learner's rendering attempt. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"Wo ist der Bahnhof?"`
}

// StateResponse wraps the live correction state of a conversation.
type StateResponse struct {
	State engine.View `json:"state"`
}

// ListTurnsResponse contains a page of persisted turns and pagination metadata.
type ListTurnsResponse struct {
	Turns      []domain.Turn `json:"turns"`
	Pagination Pagination    `json:"pagination"`
}

// CorrectionsResponse wraps the persisted correction log of a conversation.
type CorrectionsResponse struct {
	Corrections []domain.Correction `json:"corrections"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes learner text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxMessageRunes inspects the concrete PracticeService for a
// configured message-length limit. If unavailable, it returns a conservative
// fallback.
func discoverMaxMessageRunes(svc PracticeService) int {
	const fallback = 2000
	if ps, ok := svc.(*services.PracticeService); ok {
		if ps.MaxMessageRunes > 0 {
			return ps.MaxMessageRunes
		}
	}
	return fallback
}

// idempotencyKeyFrom extracts the client-supplied Idempotency-Key. Shape and
// length validation happens upstream in the middleware; reading the header
// directly keeps the handler usable without the middleware installed (the key
// only parameterizes a lookup).
func idempotencyKeyFrom(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}

// submittedTurnID resolves the turn a submission landed on: the retried turn
// when the client supplied one, otherwise the newest learner turn in the view.
func submittedTurnID(view engine.View, retryID string) string {
	if retryID != "" {
		return retryID
	}
	id := ""
	for _, t := range view.Transcript {
		if t.Author == engine.AuthorLearner {
			id = t.ID
		}
	}
	return id
}

// failPractice maps practice service errors to a structured HTTP error.
func failPractice(c *gin.Context, err error, maxRunes int) {
	switch err {
	case services.ErrConversationNotFound:
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
	case services.ErrTurnNotFound:
		fail(c, http.StatusNotFound, ErrCodeNotFound, "turn not found")
	case services.ErrEmptyMessage:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
	case services.ErrTooLong:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxRunes))
	case services.ErrNoSuggestion:
		fail(c, http.StatusConflict, ErrCodeNoSuggestion, "no suggestion is pending for this turn")
	case services.ErrNoMismatchSession:
		fail(c, http.StatusConflict, ErrCodeNoMismatchSession, "no practice session is active")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
	}
}

//
// Handlers
//

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a learner message
// @Description Submits learner text to the conversation. The message is analyzed for
// @Description language and correctness; the returned state shows whether a partner
// @Description reply was produced or the turn was flagged for correction.
// @Description Supplying turn_id retries a flagged turn in place.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Practice
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"       example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Conversation ID (UUID)"      format(uuid)
// @Param       body             body    handlers.SendMessageRequest  true  "Learner message payload"
//
// @Success     200  {object}  handlers.StateResponse  "Updated correction state"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation or turn not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")

	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	content := sanitizeContent(req.Content)
	maxRunes := discoverMaxMessageRunes(h.practiceSvc)
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxRunes))
		return
	}
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	currentUser := userID(c)
	retryID := strings.TrimSpace(req.TurnID)

	// Idempotency (replay path): a stored record means this exact submission
	// already completed, so the state is served without re-running analysis
	// or the partner reply. This is what dedupes client retries of a new
	// message, which carry no turn_id to be matched on.
	idemKey, _ := idempotencyKeyFrom(c)
	if idemKey != "" {
		if svc, okSvc := h.practiceSvc.(*services.PracticeService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, currentUser, convID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if view, verr := h.practiceSvc.View(ctx, currentUser, convID); verr == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, StateResponse{State: view})
					return
				}
			}
		}
	}

	view, err := h.practiceSvc.SendMessage(ctx, currentUser, convID, retryID, content, req.Voice)
	if err != nil {
		failPractice(c, err, maxRunes)
		return
	}

	// Idempotency (store path) – best effort; a lost race is harmless because
	// the unique index keeps exactly one record per (user, conversation, key).
	if idemKey != "" {
		if svc, okSvc := h.practiceSvc.(*services.PracticeService); okSvc && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, convID, idemKey, submittedTurnID(view, retryID), http.StatusOK, ttl)
		}
	}

	ok(c, http.StatusOK, StateResponse{State: view})
}

// ListTurns godoc
// @ID          listTurns
// @Summary     List persisted turns
// @Description Returns a paginated list of the conversation's persisted transcript.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Practice
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       id             path    string  true  "Conversation ID (UUID)"      format(uuid)
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListTurnsResponse
// @Header      200  {string} ETag           "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListTurns(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")

	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.practiceSvc.(*services.PracticeService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.TurnsStats(ctx, db, convID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"turns:%s:%d:%d"`, convID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.practiceSvc.ListTurnsPage(ctx, userID(c), convID, page, pageSize)
	if err != nil {
		failPractice(c, err, 0)
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListTurnsResponse{
		Turns: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetState godoc
// @ID          getState
// @Summary     Fetch live correction state
// @Description Returns the conversation's in-memory correction state: transcript,
// @Description per-turn statuses, attempt counts, pending suggestions, and any
// @Description active practice session.
// @Tags        Practice
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"   example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.StateResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/state [get]
func (h *Handlers) GetState(c *gin.Context) {
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	view, err := h.practiceSvc.View(c.Request.Context(), userID(c), convID)
	if err != nil {
		failPractice(c, err, 0)
		return
	}
	ok(c, http.StatusOK, StateResponse{State: view})
}

// AcceptSuggestion godoc
// @ID          acceptSuggestion
// @Summary     Accept a pending suggestion
// @Description Replaces a stuck turn's text with the stored suggestion, clears its
// @Description flag, and resumes the conversation.
// @Tags        Practice
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"   example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       turnID     path    string  true  "Turn ID (UUID)"          format(uuid)
//
// @Success     200  {object} handlers.StateResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation or turn not found"
// @Failure     409  {object} handlers.ErrorResponse "No suggestion pending"
// @Router      /conversations/{id}/turns/{turnID}/suggestion/accept [post]
func (h *Handlers) AcceptSuggestion(c *gin.Context) {
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}
	turnID := c.Param("turnID")
	if _, err := uuid.Parse(turnID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "turn id must be a UUID")
		return
	}

	view, err := h.practiceSvc.AcceptSuggestion(c.Request.Context(), userID(c), convID, turnID)
	if err != nil {
		failPractice(c, err, 0)
		return
	}
	ok(c, http.StatusOK, StateResponse{State: view})
}

// MismatchAttempt godoc
// @ID          mismatchAttempt
// @Summary     Submit a practice attempt
// @Description Submits the learner's rendering of the practice target. A German
// @Description attempt resolves the session; a non-German attempt is discarded.
// @Tags        Practice
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"   example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       body       body    handlers.MismatchAttemptRequest  true  "Practice attempt payload"
//
// @Success     200  {object} handlers.StateResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     409  {object} handlers.ErrorResponse "No practice session active"
// @Router      /conversations/{id}/mismatch/attempt [post]
func (h *Handlers) MismatchAttempt(c *gin.Context) {
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	var req MismatchAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	content := sanitizeContent(req.Content)
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	view, err := h.practiceSvc.MismatchAttempt(c.Request.Context(), userID(c), convID, content)
	if err != nil {
		failPractice(c, err, 0)
		return
	}
	ok(c, http.StatusOK, StateResponse{State: view})
}

// MismatchSkip godoc
// @ID          mismatchSkip
// @Summary     Skip the active practice session
// @Description Abandons the practice session and restores the originating turn's
// @Description prior status.
// @Tags        Practice
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"   example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.StateResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     409  {object} handlers.ErrorResponse "No practice session active"
// @Router      /conversations/{id}/mismatch/skip [post]
func (h *Handlers) MismatchSkip(c *gin.Context) {
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	view, err := h.practiceSvc.MismatchSkip(c.Request.Context(), userID(c), convID)
	if err != nil {
		failPractice(c, err, 0)
		return
	}
	ok(c, http.StatusOK, StateResponse{State: view})
}

// ResetConversation godoc
// @ID          resetConversation
// @Summary     Reset a conversation
// @Description Wipes the conversation's correction state and persisted transcript.
// @Description Analyses still in flight when the reset lands are discarded.
// @Tags        Practice
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"   example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/reset [post]
func (h *Handlers) ResetConversation(c *gin.Context) {
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	if err := h.practiceSvc.Reset(c.Request.Context(), userID(c), convID); err != nil {
		if err == services.ErrConversationNotFound {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeResetFailed, err.Error())
		return
	}
	noContent(c)
}

// ListCorrections godoc
// @ID          listCorrections
// @Summary     List the correction log
// @Description Returns the persisted correction records for all turns of the
// @Description conversation, oldest first.
// @Tags        Practice
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"   example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.CorrectionsResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/corrections [get]
func (h *Handlers) ListCorrections(c *gin.Context) {
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	items, err := h.practiceSvc.Corrections(c.Request.Context(), userID(c), convID)
	if err != nil {
		failPractice(c, err, 0)
		return
	}
	ok(c, http.StatusOK, CorrectionsResponse{Corrections: items})
}
