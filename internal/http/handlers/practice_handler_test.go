package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-tandem-backend/internal/domain"
	"github.com/tbourn/go-tandem-backend/internal/engine"
	"github.com/tbourn/go-tandem-backend/internal/services"
)

// ----- Fake practice service -----

type fakePracticeSvc struct {
	sendTurnID string
	sendText   string
	sendVoice  bool
	sendView   engine.View
	sendErr    error

	acceptTurnID string
	acceptErr    error

	attemptText string
	attemptErr  error

	skipCalls int
	skipErr   error

	resetCalls int
	resetErr   error

	viewErr error

	turnsPage  int
	turnsSize  int
	turnsItems []domain.Turn
	turnsTotal int64
	turnsErr   error

	corrections []domain.Correction
	corrErr     error
}

func (f *fakePracticeSvc) SendMessage(ctx context.Context, userID, conversationID, turnID, text string, voice bool) (engine.View, error) {
	f.sendTurnID, f.sendText, f.sendVoice = turnID, text, voice
	return f.sendView, f.sendErr
}

func (f *fakePracticeSvc) AcceptSuggestion(ctx context.Context, userID, conversationID, turnID string) (engine.View, error) {
	f.acceptTurnID = turnID
	return f.sendView, f.acceptErr
}

func (f *fakePracticeSvc) MismatchAttempt(ctx context.Context, userID, conversationID, text string) (engine.View, error) {
	f.attemptText = text
	return f.sendView, f.attemptErr
}

func (f *fakePracticeSvc) MismatchSkip(ctx context.Context, userID, conversationID string) (engine.View, error) {
	f.skipCalls++
	return f.sendView, f.skipErr
}

func (f *fakePracticeSvc) Reset(ctx context.Context, userID, conversationID string) error {
	f.resetCalls++
	return f.resetErr
}

func (f *fakePracticeSvc) View(ctx context.Context, userID, conversationID string) (engine.View, error) {
	return f.sendView, f.viewErr
}

func (f *fakePracticeSvc) ListTurnsPage(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Turn, int64, error) {
	f.turnsPage, f.turnsSize = page, pageSize
	return f.turnsItems, f.turnsTotal, f.turnsErr
}

func (f *fakePracticeSvc) Corrections(ctx context.Context, userID, conversationID string) ([]domain.Correction, error) {
	return f.corrections, f.corrErr
}

// ----- Test rig -----

const testTurnID = "99999999-8888-4777-8666-555555555555"

func newPracticeRouter(ps PracticeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(&fakeConvSvc{}, ps)
	r := gin.New()
	r.POST("/conversations/:id/messages", h.SendMessage)
	r.GET("/conversations/:id/messages", h.ListTurns)
	r.GET("/conversations/:id/state", h.GetState)
	r.POST("/conversations/:id/turns/:turnID/suggestion/accept", h.AcceptSuggestion)
	r.POST("/conversations/:id/mismatch/attempt", h.MismatchAttempt)
	r.POST("/conversations/:id/mismatch/skip", h.MismatchSkip)
	r.POST("/conversations/:id/reset", h.ResetConversation)
	r.GET("/conversations/:id/corrections", h.ListCorrections)
	return r
}

func sampleView() engine.View {
	return engine.View{
		Transcript:  []engine.Turn{{ID: testTurnID, Author: engine.AuthorLearner, Text: "Hallo"}},
		Statuses:    map[string]engine.Status{},
		Attempts:    map[string]engine.AttemptState{},
		Suggestions: map[string]string{},
	}
}

// ----- Tests -----

func TestSendMessage_OK(t *testing.T) {
	f := &fakePracticeSvc{sendView: sampleView()}
	r := newPracticeRouter(f)

	w := doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/messages",
		SendMessageRequest{Content: "  Hallo Welt \r\n", Voice: true})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if f.sendText != "Hallo Welt" {
		t.Fatalf("content not sanitized: %q", f.sendText)
	}
	if !f.sendVoice || f.sendTurnID != "" {
		t.Fatalf("args: voice=%v turnID=%q", f.sendVoice, f.sendTurnID)
	}

	var resp StateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.State.Transcript) != 1 || resp.State.Transcript[0].Text != "Hallo" {
		t.Fatalf("unexpected state: %+v", resp.State)
	}
}

func TestSendMessage_RetryPassesTurnID(t *testing.T) {
	f := &fakePracticeSvc{sendView: sampleView()}
	r := newPracticeRouter(f)

	w := doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/messages",
		SendMessageRequest{Content: "Ich habe es korrigiert.", TurnID: testTurnID})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if f.sendTurnID != testTurnID {
		t.Fatalf("turn id not forwarded: %q", f.sendTurnID)
	}
}

func TestSendMessage_Validation(t *testing.T) {
	f := &fakePracticeSvc{sendView: sampleView()}
	r := newPracticeRouter(f)

	// bad conversation UUID
	w := doJSON(t, r, http.MethodPost, "/conversations/nope/messages", SendMessageRequest{Content: "hi"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid: status=%d", w.Code)
	}

	// whitespace-only content
	w = doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/messages", map[string]string{"content": " \n\n "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank: status=%d", w.Code)
	}

	// oversized content rejected at the edge (interface fake => fallback cap 2000)
	big := strings.Repeat("a", 2001)
	w = doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/messages", SendMessageRequest{Content: big})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("too long: status=%d", w.Code)
	}
}

func TestSendMessage_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrConversationNotFound, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrTurnNotFound, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrEmptyMessage, http.StatusBadRequest, ErrCodeBadRequest},
		{services.ErrTooLong, http.StatusBadRequest, ErrCodeBadRequest},
		{errors.New("boom"), http.StatusInternalServerError, ErrCodeSendFailed},
	}
	for _, tc := range cases {
		f := &fakePracticeSvc{sendErr: tc.err}
		r := newPracticeRouter(f)
		w := doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/messages", SendMessageRequest{Content: "hi"})
		if w.Code != tc.status {
			t.Fatalf("%v: status=%d, want %d", tc.err, w.Code, tc.status)
		}
		var er ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
			t.Fatalf("json: %v", err)
		}
		if er.Code != tc.code {
			t.Fatalf("%v: code=%q, want %q", tc.err, er.Code, tc.code)
		}
	}
}

func TestListTurns_Pagination(t *testing.T) {
	f := &fakePracticeSvc{
		turnsItems: []domain.Turn{{ID: "t1"}, {ID: "t2"}},
		turnsTotal: 7,
	}
	r := newPracticeRouter(f)

	w := doJSON(t, r, http.MethodGet, "/conversations/"+testConvID+"/messages?page=1&page_size=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if f.turnsPage != 1 || f.turnsSize != 5 {
		t.Fatalf("page args: %d/%d", f.turnsPage, f.turnsSize)
	}
	var resp ListTurnsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Pagination.TotalPages != 2 || !resp.Pagination.HasNext {
		t.Fatalf("pagination: %+v", resp.Pagination)
	}
}

func TestGetState_OKAndNotFound(t *testing.T) {
	f := &fakePracticeSvc{sendView: sampleView()}
	r := newPracticeRouter(f)

	w := doJSON(t, r, http.MethodGet, "/conversations/"+testConvID+"/state", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	f.viewErr = services.ErrConversationNotFound
	w = doJSON(t, r, http.MethodGet, "/conversations/"+testConvID+"/state", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing: status=%d", w.Code)
	}
}

func TestAcceptSuggestion_Paths(t *testing.T) {
	f := &fakePracticeSvc{sendView: sampleView()}
	r := newPracticeRouter(f)

	w := doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/turns/"+testTurnID+"/suggestion/accept", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if f.acceptTurnID != testTurnID {
		t.Fatalf("turn id not forwarded: %q", f.acceptTurnID)
	}

	// bad turn UUID
	w = doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/turns/nope/suggestion/accept", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad turn uuid: status=%d", w.Code)
	}

	// nothing pending maps to 409
	f.acceptErr = services.ErrNoSuggestion
	w = doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/turns/"+testTurnID+"/suggestion/accept", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("conflict: status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != ErrCodeNoSuggestion {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestMismatchAttempt_Paths(t *testing.T) {
	f := &fakePracticeSvc{sendView: sampleView()}
	r := newPracticeRouter(f)

	w := doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/mismatch/attempt",
		MismatchAttemptRequest{Content: "Wo ist der Bahnhof?\r\n"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if f.attemptText != "Wo ist der Bahnhof?" {
		t.Fatalf("content not sanitized: %q", f.attemptText)
	}

	// empty content
	w = doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/mismatch/attempt", map[string]string{"content": "  "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank: status=%d", w.Code)
	}

	// no live session maps to 409
	f.attemptErr = services.ErrNoMismatchSession
	w = doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/mismatch/attempt",
		MismatchAttemptRequest{Content: "x"})
	if w.Code != http.StatusConflict {
		t.Fatalf("conflict: status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != ErrCodeNoMismatchSession {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestMismatchSkip_Paths(t *testing.T) {
	f := &fakePracticeSvc{sendView: sampleView()}
	r := newPracticeRouter(f)

	w := doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/mismatch/skip", nil)
	if w.Code != http.StatusOK || f.skipCalls != 1 {
		t.Fatalf("status=%d calls=%d", w.Code, f.skipCalls)
	}

	f.skipErr = services.ErrNoMismatchSession
	w = doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/mismatch/skip", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("conflict: status=%d", w.Code)
	}
}

func TestResetConversation_Paths(t *testing.T) {
	f := &fakePracticeSvc{}
	r := newPracticeRouter(f)

	w := doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/reset", nil)
	if w.Code != http.StatusNoContent || f.resetCalls != 1 {
		t.Fatalf("status=%d calls=%d", w.Code, f.resetCalls)
	}

	f.resetErr = services.ErrConversationNotFound
	w = doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/reset", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing: status=%d", w.Code)
	}

	f.resetErr = errors.New("db broke")
	w = doJSON(t, r, http.MethodPost, "/conversations/"+testConvID+"/reset", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("internal: status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != ErrCodeResetFailed {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestListCorrections_OK(t *testing.T) {
	f := &fakePracticeSvc{
		corrections: []domain.Correction{{ID: "x1", TurnID: testTurnID, Attempt: 1, Grammar: true, Summary: "Artikelfehler"}},
	}
	r := newPracticeRouter(f)

	w := doJSON(t, r, http.MethodGet, "/conversations/"+testConvID+"/corrections", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp CorrectionsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Corrections) != 1 || resp.Corrections[0].Summary != "Artikelfehler" {
		t.Fatalf("unexpected corrections: %+v", resp.Corrections)
	}
}

func TestSanitizeContent(t *testing.T) {
	in := "a\r\nb\r\r\n\n\n\nc  "
	got := sanitizeContent(in)
	if strings.Contains(got, "\r") {
		t.Fatalf("carriage returns survived: %q", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Fatalf("newline runs not collapsed: %q", got)
	}
	if strings.HasSuffix(got, " ") {
		t.Fatalf("not trimmed: %q", got)
	}
}
