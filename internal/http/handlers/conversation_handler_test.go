package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-tandem-backend/internal/domain"
	"github.com/tbourn/go-tandem-backend/internal/services"
)

// ----- Fake conversation service -----

type fakeConvSvc struct {
	createUserID string
	createTitle  string
	createLevel  string
	createConv   *domain.Conversation
	createErr    error

	pagePage  int
	pageSize  int
	pageItems []domain.Conversation
	pageTotal int64
	pageErr   error

	getID   string
	getConv *domain.Conversation
	getErr  error

	updateID    string
	updateTitle string
	updateErr   error
}

func (f *fakeConvSvc) Create(ctx context.Context, userID, title, level string) (*domain.Conversation, error) {
	f.createUserID, f.createTitle, f.createLevel = userID, title, level
	return f.createConv, f.createErr
}

func (f *fakeConvSvc) List(ctx context.Context, userID string) ([]domain.Conversation, error) {
	return f.pageItems, f.pageErr
}

func (f *fakeConvSvc) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	f.pagePage, f.pageSize = page, pageSize
	return f.pageItems, f.pageTotal, f.pageErr
}

func (f *fakeConvSvc) Get(ctx context.Context, userID, id string) (*domain.Conversation, error) {
	f.getID = id
	return f.getConv, f.getErr
}

func (f *fakeConvSvc) UpdateTitle(ctx context.Context, userID, conversationID, title string) error {
	f.updateID, f.updateTitle = conversationID, title
	return f.updateErr
}

// ----- Test rig -----

const testConvID = "11111111-2222-4333-8444-555555555555"

func newConvRouter(cs ConversationService, ps PracticeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(cs, ps)
	r := gin.New()
	r.POST("/conversations", h.CreateConversation)
	r.GET("/conversations", h.ListConversations)
	r.GET("/conversations/:id", h.GetConversation)
	r.PUT("/conversations/:id/title", h.UpdateConversationTitle)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ----- Tests -----

func TestCreateConversation_OK(t *testing.T) {
	f := &fakeConvSvc{createConv: &domain.Conversation{ID: testConvID, UserID: "u1", Title: "Beim Bäcker", Level: "B1"}}
	r := newConvRouter(f, nil)

	w := doJSON(t, r, http.MethodPost, "/conversations", CreateConversationRequest{Title: "Beim Bäcker", Level: "B1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if f.createUserID != "u1" || f.createTitle != "Beim Bäcker" || f.createLevel != "B1" {
		t.Fatalf("service args: %q %q %q", f.createUserID, f.createTitle, f.createLevel)
	}

	var conv domain.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &conv); err != nil {
		t.Fatalf("json: %v", err)
	}
	if conv.ID != testConvID {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
}

func TestCreateConversation_InvalidJSONAndLevel(t *testing.T) {
	f := &fakeConvSvc{createErr: services.ErrInvalidLevel}
	r := newConvRouter(f, nil)

	// malformed body
	req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString("{nope"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed: status=%d", w.Code)
	}

	// invalid level from service
	w = doJSON(t, r, http.MethodPost, "/conversations", CreateConversationRequest{Level: "Z9"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("level: status=%d body=%s", w.Code, w.Body.String())
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != ErrCodeBadRequest {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestListConversations_Pagination(t *testing.T) {
	f := &fakeConvSvc{
		pageItems: []domain.Conversation{{ID: "c1"}, {ID: "c2"}},
		pageTotal: 42,
	}
	r := newConvRouter(f, nil)

	w := doJSON(t, r, http.MethodGet, "/conversations?page=2&page_size=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if f.pagePage != 2 || f.pageSize != 10 {
		t.Fatalf("page args: %d/%d", f.pagePage, f.pageSize)
	}

	var resp ListConversationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Pagination.Total != 42 || resp.Pagination.TotalPages != 5 || !resp.Pagination.HasNext {
		t.Fatalf("pagination: %+v", resp.Pagination)
	}
	if len(resp.Conversations) != 2 {
		t.Fatalf("items: %d", len(resp.Conversations))
	}
}

func TestListConversations_ClampsPageParams(t *testing.T) {
	f := &fakeConvSvc{pageTotal: 0}
	r := newConvRouter(f, nil)

	w := doJSON(t, r, http.MethodGet, "/conversations?page=-3&page_size=9999", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if f.pagePage != 1 || f.pageSize != 100 {
		t.Fatalf("clamped args: %d/%d, want 1/100", f.pagePage, f.pageSize)
	}
}

func TestGetConversation_Paths(t *testing.T) {
	f := &fakeConvSvc{getConv: &domain.Conversation{ID: testConvID, UserID: "u1"}}
	r := newConvRouter(f, nil)

	// bad UUID
	w := doJSON(t, r, http.MethodGet, "/conversations/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid: status=%d", w.Code)
	}

	// found
	w = doJSON(t, r, http.MethodGet, "/conversations/"+testConvID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("found: status=%d body=%s", w.Code, w.Body.String())
	}

	// not found
	f.getConv, f.getErr = nil, services.ErrConversationNotFound
	w = doJSON(t, r, http.MethodGet, "/conversations/"+testConvID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing: status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != ErrCodeNotFound {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestUpdateConversationTitle_Paths(t *testing.T) {
	f := &fakeConvSvc{}
	r := newConvRouter(f, nil)

	// happy path
	w := doJSON(t, r, http.MethodPut, "/conversations/"+testConvID+"/title", UpdateConversationTitleRequest{Title: "Neuer Titel"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if f.updateID != testConvID || f.updateTitle != "Neuer Titel" {
		t.Fatalf("service args: %q %q", f.updateID, f.updateTitle)
	}

	// blank title rejected at the edge
	w = doJSON(t, r, http.MethodPut, "/conversations/"+testConvID+"/title", map[string]string{"title": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank: status=%d", w.Code)
	}

	// service not-found maps to 404
	f.updateErr = services.ErrConversationNotFound
	w = doJSON(t, r, http.MethodPut, "/conversations/"+testConvID+"/title", UpdateConversationTitleRequest{Title: "x"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing: status=%d", w.Code)
	}
}

func TestUserID_FallbackChain(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// context value wins
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set("userID", "ctx-user")
	c.Request.Header.Set("X-User-ID", "hdr-user")
	if got := userID(c); got != "ctx-user" {
		t.Fatalf("got %q, want ctx-user", got)
	}

	// header next
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("X-User-ID", "hdr-user")
	if got := userID(c); got != "hdr-user" {
		t.Fatalf("got %q, want hdr-user", got)
	}

	// demo fallback
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if got := userID(c); got != "demo-user" {
		t.Fatalf("got %q, want demo-user", got)
	}
}
