// Package services – ConversationService
//
// This file implements the ConversationService, which manages the lifecycle
// of conversations. It validates and normalizes titles, validates CEFR
// levels, enforces ownership rules, and coordinates repository operations for
// creating, listing (with pagination), and updating conversations. Title
// handling is intentionally minimal here because automatic title generation
// is performed in PracticeService on the first learner message.
//
// Service-level errors (e.g., ErrConversationNotFound) are returned for
// predictable cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-tandem-backend/internal/domain"
)

// validLevels is the closed set of CEFR difficulty codes a conversation can
// be pitched at.
var validLevels = map[string]struct{}{
	"A1": {}, "A2": {}, "B1": {}, "B2": {}, "C1": {}, "C2": {},
}

// ConversationRepo defines the repository contract required by
// ConversationService. Implementations are responsible for persistence of
// conversation aggregates.
type ConversationRepo interface {
	// CreateConversation inserts a new conversation row for the given user.
	CreateConversation(ctx context.Context, db *gorm.DB, userID, title, level string) (*domain.Conversation, error)

	// ListConversations returns all conversations belonging to the user.
	ListConversations(ctx context.Context, db *gorm.DB, userID string) ([]domain.Conversation, error)

	// GetConversation fetches a conversation by ID ensuring ownership.
	GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error)

	// UpdateConversationTitle updates a conversation's title (only if it
	// belongs to the user).
	UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error

	// CountConversations returns the total number for pagination.
	CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListConversationsPage returns a page of the user's conversations.
	ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error)
}

// ConversationService provides conversation-level operations such as
// creating, listing, and updating metadata. It enforces title rules, level
// validation, and ownership constraints.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the conversation repository used by this service.
	Repo ConversationRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// DefaultLevel is used when a conversation is created without one.
	DefaultLevel string
}

// NewConversationService constructs a ConversationService with sane defaults.
func NewConversationService(db *gorm.DB, r ConversationRepo) *ConversationService {
	return &ConversationService{
		DB:           db,
		Repo:         r,
		TitleMaxLen:  60,
		DefaultLevel: "A2",
	}
}

// Create inserts a new conversation owned by userID with the provided title
// and CEFR level. Titles are normalized, trimmed, clipped, and a default
// fallback is applied; an empty level falls back to the configured default.
func (s *ConversationService) Create(ctx context.Context, userID, title, level string) (*domain.Conversation, error) {
	title = normalizeTitle(title)
	if title == "" {
		title = defaultTitleNew
	}
	level = strings.ToUpper(strings.TrimSpace(level))
	if level == "" {
		level = s.DefaultLevel
	}
	if _, ok := validLevels[level]; !ok {
		return nil, ErrInvalidLevel
	}
	return s.Repo.CreateConversation(ctx, s.DB, userID, s.clip(title), level)
}

// List returns all conversations for a user (non-paginated).
// Prefer ListPage for scalability on large datasets.
func (s *ConversationService) List(ctx context.Context, userID string) ([]domain.Conversation, error) {
	return s.Repo.ListConversations(ctx, s.DB, userID)
}

// ListPage returns a page of conversations for a user (paginated).
// It applies defaults for invalid page/pageSize and returns total count.
func (s *ConversationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}

	items, err := s.Repo.ListConversationsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Get fetches a conversation by ID, enforcing ownership.
func (s *ConversationService) Get(ctx context.Context, userID, id string) (*domain.Conversation, error) {
	c, err := s.Repo.GetConversation(ctx, s.DB, id, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return c, nil
}

// UpdateTitle updates a conversation's title, ensuring it exists and belongs
// to the given user. Falls back to the default placeholder if title is blank.
func (s *ConversationService) UpdateTitle(ctx context.Context, userID, conversationID, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		title = defaultTitleNew
	}
	// Ensure the conversation exists and belongs to the user.
	if _, err := s.Repo.GetConversation(ctx, s.DB, conversationID, userID); err != nil {
		if isNotFound(err) {
			return ErrConversationNotFound
		}
		return err
	}
	return s.Repo.UpdateConversationTitle(ctx, s.DB, conversationID, userID, s.clip(title))
}

// clip truncates a title to the configured maximum rune length.
func (s *ConversationService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	s = whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
