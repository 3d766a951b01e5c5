// Package services defines the business logic for conversations and the live
// correction flow. This file centralizes common service-level error values so
// that they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

var (
	// ErrConversationNotFound indicates that the requested conversation does
	// not exist or is not accessible to the current user.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrEmptyMessage is returned when a submitted learner message is empty
	// after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrTooLong is returned when a submitted message exceeds the maximum
	// configured length limit.
	ErrTooLong = errors.New("message too long")

	// ErrTurnNotFound indicates that the referenced turn does not exist in
	// the conversation.
	ErrTurnNotFound = errors.New("turn not found")

	// ErrNoSuggestion is returned when a suggestion is accepted for a turn
	// that has none stored (not generated yet, failed, or already consumed).
	ErrNoSuggestion = errors.New("no suggestion available for this turn")

	// ErrNoMismatchSession is returned for mismatch attempts or skips when
	// the conversation has no live practice session.
	ErrNoMismatchSession = errors.New("no mismatch practice session is open")

	// ErrInvalidLevel is returned when a conversation is created with a CEFR
	// level outside A1..C2.
	ErrInvalidLevel = errors.New("level must be one of A1, A2, B1, B2, C1, C2")
)
