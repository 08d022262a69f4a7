package app

import (
	"context"

	"livequiz-service/internal/domain"
)

// SessionStore abstracts where session state lives (in-memory, Redis, etc).
// It is the single source of truth: the manager never caches sessions between
// calls. Implementations must honor per-key expiry and the two atomic
// primitives the engine relies on:
//
//   - Update is a conditional write on Session.Version; a stale version fails
//     with domain.ErrVersionConflict and must not touch the document.
//   - PutAnswer is first-write-wins per (session, participant, question index).
type SessionStore interface {
	Create(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	GetByJoinCode(ctx context.Context, joinCode string) (*domain.Session, error)
	Update(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, sessionID string) error

	PutAnswer(ctx context.Context, record *domain.AnswerRecord) (bool, error)
	Answers(ctx context.Context, sessionID string) ([]domain.AnswerRecord, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// EventSink receives the events a mutation produces, addressed to a session
// group or to one participant's connection. The websocket hub implements it;
// tests swap in a recorder.
type EventSink interface {
	Broadcast(sessionID string, event domain.Event)
}

// nopSink drops events; used until a gateway attaches.
type nopSink struct{}

func (nopSink) Broadcast(string, domain.Event) {}
