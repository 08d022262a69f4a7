package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"livequiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore with the
// same conditional-write semantics as the Redis store. Suitable for a single
// process only (dev mode and tests).
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	byCode   map[string]string
	answers  map[string]map[answerKey]domain.AnswerRecord
	log      map[string][]domain.AnswerRecord
}

type answerKey struct {
	participantID string
	questionIndex int
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*domain.Session),
		byCode:   make(map[string]string),
		answers:  make(map[string]map[answerKey]domain.AnswerRecord),
		log:      make(map[string][]domain.AnswerRecord),
	}
}

func (s *SessionStore) Create(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byCode[session.JoinCode]; taken {
		return domain.ErrJoinCodeTaken
	}
	copied, err := cloneSession(session)
	if err != nil {
		return err
	}
	s.sessions[session.ID] = copied
	s.byCode[session.JoinCode] = session.ID
	s.answers[session.ID] = make(map[answerKey]domain.AnswerRecord)
	return nil
}

func (s *SessionStore) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(session)
}

func (s *SessionStore) GetByJoinCode(_ context.Context, joinCode string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[joinCode]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(session)
}

func (s *SessionStore) Update(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[session.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if stored.Version != session.Version {
		return domain.ErrVersionConflict
	}
	session.Version++
	copied, err := cloneSession(session)
	if err != nil {
		session.Version--
		return err
	}
	s.sessions[session.ID] = copied
	return nil
}

func (s *SessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.byCode, session.JoinCode)
	delete(s.sessions, sessionID)
	delete(s.answers, sessionID)
	delete(s.log, sessionID)
	return nil
}

func (s *SessionStore) PutAnswer(_ context.Context, record *domain.AnswerRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.answers[record.SessionID]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	key := answerKey{record.ParticipantID, record.QuestionIndex}
	if _, exists := byKey[key]; exists {
		return false, nil
	}
	byKey[key] = *record
	s.log[record.SessionID] = append(s.log[record.SessionID], *record)
	return true, nil
}

func (s *SessionStore) Answers(_ context.Context, sessionID string) ([]domain.AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, domain.ErrSessionNotFound
	}
	records := s.log[sessionID]
	out := make([]domain.AnswerRecord, len(records))
	copy(out, records)
	return out, nil
}

// cloneSession deep-copies through JSON so callers never alias stored state.
func cloneSession(session *domain.Session) (*domain.Session, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("clone session: %w", err)
	}
	var copied domain.Session
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("clone session: %w", err)
	}
	if copied.Participants == nil {
		copied.Participants = make(map[string]*domain.Participant)
	}
	return &copied, nil
}
