package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"livequiz-service/internal/domain"
)

const (
	// joinCodeAttempts bounds collision retries before giving up on a code.
	joinCodeAttempts = 5
	// casAttempts bounds reload-and-reapply cycles when another gateway
	// instance wins a conditional write.
	casAttempts = 3

	defaultQuestionTimeLimit = 30 // seconds
)

// SessionManager is the single source of truth for session lifecycle and
// mutation. All mutating operations funnel through it and are serialized per
// session; different sessions proceed in parallel.
type SessionManager struct {
	store      SessionStore
	quizzes    QuizRepository
	sink       EventSink
	locks      *keyedMutex
	now        func() time.Time
	codeLength int
	timeLimit  int
}

// Option tweaks manager defaults.
type Option func(*SessionManager)

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(m *SessionManager) { m.now = now }
}

// WithJoinCodeLength sets the join code length.
func WithJoinCodeLength(n int) Option {
	return func(m *SessionManager) { m.codeLength = n }
}

// WithDefaultTimeLimit sets the fallback per-question time limit in seconds.
func WithDefaultTimeLimit(seconds int) Option {
	return func(m *SessionManager) { m.timeLimit = seconds }
}

func NewSessionManager(store SessionStore, quizzes QuizRepository, opts ...Option) *SessionManager {
	m := &SessionManager{
		store:      store,
		quizzes:    quizzes,
		sink:       nopSink{},
		locks:      newKeyedMutex(),
		now:        time.Now,
		codeLength: defaultJoinCodeLength,
		timeLimit:  defaultQuestionTimeLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetEventSink attaches the gateway that fans events out to connections.
func (m *SessionManager) SetEventSink(sink EventSink) {
	if sink == nil {
		sink = nopSink{}
	}
	m.sink = sink
}

// CreateSession allocates a session with a collision-checked join code and
// binds the creating connection as host.
func (m *SessionManager) CreateSession(ctx context.Context, quizID, title, hostConnID string) (*domain.Session, error) {
	if strings.TrimSpace(quizID) == "" || strings.TrimSpace(title) == "" {
		return nil, domain.ErrInvalidInput
	}

	quiz, err := m.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	session := &domain.Session{
		ID:                uuid.NewString(),
		QuizID:            quizID,
		Title:             title,
		State:             domain.StateCreated,
		CurrentQuestion:   -1,
		QuestionCount:     len(quiz.Questions),
		QuestionTimeLimit: m.timeLimit,
		HostConnectionID:  hostConnID,
		CreatedAt:         now,
		Version:           1,
		Participants:      make(map[string]*domain.Participant),
	}

	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		session.JoinCode = newJoinCode(m.codeLength)
		err = m.store.Create(ctx, session)
		if errors.Is(err, domain.ErrJoinCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return session, nil
	}
	return nil, domain.ErrJoinCodeExhausted
}

// GetSession is a read-only lookup by session id.
func (m *SessionManager) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.store.Get(ctx, sessionID)
}

// GetSessionByJoinCode is a read-only lookup via the join-code index.
func (m *SessionManager) GetSessionByJoinCode(ctx context.Context, joinCode string) (*domain.Session, error) {
	return m.store.GetByJoinCode(ctx, strings.ToUpper(strings.TrimSpace(joinCode)))
}

// SessionUpdate carries the host-configurable fields; nil means unchanged.
type SessionUpdate struct {
	Title             *string
	QuestionTimeLimit *int
}

// UpdateSession persists host-configurable fields before the quiz starts.
func (m *SessionManager) UpdateSession(ctx context.Context, sessionID, hostConnID string, upd SessionUpdate) (*domain.Session, error) {
	return m.mutate(ctx, sessionID, func(s *domain.Session) error {
		if err := claimHost(s, hostConnID); err != nil {
			return err
		}
		if s.State == domain.StateCompleted {
			return domain.ErrSessionCompleted
		}
		if upd.Title != nil {
			if strings.TrimSpace(*upd.Title) == "" {
				return domain.ErrInvalidInput
			}
			s.Title = *upd.Title
		}
		if upd.QuestionTimeLimit != nil {
			if *upd.QuestionTimeLimit <= 0 {
				return domain.ErrInvalidInput
			}
			s.QuestionTimeLimit = *upd.QuestionTimeLimit
		}
		return nil
	})
}

// JoinSession adds a participant to an active session, or re-binds a
// disconnected one when the resume token issued at first join matches.
func (m *SessionManager) JoinSession(ctx context.Context, joinCode, displayName, connID, resumeToken string) (*domain.Participant, *domain.Session, error) {
	if strings.TrimSpace(displayName) == "" {
		return nil, nil, domain.ErrInvalidInput
	}
	found, err := m.GetSessionByJoinCode(ctx, joinCode)
	if err != nil {
		return nil, nil, err
	}

	var joined *domain.Participant
	var reconnected bool
	session, err := m.mutate(ctx, found.ID, func(s *domain.Session) error {
		if s.State == domain.StateCompleted {
			return domain.ErrSessionCompleted
		}

		if resumeToken != "" {
			for _, p := range s.Participants {
				if p.ResumeToken == resumeToken {
					p.DisplayName = displayName
					p.ConnectionID = connID
					p.Connected = true
					joined = p
					reconnected = true
					return nil
				}
			}
		}

		p := &domain.Participant{
			ID:           uuid.NewString(),
			SessionID:    s.ID,
			DisplayName:  displayName,
			ConnectionID: connID,
			Connected:    true,
			ResumeToken:  uuid.NewString(),
			JoinedAt:     m.now(),
		}
		s.Participants[p.ID] = p
		joined = p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	m.sink.Broadcast(session.ID, domain.Event{
		Type: domain.EventParticipantJoined,
		Payload: domain.ParticipantJoinedPayload{
			ParticipantID: joined.ID,
			DisplayName:   joined.DisplayName,
			Reconnected:   reconnected,
		},
	})
	return joined, session, nil
}

// QuestionAdvance reports the outcome of StartSession/AdvanceQuestion. The
// full question (answer included) goes only to the host; broadcasts carry the
// player view.
type QuestionAdvance struct {
	Session  *domain.Session
	Ended    bool
	Question *domain.Question
	Index    int
	Deadline time.Time
}

// StartSession moves Created → InProgress and broadcasts the first question.
func (m *SessionManager) StartSession(ctx context.Context, sessionID, hostConnID string) (*QuestionAdvance, error) {
	current, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.HostConnectionID != "" && current.HostConnectionID != hostConnID {
		return nil, domain.ErrNotHost
	}
	switch current.State {
	case domain.StateCompleted:
		return nil, domain.ErrSessionCompleted
	case domain.StateInProgress:
		return nil, domain.ErrAlreadyStarted
	}

	quiz, err := m.quizzes.GetQuiz(ctx, current.QuizID)
	if err != nil {
		return nil, err
	}

	var adv *QuestionAdvance
	session, err := m.mutate(ctx, sessionID, func(s *domain.Session) error {
		if err := claimHost(s, hostConnID); err != nil {
			return err
		}
		if s.State != domain.StateCreated {
			return domain.ErrAlreadyStarted
		}
		now := m.now()
		s.State = domain.StateInProgress
		s.StartedAt = &now
		s.QuestionCount = len(quiz.Questions)
		a, err := m.serveQuestion(s, quiz, 0, now)
		if err != nil {
			return err
		}
		adv = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	adv.Session = session

	m.sink.Broadcast(session.ID, domain.Event{
		Type: domain.EventGameStarted,
		Payload: domain.GameStartedPayload{
			SessionID: session.ID,
			Question:  adv.Question.View(false, session.QuestionTimeLimit),
			Index:     adv.Index,
			Total:     session.QuestionCount,
			Deadline:  adv.Deadline,
		},
	})
	return adv, nil
}

// AdvanceQuestion moves to the next question, or completes the session when
// the question list is exhausted.
func (m *SessionManager) AdvanceQuestion(ctx context.Context, sessionID, hostConnID string) (*QuestionAdvance, error) {
	current, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.HostConnectionID != "" && current.HostConnectionID != hostConnID {
		return nil, domain.ErrNotHost
	}
	switch current.State {
	case domain.StateCompleted:
		return nil, domain.ErrSessionCompleted
	case domain.StateCreated:
		return nil, domain.ErrSessionNotStarted
	}

	quiz, err := m.quizzes.GetQuiz(ctx, current.QuizID)
	if err != nil {
		return nil, err
	}

	var adv *QuestionAdvance
	session, err := m.mutate(ctx, sessionID, func(s *domain.Session) error {
		if err := claimHost(s, hostConnID); err != nil {
			return err
		}
		if s.State != domain.StateInProgress {
			return domain.ErrSessionCompleted
		}
		now := m.now()
		next := s.CurrentQuestion + 1
		if next >= s.QuestionCount {
			s.State = domain.StateCompleted
			s.CurrentQuestion = s.QuestionCount
			s.EndedAt = &now
			s.QuestionDeadline = time.Time{}
			adv = &QuestionAdvance{Ended: true, Index: next}
			return nil
		}
		a, err := m.serveQuestion(s, quiz, next, now)
		if err != nil {
			return err
		}
		adv = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	adv.Session = session

	if adv.Ended {
		m.sink.Broadcast(session.ID, domain.Event{
			Type: domain.EventSessionEnded,
			Payload: domain.SessionEndedPayload{
				SessionID:        session.ID,
				FinalLeaderboard: rankParticipants(session),
			},
		})
		return adv, nil
	}

	m.sink.Broadcast(session.ID, domain.Event{
		Type: domain.EventNextQuestion,
		Payload: domain.NextQuestionPayload{
			SessionID: session.ID,
			Question:  adv.Question.View(false, session.QuestionTimeLimit),
			Index:     adv.Index,
			Total:     session.QuestionCount,
			Deadline:  adv.Deadline,
		},
	})
	return adv, nil
}

// serveQuestion points the session at question index and arms its deadline.
func (m *SessionManager) serveQuestion(s *domain.Session, quiz domain.Quiz, index int, now time.Time) (*QuestionAdvance, error) {
	if index < 0 || index >= len(quiz.Questions) {
		return nil, domain.ErrStaleQuestion
	}
	question := quiz.Questions[index]
	limit := questionLimit(question, s.QuestionTimeLimit)

	s.CurrentQuestion = index
	s.QuestionStartedAt = now
	s.QuestionDeadline = now.Add(limit)

	return &QuestionAdvance{
		Question: &question,
		Index:    index,
		Deadline: s.QuestionDeadline,
	}, nil
}

// SubmitAnswer validates a timed submission, scores it, and applies it to the
// participant exactly once. The answer record write is first-write-wins in the
// store, so N concurrent identical submissions accept exactly one.
func (m *SessionManager) SubmitAnswer(ctx context.Context, sessionID, participantID string, questionIndex int, value string, submittedAt time.Time) (domain.AnswerResult, error) {
	m.locks.lock(sessionID)
	defer m.locks.unlock(sessionID)

	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return domain.AnswerResult{}, err
	}

	switch session.State {
	case domain.StateCreated:
		return domain.AnswerResult{}, domain.ErrSessionNotStarted
	case domain.StateCompleted:
		return domain.AnswerResult{}, domain.ErrSessionCompleted
	}
	if _, ok := session.Participants[participantID]; !ok {
		return domain.AnswerResult{}, domain.ErrParticipantNotFound
	}
	if questionIndex != session.CurrentQuestion {
		return domain.AnswerResult{}, domain.ErrStaleQuestion
	}

	now := m.now()
	// The server-side deadline is authoritative regardless of what the client
	// reports about its own elapsed time.
	if !session.QuestionDeadline.IsZero() && now.After(session.QuestionDeadline) {
		return domain.AnswerResult{}, domain.ErrDeadlinePassed
	}

	quiz, err := m.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if questionIndex >= len(quiz.Questions) {
		return domain.AnswerResult{}, domain.ErrStaleQuestion
	}
	question := quiz.Questions[questionIndex]

	if submittedAt.IsZero() {
		submittedAt = now
	}
	limit := questionLimit(question, session.QuestionTimeLimit)
	responseTime := submittedAt.Sub(session.QuestionStartedAt)
	if responseTime < 0 {
		responseTime = 0
	}
	if responseTime > limit {
		responseTime = limit
	}

	correct := strings.TrimSpace(value) == question.Answer
	points := Score(correct, responseTime, limit)

	record := &domain.AnswerRecord{
		SessionID:      sessionID,
		ParticipantID:  participantID,
		QuestionIndex:  questionIndex,
		Value:          value,
		Correct:        correct,
		ResponseTimeMs: responseTime.Milliseconds(),
		Points:         points,
		SubmittedAt:    submittedAt,
	}
	accepted, err := m.store.PutAnswer(ctx, record)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if !accepted {
		return domain.AnswerResult{Accepted: false}, domain.ErrDuplicateAnswer
	}

	apply := func(s *domain.Session) error {
		p, ok := s.Participants[participantID]
		if !ok {
			return domain.ErrParticipantNotFound
		}
		p.Score += points
		p.TotalAnswers++
		if correct {
			p.CorrectAnswers++
		}
		return nil
	}
	// The accepted record already decided the race; giving up here would
	// strand a scored answer that can never be resubmitted, so keep
	// reapplying past the usual attempt budget until the score lands.
	session, err = m.applyLocked(ctx, sessionID, apply)
	for errors.Is(err, domain.ErrVersionConflict) {
		session, err = m.applyLocked(ctx, sessionID, apply)
	}
	if err != nil {
		return domain.AnswerResult{}, err
	}

	m.sink.Broadcast(sessionID, domain.Event{
		Type: domain.EventLeaderboard,
		Payload: domain.LeaderboardPayload{
			SessionID: sessionID,
			Entries:   rankParticipants(session),
		},
	})

	total := 0
	if p, ok := session.Participants[participantID]; ok {
		total = p.Score
	}
	return domain.AnswerResult{Accepted: true, Correct: correct, Points: points, Total: total}, nil
}

// MarkDisconnected flips the participant to disconnected without touching any
// accumulated state.
func (m *SessionManager) MarkDisconnected(ctx context.Context, sessionID, participantID string) error {
	var name string
	session, err := m.mutate(ctx, sessionID, func(s *domain.Session) error {
		p, ok := s.Participants[participantID]
		if !ok {
			return domain.ErrParticipantNotFound
		}
		p.Connected = false
		p.ConnectionID = ""
		name = p.DisplayName
		return nil
	})
	if err != nil {
		return err
	}
	m.sink.Broadcast(session.ID, domain.Event{
		Type: domain.EventParticipantDisconnected,
		Payload: domain.ParticipantDisconnectedPayload{
			ParticipantID: participantID,
			DisplayName:   name,
		},
	})
	return nil
}

// MarkReconnected re-binds a participant to a live connection without going
// through the join path; callers that already know the participant id (an
// admin surface, a trusted gateway) use it instead of a resume token.
func (m *SessionManager) MarkReconnected(ctx context.Context, sessionID, participantID, connID string) error {
	_, err := m.mutate(ctx, sessionID, func(s *domain.Session) error {
		p, ok := s.Participants[participantID]
		if !ok {
			return domain.ErrParticipantNotFound
		}
		p.Connected = true
		p.ConnectionID = connID
		return nil
	})
	return err
}

// Participants returns the session roster.
func (m *SessionManager) Participants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	roster := make([]domain.Participant, 0, len(session.Participants))
	for _, p := range session.Participants {
		roster = append(roster, *p)
	}
	sort.Slice(roster, func(i, j int) bool {
		if !roster[i].JoinedAt.Equal(roster[j].JoinedAt) {
			return roster[i].JoinedAt.Before(roster[j].JoinedAt)
		}
		return roster[i].ID < roster[j].ID
	})
	return roster, nil
}

// Leaderboard ranks participants by score; ties break on fewer total answers,
// then earlier join time, then id, so repeated reads are stable.
func (m *SessionManager) Leaderboard(ctx context.Context, sessionID string) ([]domain.LeaderboardEntry, error) {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return rankParticipants(session), nil
}

// DeleteSession removes a session immediately, as opposed to waiting for the
// retention purge.
func (m *SessionManager) DeleteSession(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionID)
}

// Summary derives analytics from the answer log. It does not require the
// session to be completed.
func (m *SessionManager) Summary(ctx context.Context, sessionID string) (domain.SessionSummary, error) {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	answers, err := m.store.Answers(ctx, sessionID)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	return Aggregate(session, answers), nil
}

// mutate serializes a read-modify-write cycle for one session: process-local
// keyed lock plus a conditional write against the store. A lost conditional
// write (another gateway instance) reloads and reapplies.
func (m *SessionManager) mutate(ctx context.Context, sessionID string, fn func(*domain.Session) error) (*domain.Session, error) {
	m.locks.lock(sessionID)
	defer m.locks.unlock(sessionID)
	return m.applyLocked(ctx, sessionID, fn)
}

func (m *SessionManager) applyLocked(ctx context.Context, sessionID string, fn func(*domain.Session) error) (*domain.Session, error) {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		session, err := m.store.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if err := fn(session); err != nil {
			return nil, err
		}
		err = m.store.Update(ctx, session)
		if errors.Is(err, domain.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		return session, nil
	}
	return nil, lastErr
}

// claimHost verifies the caller controls the session. Sessions created over
// REST start with no host connection; the first connection to drive one
// becomes its host.
func claimHost(s *domain.Session, hostConnID string) error {
	if s.HostConnectionID == "" {
		s.HostConnectionID = hostConnID
		return nil
	}
	if s.HostConnectionID != hostConnID {
		return domain.ErrNotHost
	}
	return nil
}

func rankParticipants(s *domain.Session) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(s.Participants))
	joined := make(map[string]time.Time, len(s.Participants))
	for _, p := range s.Participants {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID:  p.ID,
			DisplayName:    p.DisplayName,
			Score:          p.Score,
			CorrectAnswers: p.CorrectAnswers,
			TotalAnswers:   p.TotalAnswers,
		})
		joined[p.ID] = p.JoinedAt
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].TotalAnswers != entries[j].TotalAnswers {
			return entries[i].TotalAnswers < entries[j].TotalAnswers
		}
		ji, jj := joined[entries[i].ParticipantID], joined[entries[j].ParticipantID]
		if !ji.Equal(jj) {
			return ji.Before(jj)
		}
		return entries[i].ParticipantID < entries[j].ParticipantID
	})
	return entries
}

func questionLimit(q domain.Question, sessionDefault int) time.Duration {
	seconds := q.TimeLimit
	if seconds <= 0 {
		seconds = sessionDefault
	}
	if seconds <= 0 {
		seconds = defaultQuestionTimeLimit
	}
	return time.Duration(seconds) * time.Second
}
