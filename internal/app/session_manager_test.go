package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/infra/memory"
)

func TestCreateSessionIssuesJoinCode(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	session, err := m.CreateSession(ctx, "quiz-1", "Friday Trivia", "host-conn")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if session.State != domain.StateCreated {
		t.Fatalf("expected created state, got %s", session.State)
	}
	if len(session.JoinCode) != 6 {
		t.Fatalf("expected 6-char join code, got %q", session.JoinCode)
	}
	if session.CurrentQuestion != -1 {
		t.Fatalf("expected no current question, got %d", session.CurrentQuestion)
	}

	found, err := m.GetSessionByJoinCode(ctx, session.JoinCode)
	if err != nil {
		t.Fatalf("lookup by code failed: %v", err)
	}
	if found.ID != session.ID {
		t.Fatalf("expected %s, got %s", session.ID, found.ID)
	}
}

func TestCreateSessionValidatesInput(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	if _, err := m.CreateSession(ctx, "", "Title", "h"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := m.CreateSession(ctx, "quiz-1", "  ", "h"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := m.CreateSession(ctx, "no-such-quiz", "Title", "h"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

func TestJoinBroadcastsAndRejectsCompleted(t *testing.T) {
	ctx := context.Background()
	m, sink, _ := newTestManager()

	session, err := m.CreateSession(ctx, "quiz-1", "Trivia", "host-conn")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	alice, _, err := m.JoinSession(ctx, session.JoinCode, "Alice", "conn-a", "")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if alice.ResumeToken == "" {
		t.Fatal("expected a resume token")
	}
	if got := sink.last(domain.EventParticipantJoined); got == nil {
		t.Fatal("expected participant_joined broadcast")
	}

	if _, _, err := m.JoinSession(ctx, "ZZZZZZ", "Bob", "conn-b", ""); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found for bad code, got %v", err)
	}
	if _, _, err := m.JoinSession(ctx, session.JoinCode, "", "conn-b", ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty name, got %v", err)
	}

	runToCompletion(t, m, session.ID, "host-conn")
	if _, _, err := m.JoinSession(ctx, session.JoinCode, "Late", "conn-l", ""); !errors.Is(err, domain.ErrSessionCompleted) {
		t.Fatalf("expected completed error, got %v", err)
	}
}

func TestStartRequiresHost(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	session, _ := m.CreateSession(ctx, "quiz-1", "Trivia", "host-conn")
	if _, err := m.StartSession(ctx, session.ID, "someone-else"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected not-host error, got %v", err)
	}

	if _, err := m.StartSession(ctx, session.ID, "host-conn"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := m.StartSession(ctx, session.ID, "host-conn"); !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Fatalf("expected already-started error, got %v", err)
	}
}

func TestGameFlowScoresAndCompletes(t *testing.T) {
	ctx := context.Background()
	m, sink, clock := newTestManager()

	session, _ := m.CreateSession(ctx, "quiz-1", "Trivia", "host-conn")
	alice, _, _ := m.JoinSession(ctx, session.JoinCode, "Alice", "conn-a", "")
	bob, _, _ := m.JoinSession(ctx, session.JoinCode, "Bob", "conn-b", "")

	adv, err := m.StartSession(ctx, session.ID, "host-conn")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if adv.Index != 0 || adv.Question.Answer != "4" {
		t.Fatalf("unexpected first question: %+v", adv)
	}
	started := sink.last(domain.EventGameStarted)
	if started == nil {
		t.Fatal("expected game_started broadcast")
	}
	if payload := started.Payload.(domain.GameStartedPayload); payload.Question.Answer != "" {
		t.Fatal("player view must not carry the answer")
	}

	// Alice answers instantly and correctly, Bob halfway through and wrong.
	res, err := m.SubmitAnswer(ctx, session.ID, alice.ID, 0, "4", clock.Now())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !res.Accepted || !res.Correct || res.Points != 1000 {
		t.Fatalf("unexpected result for Alice: %+v", res)
	}
	res, err = m.SubmitAnswer(ctx, session.ID, bob.ID, 0, "5", clock.Now().Add(10*time.Second))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if res.Accepted != true || res.Correct || res.Points != 0 {
		t.Fatalf("unexpected result for Bob: %+v", res)
	}

	lb, err := m.Leaderboard(ctx, session.ID)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if lb[0].ParticipantID != alice.ID || lb[0].Score != 1000 {
		t.Fatalf("expected Alice leading with 1000, got %+v", lb[0])
	}

	// Second question, then advancing past the end completes the session.
	if _, err := m.AdvanceQuestion(ctx, session.ID, "host-conn"); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	adv, err = m.AdvanceQuestion(ctx, session.ID, "host-conn")
	if err != nil {
		t.Fatalf("final advance failed: %v", err)
	}
	if !adv.Ended {
		t.Fatal("expected session to end")
	}
	ended := sink.last(domain.EventSessionEnded)
	if ended == nil {
		t.Fatal("expected session_ended broadcast")
	}
	final := ended.Payload.(domain.SessionEndedPayload).FinalLeaderboard
	if len(final) != 2 || final[0].ParticipantID != alice.ID {
		t.Fatalf("unexpected final leaderboard: %+v", final)
	}

	if _, err := m.AdvanceQuestion(ctx, session.ID, "host-conn"); !errors.Is(err, domain.ErrSessionCompleted) {
		t.Fatalf("expected completed error, got %v", err)
	}
}

func TestSubmitAnswerTimingRules(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newTestManager()

	session, _ := m.CreateSession(ctx, "quiz-1", "Trivia", "host-conn")
	alice, _, _ := m.JoinSession(ctx, session.JoinCode, "Alice", "conn-a", "")

	if _, err := m.SubmitAnswer(ctx, session.ID, alice.ID, 0, "4", time.Time{}); !errors.Is(err, domain.ErrSessionNotStarted) {
		t.Fatalf("expected not-started error, got %v", err)
	}

	if _, err := m.StartSession(ctx, session.ID, "host-conn"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if _, err := m.SubmitAnswer(ctx, session.ID, alice.ID, 1, "4", time.Time{}); !errors.Is(err, domain.ErrStaleQuestion) {
		t.Fatalf("expected stale-question error, got %v", err)
	}
	if _, err := m.SubmitAnswer(ctx, session.ID, "nobody", 0, "4", time.Time{}); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected participant error, got %v", err)
	}

	// Past the 20s question deadline on the server clock.
	clock.Advance(21 * time.Second)
	if _, err := m.SubmitAnswer(ctx, session.ID, alice.ID, 0, "4", time.Time{}); !errors.Is(err, domain.ErrDeadlinePassed) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestSubmitAnswerFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	session, _ := m.CreateSession(ctx, "quiz-1", "Trivia", "host-conn")
	alice, _, _ := m.JoinSession(ctx, session.JoinCode, "Alice", "conn-a", "")
	if _, err := m.StartSession(ctx, session.ID, "host-conn"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if _, err := m.SubmitAnswer(ctx, session.ID, alice.ID, 0, "4", time.Time{}); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	res, err := m.SubmitAnswer(ctx, session.ID, alice.ID, 0, "3", time.Time{})
	if !errors.Is(err, domain.ErrDuplicateAnswer) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if res.Accepted {
		t.Fatal("duplicate must not be accepted")
	}

	lb, _ := m.Leaderboard(ctx, session.ID)
	if lb[0].Score != 1000 || lb[0].TotalAnswers != 1 {
		t.Fatalf("duplicate leaked into the score: %+v", lb[0])
	}
}

// conflictingStore fails the next n conditional writes before letting them
// through, standing in for other gateway instances winning the race.
type conflictingStore struct {
	app.SessionStore
	remaining int32
}

func (s *conflictingStore) Update(ctx context.Context, session *domain.Session) error {
	if atomic.AddInt32(&s.remaining, -1) >= 0 {
		return domain.ErrVersionConflict
	}
	return s.SessionStore.Update(ctx, session)
}

func TestSubmitAnswerSurvivesConflictStorm(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := &conflictingStore{SessionStore: memory.NewSessionStore()}
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(testQuizzes()), 5*time.Minute)
	m := app.NewSessionManager(store, quizzes, app.WithClock(clock.Now))

	session, err := m.CreateSession(ctx, "quiz-1", "Trivia", "host-conn")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	alice, _, err := m.JoinSession(ctx, session.JoinCode, "Alice", "conn-a", "")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if _, err := m.StartSession(ctx, session.ID, "host-conn"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Once the answer record is accepted it can never be resubmitted, so the
	// score must land even when conditional writes keep losing for longer
	// than the usual retry budget.
	atomic.StoreInt32(&store.remaining, 5)
	res, err := m.SubmitAnswer(ctx, session.ID, alice.ID, 0, "4", time.Time{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !res.Accepted || res.Points != 1000 {
		t.Fatalf("unexpected result: %+v", res)
	}

	lb, err := m.Leaderboard(ctx, session.ID)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if lb[0].Score != 1000 || lb[0].TotalAnswers != 1 {
		t.Fatalf("accepted answer never reached the score: %+v", lb[0])
	}
}

func TestConcurrentSubmissionsAcceptExactlyOne(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	session, _ := m.CreateSession(ctx, "quiz-1", "Trivia", "host-conn")
	alice, _, _ := m.JoinSession(ctx, session.JoinCode, "Alice", "conn-a", "")
	if _, err := m.StartSession(ctx, session.ID, "host-conn"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.SubmitAnswer(ctx, session.ID, alice.ID, 0, "4", time.Time{})
			if err != nil && !errors.Is(err, domain.ErrDuplicateAnswer) {
				t.Errorf("unexpected submit error: %v", err)
				return
			}
			if res.Accepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("expected exactly one accepted submission, got %d", accepted)
	}
	lb, _ := m.Leaderboard(ctx, session.ID)
	if lb[0].TotalAnswers != 1 {
		t.Fatalf("expected one recorded answer, got %d", lb[0].TotalAnswers)
	}
}

func TestResumeTokenRebindsParticipant(t *testing.T) {
	ctx := context.Background()
	m, sink, _ := newTestManager()

	session, _ := m.CreateSession(ctx, "quiz-1", "Trivia", "host-conn")
	alice, _, _ := m.JoinSession(ctx, session.JoinCode, "Alice", "conn-a", "")
	if _, err := m.StartSession(ctx, session.ID, "host-conn"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := m.SubmitAnswer(ctx, session.ID, alice.ID, 0, "4", time.Time{}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if err := m.MarkDisconnected(ctx, session.ID, alice.ID); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if sink.last(domain.EventParticipantDisconnected) == nil {
		t.Fatal("expected participant_disconnected broadcast")
	}

	back, _, err := m.JoinSession(ctx, session.JoinCode, "Alice", "conn-a2", alice.ResumeToken)
	if err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}
	if back.ID != alice.ID {
		t.Fatalf("expected the same participant, got %s vs %s", back.ID, alice.ID)
	}
	if back.Score != 1000 || !back.Connected {
		t.Fatalf("reconnect lost state: %+v", back)
	}

	// A bogus token falls through to a fresh participant.
	fresh, _, err := m.JoinSession(ctx, session.JoinCode, "Mallory", "conn-m", "not-a-token")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if fresh.ID == alice.ID {
		t.Fatal("bogus token must not hijack a participant")
	}
}

func TestMarkReconnectedRestoresConnection(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	session, _ := m.CreateSession(ctx, "quiz-1", "Trivia", "host-conn")
	alice, _, _ := m.JoinSession(ctx, session.JoinCode, "Alice", "conn-a", "")
	if _, err := m.StartSession(ctx, session.ID, "host-conn"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := m.SubmitAnswer(ctx, session.ID, alice.ID, 0, "4", time.Time{}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if err := m.MarkDisconnected(ctx, session.ID, alice.ID); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if err := m.MarkReconnected(ctx, session.ID, alice.ID, "conn-a2"); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}

	roster, err := m.Participants(ctx, session.ID)
	if err != nil {
		t.Fatalf("participants failed: %v", err)
	}
	if len(roster) != 1 {
		t.Fatalf("unexpected roster: %+v", roster)
	}
	p := roster[0]
	if !p.Connected || p.ConnectionID != "conn-a2" {
		t.Fatalf("expected live binding on conn-a2, got %+v", p)
	}
	if p.Score != 1000 {
		t.Fatalf("reconnect lost accumulated score: %+v", p)
	}

	if err := m.MarkReconnected(ctx, session.ID, "nobody", "conn-x"); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected participant error, got %v", err)
	}
}

func TestUpdateSessionRules(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	session, _ := m.CreateSession(ctx, "quiz-1", "Trivia", "host-conn")

	title := "Friday Night Trivia"
	limit := 15
	updated, err := m.UpdateSession(ctx, session.ID, "host-conn", app.SessionUpdate{Title: &title, QuestionTimeLimit: &limit})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Title != title || updated.QuestionTimeLimit != 15 {
		t.Fatalf("update did not stick: %+v", updated)
	}

	empty := "  "
	if _, err := m.UpdateSession(ctx, session.ID, "host-conn", app.SessionUpdate{Title: &empty}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	bad := 0
	if _, err := m.UpdateSession(ctx, session.ID, "host-conn", app.SessionUpdate{QuestionTimeLimit: &bad}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := m.UpdateSession(ctx, session.ID, "intruder", app.SessionUpdate{Title: &title}); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected not-host error, got %v", err)
	}

	runToCompletion(t, m, session.ID, "host-conn")
	if _, err := m.UpdateSession(ctx, session.ID, "host-conn", app.SessionUpdate{Title: &title}); !errors.Is(err, domain.ErrSessionCompleted) {
		t.Fatalf("expected completed error, got %v", err)
	}
}

func TestLeaderboardTieBreaks(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newTestManager()

	session, _ := m.CreateSession(ctx, "quiz-1", "Trivia", "host-conn")
	alice, _, _ := m.JoinSession(ctx, session.JoinCode, "Alice", "conn-a", "")
	clock.Advance(time.Second)
	bob, _, _ := m.JoinSession(ctx, session.JoinCode, "Bob", "conn-b", "")

	// Same score (zero): earlier join wins the tie.
	lb, err := m.Leaderboard(ctx, session.ID)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if lb[0].ParticipantID != alice.ID || lb[1].ParticipantID != bob.ID {
		t.Fatalf("unexpected tie order: %+v", lb)
	}
}

func TestSummaryAggregatesAnswers(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newTestManager()

	session, _ := m.CreateSession(ctx, "quiz-1", "Trivia", "host-conn")
	alice, _, _ := m.JoinSession(ctx, session.JoinCode, "Alice", "conn-a", "")
	bob, _, _ := m.JoinSession(ctx, session.JoinCode, "Bob", "conn-b", "")
	if _, err := m.StartSession(ctx, session.ID, "host-conn"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if _, err := m.SubmitAnswer(ctx, session.ID, alice.ID, 0, "4", clock.Now()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := m.SubmitAnswer(ctx, session.ID, bob.ID, 0, "3", clock.Now().Add(4*time.Second)); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	summary, err := m.Summary(ctx, session.ID)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.ParticipantCount != 2 || summary.AnswersSubmitted != 2 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.QuestionsPresented != 1 {
		t.Fatalf("expected 1 question presented, got %d", summary.QuestionsPresented)
	}
	if len(summary.Questions) != 1 || summary.Questions[0].Correct != 1 || summary.Questions[0].Answers != 2 {
		t.Fatalf("unexpected per-question stats: %+v", summary.Questions)
	}
	if summary.AvgResponseTimeMs != 2000 {
		t.Fatalf("expected 2000ms average response, got %f", summary.AvgResponseTimeMs)
	}
}

func TestDeleteSessionRemovesLookup(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	session, _ := m.CreateSession(ctx, "quiz-1", "Trivia", "host-conn")
	if err := m.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := m.GetSession(ctx, session.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := m.GetSessionByJoinCode(ctx, session.JoinCode); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found by code, got %v", err)
	}
}

func runToCompletion(t *testing.T, m *app.SessionManager, sessionID, hostConn string) {
	t.Helper()
	ctx := context.Background()
	if _, err := m.StartSession(ctx, sessionID, hostConn); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for {
		adv, err := m.AdvanceQuestion(ctx, sessionID, hostConn)
		if err != nil {
			t.Fatalf("advance failed: %v", err)
		}
		if adv.Ended {
			return
		}
	}
}

// captureSink records broadcasts for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *captureSink) Broadcast(_ string, event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) last(eventType string) *domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type == eventType {
			e := s.events[i]
			return &e
		}
	}
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager() (*app.SessionManager, *captureSink, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewSessionStore()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(testQuizzes()), 5*time.Minute)
	m := app.NewSessionManager(store, quizzes, app.WithClock(clock.Now))
	sink := &captureSink{}
	m.SetEventSink(sink)
	return m, sink, clock
}

func testQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Arithmetic",
			Questions: []domain.Question{
				{Prompt: "What is 2 + 2?", Choices: []string{"3", "4", "5"}, Answer: "4", TimeLimit: 20},
				{Prompt: "What is 3 * 3?", Choices: []string{"6", "9", "12"}, Answer: "9", TimeLimit: 20},
			},
		},
	}
}
