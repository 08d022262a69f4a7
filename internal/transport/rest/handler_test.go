package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/infra/memory"
)

func TestCreateAndFetchSession(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	body := bytes.NewBufferString(`{"quizId":"quiz-1","title":"Trivia"}`)
	resp, err := http.Post(server.URL+"/api/sessions", "application/json", body)
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created struct {
		ID       string `json:"id"`
		JoinCode string `json:"joinCode"`
		State    string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if created.ID == "" || len(created.JoinCode) != 6 || created.State != "created" {
		t.Fatalf("unexpected response: %+v", created)
	}

	for _, path := range []string{
		"/api/sessions/" + created.ID,
		"/api/sessions/code/" + created.JoinCode,
	} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("get %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get %s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestErrorStatusMapping(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"bad json", http.MethodPost, "/api/sessions", `{`, http.StatusBadRequest},
		{"empty title", http.MethodPost, "/api/sessions", `{"quizId":"quiz-1","title":""}`, http.StatusBadRequest},
		{"unknown quiz", http.MethodPost, "/api/sessions", `{"quizId":"missing","title":"X"}`, http.StatusNotFound},
		{"unknown session", http.MethodGet, "/api/sessions/nope", "", http.StatusNotFound},
		{"unknown code", http.MethodGet, "/api/sessions/code/ZZZZZZ", "", http.StatusNotFound},
		{"delete unknown", http.MethodDelete, "/api/sessions/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		req, err := http.NewRequest(tc.method, server.URL+tc.path, bytes.NewBufferString(tc.body))
		if err != nil {
			t.Fatalf("%s: build request: %v", tc.name, err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: request failed: %v", tc.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, resp.StatusCode)
		}
	}
}

func TestSummaryAndLeaderboardEndpoints(t *testing.T) {
	server, manager := newTestServer(t)
	defer server.Close()

	ctx := context.Background()
	session, err := manager.CreateSession(ctx, "quiz-1", "Trivia", "host-conn")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	alice, _, err := manager.JoinSession(ctx, session.JoinCode, "Alice", "conn-a", "")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if _, err := manager.StartSession(ctx, session.ID, "host-conn"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := manager.SubmitAnswer(ctx, session.ID, alice.ID, 0, "4", time.Time{}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("%s/api/sessions/%s/leaderboard", server.URL, session.ID))
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	var entries []domain.LeaderboardEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	resp.Body.Close()
	if len(entries) != 1 || entries[0].Score != 1000 {
		t.Fatalf("unexpected leaderboard: %+v", entries)
	}

	resp, err = http.Get(fmt.Sprintf("%s/api/sessions/%s/summary", server.URL, session.ID))
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	var summary domain.SessionSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	resp.Body.Close()
	if summary.ParticipantCount != 1 || summary.AnswersSubmitted != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	resp, err = http.Get(fmt.Sprintf("%s/api/sessions/%s/participants", server.URL, session.ID))
	if err != nil {
		t.Fatalf("participants failed: %v", err)
	}
	var roster []domain.Participant
	if err := json.NewDecoder(resp.Body).Decode(&roster); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	resp.Body.Close()
	if len(roster) != 1 || roster[0].DisplayName != "Alice" {
		t.Fatalf("unexpected roster: %+v", roster)
	}
}

func TestDeleteSession(t *testing.T) {
	server, manager := newTestServer(t)
	defer server.Close()

	session, err := manager.CreateSession(context.Background(), "quiz-1", "Trivia", "host-conn")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/sessions/"+session.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	if _, err := manager.GetSession(context.Background(), session.ID); err != domain.ErrSessionNotFound {
		t.Fatalf("expected session gone, got %v", err)
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *app.SessionManager) {
	t.Helper()
	store := memory.NewSessionStore()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Arithmetic",
			Questions: []domain.Question{
				{Prompt: "What is 2 + 2?", Choices: []string{"3", "4", "5"}, Answer: "4", TimeLimit: 20},
			},
		},
	}), time.Minute)
	manager := app.NewSessionManager(store, quizzes)

	router := mux.NewRouter()
	NewHandler(manager).Register(router)
	return httptest.NewServer(router), manager
}
