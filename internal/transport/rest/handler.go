package rest

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
)

// Handler exposes the host-facing management surface over plain HTTP. Realtime
// gameplay stays on the websocket gateway; this is for dashboards and tooling.
type Handler struct {
	manager *app.SessionManager
}

func NewHandler(manager *app.SessionManager) *Handler {
	return &Handler{manager: manager}
}

// Register mounts the session routes on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/sessions", h.createSession).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/code/{joinCode}", h.getByJoinCode).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", h.getSession).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", h.deleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/api/sessions/{id}/participants", h.listParticipants).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/leaderboard", h.getLeaderboard).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/summary", h.getSummary).Methods(http.MethodGet)
}

type createSessionRequest struct {
	QuizID string `json:"quizId"`
	Title  string `json:"title"`
}

type sessionResponse struct {
	ID            string              `json:"id"`
	JoinCode      string              `json:"joinCode"`
	QuizID        string              `json:"quizId"`
	Title         string              `json:"title"`
	State         domain.SessionState `json:"state"`
	QuestionIndex int                 `json:"questionIndex"`
	QuestionCount int                 `json:"questionCount"`
	Participants  int                 `json:"participants"`
}

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		ID:            s.ID,
		JoinCode:      s.JoinCode,
		QuizID:        s.QuizID,
		Title:         s.Title,
		State:         s.State,
		QuestionIndex: s.CurrentQuestion,
		QuestionCount: s.QuestionCount,
		Participants:  len(s.Participants),
	}
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidInput)
		return
	}
	// REST-created sessions have no host connection yet; the host claims the
	// session over the websocket using the returned id.
	session, err := h.manager.CreateSession(r.Context(), req.QuizID, req.Title, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.manager.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) getByJoinCode(w http.ResponseWriter, r *http.Request) {
	session, err := h.manager.GetSessionByJoinCode(r.Context(), mux.Vars(r)["joinCode"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteSession(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listParticipants(w http.ResponseWriter, r *http.Request) {
	roster, err := h.manager.Participants(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roster)
}

func (h *Handler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.manager.Leaderboard(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.manager.Summary(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsState(err), domain.IsConflict(err):
		return http.StatusConflict
	case domain.IsUnauthorized(err):
		return http.StatusForbidden
	case domain.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
