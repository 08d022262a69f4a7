package domain

import "time"

// Event names form the closed set of things the gateway pushes to clients.
const (
	EventSessionCreated          = "session_created"
	EventJoined                  = "joined"
	EventParticipantJoined       = "participant_joined"
	EventParticipantDisconnected = "participant_disconnected"
	EventGameStarted             = "game_started"
	EventNextQuestion            = "next_question"
	EventLeaderboard             = "leaderboard"
	EventSessionEnded            = "session_ended"
	EventAnswerResult            = "answer_result"
	EventAck                     = "ack"
	EventError                   = "error"
)

// Event is the outbound envelope shared by the gateway and clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// QuestionView is the player-facing shape of a question; the correct answer is
// only present on the host copy.
type QuestionView struct {
	Prompt    string   `json:"prompt"`
	Choices   []string `json:"choices,omitempty"`
	TimeLimit int      `json:"timeLimit"`
	Answer    string   `json:"answer,omitempty"`
}

// View renders a question for broadcast. Host copies keep the answer.
func (q Question) View(forHost bool, defaultLimit int) QuestionView {
	limit := q.TimeLimit
	if limit <= 0 {
		limit = defaultLimit
	}
	v := QuestionView{Prompt: q.Prompt, Choices: q.Choices, TimeLimit: limit}
	if forHost {
		v.Answer = q.Answer
	}
	return v
}

type SessionCreatedPayload struct {
	SessionID string `json:"sessionId"`
	JoinCode  string `json:"joinCode"`
}

type JoinedPayload struct {
	SessionID     string       `json:"sessionId"`
	ParticipantID string       `json:"participantId"`
	ResumeToken   string       `json:"resumeToken"`
	State         SessionState `json:"state"`
	QuestionIndex int          `json:"questionIndex"`
}

type ParticipantJoinedPayload struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Reconnected   bool   `json:"reconnected,omitempty"`
}

type ParticipantDisconnectedPayload struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
}

type GameStartedPayload struct {
	SessionID string       `json:"sessionId"`
	Question  QuestionView `json:"question"`
	Index     int          `json:"index"`
	Total     int          `json:"total"`
	Deadline  time.Time    `json:"deadline"`
}

type NextQuestionPayload struct {
	SessionID string       `json:"sessionId"`
	Question  QuestionView `json:"question"`
	Index     int          `json:"index"`
	Total     int          `json:"total"`
	Deadline  time.Time    `json:"deadline"`
}

type LeaderboardPayload struct {
	SessionID string             `json:"sessionId"`
	Entries   []LeaderboardEntry `json:"entries"`
}

type SessionEndedPayload struct {
	SessionID        string             `json:"sessionId"`
	FinalLeaderboard []LeaderboardEntry `json:"finalLeaderboard"`
}

// AckPayload confirms a host operation on its own connection. Answer carries
// the correct answer of the question just served, host copy only.
type AckPayload struct {
	Op        string `json:"op"`
	SessionID string `json:"sessionId"`
	Index     int    `json:"index"`
	Ended     bool   `json:"ended,omitempty"`
	Answer    string `json:"answer,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
