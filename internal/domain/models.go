package domain

import "time"

// SessionState tracks where a hosted session is in its lifecycle.
type SessionState string

const (
	// StateCreated means the host opened the session but has not started it.
	StateCreated SessionState = "created"
	// StateInProgress means questions are being served.
	StateInProgress SessionState = "in_progress"
	// StateCompleted is terminal; the session stays readable until retention expires.
	StateCompleted SessionState = "completed"
)

// Role distinguishes the driving connection from player connections.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// Session is one hosted run of a quiz. The store keeps it as a single document;
// Version guards conditional writes.
type Session struct {
	ID                string                  `json:"id"`
	JoinCode          string                  `json:"joinCode"`
	QuizID            string                  `json:"quizId"`
	Title             string                  `json:"title"`
	State             SessionState            `json:"state"`
	CurrentQuestion   int                     `json:"currentQuestion"` // -1 before start
	QuestionCount     int                     `json:"questionCount"`
	QuestionTimeLimit int                     `json:"questionTimeLimit"` // seconds, session default
	QuestionStartedAt time.Time               `json:"questionStartedAt,omitempty"`
	QuestionDeadline  time.Time               `json:"questionDeadline,omitempty"`
	HostConnectionID  string                  `json:"hostConnectionId,omitempty"`
	CreatedAt         time.Time               `json:"createdAt"`
	StartedAt         *time.Time              `json:"startedAt,omitempty"`
	EndedAt           *time.Time              `json:"endedAt,omitempty"`
	Version           int64                   `json:"version"`
	Participants      map[string]*Participant `json:"participants"`
}

// Participant is one player within a session. Disconnects only flip Connected;
// the record survives until the session is purged.
type Participant struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	DisplayName    string    `json:"displayName"`
	ConnectionID   string    `json:"connectionId,omitempty"`
	Connected      bool      `json:"connected"`
	ResumeToken    string    `json:"resumeToken,omitempty"`
	Score          int       `json:"score"`
	CorrectAnswers int       `json:"correctAnswers"`
	TotalAnswers   int       `json:"totalAnswers"`
	JoinedAt       time.Time `json:"joinedAt"`
}

// AnswerRecord is the immutable log entry for one scored submission.
// At most one exists per (session, participant, question index).
type AnswerRecord struct {
	SessionID      string    `json:"sessionId"`
	ParticipantID  string    `json:"participantId"`
	QuestionIndex  int       `json:"questionIndex"`
	Value          string    `json:"value"`
	Correct        bool      `json:"correct"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	Points         int       `json:"points"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// AnswerResult is what the submitting connection gets back.
type AnswerResult struct {
	Accepted bool `json:"accepted"`
	Correct  bool `json:"correct"`
	Points   int  `json:"points"`
	Total    int  `json:"total"`
}

// Question models one quiz question. Answer is never sent to players.
type Question struct {
	Prompt    string   `json:"prompt"`
	Choices   []string `json:"choices,omitempty"`
	Answer    string   `json:"answer"`
	TimeLimit int      `json:"timeLimit,omitempty"` // seconds; falls back to the session default
}

// Quiz is the ordered question list supplied by the content provider.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// LeaderboardEntry is a snapshot-friendly view of a participant's standing.
type LeaderboardEntry struct {
	ParticipantID  string `json:"participantId"`
	DisplayName    string `json:"displayName"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correctAnswers"`
	TotalAnswers   int    `json:"totalAnswers"`
}

// QuestionStats aggregates the answer log for one question.
type QuestionStats struct {
	Index             int     `json:"index"`
	Answers           int     `json:"answers"`
	Correct           int     `json:"correct"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
}

// SessionSummary is the post-hoc analytics view of a session.
type SessionSummary struct {
	SessionID          string          `json:"sessionId"`
	State              SessionState    `json:"state"`
	ParticipantCount   int             `json:"participantCount"`
	QuestionsPresented int             `json:"questionsPresented"`
	AnswersSubmitted   int             `json:"answersSubmitted"`
	AverageScore       float64         `json:"averageScore"`
	AverageAccuracy    float64         `json:"averageAccuracy"`
	AvgResponseTimeMs  float64         `json:"avgResponseTimeMs"`
	Questions          []QuestionStats `json:"questions"`
}
