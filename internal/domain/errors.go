package domain

import "errors"

var (
	// ErrInvalidInput is returned for malformed or missing request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionNotFound is returned when no session matches the id or join code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrParticipantNotFound is returned when a participant id is unknown to the session.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")

	// ErrSessionCompleted rejects operations against a finished session.
	ErrSessionCompleted = errors.New("session already completed")
	// ErrSessionNotStarted rejects in-game operations before the host starts the session.
	ErrSessionNotStarted = errors.New("session not started")
	// ErrAlreadyStarted rejects a second start of the same session.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrStaleQuestion rejects submissions for a question that is not current.
	ErrStaleQuestion = errors.New("question is not the current one")
	// ErrDeadlinePassed rejects submissions after the server-side question deadline.
	ErrDeadlinePassed = errors.New("question deadline passed")

	// ErrDuplicateAnswer means an answer for this (participant, question) already exists.
	// The first accepted write stays authoritative.
	ErrDuplicateAnswer = errors.New("answer already submitted")
	// ErrJoinCodeTaken means the generated join code is bound to another active session.
	ErrJoinCodeTaken = errors.New("join code already in use")
	// ErrJoinCodeExhausted means code generation gave up after repeated collisions.
	ErrJoinCodeExhausted = errors.New("could not allocate a unique join code")
	// ErrVersionConflict means a conditional write lost against a concurrent update.
	ErrVersionConflict = errors.New("session was modified concurrently")

	// ErrNotHost rejects host-only operations from other connections.
	ErrNotHost = errors.New("operation restricted to the session host")

	// ErrStoreUnavailable wraps infrastructure failures talking to the session store.
	// It is deliberately distinct from ErrSessionNotFound.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// IsNotFound reports whether err is an unknown-entity failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrParticipantNotFound) ||
		errors.Is(err, ErrQuizNotFound)
}

// IsValidation reports whether err is a malformed-input failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsState reports whether err means the operation is invalid for the current state.
func IsState(err error) bool {
	return errors.Is(err, ErrSessionCompleted) ||
		errors.Is(err, ErrSessionNotStarted) ||
		errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrStaleQuestion) ||
		errors.Is(err, ErrDeadlinePassed)
}

// IsConflict reports whether err is a lost race against an authoritative first write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateAnswer) ||
		errors.Is(err, ErrJoinCodeTaken) ||
		errors.Is(err, ErrJoinCodeExhausted) ||
		errors.Is(err, ErrVersionConflict)
}

// IsUnauthorized reports whether err is a host-privilege failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrNotHost)
}

// IsUnavailable reports whether err is an infrastructure failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
