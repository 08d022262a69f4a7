package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"livequiz-service/internal/domain"
)

// SessionStore keeps session state in Redis so any gateway instance sees the
// same truth. Layout:
//
//	session:{id}                      JSON session document
//	session:{id}:ver                  integer version guarding conditional writes
//	session:code:{CODE}               join-code index (SET NX on create)
//	session:{id}:answer:{pid}:{idx}   first-write-wins answer marker (SET NX)
//	session:{id}:answers              append-only answer log for analytics
//
// Active sessions carry ttl; completed ones are re-expired to retention so
// summaries stay readable for a bounded window before the purge.
type SessionStore struct {
	client    *redis.Client
	ttl       time.Duration
	retention time.Duration
}

func NewSessionStore(client *redis.Client, ttl, retention time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl, retention: retention}
}

// casScript compares the stored version before writing the document, so a
// concurrent writer from another instance loses cleanly instead of clobbering.
// The join-code index slides along with the document; otherwise a long-lived
// session would outlive its own code and the code could be claimed twice.
var casScript = redis.NewScript(`
local ver = redis.call('GET', KEYS[2])
if not ver then
  return -1
end
if ver ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[4], 'PX', ARGV[3])
redis.call('PEXPIRE', KEYS[3], ARGV[3])
return 1
`)

func (s *SessionStore) Create(ctx context.Context, session *domain.Session) error {
	claimed, err := s.client.SetNX(ctx, codeKey(session.JoinCode), session.ID, s.ttl).Result()
	if err != nil {
		return infraErr("claim join code", err)
	}
	if !claimed {
		return domain.ErrJoinCodeTaken
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, s.ttl)
	pipe.Set(ctx, verKey(session.ID), session.Version, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return infraErr("store session", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, infraErr("get session", err)
	}
	return unmarshalSession(data)
}

func (s *SessionStore) GetByJoinCode(ctx context.Context, joinCode string) (*domain.Session, error) {
	id, err := s.client.Get(ctx, codeKey(joinCode)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, infraErr("resolve join code", err)
	}
	return s.Get(ctx, id)
}

func (s *SessionStore) Update(ctx context.Context, session *domain.Session) error {
	expected := session.Version
	session.Version++
	ttl := s.ttl
	if session.State == domain.StateCompleted {
		ttl = s.retention
	}

	data, err := json.Marshal(session)
	if err != nil {
		session.Version = expected
		return fmt.Errorf("marshal session: %w", err)
	}

	res, err := casScript.Run(ctx, s.client,
		[]string{sessionKey(session.ID), verKey(session.ID), codeKey(session.JoinCode)},
		expected, data, ttl.Milliseconds(), session.Version,
	).Int()
	if err != nil {
		session.Version = expected
		return infraErr("update session", err)
	}
	switch res {
	case -1:
		session.Version = expected
		return domain.ErrSessionNotFound
	case 0:
		session.Version = expected
		return domain.ErrVersionConflict
	}

	if session.State == domain.StateCompleted {
		// Shrink the answer keys to the retention window as well; the script
		// already re-expired the code index alongside the document.
		pipe := s.client.Pipeline()
		pipe.PExpire(ctx, answerLogKey(session.ID), s.retention)
		if records, err := s.Answers(ctx, session.ID); err == nil {
			for _, r := range records {
				pipe.PExpire(ctx, answerKey(session.ID, r.ParticipantID, r.QuestionIndex), s.retention)
			}
		}
		_, _ = pipe.Exec(ctx)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	records, err := s.Answers(ctx, sessionID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	pipe.Del(ctx, verKey(sessionID))
	pipe.Del(ctx, codeKey(session.JoinCode))
	pipe.Del(ctx, answerLogKey(sessionID))
	for _, r := range records {
		pipe.Del(ctx, answerKey(sessionID, r.ParticipantID, r.QuestionIndex))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return infraErr("delete session", err)
	}
	return nil
}

func (s *SessionStore) PutAnswer(ctx context.Context, record *domain.AnswerRecord) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("marshal answer: %w", err)
	}
	key := answerKey(record.SessionID, record.ParticipantID, record.QuestionIndex)
	accepted, err := s.client.SetNX(ctx, key, data, s.ttl).Result()
	if err != nil {
		return false, infraErr("put answer", err)
	}
	if !accepted {
		return false, nil
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, answerLogKey(record.SessionID), data)
	pipe.PExpire(ctx, answerLogKey(record.SessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, infraErr("append answer log", err)
	}
	return true, nil
}

func (s *SessionStore) Answers(ctx context.Context, sessionID string) ([]domain.AnswerRecord, error) {
	raw, err := s.client.LRange(ctx, answerLogKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, infraErr("read answer log", err)
	}
	records := make([]domain.AnswerRecord, 0, len(raw))
	for _, item := range raw {
		var record domain.AnswerRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			return nil, fmt.Errorf("unmarshal answer: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func sessionKey(id string) string { return "session:" + id }

func verKey(id string) string { return "session:" + id + ":ver" }

func codeKey(code string) string { return "session:code:" + code }

func answerLogKey(id string) string { return "session:" + id + ":answers" }

func answerKey(id, participantID string, questionIndex int) string {
	return fmt.Sprintf("session:%s:answer:%s:%d", id, participantID, questionIndex)
}

func unmarshalSession(data []byte) (*domain.Session, error) {
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if session.Participants == nil {
		session.Participants = make(map[string]*domain.Participant)
	}
	return &session, nil
}

// infraErr marks store failures as infrastructure problems, distinct from
// not-found, so callers never mistake an outage for a missing session.
func infraErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}
