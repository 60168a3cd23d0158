package session

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/eleven-am/voice-bridge/internal/live"
	"github.com/eleven-am/voice-bridge/internal/shared"
	"github.com/redis/go-redis/v9"
)

const (
	sessionTTL = 24 * time.Hour
	metricsTTL = 30 * 24 * time.Hour
	dateLayout = "2006-01-02"
)

type Store struct {
	redis *redis.Client
	now   func() time.Time
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient, now: time.Now}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = shared.NewID("vs_")
	}
	now := s.now()
	sess.StartedAt = now
	sess.LastActiveAt = now
	return s.save(ctx, sess)
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, SessionRedisKey(id)).Bytes()
	if err == redis.Nil {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *Session) error {
	sess.LastActiveAt = s.now()
	return s.save(ctx, sess)
}

// UpdateState records a lifecycle transition. Entering the active state
// counts a start and clears EndedAt; closed and errored stamp it.
func (s *Store) UpdateState(ctx context.Context, id, state, statusText string) (*Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	sess.State = state
	sess.StatusText = statusText
	switch live.State(state) {
	case live.StateActive:
		sess.Starts++
		sess.EndedAt = nil
	case live.StateClosed, live.StateErrored:
		now := s.now()
		sess.EndedAt = &now
	}

	if err := s.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	n, err := s.redis.Del(ctx, SessionRedisKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListByUser returns the stored sessions of userID, or of everyone when
// userID is empty, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	var sessions []*Session

	iter := s.redis.Scan(ctx, 0, SessionRedisKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.redis.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		if userID == "" || sess.UserID == userID {
			sessions = append(sessions, &sess)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	return sessions, nil
}

func (s *Store) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, sess.RedisKey(), data, sessionTTL).Err()
}

func (s *Store) IncrementMetric(ctx context.Context, field string, value int64) error {
	return s.IncrementMetrics(ctx, map[string]int64{field: value})
}

func (s *Store) IncrementMetrics(ctx context.Context, fields map[string]int64) error {
	key := MetricsRedisKey(s.now().UTC().Format(dateLayout))

	pipe := s.redis.Pipeline()
	n := 0
	for field, value := range fields {
		if value == 0 {
			continue
		}
		pipe.HIncrBy(ctx, key, field, value)
		n++
	}
	if n == 0 {
		return nil
	}
	pipe.Expire(ctx, key, metricsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetMetrics(ctx context.Context, days int) ([]*Metrics, error) {
	now := s.now().UTC()
	var metrics []*Metrics

	for i := 0; i < days; i++ {
		date := now.AddDate(0, 0, -i).Format(dateLayout)

		data, err := s.redis.HGetAll(ctx, MetricsRedisKey(date)).Result()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		m := &Metrics{Date: date}
		for field, dst := range map[string]*int64{
			FieldSessions:      &m.Sessions,
			FieldTurns:         &m.Turns,
			FieldInterruptions: &m.Interruptions,
			FieldFramesSent:    &m.FramesSent,
			FieldFramesDropped: &m.FramesDropped,
			FieldSendFailures:  &m.SendFailures,
			FieldErrors:        &m.Errors,
		} {
			if v, ok := data[field]; ok {
				*dst, _ = strconv.ParseInt(v, 10, 64)
			}
		}
		metrics = append(metrics, m)
	}

	return metrics, nil
}
