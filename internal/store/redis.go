package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"coachwire/pkg/interfaces"
	"coachwire/pkg/types"
)

const (
	sessionKeyPrefix    = "coachwire:session:"
	turnsKeyPrefix      = "coachwire:turns:"
	assessmentKeyPrefix = "coachwire:assessment:"
	sessionIndexKey     = "coachwire:sessions"

	defaultRedisTTL = 24 * time.Hour
)

// Redis keeps session records as JSON values and turn logs as lists, all
// expiring after the configured TTL. It suits deployments where several
// gateway nodes share one record of recent sessions.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(addr string, ttl time.Duration) (*Redis, error) {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) CreateSession(ctx context.Context, session *types.Session) error {
	key := sessionKeyPrefix + session.ID
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return ErrDuplicateSession
	}

	val, err := json.Marshal(session)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, val, r.ttl)
		pipe.SAdd(ctx, sessionIndexKey, session.ID)
		return nil
	})
	return err
}

func (r *Redis) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	val, err := r.client.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess types.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

func (r *Redis) UpdateSession(ctx context.Context, session *types.Session) error {
	key := sessionKeyPrefix + session.ID
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return interfaces.ErrSessionNotFound
	}

	val, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, val, r.ttl).Err()
}

// ListActiveSessions walks the session index; IDs whose records have
// expired are pruned from the index as they are encountered.
func (r *Redis) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	ids, err := r.client.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return nil, err
	}

	var sessions []*types.Session
	for _, id := range ids {
		sess, err := r.GetSession(ctx, id)
		if err == interfaces.ErrSessionNotFound {
			r.client.SRem(ctx, sessionIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if sess.Status == types.StatusActive {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

func (r *Redis) AppendTurn(ctx context.Context, turn *types.Turn) error {
	val, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	key := turnsKeyPrefix + turn.SessionID
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, val)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	return err
}

func (r *Redis) GetTurnLog(ctx context.Context, sessionID string) ([]*types.Turn, error) {
	vals, err := r.client.LRange(ctx, turnsKeyPrefix+sessionID, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	turns := make([]*types.Turn, 0, len(vals))
	for _, val := range vals {
		var turn types.Turn
		if err := json.Unmarshal([]byte(val), &turn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, &turn)
	}
	return turns, nil
}

func (r *Redis) SaveAssessment(ctx context.Context, assessment *types.Assessment) error {
	val, err := json.Marshal(assessment)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, assessmentKeyPrefix+assessment.SessionID, val, r.ttl).Err()
}

func (r *Redis) GetAssessment(ctx context.Context, sessionID string) (*types.Assessment, error) {
	val, err := r.client.Get(ctx, assessmentKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, interfaces.ErrAssessmentNotFound
	}
	if err != nil {
		return nil, err
	}

	var assessment types.Assessment
	if err := json.Unmarshal([]byte(val), &assessment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assessment: %w", err)
	}
	return &assessment, nil
}

func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
