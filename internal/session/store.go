package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/eplay/internal/domain"
	"github.com/victornm/eplay/internal/errors"
)

// contextKey is the fixed name the session context is stored under. One
// entry per learner: opening another activity overwrites the previous one.
const contextKey = "session_context"

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

// Store keeps the active SessionContext in redis so it survives a full
// reload of the embedded content. Written once per activity open by the
// host shell, read back once per attempt at submit time.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(c Config) *Store {
	return &Store{
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

// Put replaces the stored context for the learner. No merging: a new
// attempt fully owns its context.
func (s *Store) Put(ctx context.Context, sc domain.SessionContext) error {
	if err := sc.Validate(); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}

	b, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("session: marshal context: %w", err)
	}

	if err := s.redis.Set(ctx, s.key(sc.UserID), b, 0).Err(); err != nil {
		return fmt.Errorf("session: store context: %w", err)
	}

	return nil
}

// Get returns the learner's active context. A missing context is a
// failed-precondition: nothing may be submitted without one.
func (s *Store) Get(ctx context.Context, userID string) (*domain.SessionContext, error) {
	b, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err == redis.Nil {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session: no active context for user %s", userID))
	}
	if err != nil {
		return nil, fmt.Errorf("session: load context: %w", err)
	}

	var sc domain.SessionContext
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("session: unmarshal context: %w", err)
	}

	return &sc, nil
}

func (s *Store) key(userID string) string {
	return fmt.Sprintf("%s:user:%s:%s", s.prefix, userID, contextKey)
}
