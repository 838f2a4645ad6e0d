package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/eplay/internal/domain"
	"github.com/victornm/eplay/internal/errors"
	"github.com/victornm/eplay/internal/session"
)

func TestStore_PutGet(t *testing.T) {
	s := makeStore(t)

	want := makeContext("u1", "a1")
	require.NoError(t, s.Put(context.Background(), want))

	got, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, want, *got)
}

func TestStore_PutOverwrites(t *testing.T) {
	s := makeStore(t)

	require.NoError(t, s.Put(context.Background(), makeContext("u1", "a1")))

	want := makeContext("u1", "a2")
	require.NoError(t, s.Put(context.Background(), want))

	got, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "a2", got.ActivityID, "the newer open should fully replace the stored context")
}

func TestStore_GetMissing(t *testing.T) {
	s := makeStore(t)

	_, err := s.Get(context.Background(), "u1")
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition), "missing context should be a failed precondition, got %v", err)
}

func TestStore_PutIncomplete(t *testing.T) {
	s := makeStore(t)

	sc := makeContext("u1", "a1")
	sc.ProgramID = ""
	err := s.Put(context.Background(), sc)
	require.True(t, errors.Is(err, errors.CodeInvalidArgument), "incomplete context should be rejected, got %v", err)
}

func makeStore(t *testing.T) *session.Store {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return session.NewStore(session.Config{
		Redis:  rc,
		Prefix: "test",
	})
}

func makeContext(user, activity string) domain.SessionContext {
	return domain.SessionContext{
		UserID:           user,
		CohortID:         "c1",
		ProgramID:        "p1",
		StageID:          "st1",
		UnitID:           "un1",
		ActivityID:       activity,
		MaxScore:         4,
		SessionID:        "sess1",
		APIBaseURL:       "http://backend.local",
		AttemptStartedAt: time.Date(2024, 10, 1, 10, 0, 0, 0, time.UTC),
	}
}
