package shell_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/eplay/internal/channel"
	"github.com/victornm/eplay/internal/domain"
	"github.com/victornm/eplay/internal/errors"
	"github.com/victornm/eplay/internal/event"
	"github.com/victornm/eplay/internal/shell"
	"github.com/victornm/eplay/internal/submit"
)

func TestPresentationFor(t *testing.T) {
	tests := map[domain.ActivityType]shell.Presentation{
		domain.ActivityVideo:    shell.PresentationViewer,
		domain.ActivityAudio:    shell.PresentationViewer,
		domain.ActivityPDF:      shell.PresentationViewer,
		domain.ActivityImage:    shell.PresentationViewer,
		domain.ActivityMatching: shell.PresentationMatching,
		domain.ActivityPassage:  shell.PresentationEmbed,
		domain.ActivityEmbed:    shell.PresentationEmbed,
	}

	for typ, want := range tests {
		assert.Equal(t, want, shell.PresentationFor(typ), "type %s", typ)
	}
}

func TestShell_EmbedLifecycle(t *testing.T) {
	// Scenario: enableSubmit, then scoreData, then confirmSubmission.
	sub := &fakeSubmitter{}
	frame := &fakeFrame{}

	s := makeShell(t, shellDeps{submitter: sub, descriptorType: domain.ActivityEmbed})
	defer s.Close()
	s.SetFrame(frame)
	s.ContentLoaded()

	require.Equal(t, shell.StateActive, s.Snapshot().State)
	assert.True(t, s.Snapshot().BackVisible, "back control appears once content loaded")

	s.HandleFrameMessage(context.Background(), channel.Message{Kind: channel.KindEnableSubmit})
	assert.True(t, s.Snapshot().SubmitVisible)

	s.HandleFrameMessage(context.Background(), channel.Message{
		Kind:    channel.KindScoreData,
		Payload: []byte(`{"score":5}`),
	})

	require.Len(t, sub.calls, 1, "submission client invoked once")
	assert.EqualValues(t, 5, sub.calls[0].result.Fields["score"], "frame score merged into the payload")
	assert.Equal(t, "u1", sub.calls[0].sc.UserID)
	assert.Equal(t, shell.StateSuccessOverlay, s.Snapshot().State)
	assert.Contains(t, frame.kinds(), channel.KindPostSuccess, "frame told about the server write")

	// confirmSubmission after the fact is independently actionable and
	// idempotent here.
	s.HandleFrameMessage(context.Background(), channel.Message{Kind: channel.KindConfirmSubmission})
	require.Len(t, sub.calls, 1, "no second submission")
	assert.Equal(t, shell.StateSuccessOverlay, s.Snapshot().State)
}

func TestShell_ConfirmWithoutScoreData(t *testing.T) {
	sub := &fakeSubmitter{}
	s := makeShell(t, shellDeps{submitter: sub, descriptorType: domain.ActivityEmbed})
	defer s.Close()
	s.ContentLoaded()

	s.HandleFrameMessage(context.Background(), channel.Message{Kind: channel.KindConfirmSubmission})

	assert.Equal(t, shell.StateSuccessOverlay, s.Snapshot().State)
	assert.Empty(t, sub.calls, "confirmSubmission alone does not submit")
}

func TestShell_UnknownMessageChangesNothing(t *testing.T) {
	s := makeShell(t, shellDeps{descriptorType: domain.ActivityEmbed})
	defer s.Close()
	s.ContentLoaded()

	before := s.Snapshot()
	// Outbound-only kinds arriving from the frame are unexpected input.
	s.HandleFrameMessage(context.Background(), channel.Message{Kind: channel.KindPostSuccess})
	s.HandleFrameMessage(context.Background(), channel.Message{Kind: channel.KindSubmitClicked})

	assert.Equal(t, before, s.Snapshot())
}

func TestShell_SubmissionFailureShowsErrorOverlayThenRetries(t *testing.T) {
	// Scenario: the backend rejects the attempt; the learner stays on the
	// activity and can retry once the countdown clears.
	sched := &fakeScheduler{}
	sub := &fakeSubmitter{err: errors.New(errors.CodeUnavailable)}

	s := makeShell(t, shellDeps{submitter: sub, sched: sched, descriptorType: domain.ActivityEmbed})
	defer s.Close()
	s.ContentLoaded()

	s.HandleFrameMessage(context.Background(), channel.Message{
		Kind:    channel.KindScoreData,
		Payload: []byte(`{"score":1}`),
	})

	require.Equal(t, shell.StateErrorOverlay, s.Snapshot().State)

	sched.fire()
	require.Equal(t, shell.StateActive, s.Snapshot().State, "error overlay clears back to Active")

	sub.err = nil
	s.HandleFrameMessage(context.Background(), channel.Message{
		Kind:    channel.KindScoreData,
		Payload: []byte(`{"score":1}`),
	})
	assert.Equal(t, shell.StateSuccessOverlay, s.Snapshot().State)
	assert.Len(t, sub.calls, 2)
}

func TestShell_SuccessOverlayNavigatesOnExpiry(t *testing.T) {
	sched := &fakeScheduler{}
	navigated := false

	s := makeShell(t, shellDeps{
		sched:          sched,
		descriptorType: domain.ActivityEmbed,
		navigate:       func() { navigated = true },
	})
	defer s.Close()
	s.ContentLoaded()

	s.HandleFrameMessage(context.Background(), channel.Message{Kind: channel.KindConfirmSubmission})
	require.Equal(t, shell.StateSuccessOverlay, s.Snapshot().State)
	require.False(t, navigated, "navigation waits for the countdown")

	sched.fire()
	assert.True(t, navigated)
	assert.Equal(t, shell.StateClosed, s.Snapshot().State)
}

func TestShell_CloseCancelsOverlayTimer(t *testing.T) {
	sched := &fakeScheduler{}
	navigated := false

	s := makeShell(t, shellDeps{
		sched:          sched,
		descriptorType: domain.ActivityEmbed,
		navigate:       func() { navigated = true },
	})
	s.ContentLoaded()
	s.HandleFrameMessage(context.Background(), channel.Message{Kind: channel.KindConfirmSubmission})

	s.Close()
	sched.fire()

	assert.False(t, navigated, "no stale navigation after teardown")
}

func TestShell_SubmitClicked(t *testing.T) {
	frame := &fakeFrame{}
	s := makeShell(t, shellDeps{descriptorType: domain.ActivityEmbed})
	defer s.Close()
	s.SetFrame(frame)
	s.ContentLoaded()

	err := s.SubmitClicked(context.Background())
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition), "control hidden until the frame enables it")

	s.HandleFrameMessage(context.Background(), channel.Message{Kind: channel.KindEnableSubmit})
	require.NoError(t, s.SubmitClicked(context.Background()))

	assert.Equal(t, []channel.Kind{channel.KindSubmitClicked}, frame.kinds())
	assert.False(t, s.Snapshot().SubmitVisible, "control disables once pressed")
}

func TestShell_ViewerHasNoSubmitContract(t *testing.T) {
	s := makeShell(t, shellDeps{descriptorType: domain.ActivityVideo})
	defer s.Close()

	assert.Equal(t, shell.PresentationViewer, s.Presentation())
	assert.Nil(t, s.Engine())

	err := s.SubmitClicked(context.Background())
	require.True(t, errors.Is(err, errors.CodeInvalidArgument))
}

func TestShell_MatchingAttemptEndToEnd(t *testing.T) {
	// A 2-question activity answered fully correct: finalScore 2,
	// percentage 100, one submission, shell ends in the success overlay.
	sched := &fakeScheduler{}
	sub := &fakeSubmitter{}

	s := makeShell(t, shellDeps{
		submitter:      sub,
		sched:          sched,
		descriptorType: domain.ActivityMatching,
	})
	defer s.Close()
	s.ContentLoaded()

	e := s.Engine()
	require.NotNil(t, e)

	for q := 0; q < 2; q++ {
		for _, d := range e.Snapshot().Definitions {
			keywordID := d.ID[:len(d.ID)-len(":def")]
			require.NoError(t, e.Place(d.ID, keywordID))
		}
		out, err := e.SubmitQuestion()
		require.NoError(t, err)
		require.True(t, out.Passed)
		if q == 0 {
			require.NoError(t, e.Next())
		}
	}

	// Fires the staggered reveals, the completion delay and, after the
	// handoff, the overlay countdown is scheduled.
	sched.fire()

	require.Len(t, sub.calls, 1)
	call := sub.calls[0]
	assert.True(t, decimal.NewFromInt(2).Equal(call.result.Score), "got %s", call.result.Score)
	assert.True(t, decimal.NewFromInt(100).Equal(call.result.ScorePercentage), "got %s", call.result.ScorePercentage)
	assert.Equal(t, shell.StateSuccessOverlay, s.Snapshot().State)
}

func TestShell_CompleteTimeout(t *testing.T) {
	sched := &fakeScheduler{}
	s := makeShell(t, shellDeps{
		sched:           sched,
		descriptorType:  domain.ActivityEmbed,
		completeTimeout: time.Minute,
	})
	defer s.Close()
	s.ContentLoaded()

	sched.fire()

	snap := s.Snapshot()
	assert.Equal(t, shell.StateActive, snap.State, "expiry is advisory, the attempt stays recoverable")
	assert.True(t, snap.Expired)
}

func TestShell_SubmitReadsContextFromStore(t *testing.T) {
	store := &fakeStore{}
	sub := &fakeSubmitter{}

	s := makeShell(t, shellDeps{store: store, submitter: sub, descriptorType: domain.ActivityEmbed})
	defer s.Close()
	s.ContentLoaded()

	// The durable copy moved on, e.g. the frame reloaded and re-opened.
	require.Len(t, store.puts, 1)
	store.puts[0].SessionID = "sess2"

	s.HandleFrameMessage(context.Background(), channel.Message{
		Kind:    channel.KindScoreData,
		Payload: []byte(`{"score":1}`),
	})

	require.Len(t, sub.calls, 1)
	assert.Equal(t, "sess2", sub.calls[0].sc.SessionID, "the stored context reaches the backend, not the in-memory copy")
}

func TestShell_SubmitFailsWithoutStoredContext(t *testing.T) {
	store := &fakeStore{getErr: errors.New(errors.CodeFailedPrecondition)}
	sub := &fakeSubmitter{}

	s := makeShell(t, shellDeps{store: store, submitter: sub, descriptorType: domain.ActivityEmbed})
	defer s.Close()
	s.ContentLoaded()

	s.HandleFrameMessage(context.Background(), channel.Message{
		Kind:    channel.KindScoreData,
		Payload: []byte(`{"score":1}`),
	})

	assert.Empty(t, sub.calls, "nothing reaches the network without a context")
	assert.Equal(t, shell.StateErrorOverlay, s.Snapshot().State)
}

func TestShell_WritesSessionContextOnOpen(t *testing.T) {
	store := &fakeStore{}
	s := makeShell(t, shellDeps{store: store, descriptorType: domain.ActivityEmbed})
	defer s.Close()

	require.Len(t, store.puts, 1)
	assert.Equal(t, "a1", store.puts[0].ActivityID)
}

type shellDeps struct {
	submitter       *fakeSubmitter
	store           *fakeStore
	sched           *fakeScheduler
	navigate        func()
	descriptorType  domain.ActivityType
	completeTimeout time.Duration
}

func makeShell(t *testing.T, d shellDeps) *shell.Shell {
	t.Helper()

	if d.submitter == nil {
		d.submitter = &fakeSubmitter{}
	}

	c := shell.Config{
		Descriptor: domain.ActivityDescriptor{
			ID:       "a1",
			Type:     d.descriptorType,
			MaxScore: 2,
		},
		Session: domain.SessionContext{
			UserID:           "u1",
			CohortID:         "c1",
			ProgramID:        "p1",
			StageID:          "st1",
			UnitID:           "un1",
			ActivityID:       "a1",
			MaxScore:         2,
			SessionID:        "sess1",
			APIBaseURL:       "http://backend.local",
			AttemptStartedAt: time.Now(),
		},
		Submitter:       d.submitter,
		EventBus:        event.NewBus(),
		Navigate:        d.navigate,
		CompleteTimeout: d.completeTimeout,
	}

	if d.descriptorType == domain.ActivityMatching {
		c.Descriptor.Questions = []domain.Question{
			{
				ID: "g1",
				Keywords: []domain.Keyword{
					{ID: "k1", Content: "ephemeral"},
					{ID: "k2", Content: "ubiquitous"},
				},
				Definitions: []domain.Definition{
					{ID: "k1:def", Text: "lasting a very short time", CorrectKeywordID: "k1"},
					{ID: "k2:def", Text: "found everywhere", CorrectKeywordID: "k2"},
				},
			},
			{
				ID: "g2",
				Keywords: []domain.Keyword{
					{ID: "k3", Content: "arid"},
					{ID: "k4", Content: "verbose"},
				},
				Definitions: []domain.Definition{
					{ID: "k3:def", Text: "very dry", CorrectKeywordID: "k3"},
					{ID: "k4:def", Text: "using too many words", CorrectKeywordID: "k4"},
				},
			},
		}
	}

	if d.store != nil {
		c.Store = d.store
	}
	if d.sched != nil {
		c.NewTimerFunc = d.sched.NewTimer
	}

	s, err := shell.New(context.Background(), c)
	require.NoError(t, err)
	return s
}

type submitCall struct {
	sc     domain.SessionContext
	result submit.Result
}

type fakeSubmitter struct {
	mu    sync.Mutex
	err   error
	calls []submitCall
}

func (f *fakeSubmitter) Submit(_ context.Context, sc domain.SessionContext, r submit.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, submitCall{sc: sc, result: r})
	return f.err
}

type fakeFrame struct {
	mu   sync.Mutex
	sent []channel.Message
}

func (f *fakeFrame) Send(_ context.Context, m channel.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeFrame) kinds() []channel.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []channel.Kind
	for _, m := range f.sent {
		out = append(out, m.Kind)
	}
	return out
}

type fakeStore struct {
	puts   []domain.SessionContext
	getErr error
}

func (f *fakeStore) Put(_ context.Context, sc domain.SessionContext) error {
	f.puts = append(f.puts, sc)
	return nil
}

func (f *fakeStore) Get(_ context.Context, userID string) (*domain.SessionContext, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}

	for i := len(f.puts) - 1; i >= 0; i-- {
		if f.puts[i].UserID == userID {
			sc := f.puts[i]
			return &sc, nil
		}
	}
	return nil, errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("no context for user %s", userID))
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

func (s *fakeScheduler) NewTimer(_ time.Duration, f func()) shell.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	ft := &fakeTimer{f: f}
	s.timers = append(s.timers, ft)
	return ft
}

// fire runs the timer callbacks pending at call time. Timers scheduled
// while firing (for example the overlay countdown that follows a
// completion handoff) stay pending for the next fire.
func (s *fakeScheduler) fire() {
	s.mu.Lock()
	pending := append([]*fakeTimer(nil), s.timers...)
	s.mu.Unlock()

	for _, t := range pending {
		if !t.stopped {
			t.stopped = true
			t.f()
		}
	}
}
