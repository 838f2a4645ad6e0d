// Package shell is the host-side controller for playing one activity:
// it decides the presentation, owns the overlay state machine and relays
// the attempt result to the backend.
package shell

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/victornm/eplay/internal/channel"
	"github.com/victornm/eplay/internal/domain"
	"github.com/victornm/eplay/internal/errors"
	"github.com/victornm/eplay/internal/event"
	"github.com/victornm/eplay/internal/matching"
	"github.com/victornm/eplay/internal/submit"
	"github.com/victornm/eplay/internal/telemetry"
)

const defaultOverlayDuration = 3 * time.Second

type State string

const (
	StateLoading        State = "loading"
	StateActive         State = "active"
	StateSubmitting     State = "submitting"
	StateSuccessOverlay State = "success_overlay"
	StateErrorOverlay   State = "error_overlay"
	StateClosed         State = "closed"
)

// Presentation is how the activity is rendered.
type Presentation string

const (
	// PresentationViewer: plain media, no submit affordance, no scoring.
	PresentationViewer Presentation = "viewer"
	// PresentationMatching: the native matching engine, in-process.
	PresentationMatching Presentation = "matching"
	// PresentationEmbed: a sandboxed frame driven over the message channel.
	PresentationEmbed Presentation = "embed"
)

func PresentationFor(t domain.ActivityType) Presentation {
	switch {
	case t.IsMedia():
		return PresentationViewer
	case t == domain.ActivityMatching:
		return PresentationMatching
	default:
		return PresentationEmbed
	}
}

type Timer interface {
	Stop() bool
}

type Submitter interface {
	Submit(ctx context.Context, sc domain.SessionContext, r submit.Result) error
}

// ContextStore persists the session context so it survives a full reload
// of the embedded content: written when the activity opens, read back when
// the attempt submits.
type ContextStore interface {
	Put(ctx context.Context, sc domain.SessionContext) error
	Get(ctx context.Context, userID string) (*domain.SessionContext, error)
}

type Config struct {
	Descriptor domain.ActivityDescriptor
	Session    domain.SessionContext
	Store      ContextStore
	Submitter  Submitter
	EventBus   *event.Bus

	// NewTimerFunc creates the cancellable overlay/timeout timers.
	// Defaults to time.AfterFunc.
	NewTimerFunc    func(d time.Duration, f func()) Timer
	OverlayDuration time.Duration

	// CompleteTimeout bounds how long an activity may stay Active without
	// signalling completion. Zero keeps the legacy behavior: wait forever.
	CompleteTimeout time.Duration

	// Navigate returns the learner to the unit's activity list after the
	// success overlay expires.
	Navigate func()

	// Matching engine knobs, forwarded when the activity is native.
	Rand           *rand.Rand
	RevealInterval time.Duration
	CompleteDelay  time.Duration
}

// Shell runs one attempt. All state is owned by this attempt and replaced,
// never merged, when the learner opens the next activity.
type Shell struct {
	mu sync.Mutex

	attemptID    string
	descriptor   domain.ActivityDescriptor
	session      domain.SessionContext
	presentation Presentation

	store     ContextStore
	submitter Submitter
	eb        *event.Bus
	newTimer  func(d time.Duration, f func()) Timer
	overlay   time.Duration
	timeout   time.Duration
	navigate  func()

	state         State
	submitVisible bool
	loaded        bool
	expired       bool

	frame  channel.Frame
	engine *matching.Engine

	overlayTimer Timer
	timeoutTimer Timer
	closed       bool
}

func New(ctx context.Context, c Config) (*Shell, error) {
	if c.Submitter == nil || c.EventBus == nil {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("shell: submitter and event bus are required"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(err)
	}

	if c.NewTimerFunc == nil {
		c.NewTimerFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if c.OverlayDuration <= 0 {
		c.OverlayDuration = defaultOverlayDuration
	}

	s := &Shell{
		attemptID:    id.String(),
		descriptor:   c.Descriptor,
		session:      c.Session,
		presentation: PresentationFor(c.Descriptor.Type),
		store:        c.Store,
		submitter:    c.Submitter,
		eb:           c.EventBus,
		newTimer:     c.NewTimerFunc,
		overlay:      c.OverlayDuration,
		timeout:      c.CompleteTimeout,
		navigate:     c.Navigate,
		state:        StateLoading,
	}

	// Durable write so a reload of the embedded content does not lose the
	// attempt's identifiers.
	if c.Store != nil {
		if err := c.Store.Put(ctx, c.Session); err != nil {
			return nil, err
		}
	}

	if s.presentation == PresentationMatching {
		s.engine, err = matching.NewEngine(matching.Config{
			Questions:      c.Descriptor.Questions,
			MaxScore:       c.Descriptor.MaxScore,
			Rand:           c.Rand,
			RevealInterval: c.RevealInterval,
			CompleteDelay:  c.CompleteDelay,
			NewTimerFunc: func(d time.Duration, f func()) matching.Timer {
				return c.NewTimerFunc(d, f)
			},
			OnComplete: func(score int, pct decimal.Decimal) {
				s.Submit(context.Background(), submit.Result{
					Score:           decimal.NewFromInt(int64(score)),
					ScorePercentage: pct,
				})
			},
		})
		if err != nil {
			return nil, err
		}
	}

	s.eb.Publish(ctx, domain.EventActivityOpened{
		AttemptID:  s.attemptID,
		ActivityID: s.session.ActivityID,
		UserID:     s.session.UserID,
	})

	return s, nil
}

func (s *Shell) AttemptID() string { return s.attemptID }

func (s *Shell) Presentation() Presentation { return s.presentation }

// Engine exposes the native matching engine; nil for other presentations.
func (s *Shell) Engine() *matching.Engine { return s.engine }

// ContentLoaded marks the activity's content ready: Loading becomes Active
// and the back-navigation control becomes visible. For native
// presentations this happens at open; for embeds, when the frame connects.
func (s *Shell) ContentLoaded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.loaded = true
	if s.state == StateLoading {
		s.state = StateActive
	}

	if s.timeout > 0 && s.presentation != PresentationViewer && s.timeoutTimer == nil {
		s.timeoutTimer = s.newTimer(s.timeout, s.expire)
	}
}

func (s *Shell) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != StateActive {
		return
	}

	s.expired = true
	slog.Warn("shell: attempt expired without a completion signal",
		"attempt", s.attemptID,
		"activity", s.session.ActivityID,
	)
}

// SetFrame attaches the sandboxed frame's sending side of the channel.
func (s *Shell) SetFrame(f channel.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frame = f
}

// HandleFrameMessage applies one message from the embedded content. The
// channel gives no ordering or delivery guarantee, so every message is
// independently actionable; anything unexpected is dropped without effect.
func (s *Shell) HandleFrameMessage(ctx context.Context, m channel.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	switch m.Kind {
	case channel.KindEnableSubmit:
		s.submitVisible = true
		s.mu.Unlock()

	case channel.KindDisableSubmit:
		s.submitVisible = false
		s.mu.Unlock()

	case channel.KindConfirmSubmission:
		s.enterSuccessLocked()
		s.mu.Unlock()

	case channel.KindScoreData:
		s.mu.Unlock()

		var fields map[string]any
		if err := json.Unmarshal(m.Payload, &fields); err != nil {
			telemetry.ChannelDropped.WithLabelValues("unknown").Inc()
			slog.WarnContext(ctx, "shell: undecodable scoreData payload dropped",
				"attempt", s.attemptID,
				"error", err,
			)
			return
		}
		s.Submit(ctx, submit.Result{Fields: fields})

	default:
		s.mu.Unlock()
		telemetry.ChannelDropped.WithLabelValues("unexpected").Inc()
		slog.WarnContext(ctx, "shell: unexpected frame message dropped",
			"attempt", s.attemptID,
			"kind", m.Kind,
			"origin", m.Origin,
		)
	}
}

// SubmitClicked handles the learner pressing the shell's submit control.
// Embed mode only: the frame is expected to answer with scoreData and/or
// confirmSubmission.
func (s *Shell) SubmitClicked(ctx context.Context) error {
	s.mu.Lock()

	if s.presentation != PresentationEmbed {
		s.mu.Unlock()
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("shell: no submit control for %s activities", s.presentation))
	}
	if !s.submitVisible {
		s.mu.Unlock()
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("shell: submit control is not available"))
	}

	// The control disables once pressed; the frame re-enables it.
	s.submitVisible = false
	frame := s.frame
	s.mu.Unlock()

	if frame == nil {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("shell: no frame connected"))
	}

	if err := frame.Send(ctx, channel.Message{Kind: channel.KindSubmitClicked}); err != nil {
		slog.WarnContext(ctx, "shell: relay submitClicked failed",
			"attempt", s.attemptID,
			"error", err,
		)
	}
	return nil
}

// Submit runs the submission leg of the lifecycle: Active -> Submitting,
// then the overlay matching the server's verdict. At most one submission
// is in flight per attempt.
func (s *Shell) Submit(ctx context.Context, r submit.Result) {
	s.mu.Lock()
	if s.closed || (s.state != StateActive && s.state != StateLoading) {
		s.mu.Unlock()
		return
	}
	s.state = StateSubmitting
	s.mu.Unlock()

	s.eb.Publish(ctx, domain.EventAttemptSubmitted{
		AttemptID:  s.attemptID,
		ActivityID: s.session.ActivityID,
		UserID:     s.session.UserID,
	})

	// The durable copy is what survives a content reload, so it is the
	// one that reaches the backend. A missing context fails the attempt
	// like any other submission error: the learner stays and retries.
	sc := s.session
	var err error
	if s.store != nil {
		var stored *domain.SessionContext
		if stored, err = s.store.Get(ctx, s.session.UserID); err == nil {
			sc = *stored
		}
	}
	if err == nil {
		err = s.submitter.Submit(ctx, sc, r)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	var frame channel.Frame
	if err != nil {
		slog.ErrorContext(ctx, "shell: submission failed",
			"attempt", s.attemptID,
			"activity", s.session.ActivityID,
			"error", err,
		)
		s.enterErrorLocked()
	} else {
		s.enterSuccessLocked()
		frame = s.frame
	}
	s.mu.Unlock()

	if frame != nil {
		// Tell the frame the server write landed so it can play its own
		// acknowledgment.
		if err := frame.Send(ctx, channel.Message{Kind: channel.KindPostSuccess}); err != nil {
			slog.WarnContext(ctx, "shell: relay postSuccess failed",
				"attempt", s.attemptID,
				"error", err,
			)
		}
	}

	s.eb.Publish(ctx, domain.EventAttemptCompleted{
		AttemptID:  s.attemptID,
		ActivityID: s.session.ActivityID,
		UserID:     s.session.UserID,
		Accepted:   err == nil,
	})
}

// enterSuccessLocked starts the success overlay countdown; on expiry the
// learner navigates back to the activity list. Caller holds the lock.
func (s *Shell) enterSuccessLocked() {
	if s.state == StateSuccessOverlay || s.state == StateClosed {
		return
	}

	s.stopOverlayTimerLocked()
	s.state = StateSuccessOverlay
	s.overlayTimer = s.newTimer(s.overlay, func() {
		s.mu.Lock()
		if s.closed || s.state != StateSuccessOverlay {
			s.mu.Unlock()
			return
		}
		s.state = StateClosed
		nav := s.navigate
		s.mu.Unlock()

		if nav != nil {
			nav()
		}
	})
}

// enterErrorLocked starts the error overlay countdown; on expiry the shell
// returns to Active with the activity state untouched so the learner can
// retry. Caller holds the lock.
func (s *Shell) enterErrorLocked() {
	if s.state == StateClosed {
		return
	}

	s.stopOverlayTimerLocked()
	s.state = StateErrorOverlay
	s.overlayTimer = s.newTimer(s.overlay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.closed || s.state != StateErrorOverlay {
			return
		}
		s.state = StateActive
	})
}

func (s *Shell) stopOverlayTimerLocked() {
	if s.overlayTimer != nil {
		s.overlayTimer.Stop()
		s.overlayTimer = nil
	}
}

// Snapshot is what the presentation layer renders from.
type Snapshot struct {
	AttemptID     string
	ActivityID    string
	Presentation  Presentation
	State         State
	SubmitVisible bool
	BackVisible   bool
	Expired       bool
	Matching      *matching.Snapshot
}

func (s *Shell) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		AttemptID:     s.attemptID,
		ActivityID:    s.session.ActivityID,
		Presentation:  s.presentation,
		State:         s.state,
		SubmitVisible: s.submitVisible,
		BackVisible:   s.loaded,
		Expired:       s.expired,
	}
	s.mu.Unlock()

	if s.engine != nil {
		m := s.engine.Snapshot()
		snap.Matching = &m
	}

	return snap
}

// Close abandons the attempt: pending timers are cancelled so no stale
// navigation or reveal fires after teardown. No signal is sent to the
// frame; an unacknowledged channel conversation is simply dropped.
func (s *Shell) Close() {
	s.mu.Lock()
	s.closed = true
	s.state = StateClosed
	s.stopOverlayTimerLocked()
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
		s.timeoutTimer = nil
	}
	s.mu.Unlock()

	if s.engine != nil {
		s.engine.Close()
	}
}
