// Package matching implements the native keyword/definition matching
// activity. It fulfills the same attempt lifecycle contract as a sandboxed
// activity but runs in-process, bypassing the message channel.
package matching

import (
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/eplay/internal/domain"
	"github.com/victornm/eplay/internal/errors"
)

const (
	defaultRevealInterval = 400 * time.Millisecond
	defaultCompleteDelay  = 1500 * time.Millisecond
)

type Timer interface {
	Stop() bool
}

type Config struct {
	Questions []domain.Question
	MaxScore  int

	// Rand drives the per-question shuffles. Defaults to a time-seeded
	// source; tests inject a fixed seed.
	Rand *rand.Rand

	// NewTimerFunc creates the cancellable timers behind the staggered
	// reveal and the completion delay. Defaults to time.AfterFunc.
	NewTimerFunc func(d time.Duration, f func()) Timer

	RevealInterval time.Duration
	CompleteDelay  time.Duration

	// OnReveal is called once per definition after a submit, staggered by
	// RevealInterval, as each mark is added to the snapshot's Revealed
	// list. The full mark set is also returned synchronously from
	// SubmitQuestion.
	OnReveal func(questionIndex int, definitionID string, correct bool)

	// OnComplete fires CompleteDelay after the last question's submit,
	// carrying the final score and percentage for the submission contract.
	OnComplete func(finalScore int, scorePercentage decimal.Decimal)
}

// Engine is the per-attempt state machine of one matching activity.
// All state is owned by the current attempt and discarded with it.
type Engine struct {
	mu sync.Mutex

	questions      []domain.Question
	maxScore       int
	rand           *rand.Rand
	newTimer       func(d time.Duration, f func()) Timer
	revealInterval time.Duration
	completeDelay  time.Duration
	onReveal       func(int, string, bool)
	onComplete     func(int, decimal.Decimal)

	cur         int
	keywords    []domain.Keyword    // shuffled view of the current question
	definitions []domain.Definition // shuffled view of the current question
	placements  map[string]string   // definition id -> keyword id
	submitted   bool                // current visit has been graded
	revealed    []Mark              // marks shown so far, in reveal order
	results     []questionResult    // last-computed pass/fail per index

	timers []Timer
	closed bool
}

type questionResult struct {
	answered bool
	passed   bool
}

func NewEngine(c Config) (*Engine, error) {
	for _, q := range c.Questions {
		if err := q.Validate(); err != nil {
			return nil, errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
		}
	}
	if len(c.Questions) > 0 && c.MaxScore <= 0 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("matching: max score must be positive, got %d", c.MaxScore))
	}

	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if c.NewTimerFunc == nil {
		c.NewTimerFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if c.RevealInterval <= 0 {
		c.RevealInterval = defaultRevealInterval
	}
	if c.CompleteDelay <= 0 {
		c.CompleteDelay = defaultCompleteDelay
	}

	e := &Engine{
		questions:      c.Questions,
		maxScore:       c.MaxScore,
		rand:           c.Rand,
		newTimer:       c.NewTimerFunc,
		revealInterval: c.RevealInterval,
		completeDelay:  c.CompleteDelay,
		onReveal:       c.OnReveal,
		onComplete:     c.OnComplete,
		results:        make([]questionResult, len(c.Questions)),
	}

	if len(e.questions) > 0 {
		e.enterQuestion(0)
	}

	return e, nil
}

// NoContent reports whether the activity descriptor carried zero
// questions. Distinct from a load error: the content exists but is empty.
func (e *Engine) NoContent() bool {
	return len(e.questions) == 0
}

// enterQuestion makes question i current with freshly shuffled keyword and
// definition orders and an empty placement map. Caller holds the lock (or
// is the constructor).
func (e *Engine) enterQuestion(i int) {
	q := e.questions[i]

	e.cur = i
	e.keywords = shuffle(e.rand, q.Keywords)
	e.definitions = shuffle(e.rand, q.Definitions)
	e.placements = make(map[string]string, len(q.Definitions))
	e.submitted = false
	e.revealed = nil
}

// shuffle returns a uniform permutation of in, leaving in untouched.
func shuffle[T any](r *rand.Rand, in []T) []T {
	out := slices.Clone(in)
	r.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// Place drops a keyword on a definition slot. The keyword leaves any slot
// it currently occupies; whatever was on the target slot is displaced.
func (e *Engine) Place(definitionID, keywordID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.interactable(); err != nil {
		return err
	}
	if !e.hasDefinition(definitionID) {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("matching: unknown definition %s", definitionID))
	}
	if !e.hasKeyword(keywordID) {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("matching: unknown keyword %s", keywordID))
	}

	for d, k := range e.placements {
		if k == keywordID {
			delete(e.placements, d)
		}
	}
	e.placements[definitionID] = keywordID

	return nil
}

// Clear empties a definition slot.
func (e *Engine) Clear(definitionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.interactable(); err != nil {
		return err
	}
	if !e.hasDefinition(definitionID) {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("matching: unknown definition %s", definitionID))
	}

	delete(e.placements, definitionID)
	return nil
}

func (e *Engine) interactable() error {
	if e.NoContent() {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("matching: activity has no content"))
	}
	if e.submitted {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("matching: question already submitted, reset to try again"))
	}
	return nil
}

func (e *Engine) hasDefinition(id string) bool {
	for _, d := range e.definitions {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (e *Engine) hasKeyword(id string) bool {
	for _, k := range e.keywords {
		if k.ID == id {
			return true
		}
	}
	return false
}

// allPlaced reports whether every definition slot holds a keyword. Keyword
// and definition counts are equal, so this is exactly "all keywords
// placed". Caller holds the lock.
func (e *Engine) allPlaced() bool {
	return len(e.placements) == len(e.definitions)
}

// Mark is one definition's revealed correctness after a submit.
type Mark struct {
	DefinitionID string
	Correct      bool
}

// Outcome is the graded result of one question submit.
type Outcome struct {
	Passed bool
	Marks  []Mark
}

// SubmitQuestion grades the current question. All-or-nothing: one wrong
// slot fails the whole question. On the last question it also schedules
// the completion handoff after the display delay.
func (e *Engine) SubmitQuestion() (*Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.interactable(); err != nil {
		return nil, err
	}
	if !e.allPlaced() {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("matching: %d of %d slots still empty",
				len(e.definitions)-len(e.placements), len(e.definitions)))
	}

	out := &Outcome{Passed: true}
	for _, d := range e.definitions {
		correct := e.placements[d.ID] == d.CorrectKeywordID
		out.Marks = append(out.Marks, Mark{DefinitionID: d.ID, Correct: correct})
		if !correct {
			out.Passed = false
		}
	}

	e.submitted = true
	e.results[e.cur] = questionResult{answered: true, passed: out.Passed}

	e.scheduleReveals(e.cur, out.Marks)

	if e.cur == len(e.questions)-1 {
		e.scheduleComplete()
	}

	return out, nil
}

func (e *Engine) scheduleReveals(index int, marks []Mark) {
	for i, m := range marks {
		m := m
		e.timers = append(e.timers, e.newTimer(time.Duration(i+1)*e.revealInterval, func() {
			e.mu.Lock()
			if e.closed {
				e.mu.Unlock()
				return
			}
			// A reset or navigation before the reveal fires discards it:
			// the mark belongs to a grading that is no longer on screen.
			if e.cur == index && e.submitted {
				e.revealed = append(e.revealed, m)
			}
			cb := e.onReveal
			e.mu.Unlock()

			if cb != nil {
				cb(index, m.DefinitionID, m.Correct)
			}
		}))
	}
}

func (e *Engine) scheduleComplete() {
	e.timers = append(e.timers, e.newTimer(e.completeDelay, func() {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		score := 0
		for _, r := range e.results {
			if r.answered && r.passed {
				score++
			}
		}
		pct := decimal.NewFromInt(int64(score)).
			Div(decimal.NewFromInt(int64(e.maxScore))).
			Mul(decimal.NewFromInt(100))
		done := e.onComplete
		e.mu.Unlock()

		if done != nil {
			done(score, pct)
		}
	}))
}

// Next moves to the following question. Disabled until the current
// question has been submitted at least once.
func (e *Engine) Next() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.NoContent() {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("matching: activity has no content"))
	}
	if !e.results[e.cur].answered {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("matching: submit the current question first"))
	}
	if e.cur == len(e.questions)-1 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("matching: already on the last question"))
	}

	e.enterQuestion(e.cur + 1)
	return nil
}

// Prev moves to the previous question, resetting it like any revisit.
func (e *Engine) Prev() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.NoContent() {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("matching: activity has no content"))
	}
	if e.cur == 0 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("matching: already on the first question"))
	}

	e.enterQuestion(e.cur - 1)
	return nil
}

// Goto jumps to a question by index. Revisiting always yields an empty
// placement map and an ungraded state; only the recorded pass/fail stays.
func (e *Engine) Goto(i int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.NoContent() {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("matching: activity has no content"))
	}
	if i < 0 || i >= len(e.questions) {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("matching: question index %d out of range", i))
	}

	e.enterQuestion(i)
	return nil
}

// ResetCurrent clears the current question so it can be answered again.
// This is the only way past the submitted lock-out.
func (e *Engine) ResetCurrent() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.NoContent() {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("matching: activity has no content"))
	}

	e.enterQuestion(e.cur)
	return nil
}

// DefinitionView is a definition as shown to the learner: the correct
// keyword never leaves the engine.
type DefinitionView struct {
	ID   string
	Text string
}

type QuestionProgress struct {
	Answered bool
	Passed   bool
}

// Snapshot is the engine state the presentation layer renders from.
type Snapshot struct {
	NoContent     bool
	QuestionIndex int
	QuestionCount int
	QuestionID    string
	Keywords      []domain.Keyword
	Definitions   []DefinitionView
	Placements    map[string]string
	AllPlaced     bool
	Submitted     bool
	Revealed      []Mark
	Progress      []QuestionProgress
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		NoContent:     e.NoContent(),
		QuestionIndex: e.cur,
		QuestionCount: len(e.questions),
		Submitted:     e.submitted,
		AllPlaced:     e.allPlaced(),
		Placements:    make(map[string]string, len(e.placements)),
	}

	if s.NoContent {
		return s
	}

	s.QuestionID = e.questions[e.cur].ID
	s.Keywords = slices.Clone(e.keywords)
	s.Revealed = slices.Clone(e.revealed)
	for _, d := range e.definitions {
		s.Definitions = append(s.Definitions, DefinitionView{ID: d.ID, Text: d.Text})
	}
	for k, v := range e.placements {
		s.Placements[k] = v
	}
	for _, r := range e.results {
		s.Progress = append(s.Progress, QuestionProgress{Answered: r.answered, Passed: r.passed})
	}

	return s
}

// Close cancels pending reveal and completion timers. Must be called when
// the learner leaves the activity so no stale callback fires.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
}
