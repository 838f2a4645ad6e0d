package domain

const (
	EventNameActivityOpened   = "activity.opened"
	EventNameAttemptSubmitted = "attempt.submitted"
	EventNameAttemptCompleted = "attempt.completed"
)

type EventActivityOpened struct {
	AttemptID  string
	ActivityID string
	UserID     string
}

func (EventActivityOpened) Name() string { return EventNameActivityOpened }

type EventAttemptSubmitted struct {
	AttemptID  string
	ActivityID string
	UserID     string
}

func (EventAttemptSubmitted) Name() string { return EventNameAttemptSubmitted }

// EventAttemptCompleted is published once per submission, after the server
// write finished. Accepted is false when the write failed and the learner
// stays on the activity to retry.
type EventAttemptCompleted struct {
	AttemptID  string
	ActivityID string
	UserID     string
	Accepted   bool
}

func (EventAttemptCompleted) Name() string { return EventNameAttemptCompleted }
