package domain

import (
	"fmt"
	"time"
)

// ActivityType determines how the host shell presents an activity.
type ActivityType string

const (
	ActivityVideo    ActivityType = "video"
	ActivityAudio    ActivityType = "audio"
	ActivityPDF      ActivityType = "pdf"
	ActivityImage    ActivityType = "image"
	ActivityPassage  ActivityType = "passage"
	ActivityMatching ActivityType = "matching"
	ActivityEmbed    ActivityType = "generic-embed"
)

// IsMedia reports whether the activity is plain media content:
// presented in a viewer, no submit affordance, no scoring.
func (t ActivityType) IsMedia() bool {
	switch t {
	case ActivityVideo, ActivityAudio, ActivityPDF, ActivityImage:
		return true
	}
	return false
}

// ActivityDescriptor describes one activity. Immutable once loaded.
type ActivityDescriptor struct {
	ID         string
	Type       ActivityType
	ContentURI string
	MaxScore   int

	// Questions is populated for matching activities only.
	Questions []Question
}

// SessionContext is the per-attempt metadata needed to build a submission
// payload. Created when an activity opens, overwritten by the next open.
// Single writer (the host shell), single reader (the submission client).
type SessionContext struct {
	UserID           string
	CohortID         string
	ProgramID        string
	StageID          string
	UnitID           string
	ActivityID       string
	MaxScore         int
	SessionID        string
	APIBaseURL       string
	AttemptStartedAt time.Time
}

// Validate reports the first missing required field, if any.
// A context that fails validation must never reach the network.
func (c SessionContext) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"userId", c.UserID},
		{"programId", c.ProgramID},
		{"stageId", c.StageID},
		{"unitId", c.UnitID},
		{"activityId", c.ActivityID},
		{"sessionId", c.SessionID},
		{"apiBaseUrl", c.APIBaseURL},
	}

	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("session context: missing %s", f.name)
		}
	}

	if c.AttemptStartedAt.IsZero() {
		return fmt.Errorf("session context: missing attempt start time")
	}

	return nil
}

// Keyword is a draggable token in a matching question.
type Keyword struct {
	ID      string
	Content string
}

// Definition is a drop target. Exactly one keyword is correct for it.
type Definition struct {
	ID               string
	Text             string
	CorrectKeywordID string
}

// Question is one matching round. The keyword and definition lists have
// equal length and the correct-keyword mapping is a bijection over the
// question's keyword set.
type Question struct {
	ID          string
	Keywords    []Keyword
	Definitions []Definition
}

func (q Question) Validate() error {
	if len(q.Keywords) != len(q.Definitions) {
		return fmt.Errorf("question %s: %d keywords vs %d definitions", q.ID, len(q.Keywords), len(q.Definitions))
	}

	keywords := make(map[string]bool, len(q.Keywords))
	for _, k := range q.Keywords {
		if keywords[k.ID] {
			return fmt.Errorf("question %s: duplicate keyword %s", q.ID, k.ID)
		}
		keywords[k.ID] = true
	}

	used := make(map[string]bool, len(q.Definitions))
	for _, d := range q.Definitions {
		if !keywords[d.CorrectKeywordID] {
			return fmt.Errorf("question %s: definition %s references unknown keyword %s", q.ID, d.ID, d.CorrectKeywordID)
		}
		if used[d.CorrectKeywordID] {
			return fmt.Errorf("question %s: keyword %s is correct for more than one definition", q.ID, d.CorrectKeywordID)
		}
		used[d.CorrectKeywordID] = true
	}

	return nil
}
