package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/victornm/eplay/internal/domain"
)

// descriptorDoc is the wire form of an activity descriptor. For matching
// activities the content is a collection of "activity" groups, each with
// ordered question entries; one group maps to one question in the internal
// model, and each entry contributes one keyword (the prompt word) and one
// definition (the correct option text).
type descriptorDoc struct {
	ActivityID string `json:"activityId"`
	Type       string `json:"type"`
	ContentURI string `json:"contentUri"`
	MaxScore   int    `json:"maxScore"`

	Activities []struct {
		ID        string `json:"id"`
		Questions []struct {
			ID            string `json:"id"`
			Word          string `json:"word"`
			CorrectOption string `json:"correctOption"`
		} `json:"questions"`
	} `json:"activities"`
}

// ParseDescriptor decodes and validates a descriptor document.
func ParseDescriptor(b []byte) (*domain.ActivityDescriptor, error) {
	var doc descriptorDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode descriptor: %w", err)
	}

	if doc.ActivityID == "" {
		return nil, fmt.Errorf("catalog: descriptor without activityId")
	}

	d := &domain.ActivityDescriptor{
		ID:         doc.ActivityID,
		Type:       domain.ActivityType(doc.Type),
		ContentURI: doc.ContentURI,
		MaxScore:   doc.MaxScore,
	}

	if d.Type != domain.ActivityMatching {
		return d, nil
	}

	for _, group := range doc.Activities {
		q := domain.Question{ID: group.ID}
		for _, entry := range group.Questions {
			q.Keywords = append(q.Keywords, domain.Keyword{
				ID:      entry.ID,
				Content: entry.Word,
			})
			q.Definitions = append(q.Definitions, domain.Definition{
				ID:               entry.ID + ":def",
				Text:             entry.CorrectOption,
				CorrectKeywordID: entry.ID,
			})
		}

		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: descriptor %s: %w", doc.ActivityID, err)
		}

		d.Questions = append(d.Questions, q)
	}

	return d, nil
}
