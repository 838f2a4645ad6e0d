// Package catalog resolves activity descriptors: from the portal's own
// postgres catalog or from a remote content service over HTTP.
package catalog

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/eplay/internal/domain"
	"github.com/victornm/eplay/internal/errors"
)

// Source loads the descriptor for one activity.
type Source interface {
	Load(ctx context.Context, activityID string) (*domain.ActivityDescriptor, error)
}

type Config struct {
	DB *pgxpool.Pool
}

// Repository is the postgres-backed catalog.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(c Config) *Repository {
	return &Repository{db: c.DB}
}

func (r *Repository) Load(ctx context.Context, activityID string) (*domain.ActivityDescriptor, error) {
	const actStmt = `SELECT activity_type, content_uri, max_score FROM activities WHERE activity_id = $1;`

	d := &domain.ActivityDescriptor{ID: activityID}
	var typ string
	err := r.db.QueryRow(ctx, actStmt, activityID).Scan(&typ, &d.ContentURI, &d.MaxScore)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("catalog: activity not found: %s", activityID))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load activity %s: %w", activityID, err)
	}
	d.Type = domain.ActivityType(typ)

	if d.Type == domain.ActivityMatching {
		if d.Questions, err = r.loadQuestions(ctx, activityID); err != nil {
			return nil, err
		}
	}

	return d, nil
}

func (r *Repository) loadQuestions(ctx context.Context, activityID string) ([]domain.Question, error) {
	const stmt = `
SELECT round_id, entry_id, prompt_word, correct_option
FROM matching_entries
WHERE activity_id = $1
ORDER BY round_pos, entry_pos;`

	rows, err := r.db.Query(ctx, stmt, activityID)
	if err != nil {
		return nil, fmt.Errorf("catalog: load questions %s: %w", activityID, err)
	}

	type entry struct {
		round, id, word, option string
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entry, error) {
		var e entry
		if err := row.Scan(&e.round, &e.id, &e.word, &e.option); err != nil {
			return entry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: collect questions %s: %w", activityID, err)
	}

	var questions []domain.Question
	for _, e := range entries {
		if len(questions) == 0 || questions[len(questions)-1].ID != e.round {
			questions = append(questions, domain.Question{ID: e.round})
		}
		q := &questions[len(questions)-1]
		q.Keywords = append(q.Keywords, domain.Keyword{ID: e.id, Content: e.word})
		q.Definitions = append(q.Definitions, domain.Definition{
			ID:               e.id + ":def",
			Text:             e.option,
			CorrectKeywordID: e.id,
		})
	}

	for _, q := range questions {
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: activity %s: %w", activityID, err)
		}
	}

	return questions, nil
}

// Put inserts a descriptor with its matching rounds transactionally.
// Used by content tooling, not by the attempt lifecycle.
func (r *Repository) Put(ctx context.Context, d *domain.ActivityDescriptor) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("catalog: begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insActivityStmt = `INSERT INTO activities (activity_id, activity_type, content_uri, max_score) VALUES ($1, $2, $3, $4);`
		insEntryStmt    = `INSERT INTO matching_entries (activity_id, round_id, round_pos, entry_id, prompt_word, correct_option, entry_pos) VALUES ($1, $2, $3, $4, $5, $6, $7);`
	)

	_, err = tx.Exec(ctx, insActivityStmt, d.ID, string(d.Type), d.ContentURI, d.MaxScore)
	if err != nil {
		return fmt.Errorf("catalog: insert activity: %w", err)
	}

	for qi, q := range d.Questions {
		for ei, k := range q.Keywords {
			_, err = tx.Exec(ctx, insEntryStmt, d.ID, q.ID, qi, k.ID, k.Content, q.Definitions[ei].Text, ei)
			if err != nil {
				return fmt.Errorf("catalog: insert entry: %w", err)
			}
		}
	}

	return tx.Commit(ctx)
}

// HTTPSource fetches descriptors from a remote content service.
type HTTPSource struct {
	base string
	http *http.Client
}

func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{
		base: strings.TrimRight(baseURL, "/"),
		http: client,
	}
}

func (s *HTTPSource) Load(ctx context.Context, activityID string) (*domain.ActivityDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/activities/"+activityID, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeUnavailable, errors.WithCause(err),
			errors.WithMessagef("catalog: fetch descriptor %s", activityID))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("catalog: activity not found: %s", activityID))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("catalog: content service returned %d for %s", resp.StatusCode, activityID))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(errors.CodeUnavailable, errors.WithCause(err),
			errors.WithMessagef("catalog: read descriptor %s", activityID))
	}

	return ParseDescriptor(b)
}
