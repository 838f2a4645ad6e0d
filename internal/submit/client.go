package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/victornm/eplay/internal/domain"
	"github.com/victornm/eplay/internal/errors"
	"github.com/victornm/eplay/internal/telemetry"
)

// attemptsPath is appended to the session context's API base URL.
const attemptsPath = "/user-attempts"

type Config struct {
	HTTPClient *http.Client
	// Now stamps the attempt end timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Client performs the single "submit attempt" network write. It owns no UI
// and never retries: the host shell alone decides what a failure means.
type Client struct {
	http *http.Client
	now  func() time.Time
}

func NewClient(c Config) *Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Client{
		http: c.HTTPClient,
		now:  c.Now,
	}
}

// Result is what an activity hands back when it finishes. Fields carries
// any extra score-related fields supplied by the activity; they are
// overlaid onto the payload as-is.
type Result struct {
	Score           decimal.Decimal
	ScorePercentage decimal.Decimal
	Fields          map[string]any
}

// Submit merges the activity result with the session context and performs
// exactly one POST. The end timestamp is stamped here and never precedes
// the attempt start.
func (c *Client) Submit(ctx context.Context, sc domain.SessionContext, r Result) error {
	if err := sc.Validate(); err != nil {
		telemetry.AttemptSubmissions.WithLabelValues("invalid_context").Inc()
		return errors.New(errors.CodeFailedPrecondition, errors.WithCause(err),
			errors.WithMessagef("submit: session context incomplete"))
	}

	payload, err := c.buildPayload(sc, r)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("submit: marshal payload: %w", err)
	}

	url := strings.TrimRight(sc.APIBaseURL, "/") + attemptsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("submit: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		telemetry.AttemptSubmissions.WithLabelValues("rejected").Inc()
		return errors.New(errors.CodeUnavailable, errors.WithCause(err),
			errors.WithMessagef("submit: post attempt"))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		telemetry.AttemptSubmissions.WithLabelValues("rejected").Inc()
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("submit: backend returned %d", resp.StatusCode))
	}

	telemetry.AttemptSubmissions.WithLabelValues("accepted").Inc()
	return nil
}

func (c *Client) buildPayload(sc domain.SessionContext, r Result) (map[string]any, error) {
	token, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate attempt token: %w", err)
	}

	end := c.now()
	if end.Before(sc.AttemptStartedAt) {
		end = sc.AttemptStartedAt
	}

	payload := map[string]any{
		"userId":                    sc.UserID,
		"cohortId":                  sc.CohortID,
		"sessionId":                 sc.SessionID,
		"programId":                 sc.ProgramID,
		"stageId":                   sc.StageID,
		"unitId":                    sc.UnitID,
		"subconceptId":              sc.ActivityID,
		"attemptToken":              token.String(),
		"userAttemptStartTimestamp": sc.AttemptStartedAt.UnixMilli(),
		"userAttemptEndTimestamp":   end.UnixMilli(),
		"score":                     r.Score.InexactFloat64(),
		"scorePercentage":           r.ScorePercentage.InexactFloat64(),
	}

	// The activity result overlays the context, not the other way around.
	for k, v := range r.Fields {
		payload[k] = v
	}

	return payload, nil
}
