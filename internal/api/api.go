package api

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/eplay/internal/catalog"
	"github.com/victornm/eplay/internal/channel"
	"github.com/victornm/eplay/internal/domain"
	"github.com/victornm/eplay/internal/errors"
	"github.com/victornm/eplay/internal/event"
	"github.com/victornm/eplay/internal/matching"
	"github.com/victornm/eplay/internal/session"
	"github.com/victornm/eplay/internal/shell"
	"github.com/victornm/eplay/internal/submit"
)

type Config struct {
	Router    gin.IRouter
	EventBus  *event.Bus
	Catalog   catalog.Source
	Store     *session.Store
	Submitter *submit.Client
	Registry  *shell.Registry
	Origins   *channel.OriginPolicy

	OverlayDuration time.Duration
	CompleteTimeout time.Duration
	RevealInterval  time.Duration
	CompleteDelay   time.Duration
}

type API struct {
	eb        *event.Bus
	catalog   catalog.Source
	store     *session.Store
	submitter *submit.Client
	registry  *shell.Registry
	origins   *channel.OriginPolicy

	overlayDuration time.Duration
	completeTimeout time.Duration
	revealInterval  time.Duration
	completeDelay   time.Duration
}

func New(c Config) *API {
	a := &API{
		eb:              c.EventBus,
		catalog:         c.Catalog,
		store:           c.Store,
		submitter:       c.Submitter,
		registry:        c.Registry,
		origins:         c.Origins,
		overlayDuration: c.OverlayDuration,
		completeTimeout: c.CompleteTimeout,
		revealInterval:  c.RevealInterval,
		completeDelay:   c.CompleteDelay,
	}

	v1 := c.Router.Group("/v1")
	v1.POST("/attempts", a.OpenAttempt)
	v1.GET("/attempts/:id", a.GetAttempt)
	v1.DELETE("/attempts/:id", a.CloseAttempt)
	v1.POST("/attempts/:id/submit", a.SubmitClicked)
	v1.GET("/attempts/:id/channel", a.FrameChannel)

	m := v1.Group("/attempts/:id/matching")
	m.GET("", a.MatchingState)
	m.POST("/place", a.MatchingPlace)
	m.POST("/clear", a.MatchingClear)
	m.POST("/submit", a.MatchingSubmit)
	m.POST("/next", a.MatchingNext)
	m.POST("/prev", a.MatchingPrev)
	m.POST("/goto", a.MatchingGoto)
	m.POST("/reset", a.MatchingReset)

	c.EventBus.Subscribe(domain.EventNameAttemptCompleted, func(ctx context.Context, e event.Event) error {
		done := e.(domain.EventAttemptCompleted)
		slog.InfoContext(ctx, "api: attempt completed",
			"attempt", done.AttemptID,
			"activity", done.ActivityID,
			"user", done.UserID,
			"accepted", done.Accepted,
		)
		return nil
	})

	return a
}

type OpenAttemptRequest struct {
	UserID     string `json:"userId" binding:"required"`
	CohortID   string `json:"cohortId"`
	ProgramID  string `json:"programId" binding:"required"`
	StageID    string `json:"stageId" binding:"required"`
	UnitID     string `json:"unitId" binding:"required"`
	ActivityID string `json:"activityId" binding:"required"`
	SessionID  string `json:"sessionId" binding:"required"`
	APIBaseURL string `json:"apiBaseUrl" binding:"required"`
}

type OpenAttemptResponse struct {
	AttemptID    string `json:"attemptId"`
	Presentation string `json:"presentation"`
	State        string `json:"state"`
	ContentURI   string `json:"contentUri"`
}

func (a *API) OpenAttempt(c *gin.Context) {
	var req OpenAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err),
			errors.WithMessagef("open attempt: invalid request")))
		return
	}

	d, err := a.catalog.Load(c.Request.Context(), req.ActivityID)
	if err != nil {
		abortError(c, err)
		return
	}

	sc := domain.SessionContext{
		UserID:           req.UserID,
		CohortID:         req.CohortID,
		ProgramID:        req.ProgramID,
		StageID:          req.StageID,
		UnitID:           req.UnitID,
		ActivityID:       req.ActivityID,
		MaxScore:         d.MaxScore,
		SessionID:        req.SessionID,
		APIBaseURL:       req.APIBaseURL,
		AttemptStartedAt: time.Now(),
	}

	s, err := shell.New(c.Request.Context(), shell.Config{
		Descriptor:      *d,
		Session:         sc,
		Store:           a.store,
		Submitter:       a.submitter,
		EventBus:        a.eb,
		OverlayDuration: a.overlayDuration,
		CompleteTimeout: a.completeTimeout,
		RevealInterval:  a.revealInterval,
		CompleteDelay:   a.completeDelay,
		Rand:            rand.New(rand.NewSource(time.Now().UnixNano())),
	})
	if err != nil {
		abortError(c, err)
		return
	}

	a.registry.Add(s)

	// Native presentations have no frame to wait for.
	if s.Presentation() != shell.PresentationEmbed {
		s.ContentLoaded()
	}

	snap := s.Snapshot()
	c.JSON(http.StatusCreated, OpenAttemptResponse{
		AttemptID:    snap.AttemptID,
		Presentation: string(snap.Presentation),
		State:        string(snap.State),
		ContentURI:   d.ContentURI,
	})
}

type AttemptResponse struct {
	AttemptID     string            `json:"attemptId"`
	ActivityID    string            `json:"activityId"`
	Presentation  string            `json:"presentation"`
	State         string            `json:"state"`
	SubmitVisible bool              `json:"submitVisible"`
	BackVisible   bool              `json:"backVisible"`
	Expired       bool              `json:"expired,omitempty"`
	Matching      *MatchingResponse `json:"matching,omitempty"`
}

func (a *API) GetAttempt(c *gin.Context) {
	s, err := a.registry.Get(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, makeAttemptResponse(s.Snapshot()))
}

func (a *API) CloseAttempt(c *gin.Context) {
	a.registry.Remove(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (a *API) SubmitClicked(c *gin.Context) {
	s, err := a.registry.Get(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}

	if err := s.SubmitClicked(c.Request.Context()); err != nil {
		abortError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

func makeAttemptResponse(snap shell.Snapshot) AttemptResponse {
	resp := AttemptResponse{
		AttemptID:     snap.AttemptID,
		ActivityID:    snap.ActivityID,
		Presentation:  string(snap.Presentation),
		State:         string(snap.State),
		SubmitVisible: snap.SubmitVisible,
		BackVisible:   snap.BackVisible,
		Expired:       snap.Expired,
	}

	if snap.Matching != nil {
		m := makeMatchingResponse(*snap.Matching)
		resp.Matching = &m
	}

	return resp
}

func makeMatchingResponse(s matching.Snapshot) MatchingResponse {
	resp := MatchingResponse{
		NoContent:     s.NoContent,
		QuestionIndex: s.QuestionIndex,
		QuestionCount: s.QuestionCount,
		QuestionID:    s.QuestionID,
		Placements:    s.Placements,
		AllPlaced:     s.AllPlaced,
		Submitted:     s.Submitted,
	}

	for _, k := range s.Keywords {
		resp.Keywords = append(resp.Keywords, KeywordResponse{ID: k.ID, Content: k.Content})
	}
	for _, d := range s.Definitions {
		resp.Definitions = append(resp.Definitions, DefinitionResponse{ID: d.ID, Text: d.Text})
	}
	for _, m := range s.Revealed {
		resp.Revealed = append(resp.Revealed, MarkResponse{DefinitionID: m.DefinitionID, Correct: m.Correct})
	}
	for _, p := range s.Progress {
		resp.Progress = append(resp.Progress, ProgressResponse{Answered: p.Answered, Passed: p.Passed})
	}

	return resp
}

func abortError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
