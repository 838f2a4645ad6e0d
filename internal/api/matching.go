package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/eplay/internal/errors"
	"github.com/victornm/eplay/internal/matching"
	"github.com/victornm/eplay/internal/shell"
)

type (
	MatchingResponse struct {
		NoContent     bool                 `json:"noContent"`
		QuestionIndex int                  `json:"questionIndex"`
		QuestionCount int                  `json:"questionCount"`
		QuestionID    string               `json:"questionId,omitempty"`
		Keywords      []KeywordResponse    `json:"keywords"`
		Definitions   []DefinitionResponse `json:"definitions"`
		Placements    map[string]string    `json:"placements"`
		AllPlaced     bool                 `json:"allPlaced"`
		Submitted     bool                 `json:"submitted"`
		Revealed      []MarkResponse       `json:"revealed"`
		Progress      []ProgressResponse   `json:"progress"`
	}

	KeywordResponse struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	}

	DefinitionResponse struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}

	ProgressResponse struct {
		Answered bool `json:"answered"`
		Passed   bool `json:"passed"`
	}

	OutcomeResponse struct {
		Passed bool           `json:"passed"`
		Marks  []MarkResponse `json:"marks"`
	}

	MarkResponse struct {
		DefinitionID string `json:"definitionId"`
		Correct      bool   `json:"correct"`
	}
)

// engineFor resolves the attempt's native matching engine.
func (a *API) engineFor(c *gin.Context) *matching.Engine {
	s, err := a.registry.Get(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return nil
	}

	if s.Presentation() != shell.PresentationMatching {
		abortError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("api: attempt %s is not a matching activity", s.AttemptID())))
		return nil
	}

	return s.Engine()
}

func (a *API) MatchingState(c *gin.Context) {
	e := a.engineFor(c)
	if e == nil {
		return
	}

	c.JSON(http.StatusOK, makeMatchingResponse(e.Snapshot()))
}

func (a *API) MatchingPlace(c *gin.Context) {
	e := a.engineFor(c)
	if e == nil {
		return
	}

	var req struct {
		DefinitionID string `json:"definitionId" binding:"required"`
		KeywordID    string `json:"keywordId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := e.Place(req.DefinitionID, req.KeywordID); err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, makeMatchingResponse(e.Snapshot()))
}

func (a *API) MatchingClear(c *gin.Context) {
	e := a.engineFor(c)
	if e == nil {
		return
	}

	var req struct {
		DefinitionID string `json:"definitionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := e.Clear(req.DefinitionID); err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, makeMatchingResponse(e.Snapshot()))
}

func (a *API) MatchingSubmit(c *gin.Context) {
	e := a.engineFor(c)
	if e == nil {
		return
	}

	out, err := e.SubmitQuestion()
	if err != nil {
		abortError(c, err)
		return
	}

	resp := OutcomeResponse{Passed: out.Passed}
	for _, m := range out.Marks {
		resp.Marks = append(resp.Marks, MarkResponse{DefinitionID: m.DefinitionID, Correct: m.Correct})
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) MatchingNext(c *gin.Context) {
	a.matchingNav(c, func(e *matching.Engine) error { return e.Next() })
}

func (a *API) MatchingPrev(c *gin.Context) {
	a.matchingNav(c, func(e *matching.Engine) error { return e.Prev() })
}

func (a *API) MatchingGoto(c *gin.Context) {
	e := a.engineFor(c)
	if e == nil {
		return
	}

	var req struct {
		Index *int `json:"index" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := e.Goto(*req.Index); err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, makeMatchingResponse(e.Snapshot()))
}

func (a *API) MatchingReset(c *gin.Context) {
	a.matchingNav(c, func(e *matching.Engine) error { return e.ResetCurrent() })
}

func (a *API) matchingNav(c *gin.Context, op func(e *matching.Engine) error) {
	e := a.engineFor(c)
	if e == nil {
		return
	}

	if err := op(e); err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, makeMatchingResponse(e.Snapshot()))
}
