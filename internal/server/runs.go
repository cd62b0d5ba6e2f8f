package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	core "github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
)

// StatusReader reads the last published status snapshot for a run.
type StatusReader interface {
	Get(ctx context.Context, runID string) (core.RunStatus, bool, error)
}

// RunsHandler exposes research runs over HTTP. Submission is asynchronous:
// the run is accepted immediately and progresses in the background.
type RunsHandler struct {
	Orchestrator *core.Orchestrator
	Store        *store.Store
	Statuses     StatusReader // may be nil
	Timeout      time.Duration
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("/research", h.submit)
	g.GET("/runs", h.list)
	g.GET("/runs/:id", h.get)
	g.GET("/runs/:id/status", h.status)
	g.GET("/runs/:id/outcomes", h.outcomes)
	g.GET("/runs/:id/report", h.report)
}

func (h *RunsHandler) submit(c echo.Context) error {
	var req ResearchSubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query must not be empty")
	}

	request := core.ResearchRequest{
		ID:        uuid.New().String(),
		Query:     req.Query,
		Recipient: req.Recipient,
		CreatedAt: time.Now(),
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := h.Orchestrator.Research(ctx, request); err != nil {
			log.Printf("[HTTP] run %s failed: %v", request.ID, err)
		}
	}()

	return c.JSON(http.StatusAccepted, ResearchSubmitResponse{
		RunID: request.ID,
		State: string(core.StatePending),
	})
}

func (h *RunsHandler) list(c echo.Context) error {
	runs, err := h.Store.ListRuns(c.Request().Context(), 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, runResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *RunsHandler) get(c echo.Context) error {
	run, ok, err := h.Store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, runResponse(run))
}

// status prefers the orchestrator's in-process view and falls back to the
// last snapshot published to Redis.
func (h *RunsHandler) status(c echo.Context) error {
	id := c.Param("id")
	if st, err := h.Orchestrator.GetStatus(id); err == nil {
		return c.JSON(http.StatusOK, statusResponse(st))
	}
	if h.Statuses != nil {
		st, ok, err := h.Statuses.Get(c.Request().Context(), id)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if ok {
			return c.JSON(http.StatusOK, statusResponse(st))
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "run not found")
}

func (h *RunsHandler) outcomes(c echo.Context) error {
	outcomes, err := h.Store.GetOutcomes(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]OutcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, OutcomeResponse{
			Query:       o.Task.Query,
			Rationale:   o.Task.Rationale,
			Status:      string(o.Status),
			Summary:     o.Summary,
			ErrorDetail: o.ErrorDetail,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *RunsHandler) report(c echo.Context) error {
	id := c.Param("id")
	draft, ok, err := h.Store.GetReport(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	return c.JSON(http.StatusOK, ReportResponse{
		RunID:             id,
		ShortSummary:      draft.ShortSummary,
		MarkdownReport:    draft.MarkdownBody,
		FollowUpQuestions: draft.FollowUpQuestions,
	})
}

func runResponse(r store.Run) RunResponse {
	return RunResponse{
		RunID:        r.ID,
		Query:        r.Query,
		Recipient:    r.Recipient,
		State:        string(r.State),
		FailureStage: r.FailureStage.String,
		FailureCause: r.FailureCause.String,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func statusResponse(st core.RunStatus) StatusResponse {
	return StatusResponse{
		RunID:          st.RunID,
		State:          string(st.State),
		Progress:       st.Progress,
		Message:        st.Message,
		TotalTasks:     st.TotalTasks,
		CompletedTasks: st.CompletedTasks,
	}
}
