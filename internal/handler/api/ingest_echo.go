package api

import (
	"errors"

	"QuotePull/internal/domain/models"
	"QuotePull/internal/job"
	"QuotePull/internal/proxy"
	"QuotePull/internal/scheduler"
	xhttp "QuotePull/pkg/http"
	xlogger "QuotePull/pkg/logger"

	"github.com/labstack/echo/v4"
)

// IngestEchoHandler exposes job status, manual triggers and pool health over
// Echo. Token issuance and protected downloads live in a separate service.
type IngestEchoHandler struct {
	logger *xlogger.Logger
	orch   *job.Orchestrator
	sched  *scheduler.Scheduler
	pool   *proxy.Pool
}

func NewIngestEchoHandler(logger *xlogger.Logger, orch *job.Orchestrator, sched *scheduler.Scheduler, pool *proxy.Pool) *IngestEchoHandler {
	return &IngestEchoHandler{logger: logger, orch: orch, sched: sched, pool: pool}
}

func (h *IngestEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api")
	g.GET("/jobs", h.ListJobs)
	g.GET("/jobs/:id", h.JobStatus)
	g.POST("/jobs/:id/cancel", h.CancelJob)
	g.POST("/fetch", h.TriggerManual)
	g.GET("/scheduled/latest", h.LatestScheduled)
	g.GET("/proxies", h.Proxies)
}

func (h *IngestEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

type jobStatusResponse struct {
	Job     *models.Job `json:"job"`
	OK      int         `json:"ok"`
	Failed  int         `json:"failed"`
	Skipped int         `json:"skipped"`
	Total   int         `json:"total"`
}

func (h *IngestEchoHandler) ListJobs(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.orch.Jobs())
}

func (h *IngestEchoHandler) JobStatus(c echo.Context) error {
	j, err := h.orch.Job(c.Param("id"))
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("job %s not found", c.Param("id")))
		}
		h.logger.Error("job status error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	ok, failed, skipped := j.Counts()
	return xhttp.SuccessResponse(c, jobStatusResponse{
		Job:     j,
		OK:      ok,
		Failed:  failed,
		Skipped: skipped,
		Total:   len(j.Universe),
	})
}

func (h *IngestEchoHandler) CancelJob(c echo.Context) error {
	err := h.orch.Cancel(c.Param("id"))
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("job %s not found", c.Param("id")))
	case errors.Is(err, job.ErrJobTerminal):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("job already finished"))
	case err != nil:
		h.logger.Error("job cancel error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "cancelling"})
}

func (h *IngestEchoHandler) TriggerManual(c echo.Context) error {
	req := &models.ManualFetchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	j, err := h.sched.TriggerManual(c.Request().Context(), req.Codes)
	if err != nil {
		if errors.Is(err, job.ErrEmptyUniverse) {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("stock universe is empty"))
		}
		h.logger.Error("manual trigger error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.CreatedResponse(c, j)
}

func (h *IngestEchoHandler) LatestScheduled(c echo.Context) error {
	st, err := h.sched.LatestScheduled(c.Request().Context())
	if err != nil {
		h.logger.Error("latest scheduled error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *IngestEchoHandler) Proxies(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.pool.Snapshot())
}
