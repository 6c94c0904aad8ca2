package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"krontab/internal/adapter/journal"
	"krontab/internal/shared"
	"krontab/pkg/krontab"
)

const (
	defaultRuns  = 20
	defaultCount = 5
)

type handlers struct {
	registry Registry
	runs     Runs
	loc      *time.Location
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(shared.HTTPStatus(err), errorBody{Error: err.Error(), Kind: shared.KindOf(err).String()})
}

func (h *handlers) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.runs.Ping(ctx); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) listJobs(c *gin.Context) {
	jobs := h.registry.Jobs()
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *handlers) getJob(c *gin.Context) {
	job, err := h.registry.Job(c.Param("name"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	last, err := h.runs.Last(c.Request.Context(), job.Name)
	switch {
	case err == nil:
		job.LastRun = &last
	case !shared.IsNotFound(err):
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

type runsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

func (h *handlers) listRuns(c *gin.Context) {
	job, err := h.registry.Job(c.Param("name"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	var q runsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abortWithError(c, shared.MarkKind(err, shared.KindValidation))
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultRuns
	}
	runs, err := h.runs.Recent(c.Request.Context(), job.Name, q.Limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"job": job.Name, "runs": runs})
}

// nextQuery selects occurrences at or after From, which defaults to now.
type nextQuery struct {
	Expr  string `form:"expr" binding:"required"`
	From  string `form:"from"`
	Count int    `form:"count" binding:"omitempty,min=1,max=100"`
	TZ    string `form:"tz"`
}

type nextResponse struct {
	Expression    string            `json:"expression"`
	Timezone      string            `json:"timezone"`
	From          time.Time         `json:"from"`
	Unconstrained bool              `json:"unconstrained"`
	Fields        map[string]string `json:"fields"`
	Next          []time.Time       `json:"next"`
}

func (h *handlers) nextOccurrences(c *gin.Context) {
	var q nextQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abortWithError(c, shared.MarkKind(err, shared.KindValidation))
		return
	}
	if q.Count == 0 {
		q.Count = defaultCount
	}

	loc := h.loc
	if q.TZ != "" {
		var err error
		if loc, err = time.LoadLocation(q.TZ); err != nil {
			abortWithError(c, shared.MarkKind(fmt.Errorf("tz: %w", err), shared.KindValidation))
			return
		}
	}
	from := time.Now()
	if q.From != "" {
		var err error
		if from, err = time.Parse(time.RFC3339, q.From); err != nil {
			abortWithError(c, shared.MarkKind(fmt.Errorf("from: want RFC 3339: %w", err), shared.KindValidation))
			return
		}
	}
	from = from.In(loc)

	sched, err := krontab.Parse(q.Expr)
	if err != nil {
		abortWithError(c, shared.MarkKind(err, shared.KindValidation))
		return
	}

	fields := make(map[string]string, len(krontab.Fields))
	for _, f := range krontab.Fields {
		fields[f.String()] = sched.Field(f).String()
	}
	c.JSON(http.StatusOK, nextResponse{
		Expression:    sched.String(),
		Timezone:      loc.String(),
		From:          from,
		Unconstrained: sched.Unconstrained(),
		Fields:        fields,
		Next:          sched.UpcomingFrom(from, q.Count),
	})
}
