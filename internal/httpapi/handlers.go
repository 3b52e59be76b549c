package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"meal-optimizer/internal/jobs"
	"meal-optimizer/internal/metrics"
	"meal-optimizer/internal/planner"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

var validate = validator.New()

// problemLimits bounds request sizes before a model is built.
type problemLimits struct {
	RecipeIDs    []string `validate:"max=2000"`
	InventoryIDs []string `validate:"max=5000"`
	MealTypes    []string `validate:"dive,required"`
}

type suggestionLimits struct {
	Mode         string   `validate:"max=64"`
	Limit        int      `validate:"gte=1,lte=20"`
	RecipeIDs    []string `validate:"max=5000,dive,required"`
	InventoryIDs []string `validate:"max=10000,dive,required"`
}

func recipeIDs(recipes []planner.Recipe) []string {
	out := make([]string, len(recipes))
	for i, r := range recipes {
		out[i] = r.ID
	}
	return out
}

func inventoryIDs(items []planner.InventoryItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.IngredientID
	}
	return out
}

func validationDetails(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return out
}

func (s *Server) invalid(c *gin.Context, err error) {
	s.opts.Collectors.Reject("invalid")
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "invalid request",
		"details": validationDetails(err),
	})
}

// bindProblem decodes and validates a problem from the request body.
func (s *Server) bindProblem(c *gin.Context) (planner.Problem, bool) {
	var p planner.Problem
	if err := c.ShouldBindJSON(&p); err != nil {
		s.invalid(c, err)
		return p, false
	}
	if err := validate.Struct(problemLimits{
		RecipeIDs:    recipeIDs(p.Recipes),
		InventoryIDs: inventoryIDs(p.Inventory),
		MealTypes:    p.PlanningHorizon.MealTypes,
	}); err != nil {
		s.invalid(c, err)
		return p, false
	}
	if err := p.Validate(); err != nil {
		s.invalid(c, err)
		return p, false
	}
	if limit := s.opts.MaxSolveTimeout.Milliseconds(); limit > 0 && int64(p.TimeoutMS) > limit {
		p.TimeoutMS = int(limit)
	}
	return p, true
}

func (s *Server) optimize(c *gin.Context) {
	p, ok := s.bindProblem(c)
	if !ok {
		return
	}
	tenant := tenantOf(c)

	start := time.Now()
	var res planner.Result
	err := s.opts.Pool.Do(c.Request.Context(), func(ctx context.Context) {
		res = planner.Optimize(ctx, p, planner.WithLogger(s.logger.With(zap.String("tenant_id", tenant))))
	})
	if err != nil {
		s.abort(c, http.StatusServiceUnavailable, "request canceled while waiting for a solver slot")
		return
	}
	elapsed := time.Since(start)

	s.opts.Collectors.ObserveSolve(string(res.Status), elapsed, len(p.Recipes), res.TimedOut)
	s.recordHistory(c.Request.Context(), metrics.SolveMetric{
		Feature:   planner.FeatureOptimization,
		Status:    string(res.Status),
		Recipes:   len(p.Recipes),
		Days:      p.PlanningHorizon.Days,
		LatencyMS: elapsed.Milliseconds(),
		TimedOut:  res.TimedOut,
	})
	if id := s.saveRun(c.Request.Context(), tenant, planner.FeatureOptimization, string(res.Status), p, res, elapsed); id != "" {
		c.Header("X-Run-ID", id)
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) suggestions(c *gin.Context) {
	var req planner.SuggestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalid(c, err)
		return
	}
	if err := validate.Struct(suggestionLimits{
		Mode:         req.Mode,
		Limit:        req.Limit,
		RecipeIDs:    recipeIDs(req.Recipes),
		InventoryIDs: inventoryIDs(req.Inventory),
	}); err != nil {
		s.invalid(c, err)
		return
	}

	start := time.Now()
	resp := planner.SuggestionResponse{
		Suggestions: planner.Suggest(req.Inventory, req.Recipes, req.Mode, req.Limit),
	}
	elapsed := time.Since(start)
	s.opts.Collectors.ObserveSuggest(elapsed)
	s.recordHistory(c.Request.Context(), metrics.SolveMetric{
		Feature:   planner.FeatureSuggestions,
		Status:    "ok",
		Recipes:   len(req.Recipes),
		LatencyMS: elapsed.Milliseconds(),
	})
	if id := s.saveRun(c.Request.Context(), tenantOf(c), planner.FeatureSuggestions, "ok", req, resp, elapsed); id != "" {
		c.Header("X-Run-ID", id)
	}
	c.JSON(http.StatusOK, resp)
}

// saveRun persists a call and returns the run id, or "" when it was not
// stored. Storage failures never fail the request.
func (s *Server) saveRun(ctx context.Context, tenant, feature, status string, in, out any, elapsed time.Duration) string {
	if s.opts.Runs == nil {
		return ""
	}
	input, err := json.Marshal(in)
	if err != nil {
		s.logger.Error("Failed to encode run input", zap.Error(err))
		return ""
	}
	output, err := json.Marshal(out)
	if err != nil {
		s.logger.Error("Failed to encode run output", zap.Error(err))
		return ""
	}
	run := &planner.Run{
		TenantID:  tenant,
		Feature:   feature,
		Status:    status,
		Input:     input,
		Output:    output,
		LatencyMS: elapsed.Milliseconds(),
	}
	if err := s.opts.Runs.Save(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Error("Failed to persist run", zap.String("tenant_id", tenant), zap.Error(err))
		return ""
	}
	return run.ID
}

func (s *Server) recordHistory(ctx context.Context, m metrics.SolveMetric) {
	if s.opts.History == nil {
		return
	}
	if err := s.opts.History.Record(context.WithoutCancel(ctx), m); err != nil {
		s.logger.Warn("Failed to record solve metric", zap.Error(err))
	}
}

func (s *Server) submitJob(c *gin.Context) {
	p, ok := s.bindProblem(c)
	if !ok {
		return
	}
	job, err := s.opts.Queue.Submit(tenantOf(c), p)
	switch {
	case errors.Is(err, jobs.ErrQueueFull):
		s.opts.Collectors.Reject("queue_full")
		s.abort(c, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, jobs.ErrQueueClosed):
		s.abort(c, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.opts.Collectors.SetJobsInFlight(s.opts.Queue.Pending())
	c.Header("Location", "/api/v1/jobs/"+job.ID)
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.opts.Queue.Get(tenantOf(c), c.Param("id"))
	if errors.Is(err, jobs.ErrJobNotFound) {
		s.abort(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) listJobs(c *gin.Context) {
	limit, ok := s.listLimit(c)
	if !ok {
		return
	}
	status := jobs.Status(c.Query("status"))
	switch status {
	case "", jobs.StatusQueued, jobs.StatusRunning, jobs.StatusSucceeded, jobs.StatusFailed:
	default:
		s.abort(c, http.StatusBadRequest, fmt.Sprintf("unknown job status %q", status))
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.opts.Queue.List(tenantOf(c), status, limit)})
}

func (s *Server) listRuns(c *gin.Context) {
	limit, ok := s.listLimit(c)
	if !ok {
		return
	}
	runs, err := s.opts.Runs.ListRecentByTenant(c.Request.Context(), tenantOf(c), limit)
	if err != nil {
		s.logger.Error("Failed to list runs", zap.Error(err))
		s.abort(c, http.StatusInternalServerError, "failed to list runs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.opts.Runs.Get(c.Request.Context(), tenantOf(c), c.Param("id"))
	if err != nil {
		s.logger.Error("Failed to get run", zap.Error(err))
		s.abort(c, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		s.abort(c, http.StatusNotFound, "run not found")
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) listLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		s.abort(c, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
		return 0, false
	}
	return n, true
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":       "ok",
		"jobs_pending": 0,
		"system":       metrics.GetSysHealth(s.opts.DBPath),
	}
	if s.opts.Queue != nil {
		body["jobs_pending"] = s.opts.Queue.Pending()
	}
	code := http.StatusOK
	if s.opts.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.DB.Ping(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			body["database"] = "ok"
		}
	}
	c.JSON(code, body)
}
