package forecast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/metrics"
	"CalibrationMonitorAPI/internal/models"
	"CalibrationMonitorAPI/internal/repository"

	"github.com/google/uuid"
)

type ServerConfig struct {
	InlineReducer Reducer
	// CacheTTL > 0 serves repeated inline requests from memory for that long.
	CacheTTL     time.Duration
	JobRetention time.Duration
}

// Server answers inline forecasts, retrieves persisted ones and runs inline work in the
// background.
type Server struct {
	trainer    *Trainer
	aggregator *Aggregator
	forecasts  repository.IForecastRepository
	cfg        ServerConfig
	cache      *resultCache
	log        *logger.Logger

	jobsMu sync.Mutex
	jobs   map[string]*models.ForecastJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(trainer *Trainer, aggregator *Aggregator, forecasts repository.IForecastRepository, cfg ServerConfig, log *logger.Logger) *Server {
	if cfg.InlineReducer == nil {
		cfg.InlineReducer = LastWriteWins{}
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		trainer:    trainer,
		aggregator: aggregator,
		forecasts:  forecasts,
		cfg:        cfg,
		cache:      newResultCache(cfg.CacheTTL),
		log:        log,
		jobs:       make(map[string]*models.ForecastJob),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Retrieve returns a persisted forecast. A nil period addresses the batch result.
// It never trains.
func (s *Server) Retrieve(ctx context.Context, key models.SeriesKey, period *models.Period) (*models.ForecastResult, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.forecasts.Get(ctx, key, period)
}

// Inline re-aggregates the history before target and re-fits on every call, forecasts through
// the end of target and keeps only the days inside it. The result is persisted under
// (device, metric, energy, period); the fitted model is not.
func (s *Server) Inline(ctx context.Context, key models.SeriesKey, target models.Period) (*models.ForecastOutcome, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	cacheKey := key.String() + "/" + target.String()
	if cached := s.cache.get(cacheKey); cached != nil {
		metrics.InlineCacheHits.Inc()
		out := *cached
		out.Cached = true
		return &out, nil
	}

	series, err := s.aggregator.SeriesBefore(ctx, key, target, s.cfg.InlineReducer)
	if err != nil {
		return nil, err
	}

	trained, fitted, err := s.trainer.fitSeries(ctx, key, series)
	if err != nil {
		return nil, err
	}

	outcome := &models.ForecastOutcome{
		Status:        trained.Status,
		Points:        trained.Points,
		MinimumPoints: trained.MinimumPoints,
	}
	if trained.Status != models.TrainStatusTrained {
		return outcome, nil
	}

	anchor := series[len(series)-1].Date
	horizon := int(target.End().Sub(anchor).Hours() / 24)

	points, err := project(s.trainer.Model(), fitted, anchor, horizon)
	if err != nil {
		return nil, err
	}

	start := target.Start().Format(models.DateLayout)
	end := target.End().Format(models.DateLayout)
	inMonth := make([]models.ForecastPoint, 0, target.DaysInMonth())
	for _, p := range points {
		if p.Date >= start && p.Date <= end {
			inMonth = append(inMonth, p)
		}
	}

	period := target
	result := &models.ForecastResult{
		Key:         key,
		Period:      &period,
		Family:      fitted.Family,
		Forecast:    inMonth,
		GeneratedAt: time.Now().UTC(),
	}
	if err := s.forecasts.Save(ctx, result); err != nil {
		return nil, err
	}

	outcome.Result = result
	s.cache.put(cacheKey, outcome)
	return outcome, nil
}

// Submit runs Inline in the background and returns the job handle immediately.
func (s *Server) Submit(key models.SeriesKey, target models.Period) (*models.ForecastJob, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := s.ctx.Err(); err != nil {
		return nil, fmt.Errorf("forecast server is shut down: %w", err)
	}

	job := &models.ForecastJob{
		ID:        uuid.NewString(),
		Key:       key,
		Period:    target,
		State:     models.JobPending,
		CreatedAt: time.Now().UTC(),
	}

	s.jobsMu.Lock()
	s.pruneLocked(job.CreatedAt)
	s.jobs[job.ID] = job
	snapshot := *job
	s.jobsMu.Unlock()

	s.wg.Add(1)
	go s.runJob(job.ID, key, target)

	return &snapshot, nil
}

func (s *Server) runJob(id string, key models.SeriesKey, target models.Period) {
	defer s.wg.Done()

	s.updateJob(id, func(j *models.ForecastJob) { j.State = models.JobRunning })

	outcome, err := s.Inline(s.ctx, key, target)

	s.updateJob(id, func(j *models.ForecastJob) {
		now := time.Now().UTC()
		j.FinishedAt = &now
		switch {
		case err != nil:
			j.State = models.JobFailed
			j.Error = err.Error()
		case outcome.Status == models.TrainStatusInsufficientHistory:
			j.State = models.JobInsufficientHistory
		default:
			j.State = models.JobDone
			j.Result = outcome.Result
		}
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("Inline forecast job %s for %s failed: %v", id, key, err)
	}
}

func (s *Server) updateJob(id string, fn func(*models.ForecastJob)) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if j, ok := s.jobs[id]; ok {
		fn(j)
	}
}

// Job reports the state of a submitted inline forecast.
func (s *Server) Job(id string) (*models.ForecastJob, error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	snapshot := *j
	return &snapshot, nil
}

func (s *Server) pruneLocked(now time.Time) {
	for id, j := range s.jobs {
		if j.FinishedAt != nil && now.Sub(*j.FinishedAt) > s.cfg.JobRetention {
			delete(s.jobs, id)
		}
	}
}

// Close cancels running jobs and waits for them to return.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

type cachedOutcome struct {
	outcome *models.ForecastOutcome
	at      time.Time
}

type resultCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cachedOutcome
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{ttl: ttl, entries: make(map[string]cachedOutcome)}
}

func (c *resultCache) get(key string) *models.ForecastOutcome {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Since(e.at) > c.ttl {
		return nil
	}
	return e.outcome
}

func (c *resultCache) put(key string, outcome *models.ForecastOutcome) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, e := range c.entries {
		if now.Sub(e.at) > c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cachedOutcome{outcome: outcome, at: now}
}
