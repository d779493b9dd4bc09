package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/failover/internal/core/clock"
	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/provider"
	"github.com/vietddude/failover/internal/infra/resilience/backoff"
	"github.com/vietddude/failover/internal/infra/routing"
	"github.com/vietddude/failover/internal/infra/storage"
	"github.com/vietddude/failover/internal/metrics"
)

// maxDepth bounds re-classification of retry failures.
const maxDepth = 8

// ProviderSelector picks providers for the engine.
type ProviderSelector interface {
	SelectOptimalProvider(criteria domain.SelectionCriteria) (*routing.Selection, error)
	GetAllProviders() []provider.Provider
	GetProvider(id string) provider.Provider
}

// CircuitChecker reports open circuits by provider name.
type CircuitChecker interface {
	IsCircuitOpen(key string) bool
}

// Engine runs recovery sessions. It is safe for concurrent use; each session
// owns its RecoveryContext.
type Engine struct {
	selector    ProviderSelector
	circuits    CircuitChecker
	logs        storage.RecoveryLogRepository
	queue       storage.JobQueueRepository
	strategies  Strategies
	degradation *DegradationPolicy
	backoff     *backoff.Calculator
	jitter      float64
	clock       clock.Clock
	logger      *slog.Logger
	alerts      *alerter
	newID       func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithCircuits lets the engine skip retries on providers with an open circuit.
func WithCircuits(c CircuitChecker) Option { return func(e *Engine) { e.circuits = c } }

// WithLogStore persists finished sessions.
func WithLogStore(r storage.RecoveryLogRepository) Option { return func(e *Engine) { e.logs = r } }

// WithQueue enables queue_for_later.
func WithQueue(r storage.JobQueueRepository) Option { return func(e *Engine) { e.queue = r } }

// WithStrategies replaces the strategy table.
func WithStrategies(s Strategies) Option { return func(e *Engine) { e.strategies = s } }

// WithDegradation replaces the degradation ladder.
func WithDegradation(p *DegradationPolicy) Option { return func(e *Engine) { e.degradation = p } }

// WithClock sets the clock used for backoff sleeps and timestamps.
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithRand sets the jitter source.
func WithRand(r func() float64) Option { return func(e *Engine) { e.backoff = backoff.NewCalculator(r) } }

// WithJitter sets the jitter factor applied to strategy backoff.
func WithJitter(f float64) Option { return func(e *Engine) { e.jitter = f } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// NewEngine creates a recovery engine around selector.
func NewEngine(selector ProviderSelector, opts ...Option) *Engine {
	e := &Engine{
		selector:   selector,
		strategies: DefaultStrategies(),
		backoff:    backoff.NewCalculator(nil),
		jitter:     0.1,
		clock:      clock.Real{},
		logger:     slog.Default(),
		alerts:     newAlerter(time.Hour),
		newID:      func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(e)
	}
	if e.degradation == nil {
		e.degradation = NewDegradationPolicy(nil)
	}
	return e
}

// session is the mutable state of one recovery.
type session struct {
	rc       *domain.RecoveryContext
	original string
	tried    []string
	calls    int
	action   domain.FallbackAction
	category domain.ErrorCategory
}

func (s *session) markTried(id string) {
	if id != "" && !slices.Contains(s.tried, id) {
		s.tried = append(s.tried, id)
	}
}

// Generate calls the context's provider, or the best one when ProviderID is
// empty, and recovers from any failure. It always returns a result.
func (e *Engine) Generate(ctx context.Context, rc *domain.RecoveryContext) (res *domain.RecoveryResult) {
	s := e.newSession(rc)
	defer e.guard(ctx, s, &res)

	var p provider.Provider
	if rc.ProviderID != "" {
		p = e.selector.GetProvider(rc.ProviderID)
	}
	if p == nil {
		sel, err := e.selector.SelectOptimalProvider(rc.Criteria)
		if err != nil {
			s.action = domain.ActionFailFast
			return e.fail(ctx, s, systemError(s, "provider selection failed", err))
		}
		p = sel.Provider
	}
	rc.ProviderID = p.Name()
	s.original = p.Name()
	s.markTried(p.Name())

	result, err := e.call(ctx, s, p, AdjustForCapabilities(rc.Options, p.Capabilities()))
	if err == nil {
		return &domain.RecoveryResult{
			Success:           true,
			Result:            result,
			ProviderID:        p.Name(),
			AttemptsUsed:      s.calls,
			TotalRecoveryTime: e.clock.Now().Sub(rc.StartTime),
			ErrorHistory:      rc.Errors,
		}
	}
	rc.Attempt = 1
	return e.handle(ctx, s, err, 0)
}

// Recover handles a failure the caller already observed on rc.ProviderID.
// rc.Attempt is the number of calls the caller made, at least one.
func (e *Engine) Recover(ctx context.Context, rc *domain.RecoveryContext, cause error) (res *domain.RecoveryResult) {
	if rc.Attempt < 1 {
		rc.Attempt = 1
	}
	s := e.newSession(rc)
	s.calls = rc.Attempt
	defer e.guard(ctx, s, &res)

	return e.handle(ctx, s, cause, 0)
}

// Resume re-runs a queued job. The job is not queued again.
func (e *Engine) Resume(ctx context.Context, job *domain.QueuedJob) *domain.RecoveryResult {
	return e.Generate(ctx, &domain.RecoveryContext{
		JobID:        job.JobID,
		ProviderID:   job.ProviderID,
		Script:       job.Script,
		Options:      job.Options,
		Criteria:     job.Criteria,
		Tier:         job.Tier,
		DisableQueue: true,
	})
}

func (e *Engine) newSession(rc *domain.RecoveryContext) *session {
	if rc.StartTime.IsZero() {
		rc.StartTime = e.clock.Now()
	}
	if rc.JobID == "" {
		rc.JobID = e.newID()
	}
	if rc.Tier == "" {
		rc.Tier = rc.Criteria.Tier
	}
	s := &session{rc: rc, original: rc.ProviderID}
	s.markTried(rc.ProviderID)
	return s
}

// guard turns a panic in the orchestration into a system error result.
func (e *Engine) guard(ctx context.Context, s *session, res **domain.RecoveryResult) {
	if r := recover(); r != nil {
		e.logger.Error("Recovery panicked", "job_id", s.rc.JobID, "panic", r)
		*res = e.fail(ctx, s, systemError(s, "recovery panicked", fmt.Errorf("%v", r)))
	}
}

// handle classifies err and runs the matching strategy.
func (e *Engine) handle(ctx context.Context, s *session, err error, depth int) *domain.RecoveryResult {
	cat := Classify(err)
	st := e.strategies.Lookup(cat)
	s.category = cat
	s.action = st.FallbackAction
	e.record(s, err, cat, st.FallbackAction)

	if ctx.Err() != nil {
		return e.fail(ctx, s, e.recoveryError(s, errors.Join(err, ctx.Err())))
	}

	if st.CircuitBreakerEnabled && e.circuits != nil && e.circuits.IsCircuitOpen(s.rc.ProviderID) {
		e.logger.Info("Circuit open, switching provider",
			"job_id", s.rc.JobID, "provider", s.rc.ProviderID, "category", cat)
		return e.switchProvider(ctx, s, st, err)
	}

	switch st.FallbackAction {
	case domain.ActionFailFast:
		return e.fail(ctx, s, e.recoveryError(s, err))
	case domain.ActionQueueForLater:
		return e.enqueue(ctx, s, st, err)
	}

	if s.rc.Attempt < st.MaxRetries && depth < maxDepth {
		if p := e.selector.GetProvider(s.rc.ProviderID); p != nil {
			return e.retrySame(ctx, s, st, p, err, depth)
		}
	}

	if st.FallbackAction == domain.ActionGracefulDegradation {
		return e.degrade(ctx, s, st, err)
	}
	return e.switchProvider(ctx, s, st, err)
}

func (e *Engine) retrySame(
	ctx context.Context,
	s *session,
	st Strategy,
	p provider.Provider,
	cause error,
	depth int,
) *domain.RecoveryResult {
	delay := e.backoff.Next(st.BackoffConfig(e.jitter), s.rc.Attempt)
	var hinted interface{ RetryDelay() time.Duration }
	if errors.As(cause, &hinted) && hinted.RetryDelay() > delay {
		delay = hinted.RetryDelay()
		if st.MaxDelay > 0 {
			delay = min(delay, st.MaxDelay)
		}
	}

	e.logger.Info("Retrying same provider",
		"job_id", s.rc.JobID,
		"provider", p.Name(),
		"category", st.Category,
		"attempt", s.rc.Attempt+1,
		"max_retries", st.MaxRetries,
		"delay", delay,
	)
	if err := e.clock.Sleep(ctx, delay); err != nil {
		return e.fail(ctx, s, e.recoveryError(s, errors.Join(cause, err)))
	}

	opts := s.rc.Options
	if st.AllowDegradation {
		opts, _ = e.degradation.DegradeWithin(opts, s.rc.Attempt, st.MinimumQuality)
	}
	opts = AdjustForCapabilities(opts, p.Capabilities())

	s.rc.Attempt++
	result, err := e.call(ctx, s, p, opts)
	if err == nil {
		s.action = domain.ActionRetrySame
		return e.succeed(ctx, s, p.Name(), result)
	}
	return e.handle(ctx, s, err, depth+1)
}

func (e *Engine) switchProvider(ctx context.Context, s *session, st Strategy, cause error) *domain.RecoveryResult {
	s.action = domain.ActionSwitchProvider

	for _, id := range s.tried {
		s.rc.Criteria = s.rc.Criteria.WithExcluded(id)
	}

	sel, err := e.selector.SelectOptimalProvider(s.rc.Criteria)
	if err != nil {
		if errors.Is(err, routing.ErrNoProviderAvailable) && st.AllowDegradation {
			return e.degrade(ctx, s, st, cause)
		}
		return e.fail(ctx, s, systemError(s, "provider selection failed", err))
	}

	p := sel.Provider
	e.logger.Info("Switching provider",
		"job_id", s.rc.JobID,
		"from", s.rc.ProviderID,
		"to", p.Name(),
		"category", st.Category,
		"score", sel.Score,
	)
	s.rc.ProviderID = p.Name()
	s.rc.Attempt = 1
	s.markTried(p.Name())

	result, callErr := e.call(ctx, s, p, AdjustForCapabilities(s.rc.Options, p.Capabilities()))
	if callErr == nil {
		return e.succeed(ctx, s, p.Name(), result)
	}
	e.record(s, callErr, Classify(callErr), domain.ActionSwitchProvider)
	s.rc.Criteria = s.rc.Criteria.WithExcluded(p.Name())

	if st.AllowDegradation && ctx.Err() == nil {
		return e.degrade(ctx, s, st, callErr)
	}
	return e.fail(ctx, s, e.recoveryError(s, callErr))
}

// degrade tries every provider once with the most reduced options the
// strategy's quality floor allows.
func (e *Engine) degrade(ctx context.Context, s *session, st Strategy, cause error) *domain.RecoveryResult {
	s.action = domain.ActionGracefulDegradation

	providers := e.selector.GetAllProviders()
	if len(providers) == 0 {
		return e.fail(ctx, s, systemError(s, "no providers registered", cause))
	}

	opts := e.degradation.MaxDegrade(s.rc.Options, st.MinimumQuality)
	e.logger.Info("Degrading options",
		"job_id", s.rc.JobID,
		"category", st.Category,
		"providers", len(providers),
		"quality", opts.Quality,
		"resolution", opts.Resolution,
		"duration", opts.DurationSeconds,
	)

	lastErr := cause
	for _, p := range providers {
		if ctx.Err() != nil {
			lastErr = errors.Join(lastErr, ctx.Err())
			break
		}
		s.rc.ProviderID = p.Name()
		s.markTried(p.Name())

		result, err := e.call(ctx, s, p, AdjustForCapabilities(opts, p.Capabilities()))
		if err == nil {
			return e.succeed(ctx, s, p.Name(), result)
		}
		e.record(s, err, Classify(err), domain.ActionGracefulDegradation)
		lastErr = err
	}
	return e.fail(ctx, s, e.recoveryError(s, lastErr))
}

func (e *Engine) enqueue(ctx context.Context, s *session, st Strategy, cause error) *domain.RecoveryResult {
	s.action = domain.ActionQueueForLater
	if s.rc.DisableQueue || e.queue == nil {
		return e.fail(ctx, s, e.recoveryError(s, cause))
	}

	now := e.clock.Now()
	job := &domain.QueuedJob{
		ID:         e.newID(),
		JobID:      s.rc.JobID,
		ProviderID: s.rc.ProviderID,
		Script:     s.rc.Script,
		Options:    s.rc.Options,
		Criteria:   s.rc.Criteria,
		Category:   st.Category,
		Tier:       s.rc.Tier,
		Priority:   s.rc.Tier.Priority(),
		RetryAfter: now.Add(st.BaseDelay),
		Status:     domain.JobStatusPending,
		LastError:  cause.Error(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.queue.Enqueue(ctx, job); err != nil {
		return e.fail(ctx, s, systemError(s, "failed to queue job", err))
	}

	e.logger.Info("Queued job for later",
		"job_id", s.rc.JobID,
		"queued_id", job.ID,
		"priority", job.Priority,
		"retry_after", job.RetryAfter,
	)
	res := e.finish(ctx, s, false, s.rc.ProviderID, nil, e.recoveryError(s, cause))
	res.QueuedJobID = job.ID
	return res
}

func (e *Engine) call(
	ctx context.Context,
	s *session,
	p provider.Provider,
	opts domain.VideoOptions,
) (*domain.VideoResult, error) {
	s.calls++
	res, err := p.GenerateVideo(ctx, s.rc.Script, opts)
	if err == nil && res == nil {
		err = provider.NewError(p.Name(), provider.CodeProcessing, "provider returned no result")
	}
	return res, err
}

// record appends an ErrorRecord and raises an alert when the category's
// threshold is reached within the hour.
func (e *Engine) record(s *session, err error, cat domain.ErrorCategory, action domain.FallbackAction) {
	now := e.clock.Now()
	s.rc.Errors = append(s.rc.Errors, domain.ErrorRecord{
		Timestamp:      now,
		ProviderID:     s.rc.ProviderID,
		Category:       cat,
		ErrorType:      ErrorType(err),
		Message:        err.Error(),
		Retryable:      Retryable(cat),
		RecoveryAction: action,
	})

	threshold := e.strategies.Lookup(cat).AlertThreshold
	if count, fire := e.alerts.record(cat, now, threshold); fire {
		metrics.RecoveryAlertsTotal.WithLabelValues(string(cat)).Inc()
		e.logger.Error("Recovery alert threshold reached",
			"category", cat,
			"count", count,
			"window", e.alerts.window,
			"provider", s.rc.ProviderID,
		)
	}
}

func (e *Engine) succeed(
	ctx context.Context,
	s *session,
	providerID string,
	result *domain.VideoResult,
) *domain.RecoveryResult {
	return e.finish(ctx, s, true, providerID, result, nil)
}

func (e *Engine) fail(ctx context.Context, s *session, final *domain.RecoveryError) *domain.RecoveryResult {
	if final.Category != "" {
		s.category = final.Category
	}
	return e.finish(ctx, s, false, s.rc.ProviderID, nil, final)
}

// finish builds the terminal result, records metrics and appends the log.
func (e *Engine) finish(
	ctx context.Context,
	s *session,
	success bool,
	providerID string,
	result *domain.VideoResult,
	final *domain.RecoveryError,
) *domain.RecoveryResult {
	elapsed := e.clock.Now().Sub(s.rc.StartTime)
	res := &domain.RecoveryResult{
		Success:           success,
		Result:            result,
		Action:            s.action,
		ProviderID:        providerID,
		AttemptsUsed:      s.calls,
		TotalRecoveryTime: elapsed,
		ErrorHistory:      s.rc.Errors,
		FinalError:        final,
	}

	outcome := "failure"
	if success {
		outcome = "success"
	}
	metrics.RecoveryTotal.WithLabelValues(string(s.category), string(s.action), outcome).Inc()
	metrics.RecoveryDuration.WithLabelValues(string(s.action)).Observe(elapsed.Seconds())

	attrs := []any{
		"job_id", s.rc.JobID,
		"action", s.action,
		"category", s.category,
		"provider", providerID,
		"original_provider", s.original,
		"attempts", s.calls,
		"elapsed", elapsed,
	}
	if success {
		e.logger.Info("Recovery succeeded", attrs...)
	} else {
		e.logger.Warn("Recovery failed", append(attrs, "error", final)...)
	}

	if e.logs != nil {
		entry := &domain.RecoveryLog{
			ID:                 e.newID(),
			JobID:              s.rc.JobID,
			OriginalProviderID: s.original,
			FinalProviderID:    providerID,
			Category:           s.category,
			Action:             s.action,
			Success:            success,
			AttemptsUsed:       s.calls,
			RecoveryTimeMs:     elapsed.Milliseconds(),
			Errors:             slices.Clone(s.rc.Errors),
			CreatedAt:          e.clock.Now(),
		}
		// The caller's outcome does not depend on the log write.
		if err := e.logs.Append(context.WithoutCancel(ctx), entry); err != nil {
			e.logger.Warn("Failed to append recovery log", "job_id", s.rc.JobID, "error", err)
		}
	}
	return res
}

func (e *Engine) recoveryError(s *session, err error) *domain.RecoveryError {
	var re *domain.RecoveryError
	if errors.As(err, &re) {
		return re
	}
	return &domain.RecoveryError{
		Category:   Classify(err),
		Message:    err.Error(),
		ProviderID: s.rc.ProviderID,
		Attempt:    s.calls,
		Err:        err,
	}
}

func systemError(s *session, msg string, err error) *domain.RecoveryError {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &domain.RecoveryError{
		Category:   domain.CategorySystemError,
		Message:    msg,
		ProviderID: s.rc.ProviderID,
		Attempt:    s.calls,
		Err:        err,
	}
}
