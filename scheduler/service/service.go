// Package service orchestrates one schedule run end to end: load data, build
// the slot grid, score candidate placements, solve, gate the result against
// the previous plan, validate, persist, and report. It also owns the
// per-user learning state and the feedback loop that trains it.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pulseplan/pulse/internal/cache"
	"github.com/pulseplan/pulse/internal/config"
	"github.com/pulseplan/pulse/internal/telemetry"
	"github.com/pulseplan/pulse/internal/util"
	"github.com/pulseplan/pulse/scheduler"
	"github.com/pulseplan/pulse/scheduler/bandit"
	"github.com/pulseplan/pulse/scheduler/completion"
	"github.com/pulseplan/pulse/scheduler/determinism"
	"github.com/pulseplan/pulse/scheduler/feature"
	"github.com/pulseplan/pulse/scheduler/invariant"
	"github.com/pulseplan/pulse/scheduler/solver"
	"github.com/pulseplan/pulse/scheduler/timeindex"
	"github.com/pulseplan/pulse/scheduler/verify"
	"github.com/pulseplan/pulse/store"
)

const (
	jobKeyPrefix  = "sched:job:"
	idemKeyPrefix = "sched:idem:"

	// pastScanWindow is how far back the missed-block scan looks.
	pastScanWindow = 48 * time.Hour
)

// userModels is the per-user learning state: loaded lazily, mutated and
// saved under its own lock.
type userModels struct {
	mu         sync.Mutex
	loaded     bool
	completion *completion.Model
	tuner      *bandit.Tuner
}

// Service runs schedules and the learning loop behind them.
type Service struct {
	store    *store.Store
	kv       cache.KV
	cfg      *config.Manager
	tel      *telemetry.Telemetry
	verifier *verify.Verifier

	group singleflight.Group

	mu     sync.Mutex
	models map[string]*userModels

	// now is swappable in tests.
	now func() time.Time
}

// New wires the scheduler service. telemetry and verifier may be nil.
func New(st *store.Store, kv cache.KV, cfg *config.Manager, tel *telemetry.Telemetry, verifier *verify.Verifier) *Service {
	return &Service{
		store:    st,
		kv:       kv,
		cfg:      cfg,
		tel:      tel,
		verifier: verifier,
		models:   make(map[string]*userModels),
		now:      time.Now,
	}
}

// Schedule produces (and unless dryRun, persists) a plan over the horizon.
// Validation problems return an error; every other failure comes back as a
// well-formed response with feasible=false.
func (s *Service) Schedule(ctx context.Context, req *ScheduleRequest) (*ScheduleResponse, error) {
	cfg := s.cfg.Get()
	if err := s.validateRequest(req, cfg); err != nil {
		s.tel.RecordScheduleRequest("validation_error")
		return nil, err
	}

	now := s.now()
	tasks, events, prefs, err := s.loadUserData(ctx, req.UserID)
	if err != nil {
		s.tel.RecordScheduleRequest("infrastructure_error")
		return s.failureResponse(req, "infrastructure", err), nil
	}

	key := s.idempotencyKey(req, tasks, events, now)
	if !req.DryRun {
		if cached, err := cache.GetJSON[*ScheduleResponse](ctx, s.kv, key); err == nil {
			s.tel.RecordIdempotencyHit()
			s.tel.RecordCacheHit("idempotency")
			return cached, nil
		}
		s.tel.RecordCacheMiss("idempotency")
	}

	run := func() (any, error) {
		return s.runPipeline(ctx, req, cfg, tasks, events, prefs, now, key), nil
	}
	if !req.DryRun && cfg.Cache.DeduplicateInFlightSolves {
		v, _, shared := s.group.Do(key, run)
		resp := v.(*ScheduleResponse)
		if shared {
			s.tel.RecordIdempotencyHit()
		}
		return resp, nil
	}
	v, _ := run()
	return v.(*ScheduleResponse), nil
}

// SchedulePreview is Schedule with dryRun forced; it never persists and never
// caches.
func (s *Service) SchedulePreview(ctx context.Context, req *ScheduleRequest) (*ScheduleResponse, error) {
	preview := *req
	preview.DryRun = true
	return s.Schedule(ctx, &preview)
}

func (s *Service) validateRequest(req *ScheduleRequest, cfg *config.Config) error {
	if req.UserID == "" {
		return scheduler.NewError(scheduler.KindValidation, "userId is required", nil)
	}
	if req.HorizonDays == 0 {
		req.HorizonDays = cfg.DefaultHorizonDays
	}
	if req.HorizonDays < 1 || req.HorizonDays > cfg.MaxHorizonDays {
		return scheduler.Errorf(scheduler.KindValidation, "horizonDays must be in [1, %d], got %d", cfg.MaxHorizonDays, req.HorizonDays)
	}
	return nil
}

func (s *Service) loadUserData(ctx context.Context, userID string) ([]*store.Task, []*store.BusyEvent, *store.Preferences, error) {
	tasks, err := s.store.ListTasks(ctx, &store.FindTask{UserID: &userID, Completed: util.PointerOf(false)})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	events, err := s.store.ListBusyEvents(ctx, &store.FindBusyEvent{UserID: &userID})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list busy events: %w", err)
	}
	prefs, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	return tasks, events, prefs, nil
}

// idempotencyKey fingerprints the request and its data, bucketed to the
// hour so retries within the window coalesce.
func (s *Service) idempotencyKey(req *ScheduleRequest, tasks []*store.Task, events []*store.BusyEvent, now time.Time) string {
	base := determinism.RequestHash(tasks, events, req.HorizonDays, req.UserID)
	opts, _ := json.Marshal(req.Options)
	h := sha256.New()
	fmt.Fprintf(h, "%s|dry=%t|lock=%t|opts=%s|bucket=%d",
		base, req.DryRun, req.lockExisting(), opts, now.UTC().Truncate(time.Hour).Unix())
	return idemKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// runPipeline is the solve path proper. It always returns a well-formed
// response.
func (s *Service) runPipeline(ctx context.Context, req *ScheduleRequest, cfg *config.Config, tasks []*store.Task, events []*store.BusyEvent, prefs *store.Preferences, now time.Time, idemKey string) *ScheduleResponse {
	jobID := req.JobID
	if jobID == "" {
		jobID = "job_" + util.GenShortUUID()
	}
	horizonEnd := now.AddDate(0, 0, req.HorizonDays)

	prefs = s.applyGranularity(prefs, cfg)
	idx, err := timeindex.New(prefs, now, horizonEnd)
	if err != nil {
		s.tel.RecordScheduleRequest("infrastructure_error")
		return s.failureResponse(req, "infrastructure", fmt.Errorf("failed to build time index: %w", err))
	}

	sorted := determinism.StableSortTasks(tasks)

	// Per-user learning state feeds probabilities and penalty weights.
	probs, weights, preset, banditKey := s.scoreWithModels(ctx, req.UserID, cfg, sorted, idx, prefs, events, now)
	for name, w := range prefs.Penalties {
		if _, ok := weights[name]; ok {
			weights[name] = w
		}
	}
	utilities := buildUtilities(sorted, idx, prefs, probs)

	previous, existing, err := s.loadBlocks(ctx, req, now, horizonEnd)
	if err != nil {
		s.tel.RecordScheduleRequest("infrastructure_error")
		return s.failureResponse(req, "infrastructure", err)
	}

	in := solver.Input{
		Tasks:       sorted,
		Index:       idx,
		Events:      events,
		Prefs:       prefs,
		Utility:     utilities,
		Probability: probs,
		Weights:     weights,
		Existing:    existing,
		Options:     s.solverOptions(req, cfg),
	}

	solveStart := time.Now()
	sol := solver.Solve(ctx, in)
	s.tel.RecordSolve(string(sol.SolverStatus), time.Since(solveStart))

	if needsFallback(sol) && cfg.EnableFallbackSolver {
		s.tel.RecordFallback()
		slog.Warn("solver unusable, using greedy fallback",
			"user", req.UserID, "status", sol.SolverStatus)
		sol = solver.Greedy(in)
	}

	sol, movedRatio := s.applyNoThrash(ctx, in, sol, previous, cfg, now)

	violations := invariant.Check(invariant.Input{
		Blocks:      sol.Blocks,
		Unscheduled: sol.UnscheduledTasks,
		Tasks:       sorted,
		Events:      events,
		Index:       idx,
		Prefs:       prefs,
		NoStudyHard: in.Options.NoStudyHard,
	})
	if len(violations) > 0 {
		for _, v := range violations {
			s.tel.RecordInvariantViolation(v.Code)
			slog.Error("schedule violates a hard rule, discarding",
				"user", req.UserID, "job", jobID, "code", v.Code, "task", v.TaskID, "detail", v.Detail)
		}
		s.tel.RecordScheduleRequest("invariant_error")
		resp := s.failureResponse(req, "invariant", fmt.Errorf("%d rule violations", len(violations)))
		resp.JobID = jobID
		s.saveJob(ctx, cfg, jobStatusFrom(jobID, req, resp, preset, banditKey, now))
		return resp
	}

	if !req.DryRun && sol.Feasible {
		if err := s.persistBlocks(ctx, req.UserID, jobID, now, horizonEnd, sol.Blocks); err != nil {
			s.tel.RecordScheduleRequest("infrastructure_error")
			return s.failureResponse(req, "infrastructure", err)
		}
	}

	resp := s.buildResponse(jobID, req, sorted, sol, movedRatio, preset)
	s.tel.RecordScheduleRequest(string(sol.SolverStatus))
	s.tel.RecordBlocksScheduled(len(sol.Blocks))

	s.saveJob(ctx, cfg, jobStatusFrom(jobID, req, resp, preset, banditKey, now))
	if !req.DryRun {
		ttl := time.Duration(cfg.Cache.IdempotencyTTLMinutes) * time.Minute
		if err := cache.SetJSON(ctx, s.kv, idemKey, resp, ttl); err != nil {
			slog.Warn("failed to cache schedule response", "job", jobID, "err", err)
		}
	}

	if s.verifier != nil {
		if result := s.verifier.VerifyResponse(resp.AsMap()); !result.Valid {
			slog.Warn("schedule response failed verification",
				"job", jobID, "findings", len(result.Findings))
		}
	}
	return resp
}

// applyGranularity lets the config override a preference granularity that is
// missing or out of range.
func (s *Service) applyGranularity(prefs *store.Preferences, cfg *config.Config) *store.Preferences {
	if prefs.SessionGranularityMinutes == 15 || prefs.SessionGranularityMinutes == 30 {
		return prefs
	}
	clone := *prefs
	clone.SessionGranularityMinutes = cfg.TimeGranularityMinutes
	return &clone
}

func (s *Service) solverOptions(req *ScheduleRequest, cfg *config.Config) solver.Options {
	opts := solver.Options{
		TimeLimit:   time.Duration(cfg.Solver.TimeLimitSeconds * float64(time.Second)),
		Workers:     cfg.Solver.NumSearchWorkers,
		Seed:        cfg.Solver.RandomSeed,
		NoStudyHard: cfg.Solver.NoStudyWindowsHard,
		AvoidHard:   cfg.Solver.AvoidWindowsHard,
	}
	if req.Options.TimeLimitSeconds > 0 {
		opts.TimeLimit = time.Duration(req.Options.TimeLimitSeconds * float64(time.Second))
	}
	if req.Options.Seed != nil {
		opts.Seed = *req.Options.Seed
	}
	if req.Options.NoStudyHard != nil {
		opts.NoStudyHard = *req.Options.NoStudyHard
	}
	if req.Options.AvoidHard != nil {
		opts.AvoidHard = *req.Options.AvoidHard
	}
	return opts
}

func needsFallback(sol *scheduler.Solution) bool {
	switch sol.SolverStatus {
	case scheduler.StatusError, scheduler.StatusTimeout, scheduler.StatusInfeasible, scheduler.StatusNoSolver:
		return true
	default:
		return false
	}
}

// loadBlocks returns the previous plan over the window, and the locked or
// manual subset that must stay in place when the request honors it.
func (s *Service) loadBlocks(ctx context.Context, req *ScheduleRequest, from, to time.Time) (previous, existing []scheduler.Block, err error) {
	rows, err := s.store.ListScheduleBlocks(ctx, &store.FindScheduleBlock{
		UserID: &req.UserID,
		From:   util.PointerOf(from.Unix()),
		To:     util.PointerOf(to.Unix()),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list schedule blocks: %w", err)
	}
	for _, row := range rows {
		b := scheduler.Block{
			TaskID:                row.TaskID,
			Start:                 time.Unix(row.StartTs, 0).UTC(),
			End:                   time.Unix(row.EndTs, 0).UTC(),
			UtilityScore:          row.UtilityScore,
			CompletionProbability: row.CompletionProbability,
			Locked:                row.Locked,
			Manual:                row.Manual,
		}
		previous = append(previous, b)
		if req.lockExisting() && (row.Locked || row.Manual) {
			existing = append(existing, b)
		}
	}
	return previous, existing, nil
}

// scoreWithModels loads the user's learning state and produces completion
// probabilities plus the tuned penalty weights.
func (s *Service) scoreWithModels(ctx context.Context, userID string, cfg *config.Config, tasks []*store.Task, idx *timeindex.Index, prefs *store.Preferences, events []*store.BusyEvent, now time.Time) (probs [][]float64, weights map[string]float64, preset, banditKey string) {
	weights = cfg.DefaultWeights.Named()
	preset = "defaults"

	bctx := banditContext(tasks, now)
	banditKey = bctx.Key()

	history := s.loadHistory(ctx, userID, cfg, tasks, idx, now)
	matrix := feature.Extract(feature.Input{
		Tasks:   tasks,
		Index:   idx,
		Prefs:   prefs,
		Events:  events,
		History: history,
		Now:     now,
	})

	flat := make([]float64, len(matrix.Rows))
	err := s.withUserModels(ctx, userID, cfg, func(um *userModels) error {
		p := um.completion.Predict(matrix.Rows)
		copy(flat, p)
		if cfg.Learning.Enabled {
			weights, preset = um.tuner.SuggestWeights(bctx)
		}
		return nil
	})
	if err != nil {
		slog.Warn("failed to load learning state, using defaults", "user", userID, "err", err)
		for i := range flat {
			flat[i] = 0.7
		}
	}

	slots := idx.Len()
	probs = make([][]float64, len(tasks))
	for t := range tasks {
		probs[t] = flat[t*slots : (t+1)*slots]
	}
	return probs, weights, preset, banditKey
}

func (s *Service) loadHistory(ctx context.Context, userID string, cfg *config.Config, tasks []*store.Task, idx *timeindex.Index, now time.Time) *feature.HistoryStats {
	if !cfg.Features.EnableHistory {
		return nil
	}
	since := now.AddDate(0, 0, -cfg.Features.HistoryDays).Unix()
	events, err := s.store.ListCompletionEvents(ctx, &store.FindCompletionEvent{UserID: &userID, Since: &since})
	if err != nil {
		slog.Warn("failed to load completion history", "user", userID, "err", err)
		return nil
	}
	kinds := make(map[string]store.TaskKind, len(tasks))
	for _, t := range tasks {
		kinds[t.ID] = t.Kind
	}
	recent := time.Duration(cfg.Features.RecentWindowDays) * 24 * time.Hour
	return feature.BuildHistoryStats(events, kinds, idx.Location(), now, recent)
}

// banditContext summarizes the solve situation for the weight tuner.
func banditContext(tasks []*store.Task, now time.Time) bandit.Context {
	totalLoad := 0
	hasExams := false
	for _, t := range tasks {
		totalLoad += t.EstimatedMinutes
		if t.Kind == store.TaskKindExam {
			hasExams = true
		}
	}
	return bandit.Context{
		TaskCount: len(tasks),
		TotalLoad: totalLoad,
		Weekday:   now.Weekday(),
		HasExams:  hasExams,
	}
}

// buildUtilities combines completion probability with task weight and window
// affinity into the per-(task,slot) objective contribution.
func buildUtilities(tasks []*store.Task, idx *timeindex.Index, prefs *store.Preferences, probs [][]float64) [][]float64 {
	slots := idx.Len()
	out := make([][]float64, len(tasks))
	for t, task := range tasks {
		row := make([]float64, slots)
		weightBoost := 1 + util.ClampFloat(task.Weight, 0, 5)/5
		deepWorkKind := task.Kind == store.TaskKindStudy || task.Kind == store.TaskKindExam || task.Kind == store.TaskKindProject
		for sIdx := 0; sIdx < slots; sIdx++ {
			u := probs[t][sIdx] * weightBoost
			if idx.InWindows(sIdx, task.PreferredWindows) {
				u += 0.5
			}
			if deepWorkKind && idx.InWindows(sIdx, prefs.DeepWorkWindows) {
				u += 0.25
			}
			row[sIdx] = u
		}
		out[t] = row
	}
	return out
}

// applyNoThrash gates the new plan against the previous one: on violation
// rerun once with inertia, then retain the previous placement for whatever
// still conflicts.
func (s *Service) applyNoThrash(ctx context.Context, in solver.Input, sol *scheduler.Solution, previous []scheduler.Block, cfg *config.Config, now time.Time) (*scheduler.Solution, float64) {
	if len(previous) == 0 || len(sol.Blocks) == 0 {
		return sol, 0
	}
	th := determinism.Thresholds{
		MaxMoveRatio:  cfg.Solver.MaxMoveRatioThreshold,
		FrozenWindow:  time.Duration(cfg.Solver.FrozenWindowHours * float64(time.Hour)),
		MoveTolerance: time.Duration(cfg.Solver.FrozenMoveToleranceMinutes) * time.Minute,
	}
	report := determinism.Compare(previous, sol.Blocks, now, th)
	if report.Accepted() {
		return sol, report.MovedRatio
	}

	slog.Info("plan moved too much, rerunning with inertia",
		"moved_ratio", report.MovedRatio, "violations", len(report.Violations))
	in.Previous = previous
	in.Options.InertiaWeight = cfg.Solver.InertiaPenaltyWeight
	second := solver.Solve(ctx, in)
	if second.Feasible {
		rerun := determinism.Compare(previous, second.Blocks, now, th)
		if rerun.Accepted() {
			return second, rerun.MovedRatio
		}
		second.Blocks = determinism.Merge(previous, second.Blocks, rerun.Violations)
		merged := determinism.Compare(previous, second.Blocks, now, th)
		return second, merged.MovedRatio
	}

	sol.Blocks = determinism.Merge(previous, sol.Blocks, report.Violations)
	final := determinism.Compare(previous, sol.Blocks, now, th)
	return sol, final.MovedRatio
}

func (s *Service) persistBlocks(ctx context.Context, userID, jobID string, from, to time.Time, blocks []scheduler.Block) error {
	rows := make([]*store.ScheduleBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.Locked || b.Manual {
			continue // already in the store, the replace keeps them
		}
		rows = append(rows, &store.ScheduleBlock{
			UserID:                userID,
			JobID:                 util.PointerOf(jobID),
			TaskID:                b.TaskID,
			StartTs:               b.Start.Unix(),
			EndTs:                 b.End.Unix(),
			UtilityScore:          b.UtilityScore,
			CompletionProbability: b.CompletionProbability,
		})
	}
	_, err := s.store.ReplaceScheduleBlocks(ctx, &store.ReplaceScheduleBlocks{
		UserID: userID,
		JobID:  jobID,
		From:   from.Unix(),
		To:     to.Unix(),
		Blocks: rows,
	})
	if err != nil {
		return fmt.Errorf("failed to persist schedule blocks: %w", err)
	}
	return nil
}

func (s *Service) buildResponse(jobID string, req *ScheduleRequest, tasks []*store.Task, sol *scheduler.Solution, movedRatio float64, preset string) *ScheduleResponse {
	titles := make(map[string]*store.Task, len(tasks))
	for _, t := range tasks {
		titles[t.ID] = t
	}

	blocks := make([]ResponseBlock, 0, len(sol.Blocks))
	totalMinutes := 0
	for _, b := range sol.Blocks {
		totalMinutes += b.Minutes()
		rb := ResponseBlock{
			TaskID:   b.TaskID,
			Start:    b.Start.Format(time.RFC3339),
			End:      b.End.Format(time.RFC3339),
			Provider: BlockProvider,
			Metadata: BlockMetadata{
				UtilityScore:          b.UtilityScore,
				CompletionProbability: b.CompletionProbability,
				DurationMinutes:       b.Minutes(),
				Locked:                b.Locked,
				Manual:                b.Manual,
			},
		}
		if task, ok := titles[b.TaskID]; ok {
			rb.Title = task.Title
			rb.Metadata.TaskKind = string(task.Kind)
			if task.CourseID != nil {
				rb.Metadata.CourseID = *task.CourseID
			}
		}
		blocks = append(blocks, rb)
	}

	resp := &ScheduleResponse{
		JobID:            jobID,
		Feasible:         sol.Feasible,
		Blocks:           blocks,
		UnscheduledTasks: sol.UnscheduledTasks,
		Metrics: Metrics{
			Feasible:              sol.Feasible,
			SolverStatus:          string(sol.SolverStatus),
			TotalBlocks:           len(blocks),
			TotalScheduledMinutes: totalMinutes,
			SolveTimeMs:           sol.SolveTimeMs,
			ObjectiveValue:        sol.ObjectiveValue,
			MovedRatio:            movedRatio,
			UnscheduledCount:      len(sol.UnscheduledTasks),
			WeightPreset:          preset,
		},
		Explanations: explain(req, sol, totalMinutes),
		Diagnostics:  sol.Diagnostics,
	}
	return resp
}

func explain(req *ScheduleRequest, sol *scheduler.Solution, totalMinutes int) []string {
	var out []string
	if len(sol.Blocks) > 0 {
		out = append(out, fmt.Sprintf("Planned %d work sessions totaling %d minutes over the next %d days.",
			len(sol.Blocks), totalMinutes, req.HorizonDays))
	} else {
		out = append(out, "No work sessions could be placed in this window.")
	}
	if len(sol.UnscheduledTasks) > 0 {
		out = append(out, fmt.Sprintf("%d tasks did not fit; consider a longer horizon or freeing up busy time.",
			len(sol.UnscheduledTasks)))
	}
	if sol.SolverStatus == scheduler.StatusFallback {
		out = append(out, "A simpler first-fit plan was used this time.")
	}
	if req.DryRun {
		out = append(out, "Preview only; nothing was saved to your calendar.")
	}
	return out
}

func (s *Service) failureResponse(req *ScheduleRequest, errorType string, err error) *ScheduleResponse {
	slog.Error("schedule run failed", "user", req.UserID, "error_type", errorType, "err", err)
	return &ScheduleResponse{
		Feasible: false,
		Blocks:   []ResponseBlock{},
		Metrics: Metrics{
			Feasible:     false,
			SolverStatus: string(scheduler.StatusError),
			ErrorType:    errorType,
		},
		Explanations: []string{"Scheduling did not complete; your existing plan is unchanged."},
	}
}

func jobStatusFrom(jobID string, req *ScheduleRequest, resp *ScheduleResponse, preset, banditKey string, now time.Time) *JobStatus {
	status := "completed"
	if !resp.Feasible {
		status = "failed"
	}
	return &JobStatus{
		JobID:         jobID,
		UserID:        req.UserID,
		Status:        status,
		Feasible:      resp.Feasible,
		SolverStatus:  resp.Metrics.SolverStatus,
		TotalBlocks:   resp.Metrics.TotalBlocks,
		WeightPreset:  preset,
		BanditContext: banditKey,
		HorizonDays:   req.HorizonDays,
		CreatedTs:     now.Unix(),
	}
}

func (s *Service) saveJob(ctx context.Context, cfg *config.Config, job *JobStatus) {
	ttl := time.Duration(cfg.Cache.JobStatusTTLMinutes) * time.Minute
	if err := cache.SetJSON(ctx, s.kv, jobKeyPrefix+job.JobID, job, ttl); err != nil {
		slog.Warn("failed to save job record", "job", job.JobID, "err", err)
	}
}

// GetJob returns the stored job record, or nil when unknown or expired.
func (s *Service) GetJob(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := cache.GetJSON[*JobStatus](ctx, s.kv, jobKeyPrefix+jobID)
	if err != nil {
		if err == cache.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// RescheduleMissed finds past blocks that ended without a completion event,
// boosts the owning tasks, clears their stale placements, and re-plans
// forward with existing blocks locked.
func (s *Service) RescheduleMissed(ctx context.Context, userID string, horizonDays int) (*ScheduleResponse, error) {
	cfg := s.cfg.Get()
	if userID == "" {
		return nil, scheduler.NewError(scheduler.KindValidation, "userId is required", nil)
	}
	if horizonDays == 0 {
		horizonDays = 3
	}
	if horizonDays < 1 || horizonDays > 14 {
		return nil, scheduler.Errorf(scheduler.KindValidation, "horizonDays must be in [1, 14], got %d", horizonDays)
	}
	s.tel.RecordReschedule()

	now := s.now()
	missed, staleBlocks, err := s.findMissedBlocks(ctx, userID, now)
	if err != nil {
		req := &ScheduleRequest{UserID: userID, HorizonDays: horizonDays}
		return s.failureResponse(req, "infrastructure", err), nil
	}

	tasks, events, prefs, err := s.loadUserData(ctx, userID)
	if err != nil {
		req := &ScheduleRequest{UserID: userID, HorizonDays: horizonDays}
		return s.failureResponse(req, "infrastructure", err), nil
	}

	// Boost missed tasks in memory for this solve only.
	for _, t := range tasks {
		if !missed[t.ID] {
			continue
		}
		boosted := t.Weight * cfg.Solver.MissedBoostFactor
		if boosted > cfg.Solver.MissedBoostCap {
			boosted = cfg.Solver.MissedBoostCap
		}
		t.Weight = boosted
		slog.Info("boosting missed task", "user", userID, "task", t.ID, "weight", boosted)
	}
	for _, blockID := range staleBlocks {
		if err := s.store.DeleteScheduleBlocks(ctx, &store.DeleteScheduleBlock{ID: util.PointerOf(blockID), UserID: userID}); err != nil {
			slog.Warn("failed to clear stale block", "user", userID, "block", blockID, "err", err)
		}
	}

	req := &ScheduleRequest{
		UserID:       userID,
		HorizonDays:  horizonDays,
		LockExisting: util.PointerOf(true),
	}
	key := s.idempotencyKey(req, tasks, events, now)
	return s.runPipeline(ctx, req, cfg, tasks, events, prefs, now, key), nil
}

// findMissedBlocks returns the ids of tasks whose past blocks ended with no
// completion event, plus those stale block row ids.
func (s *Service) findMissedBlocks(ctx context.Context, userID string, now time.Time) (map[string]bool, []int64, error) {
	from := now.Add(-pastScanWindow)
	blocks, err := s.store.ListScheduleBlocks(ctx, &store.FindScheduleBlock{
		UserID: &userID,
		From:   util.PointerOf(from.Unix()),
		To:     util.PointerOf(now.Unix()),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list past blocks: %w", err)
	}
	completions, err := s.store.ListCompletionEvents(ctx, &store.FindCompletionEvent{
		UserID: &userID,
		Since:  util.PointerOf(from.Unix()),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list completion events: %w", err)
	}

	done := make(map[string]bool, len(completions))
	for _, c := range completions {
		if c.CompletedTs != nil {
			done[fmt.Sprintf("%s|%d", c.TaskID, c.ScheduledTs)] = true
		}
	}

	missed := map[string]bool{}
	var stale []int64
	for _, b := range blocks {
		if b.EndTs > now.Unix() || b.Manual {
			continue
		}
		if !done[fmt.Sprintf("%s|%d", b.TaskID, b.StartTs)] {
			missed[b.TaskID] = true
			stale = append(stale, b.ID)
		}
	}
	return missed, stale, nil
}

// ProcessFeedback persists the labeled outcomes and updates the learning
// state. Callers wanting the async contract run it in a goroutine.
func (s *Service) ProcessFeedback(ctx context.Context, fb *FeedbackRequest) error {
	if fb.UserID == "" {
		return scheduler.NewError(scheduler.KindValidation, "userId is required", nil)
	}
	now := s.now()
	for _, c := range fb.Completions {
		event := &store.CompletionEvent{
			UserID:      fb.UserID,
			TaskID:      c.TaskID,
			ScheduledTs: c.ScheduledTs,
		}
		if c.Completed {
			event.CompletedTs = util.PointerOf(now.Unix())
		}
		if _, err := s.store.CreateCompletionEvent(ctx, event); err != nil {
			return fmt.Errorf("failed to record completion event: %w", err)
		}
	}
	return s.UpdateLearning(ctx, fb)
}

// UpdateLearning trains the bandit from the reward and the completion model
// from the labeled slots.
func (s *Service) UpdateLearning(ctx context.Context, fb *FeedbackRequest) error {
	cfg := s.cfg.Get()
	if !cfg.Learning.Enabled {
		return nil
	}

	return s.withUserModels(ctx, fb.UserID, cfg, func(um *userModels) error {
		reward := Reward(fb, cfg.Learning.RewardWeights)
		if fb.JobID != "" {
			if job, err := s.GetJob(ctx, fb.JobID); err == nil && job != nil && job.WeightPreset != "" {
				um.tuner.UpdateArm(job.BanditContext, job.WeightPreset, reward)
				s.tel.RecordLearningUpdate("bandit")
				if err := um.tuner.Save(ctx, s.store); err != nil {
					return err
				}
			}
		}

		rows, labels, names, err := s.trainingBatch(ctx, fb)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			metrics, err := um.completion.PartialFit(rows, labels, names)
			if err != nil {
				return fmt.Errorf("failed to update completion model: %w", err)
			}
			if metrics != nil {
				s.tel.RecordLearningUpdate("completion")
				slog.Info("completion model updated", "user", fb.UserID,
					"samples", metrics.Samples, "accuracy", metrics.Accuracy, "log_loss", metrics.LogLoss)
				if err := um.completion.Save(ctx, s.store); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// trainingBatch reconstructs feature rows for each labeled slot.
func (s *Service) trainingBatch(ctx context.Context, fb *FeedbackRequest) ([][]float64, []float64, []string, error) {
	if len(fb.Completions) == 0 {
		return nil, nil, nil, nil
	}

	tasks, events, prefs, err := s.loadUserData(ctx, fb.UserID)
	if err != nil {
		return nil, nil, nil, err
	}
	byID := make(map[string]int, len(tasks))
	for i, t := range tasks {
		byID[t.ID] = i
	}

	lo := fb.Completions[0].ScheduledTs
	hi := lo
	for _, c := range fb.Completions {
		if c.ScheduledTs < lo {
			lo = c.ScheduledTs
		}
		if c.ScheduledTs > hi {
			hi = c.ScheduledTs
		}
	}
	cfg := s.cfg.Get()
	prefs = s.applyGranularity(prefs, cfg)
	start := time.Unix(lo, 0).Add(-24 * time.Hour)
	end := time.Unix(hi, 0).Add(24 * time.Hour)
	idx, err := timeindex.New(prefs, start, end)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build training index: %w", err)
	}

	matrix := feature.Extract(feature.Input{
		Tasks:  tasks,
		Index:  idx,
		Prefs:  prefs,
		Events: events,
		Now:    s.now(),
	})

	var rows [][]float64
	var labels []float64
	for _, c := range fb.Completions {
		t, ok := byID[c.TaskID]
		if !ok {
			continue
		}
		slot, ok := idx.IndexOf(time.Unix(c.ScheduledTs, 0))
		if !ok {
			continue
		}
		rows = append(rows, matrix.Row(t, slot))
		label := 0.0
		if c.Completed {
			label = 1.0
		}
		labels = append(labels, label)
	}
	return rows, labels, matrix.Names, nil
}

// withUserModels runs fn with the user's learning state loaded and locked.
func (s *Service) withUserModels(ctx context.Context, userID string, cfg *config.Config, fn func(*userModels) error) error {
	s.mu.Lock()
	um, ok := s.models[userID]
	if !ok {
		um = &userModels{
			completion: completion.NewModel(userID, completion.Config{
				LearningRate:        cfg.Learning.LearningRate,
				MinSamplesForUpdate: cfg.Learning.MinSamplesForUpdate,
			}),
			tuner: bandit.NewTuner(userID, bandit.Config{
				Strategy:          cfg.Learning.BanditStrategy,
				ExplorationFactor: cfg.Learning.ExplorationFactor,
				Epsilon:           cfg.Learning.Epsilon,
				DecayFactor:       cfg.Learning.DecayFactor,
				MinObservations:   cfg.Learning.MinObservations,
				DefaultWeights:    cfg.DefaultWeights.Named(),
			}, determinism.NewRNG(cfg.Solver.RandomSeed)),
		}
		s.models[userID] = um
	}
	s.mu.Unlock()

	um.mu.Lock()
	defer um.mu.Unlock()
	if !um.loaded {
		if _, err := um.completion.Load(ctx, s.store); err != nil {
			return err
		}
		if _, err := um.tuner.Load(ctx, s.store); err != nil {
			return err
		}
		um.loaded = true
	}
	return fn(um)
}

// Diagnostics exposes the learned state behind one user's plans.
func (s *Service) Diagnostics(ctx context.Context, userID string) (*DiagnosticsResponse, error) {
	if userID == "" {
		return nil, scheduler.NewError(scheduler.KindValidation, "userId is required", nil)
	}
	cfg := s.cfg.Get()
	out := &DiagnosticsResponse{UserID: userID, GeneratedAt: s.now()}
	err := s.withUserModels(ctx, userID, cfg, func(um *userModels) error {
		out.CompletionModelLoaded = um.completion.Loaded()
		out.CompletionModelSamples = um.completion.SamplesSeen()
		out.BanditTotalPulls = um.tuner.TotalPulls()
		for _, arm := range um.tuner.Arms() {
			out.BanditArms = append(out.BanditArms, ArmInfo(arm))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Health pings the store and the cache.
func (s *Service) Health(ctx context.Context) *HealthStatus {
	out := &HealthStatus{
		Status:     "ok",
		Components: map[string]string{},
		CheckedAt:  s.now(),
	}
	if err := s.store.GetDriver().GetDB().PingContext(ctx); err != nil {
		out.Components["database"] = "down: " + err.Error()
		out.Status = "degraded"
	} else {
		out.Components["database"] = "ok"
	}
	if err := s.kv.Ping(ctx); err != nil {
		out.Components["cache"] = "down: " + err.Error()
		out.Status = "degraded"
	} else {
		out.Components["cache"] = "ok"
	}
	return out
}
