package altergolden

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

const (
	schedulerKeyPrefix = "sched:"
	schedulerOpTimeout = 5 * time.Second
)

// ScheduledAction is the callback a Scheduler fires when a deadline
// elapses. Scope identifies what the action applies to (e.g. a voice
// channel ID).
type ScheduledAction func(ctx context.Context, scope string)

// pendingAction is this process's local view of one scheduled deadline.
type pendingAction struct {
	timer    *time.Timer
	deadline time.Time

	// durable is false when the deadline write to the backing store failed
	// at schedule time. The local timer then acts alone, without the
	// delete-then-act handshake, since there's no shared record to claim.
	durable bool
}

// Scheduler runs delayed one-shot actions exactly once across every bot
// process sharing the backing store. The process that schedules writes the
// deadline durably; every process also arms a local timer and polls, and
// whichever one successfully deletes the durable record performs the
// action. A process that finds the record already gone stands down.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*pendingAction

	store  BackingStore
	action ScheduledAction

	pollInterval time.Duration
	slack        time.Duration

	logger *slog.Logger

	// writeDB, when set, receives fire-and-forget audit rows for
	// performed actions
	writeDB *Database

	now func() time.Time

	performed atomic.Int64
	lostRaces atomic.Int64
	cancelled atomic.Int64
}

func NewScheduler(
	store BackingStore,
	cfg *SchedulerConfig,
	action ScheduledAction,
	logger *slog.Logger,
	writeDB *Database,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	pollInterval := DefaultSchedulerPollInterval
	slack := DefaultSchedulerSlack
	if cfg != nil {
		if cfg.PollInterval > 0 {
			pollInterval = cfg.PollInterval
		}
		if cfg.Slack > 0 {
			slack = cfg.Slack
		}
	}
	return &Scheduler{
		pending:      map[string]*pendingAction{},
		store:        store,
		action:       action,
		pollInterval: pollInterval,
		slack:        slack,
		logger:       logger.With(loggerNameKey, "scheduler"),
		writeDB:      writeDB,
		now:          time.Now,
	}
}

func schedulerKey(scope string) string {
	return schedulerKeyPrefix + scope
}

// Schedule arms a delayed action for scope, replacing any existing one.
// The deadline is written to the backing store so any process can fire
// it; if that write fails, the action still runs on this process's local
// timer, just without cross-process coverage.
func (s *Scheduler) Schedule(ctx context.Context, scope string, delay time.Duration) {
	s.Cancel(ctx, scope)

	deadline := s.now().Add(delay)
	durable := s.store != nil
	if durable {
		opCtx, cancel := context.WithTimeout(ctx, schedulerOpTimeout)
		err := s.store.Set(
			opCtx,
			schedulerKey(scope),
			[]byte(strconv.FormatInt(deadline.UnixMilli(), 10)),
			delay+s.slack,
		)
		cancel()
		if err != nil {
			durable = false
			s.logger.WarnContext(
				ctx,
				"failed writing durable deadline, falling back to local timer",
				"scope", scope,
				tint.Err(err),
			)
		}
	}

	s.mu.Lock()
	pa := &pendingAction{deadline: deadline, durable: durable}
	pa.timer = time.AfterFunc(
		delay, func() {
			s.fire(scope)
		},
	)
	s.pending[scope] = pa
	s.mu.Unlock()

	s.logger.DebugContext(
		ctx,
		"scheduled action",
		"scope", scope,
		"delay", delay,
		"durable", durable,
	)
}

// Cancel disarms the scheduled action for scope and removes its durable
// record, so no process fires it. Idempotent, and effective even when
// this process has no local timer for the scope (another process may).
func (s *Scheduler) Cancel(ctx context.Context, scope string) {
	s.mu.Lock()
	pa := s.pending[scope]
	if pa != nil {
		pa.timer.Stop()
		delete(s.pending, scope)
	}
	s.mu.Unlock()

	if s.store != nil {
		opCtx, cancel := context.WithTimeout(ctx, schedulerOpTimeout)
		defer cancel()
		if _, err := s.store.Delete(opCtx, schedulerKey(scope)); err != nil {
			s.logger.WarnContext(
				ctx,
				"failed deleting durable deadline on cancel",
				"scope", scope,
				tint.Err(err),
			)
		}
	}
	if pa != nil {
		s.cancelled.Add(1)
	}
}

// SchedulerStats is a point-in-time snapshot of scheduler counters.
type SchedulerStats struct {
	Pending   int   `json:"pending"`
	Performed int64 `json:"performed"`
	LostRaces int64 `json:"lost_races"`
	Cancelled int64 `json:"cancelled"`
}

func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()
	return SchedulerStats{
		Pending:   pending,
		Performed: s.performed.Load(),
		LostRaces: s.lostRaces.Load(),
		Cancelled: s.cancelled.Load(),
	}
}

// Pending reports whether scope has a locally tracked scheduled action.
func (s *Scheduler) Pending(scope string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[scope] != nil
}

// fire handles a local timer expiry.
func (s *Scheduler) fire(scope string) {
	s.mu.Lock()
	pa := s.pending[scope]
	if pa == nil {
		s.mu.Unlock()
		return
	}
	durable := pa.durable
	if !durable || s.store == nil {
		delete(s.pending, scope)
	}
	s.mu.Unlock()

	ctx := context.Background()
	if !durable || s.store == nil {
		s.perform(ctx, scope)
		return
	}
	s.claimAndPerform(ctx, scope)
}

// Run polls the backing store for deadlines that already elapsed,
// catching actions whose local timer was lost (the owning process died)
// or whose timer drifted past the durable deadline. It blocks until ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkPending(ctx)
		}
	}
}

// checkPending examines each locally tracked durable deadline against the
// store. Each bot process observes the same gateway events and therefore
// tracks the same scopes, so polling local scopes covers the cluster.
func (s *Scheduler) checkPending(ctx context.Context) {
	if s.store == nil {
		return
	}

	s.mu.Lock()
	due := make([]string, 0, len(s.pending))
	now := s.now()
	for scope, pa := range s.pending {
		if pa.durable && !now.Before(pa.deadline) {
			due = append(due, scope)
		}
	}
	s.mu.Unlock()

	for _, scope := range due {
		s.checkAndAct(ctx, scope)
	}
}

// checkAndAct reads the durable deadline for scope and, when it has
// elapsed, claims and performs the action.
func (s *Scheduler) checkAndAct(ctx context.Context, scope string) {
	opCtx, cancel := context.WithTimeout(ctx, schedulerOpTimeout)
	raw, err := s.store.Get(opCtx, schedulerKey(scope))
	cancel()

	if err != nil {
		if errors.Is(err, ErrStoreMiss) {
			// another process already claimed it
			s.mu.Lock()
			if pa := s.pending[scope]; pa != nil {
				pa.timer.Stop()
				delete(s.pending, scope)
			}
			s.mu.Unlock()
			s.lostRaces.Add(1)
			return
		}
		// store unreachable: leave the pending entry for the next poll
		s.logger.DebugContext(
			ctx,
			"deadline check failed, will retry",
			"scope", scope,
			tint.Err(err),
		)
		return
	}

	deadlineMillis, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		s.logger.ErrorContext(
			ctx,
			"unparseable durable deadline, discarding",
			"scope", scope,
			"raw", string(raw),
			tint.Err(err),
		)
		s.discard(ctx, scope)
		return
	}

	if s.now().UnixMilli() < deadlineMillis {
		return
	}

	s.claimAndPerform(ctx, scope)
}

// claimAndPerform deletes the durable record and performs the action only
// if the delete reported the record existed. Exactly one deleter observes
// existed=true, so concurrent processes never double-fire. On a store
// error the pending entry is kept so a later poll can retry the claim.
func (s *Scheduler) claimAndPerform(ctx context.Context, scope string) {
	opCtx, cancel := context.WithTimeout(ctx, schedulerOpTimeout)
	existed, err := s.store.Delete(opCtx, schedulerKey(scope))
	cancel()

	if err != nil {
		s.logger.WarnContext(
			ctx,
			"deadline claim failed, will retry on next poll",
			"scope", scope,
			tint.Err(err),
		)
		return
	}

	s.mu.Lock()
	if pa := s.pending[scope]; pa != nil {
		pa.timer.Stop()
		delete(s.pending, scope)
	}
	s.mu.Unlock()

	if !existed {
		s.lostRaces.Add(1)
		s.logger.DebugContext(
			ctx,
			"deadline already claimed elsewhere",
			"scope", scope,
		)
		return
	}
	s.perform(ctx, scope)
}

func (s *Scheduler) discard(ctx context.Context, scope string) {
	s.mu.Lock()
	if pa := s.pending[scope]; pa != nil {
		pa.timer.Stop()
		delete(s.pending, scope)
	}
	s.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, schedulerOpTimeout)
	defer cancel()
	_, _ = s.store.Delete(opCtx, schedulerKey(scope))
}

func (s *Scheduler) perform(ctx context.Context, scope string) {
	s.performed.Add(1)
	s.logger.InfoContext(ctx, "performing scheduled action", "scope", scope)
	if s.action != nil {
		s.action(ctx, scope)
	}
	if s.writeDB != nil {
		record := &ActionRecord{
			Scope:       scope,
			Kind:        "scheduled",
			PerformedAt: s.now().UnixMilli(),
		}
		go func() {
			if _, err := s.writeDB.Create(
				context.WithoutCancel(ctx),
				record,
			); err != nil {
				s.logger.Error(
					"failed writing action audit record",
					"scope", scope,
					tint.Err(err),
				)
			}
		}()
	}
}
