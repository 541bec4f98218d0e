package altergolden

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

// VoteKind identifies what a group is deciding on.
type VoteKind string

const (
	// VoteSkip is a vote to skip the currently playing track
	VoteSkip VoteKind = "skip"

	// VotePriority is a vote to bump a queued item to the front
	VotePriority VoteKind = "priority"
)

var (
	// ErrVoteActive is returned by Start when a vote of the same kind is
	// already running in the scope. It's a signal to add a ballot to the
	// existing session instead, not a failure.
	ErrVoteActive = errors.New("vote already active for scope")

	// ErrNoActiveVote is returned by AddBallot when no vote is running.
	ErrNoActiveVote = errors.New("no active vote for scope")
)

// VoteOutcome is the terminal state of a resolved vote session.
type VoteOutcome string

const (
	VoteOutcomePassed  VoteOutcome = "passed"
	VoteOutcomeExpired VoteOutcome = "expired"
)

// VoteStatus is a caller-facing snapshot of a vote session.
type VoteStatus struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	Kind      VoteKind  `json:"kind"`
	Ballots   int       `json:"ballots"`
	Required  int       `json:"required"`
	StartedAt time.Time `json:"started_at"`
	StartedBy string    `json:"started_by"`
}

// BallotResult reports the effect of a Start or AddBallot call. When
// Passed is true the session has resolved and the caller should perform
// the voted-on action immediately.
type BallotResult struct {
	Status       VoteStatus
	Passed       bool
	AlreadyVoted bool
}

type voteKey struct {
	scope string
	kind  VoteKind
}

type voteSession struct {
	id        string
	scope     string
	kind      VoteKind
	ballots   map[string]struct{}
	required  int
	startedAt time.Time
	startedBy string
	timer     *time.Timer
}

func (s *voteSession) status() VoteStatus {
	return VoteStatus{
		ID:        s.id,
		Scope:     s.scope,
		Kind:      s.kind,
		Ballots:   len(s.ballots),
		Required:  s.required,
		StartedAt: s.startedAt,
		StartedBy: s.startedBy,
	}
}

// VoteCoordinator tracks the active group decisions in this process, one
// session at most per (scope, kind). Sessions move absent -> active ->
// resolved(passed|expired); resolution by any path cancels the timeout
// timer so a stale timer can never fire against a reused scope.
type VoteCoordinator struct {
	mu       sync.Mutex
	sessions map[voteKey]*voteSession

	timeout time.Duration
	logger  *slog.Logger

	// writeDB, when set, receives fire-and-forget audit rows for
	// resolved sessions
	writeDB *Database

	now func() time.Time

	passed  atomic.Int64
	expired atomic.Int64
}

func NewVoteCoordinator(
	cfg *VoteConfig,
	logger *slog.Logger,
	writeDB *Database,
) *VoteCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := DefaultVoteTimeout
	if cfg != nil && cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	return &VoteCoordinator{
		sessions: map[voteKey]*voteSession{},
		timeout:  timeout,
		logger:   logger.With(loggerNameKey, "votes"),
		writeDB:  writeDB,
		now:      time.Now,
	}
}

// quorum returns ceil(eligible * 0.6) using integer math, with a floor of
// one ballot.
func quorum(eligible int) int {
	if eligible <= 1 {
		return 1
	}
	return (eligible*3 + 4) / 5
}

// Start opens a vote session for (scope, kind) with the starter's ballot
// already counted. If a session is already active it is returned along
// with ErrVoteActive so the caller can branch into AddBallot. With a
// quorum of one, the session resolves passed immediately.
func (v *VoteCoordinator) Start(
	ctx context.Context,
	scope string,
	kind VoteKind,
	voterID string,
	eligible int,
) (BallotResult, error) {
	key := voteKey{scope: scope, kind: kind}

	v.mu.Lock()
	if existing := v.sessions[key]; existing != nil {
		result := BallotResult{Status: existing.status()}
		v.mu.Unlock()
		return result, ErrVoteActive
	}

	sess := &voteSession{
		id:        uuid.NewString(),
		scope:     scope,
		kind:      kind,
		ballots:   map[string]struct{}{voterID: {}},
		required:  quorum(eligible),
		startedAt: v.now(),
		startedBy: voterID,
	}

	if len(sess.ballots) >= sess.required {
		result := BallotResult{Status: sess.status(), Passed: true}
		v.mu.Unlock()
		v.recordOutcome(ctx, sess, VoteOutcomePassed)
		return result, nil
	}

	v.sessions[key] = sess
	id := sess.id
	sess.timer = time.AfterFunc(
		v.timeout, func() {
			v.expire(scope, kind, id)
		},
	)
	result := BallotResult{Status: sess.status()}
	v.mu.Unlock()

	v.logger.InfoContext(
		ctx,
		"vote started",
		"scope", scope,
		"kind", kind,
		"started_by", voterID,
		"required", sess.required,
	)
	return result, nil
}

// AddBallot counts a ballot on the active (scope, kind) session. A
// duplicate voter is reported as AlreadyVoted, not an error. Reaching
// quorum resolves the session passed and tells the caller to act.
func (v *VoteCoordinator) AddBallot(
	ctx context.Context,
	scope string,
	kind VoteKind,
	voterID string,
) (BallotResult, error) {
	key := voteKey{scope: scope, kind: kind}

	v.mu.Lock()
	sess := v.sessions[key]
	if sess == nil {
		v.mu.Unlock()
		return BallotResult{}, ErrNoActiveVote
	}

	if _, voted := sess.ballots[voterID]; voted {
		result := BallotResult{Status: sess.status(), AlreadyVoted: true}
		v.mu.Unlock()
		return result, nil
	}

	sess.ballots[voterID] = struct{}{}
	if len(sess.ballots) < sess.required {
		result := BallotResult{Status: sess.status()}
		v.mu.Unlock()
		return result, nil
	}

	sess.timer.Stop()
	delete(v.sessions, key)
	result := BallotResult{Status: sess.status(), Passed: true}
	v.mu.Unlock()

	v.recordOutcome(ctx, sess, VoteOutcomePassed)
	v.logger.InfoContext(
		ctx,
		"vote passed",
		"scope", scope,
		"kind", kind,
		"ballots", result.Status.Ballots,
		"required", result.Status.Required,
	)
	return result, nil
}

// Cancel discards the active session without resolving it, e.g. when the
// track being voted on ends naturally. Safe to call when nothing is
// active.
func (v *VoteCoordinator) Cancel(scope string, kind VoteKind) bool {
	key := voteKey{scope: scope, kind: kind}

	v.mu.Lock()
	sess := v.sessions[key]
	if sess == nil {
		v.mu.Unlock()
		return false
	}
	sess.timer.Stop()
	delete(v.sessions, key)
	v.mu.Unlock()
	return true
}

// Active returns the running session for (scope, kind), if any.
func (v *VoteCoordinator) Active(scope string, kind VoteKind) (VoteStatus, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	sess := v.sessions[voteKey{scope: scope, kind: kind}]
	if sess == nil {
		return VoteStatus{}, false
	}
	return sess.status(), true
}

// VoteStats is a point-in-time snapshot of vote counters.
type VoteStats struct {
	Active  int   `json:"active"`
	Passed  int64 `json:"passed"`
	Expired int64 `json:"expired"`
}

func (v *VoteCoordinator) Stats() VoteStats {
	v.mu.Lock()
	active := len(v.sessions)
	v.mu.Unlock()
	return VoteStats{
		Active:  active,
		Passed:  v.passed.Load(),
		Expired: v.expired.Load(),
	}
}

// ActiveSessions snapshots every running session, for the ops API.
func (v *VoteCoordinator) ActiveSessions() []VoteStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	statuses := make([]VoteStatus, 0, len(v.sessions))
	for _, sess := range v.sessions {
		statuses = append(statuses, sess.status())
	}
	return statuses
}

// expire resolves a session as expired when its timeout elapses. The
// session ID guards against the timer racing a resolution that already
// happened: if the scope has since been reused, the stale timer is a
// no-op.
func (v *VoteCoordinator) expire(scope string, kind VoteKind, id string) {
	key := voteKey{scope: scope, kind: kind}

	v.mu.Lock()
	sess := v.sessions[key]
	if sess == nil || sess.id != id {
		v.mu.Unlock()
		return
	}
	delete(v.sessions, key)
	v.mu.Unlock()

	v.recordOutcome(context.Background(), sess, VoteOutcomeExpired)
	v.logger.Info(
		"vote expired",
		"scope", scope,
		"kind", kind,
		"ballots", len(sess.ballots),
		"required", sess.required,
	)
}

func (v *VoteCoordinator) recordOutcome(
	ctx context.Context,
	sess *voteSession,
	outcome VoteOutcome,
) {
	switch outcome {
	case VoteOutcomePassed:
		v.passed.Add(1)
	case VoteOutcomeExpired:
		v.expired.Add(1)
	}
	if v.writeDB == nil {
		return
	}
	record := &VoteRecord{
		SessionID:  sess.id,
		Scope:      sess.scope,
		Kind:       string(sess.kind),
		StartedBy:  sess.startedBy,
		Ballots:    len(sess.ballots),
		Required:   sess.required,
		Outcome:    string(outcome),
		StartedAt:  sess.startedAt.UnixMilli(),
		ResolvedAt: v.now().UnixMilli(),
	}
	go func() {
		if _, err := v.writeDB.Create(context.WithoutCancel(ctx), record); err != nil {
			v.logger.Error(
				"failed writing vote audit record",
				"scope", sess.scope,
				tint.Err(err),
			)
		}
	}()
}
