package altergolden

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVotes(t testing.TB, timeout time.Duration) *VoteCoordinator {
	t.Helper()
	return NewVoteCoordinator(
		&VoteConfig{Timeout: timeout},
		testLogger(t),
		nil,
	)
}

func TestQuorum(t *testing.T) {
	// ceil(eligible * 0.6), floor of one
	cases := map[int]int{
		0:  1,
		1:  1,
		2:  2,
		3:  2,
		4:  3,
		5:  3,
		6:  4,
		10: 6,
		11: 7,
	}
	for eligible, want := range cases {
		assert.Equalf(
			t, want, quorum(eligible), "quorum(%d)", eligible,
		)
	}
}

func TestVoteStartSingleVoterPassesImmediately(t *testing.T) {
	votes := newTestVotes(t, time.Minute)
	ctx := context.Background()

	result, err := votes.Start(ctx, "chan1", VoteSkip, "user1", 1)
	require.NoError(t, err)
	assert.True(t, result.Passed)

	// nothing left active
	_, active := votes.Active("chan1", VoteSkip)
	assert.False(t, active)
}

func TestVoteReachesQuorum(t *testing.T) {
	votes := newTestVotes(t, time.Minute)
	ctx := context.Background()

	// 5 eligible voters -> 3 required
	result, err := votes.Start(ctx, "chan1", VoteSkip, "user1", 5)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, 1, result.Status.Ballots)
	assert.Equal(t, 3, result.Status.Required)

	result, err = votes.AddBallot(ctx, "chan1", VoteSkip, "user2")
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, 2, result.Status.Ballots)

	result, err = votes.AddBallot(ctx, "chan1", VoteSkip, "user3")
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 3, result.Status.Ballots)

	_, active := votes.Active("chan1", VoteSkip)
	assert.False(t, active)
	assert.Equal(t, int64(1), votes.Stats().Passed)
}

func TestVoteDuplicateBallot(t *testing.T) {
	votes := newTestVotes(t, time.Minute)
	ctx := context.Background()

	_, err := votes.Start(ctx, "chan1", VoteSkip, "user1", 5)
	require.NoError(t, err)

	result, err := votes.AddBallot(ctx, "chan1", VoteSkip, "user1")
	require.NoError(t, err)
	assert.True(t, result.AlreadyVoted)
	assert.False(t, result.Passed)
	assert.Equal(t, 1, result.Status.Ballots, "duplicate must not count")
}

func TestVoteStartWhileActive(t *testing.T) {
	votes := newTestVotes(t, time.Minute)
	ctx := context.Background()

	_, err := votes.Start(ctx, "chan1", VoteSkip, "user1", 5)
	require.NoError(t, err)

	result, err := votes.Start(ctx, "chan1", VoteSkip, "user2", 5)
	assert.ErrorIs(t, err, ErrVoteActive)
	assert.Equal(t, 1, result.Status.Ballots)

	// a different kind in the same scope is independent
	_, err = votes.Start(ctx, "chan1", VotePriority, "user2", 5)
	assert.NoError(t, err)

	// same kind in a different scope is independent
	_, err = votes.Start(ctx, "chan2", VoteSkip, "user2", 5)
	assert.NoError(t, err)
}

func TestVoteBallotWithoutActiveVote(t *testing.T) {
	votes := newTestVotes(t, time.Minute)
	ctx := context.Background()

	_, err := votes.AddBallot(ctx, "chan1", VoteSkip, "user1")
	assert.ErrorIs(t, err, ErrNoActiveVote)
}

func TestVoteTimeout(t *testing.T) {
	votes := newTestVotes(t, 20*time.Millisecond)
	ctx := context.Background()

	_, err := votes.Start(ctx, "chan1", VoteSkip, "user1", 5)
	require.NoError(t, err)

	require.Eventually(
		t, func() bool {
			_, active := votes.Active("chan1", VoteSkip)
			return !active
		}, 5*time.Second, 5*time.Millisecond,
	)
	assert.Equal(t, int64(1), votes.Stats().Expired)
	assert.Zero(t, votes.Stats().Passed)

	// late ballots fail cleanly
	_, err = votes.AddBallot(ctx, "chan1", VoteSkip, "user2")
	assert.ErrorIs(t, err, ErrNoActiveVote)

	// the scope is reusable for a fresh vote
	_, err = votes.Start(ctx, "chan1", VoteSkip, "user1", 5)
	assert.NoError(t, err)
}

func TestVoteCancel(t *testing.T) {
	votes := newTestVotes(t, time.Minute)
	ctx := context.Background()

	assert.False(t, votes.Cancel("chan1", VoteSkip))

	_, err := votes.Start(ctx, "chan1", VoteSkip, "user1", 5)
	require.NoError(t, err)

	assert.True(t, votes.Cancel("chan1", VoteSkip))
	assert.False(t, votes.Cancel("chan1", VoteSkip), "second cancel is a no-op")

	// cancelled votes resolve neither passed nor expired
	stats := votes.Stats()
	assert.Zero(t, stats.Passed)
	assert.Zero(t, stats.Expired)
}

func TestVoteStaleTimerDoesNotFireOnReusedScope(t *testing.T) {
	votes := newTestVotes(t, 30*time.Millisecond)
	ctx := context.Background()

	first, err := votes.Start(ctx, "chan1", VoteSkip, "user1", 5)
	require.NoError(t, err)

	// resolve the first session, then immediately reuse the scope
	require.True(t, votes.Cancel("chan1", VoteSkip))
	second, err := votes.Start(ctx, "chan1", VoteSkip, "user2", 5)
	require.NoError(t, err)
	require.NotEqual(t, first.Status.ID, second.Status.ID)

	// the first session's timer firing must not kill the second session
	votes.expire("chan1", VoteSkip, first.Status.ID)
	status, active := votes.Active("chan1", VoteSkip)
	require.True(t, active)
	assert.Equal(t, second.Status.ID, status.ID)
}

func TestVoteActiveSessions(t *testing.T) {
	votes := newTestVotes(t, time.Minute)
	ctx := context.Background()

	_, err := votes.Start(ctx, "chan1", VoteSkip, "user1", 5)
	require.NoError(t, err)
	_, err = votes.Start(ctx, "chan2", VotePriority, "user2", 4)
	require.NoError(t, err)

	sessions := votes.ActiveSessions()
	assert.Len(t, sessions, 2)
	assert.Equal(t, 2, votes.Stats().Active)
}
