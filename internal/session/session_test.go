package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/duel-tourney-backend/internal/apperr"
	"github.com/DoyleJ11/duel-tourney-backend/internal/broadcast"
	"github.com/DoyleJ11/duel-tourney-backend/internal/engine"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
)

func TestFourItemTournament(t *testing.T) {
	f := newFixture(t, 3, engine.Heads)
	started := f.start("four")
	sid := started.SessionID
	assert.Equal(t, 2, started.DuelCount)
	assert.Equal(t, 2, started.RoundCount)
	assert.Equal(t, 0, started.Snapshot.CurrentDuelIndex)
	assert.Equal(t, "a", started.Snapshot.CurrentDuel.Item1.ID)

	seen := []int{started.Snapshot.CurrentDuelIndex}

	// Duel 0: a vs b, a wins 2-1.
	res := f.mustVote(sid, "p1", 0, "a")
	assert.False(t, res.Complete)
	f.mustVote(sid, "p2", 0, "a")
	res = f.mustVote(sid, "p3", 0, "b")
	require.True(t, res.Complete)
	assert.Equal(t, "a", res.Winner)
	assert.Nil(t, res.TieBreak)
	assert.Equal(t, 2, res.Tally.Count("a"))

	// Staged, not visible.
	gs := f.session(sid)
	assert.Equal(t, 0, gs.CurrentDuelIndex)
	require.NotNil(t, gs.State.Next)
	assert.Equal(t, 1, gs.State.Next.DuelIndex)

	ack := f.mustAck(sid, "p1", 0, store.AckNormal)
	assert.False(t, ack.Advanced)
	assert.Equal(t, 3, ack.Needed)
	ack = f.mustAck(sid, "p2", 0, store.AckNormal)
	assert.False(t, ack.Advanced)
	assert.Equal(t, 0, f.session(sid).CurrentDuelIndex)
	ack = f.mustAck(sid, "p3", 0, store.AckNormal)
	require.True(t, ack.Advanced)
	assert.Equal(t, 1, ack.CurrentDuelIndex)
	assert.NotNil(t, f.session(sid).SyncedAt)
	seen = append(seen, ack.CurrentDuelIndex)

	// Duel 1: c vs d, d wins; round 1 complete.
	res = f.everyoneVotes(sid, 1, "d", "d", "c")
	assert.Equal(t, "d", res.Winner)
	assert.False(t, res.Finished)
	gs = f.session(sid)
	require.NotNil(t, gs.State.Next)
	assert.True(t, gs.State.Next.RoundComplete)
	assert.Len(t, gs.State.Duels, 3)

	ack = f.everyoneAcks(sid, 1)
	require.True(t, ack.Advanced)
	assert.Equal(t, 2, ack.CurrentDuelIndex)
	assert.Equal(t, 2, ack.Snapshot.CurrentRound)
	assert.Equal(t, "a", ack.Snapshot.CurrentDuel.Item1.ID)
	assert.Equal(t, "d", ack.Snapshot.CurrentDuel.Item2.ID)
	seen = append(seen, ack.CurrentDuelIndex)

	// Final: a wins, the session finishes without a continue barrier.
	res = f.everyoneVotes(sid, 2, "a", "d", "a")
	require.True(t, res.Finished)
	assert.Equal(t, "a", res.Champion)
	assert.Equal(t, string(store.StatusFinished), res.Snapshot.Status)
	require.NotNil(t, res.Snapshot.Champion)
	assert.Equal(t, "Item a", res.Snapshot.Champion.Name)
	seen = append(seen, res.Snapshot.CurrentDuelIndex)

	assert.IsNonDecreasing(t, seen)

	// Exactly one archive, complete and intact.
	a, err := f.svc.FinalResults(f.ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "a", a.Champion.ID)
	assert.Equal(t, []string{"p1", "p2", "p3"}, a.Participants)
	require.Len(t, a.Duels, 3)
	assert.Equal(t, "d", a.Duels[1].Winner)
	assert.Len(t, a.Duels[2].Votes, 3)
	assert.True(t, VerifyArchive(a))

	// Torn down.
	assert.Empty(t, f.votes(sid))
	_, err = f.vote(sid, "p1", 2, "a")
	requireCode(t, err, apperr.CodeSessionFinished)
	require.NoError(t, f.store.InTx(f.ctx, func(tx store.Tx) error {
		_, err := tx.GetRoom(f.ctx, f.room)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))

	assert.Equal(t, 2, f.events.count(broadcast.DuelChanged))
	assert.Equal(t, 1, f.events.count(broadcast.SessionFinished))
	types := f.events.types()
	assert.Equal(t, broadcast.SessionFinished, types[len(types)-1])

	// The finished session still reads, with archived participants.
	snap, err := f.svc.GetState(f.ctx, sid, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, snap.Participants)
	assert.Equal(t, 2, snap.Tally.Count("a"))
}

func TestTieUsesQuorumOfTwo(t *testing.T) {
	f := newFixture(t, 4, engine.Tails)
	sid := f.start("four").SessionID

	res := f.everyoneVotes(sid, 0, "a", "a", "b", "b")
	require.True(t, res.Complete)
	require.NotNil(t, res.TieBreak)
	assert.Equal(t, engine.Tails, res.TieBreak.Coin)
	assert.Equal(t, "b", res.Winner, "tails picks the second item")
	assert.Equal(t, 2, res.TieBreak.Votes)
	assert.Equal(t, "tie", res.Snapshot.AckKind)
	assert.Equal(t, 2, res.Snapshot.AcksNeeded)

	_, err := f.ack(sid, "p1", 0, store.AckNormal)
	requireCode(t, err, apperr.CodeValidation)

	ack := f.mustAck(sid, "p3", 0, store.AckTie)
	assert.False(t, ack.Advanced)
	assert.Equal(t, 2, ack.Needed)
	ack = f.mustAck(sid, "p4", 0, store.AckTie)
	require.True(t, ack.Advanced, "two acknowledgments release a tie in a room of four")
	assert.Equal(t, 1, ack.CurrentDuelIndex)

	assert.Equal(t, 2, f.events.count(broadcast.TieAck))
	assert.Equal(t, 1, f.events.count(broadcast.DuelChanged))
}

func TestNoTieRecordWhenTopTwoDiffer(t *testing.T) {
	f := newFixture(t, 3, engine.Heads)
	sid := f.start("four").SessionID
	res := f.everyoneVotes(sid, 0, "b", "b", "b")
	assert.Nil(t, res.TieBreak)
	assert.Equal(t, "b", res.Winner)
	assert.Empty(t, f.session(sid).State.TieBreakers)
}

func TestDuplicateVoteLeavesTallyUnchanged(t *testing.T) {
	f := newFixture(t, 3, engine.Heads)
	sid := f.start("four").SessionID

	first := f.mustVote(sid, "p1", 0, "a")
	_, err := f.vote(sid, "p1", 0, "b")
	requireCode(t, err, apperr.CodeDuplicateVote)
	assert.True(t, apperr.CodeOf(err).Idempotent())

	snap, err := f.svc.GetState(f.ctx, sid, "p1")
	require.NoError(t, err)
	assert.Equal(t, first.Tally, snap.Tally)
	assert.Equal(t, "a", snap.MyVote)
	assert.Len(t, f.votes(sid), 1)
}

func TestStaleVoteIsRejected(t *testing.T) {
	f := newFixture(t, 2, engine.Heads)
	sid := f.start("eight").SessionID

	for duel := 0; duel < 4; duel++ {
		f.everyoneVotes(sid, duel, catalog(8)[duel*2].ID, catalog(8)[duel*2].ID)
		f.everyoneAcks(sid, duel)
	}
	gs := f.session(sid)
	require.Equal(t, 4, gs.CurrentDuelIndex)
	before := f.votes(sid)

	_, err := f.vote(sid, "p1", 3, "g")
	requireCode(t, err, apperr.CodeStaleDuel)
	assert.Equal(t, before, f.votes(sid))
	assert.Equal(t, gs.Version, f.session(sid).Version)
}

func TestVoteValidation(t *testing.T) {
	f := newFixture(t, 2, engine.Heads)
	sid := f.start("four").SessionID

	_, err := f.vote(sid, "stranger", 0, "a")
	requireCode(t, err, apperr.CodeForbidden)

	_, err = f.vote(sid, "p1", 0, "c")
	requireCode(t, err, apperr.CodeValidation)

	_, err = f.vote(sid, "", 0, "a")
	requireCode(t, err, apperr.CodeUnauthenticated)

	_, err = f.vote("missing", "p1", 0, "a")
	requireCode(t, err, apperr.CodeNotFound)

	// Voting closes once the duel is resolved, until the gate releases.
	f.everyoneVotes(sid, 0, "a", "b")
	_, err = f.ack(sid, "p1", 1, store.AckNormal)
	requireCode(t, err, apperr.CodeStaleDuel)
	_, err = f.vote(sid, "p1", 0, "a")
	requireCode(t, err, apperr.CodeStaleDuel)
}

func TestAcknowledgeRules(t *testing.T) {
	f := newFixture(t, 2, engine.Heads)
	sid := f.start("four").SessionID

	_, err := f.ack(sid, "p1", 0, store.AckNormal)
	requireCode(t, err, apperr.CodeDuelNotResolved)

	f.everyoneVotes(sid, 0, "a", "a")
	f.mustAck(sid, "p1", 0, store.AckNormal)
	_, err = f.ack(sid, "p1", 0, store.AckNormal)
	requireCode(t, err, apperr.CodeAlreadyAcknowledged)

	snap, err := f.svc.GetState(f.ctx, sid, "p1")
	require.NoError(t, err)
	assert.True(t, snap.MyAck)
	assert.Equal(t, 1, snap.AcksCount)
	assert.Equal(t, 2, snap.AcksNeeded)

	_, err = f.ack(sid, "stranger", 0, store.AckNormal)
	requireCode(t, err, apperr.CodeForbidden)

	_, err = f.ack(sid, "p2", 0, "bogus")
	requireCode(t, err, apperr.CodeValidation)
}

func TestConcurrentVotesResolveOnce(t *testing.T) {
	f := newFixture(t, 8, engine.Heads)
	sid := f.start("four").SessionID

	var wg sync.WaitGroup
	results := make([]VoteResult, len(f.members))
	errs := make([]error, len(f.members))
	for i, p := range f.members {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			results[i], errs[i] = f.vote(sid, p, 0, "a")
		}(i, p)
	}
	wg.Wait()

	completions := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Complete {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
	assert.Equal(t, map[int]string{0: "a"}, f.session(sid).State.Results)
}

func TestConflictIsRetried(t *testing.T) {
	f := newFixture(t, 2, engine.Heads)
	sid := f.start("four").SessionID

	f.mem.InjectConflicts(2)
	res, err := f.vote(sid, "p1", 0, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tally.Count("a"))
	assert.Len(t, f.votes(sid), 1, "rolled back attempts leave no trace")

	f.mem.InjectConflicts(DefaultTxRetries + 1)
	_, err = f.vote(sid, "p2", 0, "a")
	requireCode(t, err, apperr.CodeConflict)
	assert.Len(t, f.votes(sid), 1)
}

func TestVersionIncreasesWithEveryMutation(t *testing.T) {
	f := newFixture(t, 2, engine.Heads)
	sid := f.start("four").SessionID
	v0 := f.session(sid).Version

	r1 := f.mustVote(sid, "p1", 0, "a")
	r2 := f.mustVote(sid, "p2", 0, "a")
	a1 := f.mustAck(sid, "p1", 0, store.AckNormal)

	assert.Greater(t, r1.Snapshot.Version, v0)
	assert.Greater(t, r2.Snapshot.Version, r1.Snapshot.Version)
	assert.Greater(t, a1.Snapshot.Version, r2.Snapshot.Version)
}
