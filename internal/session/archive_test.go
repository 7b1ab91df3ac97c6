package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/duel-tourney-backend/internal/engine"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
)

func TestArchiveKeepsExcludedVoters(t *testing.T) {
	f := newFixture(t, 3, engine.Heads)
	sid := f.start("four").SessionID

	f.everyoneVotes(sid, 0, "a", "a", "b")
	f.everyoneAcks(sid, 0)

	_, err := f.svc.Exclude(f.ctx, ExcludeRequest{SessionID: sid, RequesterID: f.owner, ParticipantID: "p3"})
	require.NoError(t, err)
	f.members = []string{"p1", "p2"}

	f.everyoneVotes(sid, 1, "d", "d")
	f.everyoneAcks(sid, 1)
	res := f.everyoneVotes(sid, 2, "d", "d")
	require.True(t, res.Finished)

	a, err := f.svc.FinalResults(f.ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, a.Participants)
	require.Len(t, a.Duels, 3)
	assert.Equal(t, []store.ArchivedVote{
		{ParticipantID: "p1", ItemID: "a"},
		{ParticipantID: "p2", ItemID: "a"},
		{ParticipantID: "p3", ItemID: "b"},
	}, a.Duels[0].Votes)
	assert.Equal(t, "a", a.Duels[0].Winner)
	assert.Equal(t, "d", a.Champion.ID)
	assert.Equal(t, 2, a.TotalRounds)
	assert.True(t, VerifyArchive(a))
}

func TestArchiveDigestDetectsTampering(t *testing.T) {
	f := newFixture(t, 2, engine.Tails)
	sid := f.start("two").SessionID
	res := f.everyoneVotes(sid, 0, "a", "b")
	require.True(t, res.Finished)
	require.NotNil(t, res.TieBreak)

	a, err := f.svc.FinalResults(f.ctx, sid)
	require.NoError(t, err)
	require.NotEmpty(t, a.Digest)
	require.NotNil(t, a.Duels[0].TieBreak)
	assert.Equal(t, engine.Tails, a.Duels[0].TieBreak.Coin)

	again, err := archiveDigest(a)
	require.NoError(t, err)
	assert.Equal(t, a.Digest, again, "digest is stable")

	tampered := *a
	tampered.Champion = engine.Item{ID: "a", Name: "Item a"}
	assert.False(t, VerifyArchive(&tampered))
}

func TestBuildArchiveRequiresChampion(t *testing.T) {
	st, err := engine.BuildBracket("room", catalog(2), inOrder{})
	require.NoError(t, err)
	_, err = buildArchive(&store.GameSession{ID: "s", RoomID: "room", State: st}, nil, nil, time.Time{})
	assert.Error(t, err)
}
