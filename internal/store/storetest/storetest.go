// Package storetest is a conformance suite shared by the store implementations.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/duel-tourney-backend/internal/engine"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
)

// Run exercises every store.Tx operation against a fresh store per subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("SessionCreateGet", func(t *testing.T) { testSessionCreateGet(t, newStore(t)) })
	t.Run("SessionCompareAndSwap", func(t *testing.T) { testSessionCAS(t, newStore(t)) })
	t.Run("ActiveSessionForRoom", func(t *testing.T) { testActiveSession(t, newStore(t)) })
	t.Run("VotesUnique", func(t *testing.T) { testVotes(t, newStore(t)) })
	t.Run("AcksPurge", func(t *testing.T) { testAcks(t, newStore(t)) })
	t.Run("RoomsAndMembers", func(t *testing.T) { testRooms(t, newStore(t)) })
	t.Run("ArchiveOnce", func(t *testing.T) { testArchive(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
}

func sampleState() engine.State {
	return engine.State{
		RoomID:       "room-1",
		Duels:        []engine.Duel{{Index: 0, Round: 1, Item1: "a", Item2: "b"}, {Index: 1, Round: 1, Match: 1, Item1: "c", Item2: "d"}},
		CurrentRound: 1,
		TotalRounds:  2,
		Winners:      []string{},
		AllItems:     []engine.Item{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}, {ID: "c", Name: "C"}, {ID: "d", Name: "D"}},
		TieBreakers:  []engine.TieBreak{},
		Results:      map[int]string{},
	}
}

func tx(t *testing.T, s store.Store, fn func(tx store.Tx) error) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), fn))
}

func seedRoom(t *testing.T, s store.Store, members ...string) {
	t.Helper()
	tx(t, s, func(tx store.Tx) error {
		ctx := context.Background()
		if err := tx.CreateRoom(ctx, &store.Room{ID: "room-1", OwnerID: "owner", Name: "Friday"}); err != nil {
			return err
		}
		for _, m := range members {
			if err := tx.AddMember(ctx, store.RoomMember{RoomID: "room-1", ParticipantID: m}); err != nil {
				return err
			}
		}
		return nil
	})
}

func seedSession(t *testing.T, s store.Store, id string) *store.GameSession {
	t.Helper()
	gs := &store.GameSession{ID: id, RoomID: "room-1", Status: store.StatusInProgress, State: sampleState()}
	tx(t, s, func(tx store.Tx) error { return tx.CreateSession(context.Background(), gs) })
	return gs
}

func testSessionCreateGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := seedSession(t, s, "s1")
	assert.EqualValues(t, 1, created.Version)

	tx(t, s, func(tx store.Tx) error {
		got, err := tx.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, store.StatusInProgress, got.Status)
		assert.EqualValues(t, 1, got.Version)
		assert.Equal(t, created.State.Duels, got.State.Duels)
		assert.Equal(t, "d", got.State.Duels[1].Item2)

		_, err = tx.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateSession(ctx, &store.GameSession{ID: "s1", RoomID: "room-2", Status: store.StatusFinished, State: sampleState()})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func testSessionCAS(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedSession(t, s, "s1")

	tx(t, s, func(tx store.Tx) error {
		gs, err := tx.GetSession(ctx, "s1")
		require.NoError(t, err)
		gs.State.Results[0] = "a"
		gs.State.Next = &engine.NextDuel{DuelIndex: 1, Winner: "a"}
		require.NoError(t, tx.UpdateSession(ctx, gs, 1, 0))
		assert.EqualValues(t, 2, gs.Version)
		return nil
	})

	tx(t, s, func(tx store.Tx) error {
		gs, err := tx.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.EqualValues(t, 2, gs.Version)
		assert.Equal(t, "a", gs.State.Results[0])
		require.NotNil(t, gs.State.Next)

		// Stale version.
		assert.ErrorIs(t, tx.UpdateSession(ctx, gs, 1, 0), store.ErrConflict)
		// Stale duel.
		assert.ErrorIs(t, tx.UpdateSession(ctx, gs, 2, 1), store.ErrConflict)

		gs.CurrentDuelIndex = 1
		now := time.Now().UTC()
		gs.SyncedAt = &now
		require.NoError(t, tx.UpdateSession(ctx, gs, 2, 0))
		assert.EqualValues(t, 3, gs.Version)

		missing := &store.GameSession{ID: "nope", State: sampleState()}
		assert.ErrorIs(t, tx.UpdateSession(ctx, missing, 1, 0), store.ErrNotFound)
		return nil
	})

	tx(t, s, func(tx store.Tx) error {
		gs, err := tx.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 1, gs.CurrentDuelIndex)
		assert.NotNil(t, gs.SyncedAt)
		return nil
	})
}

func testActiveSession(t *testing.T, s store.Store) {
	ctx := context.Background()
	tx(t, s, func(tx store.Tx) error {
		_, err := tx.ActiveSessionForRoom(ctx, "room-1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})

	seedSession(t, s, "s1")
	tx(t, s, func(tx store.Tx) error {
		gs, err := tx.ActiveSessionForRoom(ctx, "room-1")
		require.NoError(t, err)
		assert.Equal(t, "s1", gs.ID)

		gs.Status = store.StatusFinished
		require.NoError(t, tx.UpdateSession(ctx, gs, gs.Version, gs.CurrentDuelIndex))
		_, err = tx.ActiveSessionForRoom(ctx, "room-1")
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, tx.DeleteSession(ctx, "s1"))
		assert.ErrorIs(t, tx.DeleteSession(ctx, "s1"), store.ErrNotFound)
		return nil
	})
}

func testVotes(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedSession(t, s, "s1")

	tx(t, s, func(tx store.Tx) error {
		require.NoError(t, tx.InsertVote(ctx, store.Vote{SessionID: "s1", ParticipantID: "p1", DuelIndex: 0, ItemID: "a"}))
		require.NoError(t, tx.InsertVote(ctx, store.Vote{SessionID: "s1", ParticipantID: "p2", DuelIndex: 0, ItemID: "b"}))
		require.NoError(t, tx.InsertVote(ctx, store.Vote{SessionID: "s1", ParticipantID: "p1", DuelIndex: 1, ItemID: "c"}))
		return nil
	})

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertVote(ctx, store.Vote{SessionID: "s1", ParticipantID: "p1", DuelIndex: 0, ItemID: "b"})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	tx(t, s, func(tx store.Tx) error {
		votes, err := tx.ListVotes(ctx, "s1", 0)
		require.NoError(t, err)
		assert.Len(t, votes, 2)

		all, err := tx.ListSessionVotes(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, 1, all[2].DuelIndex)

		require.NoError(t, tx.DeleteVotes(ctx, "s1", "p1", 1))
		all, err = tx.ListSessionVotes(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		require.NoError(t, tx.DeleteVotes(ctx, "s1", "", 0))
		all, err = tx.ListSessionVotes(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, all)
		return nil
	})
}

func testAcks(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedSession(t, s, "s1")

	tx(t, s, func(tx store.Tx) error {
		require.NoError(t, tx.InsertAck(ctx, store.Ack{SessionID: "s1", ParticipantID: "p1", DuelIndex: 0, Kind: store.AckNormal}))
		require.NoError(t, tx.InsertAck(ctx, store.Ack{SessionID: "s1", ParticipantID: "p2", DuelIndex: 0, Kind: store.AckNormal}))
		require.NoError(t, tx.InsertAck(ctx, store.Ack{SessionID: "s1", ParticipantID: "p1", DuelIndex: 1, Kind: store.AckTie}))
		return nil
	})

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertAck(ctx, store.Ack{SessionID: "s1", ParticipantID: "p2", DuelIndex: 0, Kind: store.AckNormal})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	tx(t, s, func(tx store.Tx) error {
		n, err := tx.CountAcks(ctx, "s1", 0)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		acks, err := tx.ListAcks(ctx, "s1", 1)
		require.NoError(t, err)
		require.Len(t, acks, 1)
		assert.Equal(t, store.AckTie, acks[0].Kind)

		require.NoError(t, tx.DeleteAcks(ctx, "s1", 0, "p2"))
		n, _ = tx.CountAcks(ctx, "s1", 0)
		assert.Equal(t, 1, n)

		require.NoError(t, tx.DeleteAcks(ctx, "s1", -1, ""))
		n, _ = tx.CountAcks(ctx, "s1", 0)
		assert.Zero(t, n)
		n, _ = tx.CountAcks(ctx, "s1", 1)
		assert.Zero(t, n)
		return nil
	})
}

func testRooms(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedRoom(t, s, "p1", "p2")

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.AddMember(ctx, store.RoomMember{RoomID: "room-1", ParticipantID: "p1"})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	// A duplicate member is reported without poisoning the transaction:
	// later writes in it still commit.
	tx(t, s, func(tx store.Tx) error {
		assert.ErrorIs(t, tx.AddMember(ctx, store.RoomMember{RoomID: "room-1", ParticipantID: "p2"}), store.ErrDuplicate)
		return tx.AddMember(ctx, store.RoomMember{RoomID: "room-1", ParticipantID: "p3"})
	})
	tx(t, s, func(tx store.Tx) error {
		return tx.RemoveMember(ctx, "room-1", "p3")
	})

	err = s.InTx(ctx, func(tx store.Tx) error {
		return tx.AddMember(ctx, store.RoomMember{RoomID: "nowhere", ParticipantID: "p1"})
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	tx(t, s, func(tx store.Tx) error {
		room, err := tx.GetRoom(ctx, "room-1")
		require.NoError(t, err)
		assert.Equal(t, "owner", room.OwnerID)

		require.NoError(t, tx.SetInGame(ctx, "room-1", true))
		members, err := tx.ListMembers(ctx, "room-1")
		require.NoError(t, err)
		require.Len(t, members, 2)
		for _, m := range members {
			assert.True(t, m.InGame, m.ParticipantID)
		}

		require.NoError(t, tx.SetMemberInGame(ctx, "room-1", "p2", false))
		assert.ErrorIs(t, tx.SetMemberInGame(ctx, "room-1", "ghost", false), store.ErrNotFound)

		require.NoError(t, tx.RemoveMember(ctx, "room-1", "p2"))
		assert.ErrorIs(t, tx.RemoveMember(ctx, "room-1", "p2"), store.ErrNotFound)
		members, _ = tx.ListMembers(ctx, "room-1")
		assert.Len(t, members, 1)

		require.NoError(t, tx.DeleteRoom(ctx, "room-1"))
		_, err = tx.GetRoom(ctx, "room-1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		members, _ = tx.ListMembers(ctx, "room-1")
		assert.Empty(t, members)
		return nil
	})
}

func testArchive(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := &store.Archive{
		SessionID:    "s1",
		RoomID:       "room-1",
		Champion:     engine.Item{ID: "a", Name: "A"},
		Participants: []string{"p1", "p2"},
		Duels: []store.ArchivedDuel{{
			Index:  0,
			Round:  1,
			Item1:  engine.Item{ID: "a", Name: "A"},
			Item2:  engine.Item{ID: "b", Name: "B"},
			Winner: "a",
			Tally:  engine.Tally{{ItemID: "a", Votes: 2}, {ItemID: "b", Votes: 0}},
			Votes:  []store.ArchivedVote{{ParticipantID: "p1", ItemID: "a"}, {ParticipantID: "p2", ItemID: "a"}},
		}},
		TotalRounds: 1,
		FinishedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Digest:      "abc",
	}
	tx(t, s, func(tx store.Tx) error { return tx.InsertArchive(ctx, a) })

	err := s.InTx(ctx, func(tx store.Tx) error { return tx.InsertArchive(ctx, a) })
	assert.ErrorIs(t, err, store.ErrDuplicate)

	tx(t, s, func(tx store.Tx) error {
		got, err := tx.GetArchive(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "a", got.Champion.ID)
		assert.Equal(t, a.Participants, got.Participants)
		require.Len(t, got.Duels, 1)
		assert.Equal(t, 2, got.Duels[0].Tally.Count("a"))
		assert.True(t, a.FinishedAt.Equal(got.FinishedAt))

		_, err = tx.GetArchive(ctx, "s2")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedSession(t, s, "s1")
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertVote(ctx, store.Vote{SessionID: "s1", ParticipantID: "p1", DuelIndex: 0, ItemID: "a"}); err != nil {
			return err
		}
		gs, err := tx.GetSession(ctx, "s1")
		if err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, gs, gs.Version, 0); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	tx(t, s, func(tx store.Tx) error {
		votes, err := tx.ListVotes(ctx, "s1", 0)
		require.NoError(t, err)
		assert.Empty(t, votes)
		gs, err := tx.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.EqualValues(t, 1, gs.Version)
		return nil
	})
}
