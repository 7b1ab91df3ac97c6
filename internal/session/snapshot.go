package session

import (
	"context"
	"errors"
	"maps"

	"github.com/DoyleJ11/duel-tourney-backend/internal/engine"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
	"github.com/DoyleJ11/duel-tourney-backend/internal/types"
)

// snapshot reads the observable state of gs inside tx. Callers that just wrote
// gs call it in the same transaction, so the published view is exactly what committed.
func snapshot(ctx context.Context, tx store.Tx, gs *store.GameSession) (types.Snapshot, error) {
	st := gs.State
	snap := types.Snapshot{
		SessionID:        gs.ID,
		RoomID:           gs.RoomID,
		Status:           string(gs.Status),
		Version:          gs.Version,
		CurrentRound:     st.CurrentRound,
		TotalRounds:      st.TotalRounds,
		CurrentDuelIndex: gs.CurrentDuelIndex,
		Next:             st.Next,
		Results:          maps.Clone(st.Results),
		Dropped:          st.Dropped,
		SyncedAt:         gs.SyncedAt,
		Participants:     []string{},
	}
	if snap.Results == nil {
		snap.Results = map[int]string{}
	}
	if st.Champion != "" {
		if it, ok := st.Item(st.Champion); ok {
			snap.Champion = &it
		}
	}

	duel, ok := st.Current()
	if !ok {
		return snap, nil
	}
	snap.CurrentDuel = duelView(st, duel)
	if tb, ok := st.TieBreakFor(duel.Index); ok {
		snap.TieBreak = &tb
	}

	if gs.Status == store.StatusFinished {
		// Votes and membership are torn down with the session; the archive keeps them.
		a, err := tx.GetArchive(ctx, gs.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return snap, storeErr("load archive", err)
		}
		if a != nil {
			snap.Participants = a.Participants
			for _, d := range a.Duels {
				if d.Index == duel.Index {
					snap.Tally = d.Tally
					snap.VotesCast = d.Tally.Total()
				}
			}
		}
		snap.VotingClosed = true
		return snap, nil
	}

	members, err := loadMembers(ctx, tx, gs.RoomID)
	if err != nil {
		return snap, err
	}
	votes, err := tx.ListVotes(ctx, gs.ID, duel.Index)
	if err != nil {
		return snap, storeErr("list votes", err)
	}

	for _, m := range members {
		snap.Participants = append(snap.Participants, m.ParticipantID)
	}
	snap.Tally = engine.NewTally(duel, choices(votes))
	snap.VotesCast = len(votes)
	snap.VotesNeeded = len(members)
	snap.VotingClosed = st.Next != nil || st.Finished()

	if st.Next != nil {
		kind := ackKind(st.Next)
		n, err := tx.CountAcks(ctx, gs.ID, duel.Index)
		if err != nil {
			return snap, storeErr("count acks", err)
		}
		snap.AckKind = string(kind)
		snap.AcksCount = n
		snap.AcksNeeded = quorum(kind, len(members))
	}
	return snap, nil
}

// personalize fills in what the requester did in the current duel.
func personalize(ctx context.Context, tx store.Tx, snap *types.Snapshot, participantID string) error {
	if participantID == "" || snap.Status == string(store.StatusFinished) {
		return nil
	}
	votes, err := tx.ListVotes(ctx, snap.SessionID, snap.CurrentDuelIndex)
	if err != nil {
		return storeErr("list votes", err)
	}
	for _, v := range votes {
		if v.ParticipantID == participantID {
			snap.MyVote = v.ItemID
		}
	}
	acks, err := tx.ListAcks(ctx, snap.SessionID, snap.CurrentDuelIndex)
	if err != nil {
		return storeErr("list acks", err)
	}
	for _, a := range acks {
		if a.ParticipantID == participantID {
			snap.MyAck = true
		}
	}
	return nil
}

func duelView(st engine.State, d engine.Duel) *types.DuelView {
	i1, _ := st.Item(d.Item1)
	i2, _ := st.Item(d.Item2)
	return &types.DuelView{Index: d.Index, Round: d.Round, Match: d.Match, Item1: i1, Item2: i2}
}

func choices(votes []store.Vote) []string {
	out := make([]string, len(votes))
	for i, v := range votes {
		out[i] = v.ItemID
	}
	return out
}

// GetState is an idempotent read of a session as seen by requester.
func (s *Service) GetState(ctx context.Context, sessionID, requester string) (types.Snapshot, error) {
	var snap types.Snapshot
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		gs, err := loadSession(ctx, tx, sessionID, false)
		if err != nil {
			return err
		}
		snap, err = snapshot(ctx, tx, gs)
		if err != nil {
			return err
		}
		return personalize(ctx, tx, &snap, requester)
	})
	return snap, err
}

// Snapshot is the broadcast view of a session; it backs reconnect resyncs.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (types.Snapshot, error) {
	return s.GetState(ctx, sessionID, "")
}
