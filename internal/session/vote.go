package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-tourney-backend/internal/apperr"
	"github.com/DoyleJ11/duel-tourney-backend/internal/broadcast"
	"github.com/DoyleJ11/duel-tourney-backend/internal/engine"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
	"github.com/DoyleJ11/duel-tourney-backend/internal/types"
)

type VoteRequest struct {
	SessionID     string
	ParticipantID string
	DuelIndex     int
	ItemID        string
}

type VoteResult struct {
	Tally    engine.Tally     `json:"tally"`
	Complete bool             `json:"complete"`
	Winner   string           `json:"winner,omitempty"`
	TieBreak *engine.TieBreak `json:"tie_break,omitempty"`
	Finished bool             `json:"finished"`
	Champion string           `json:"champion,omitempty"`
	Snapshot types.Snapshot   `json:"snapshot"`
}

// CastVote records one vote for the current duel. The vote that completes the
// duel also resolves it, stages the next transition and, for the final, finishes
// the tournament, all in the same transaction.
func (s *Service) CastVote(ctx context.Context, req VoteRequest) (VoteResult, error) {
	if req.SessionID == "" || req.ItemID == "" || req.DuelIndex < 0 {
		return VoteResult{}, apperr.New(apperr.CodeValidation, "session, duel index and item are required")
	}
	log := s.log.With(
		zap.String("session_id", req.SessionID),
		zap.String("participant_id", req.ParticipantID),
		zap.Int("duel_index", req.DuelIndex))

	var res VoteResult
	err := s.withTx(ctx, func(tx store.Tx) error {
		res = VoteResult{}
		gs, err := loadSession(ctx, tx, req.SessionID, true)
		if err != nil {
			return err
		}
		members, err := loadMembers(ctx, tx, gs.RoomID)
		if err != nil {
			return err
		}
		if err := requireMember(members, req.ParticipantID); err != nil {
			return err
		}
		if req.DuelIndex != gs.CurrentDuelIndex {
			return staleDuel(req.DuelIndex, gs.CurrentDuelIndex)
		}
		duel, ok := gs.State.Current()
		if !ok {
			return apperr.New(apperr.CodeInternal, "current duel out of range")
		}
		if gs.State.Next != nil {
			return apperr.Wrap(apperr.CodeStaleDuel, "voting is closed", engine.ErrDuelClosed)
		}
		if !duel.Has(req.ItemID) {
			return apperr.WithMetadata(apperr.CodeValidation, "item is not part of the duel", map[string]string{"item_id": req.ItemID})
		}

		err = tx.InsertVote(ctx, store.Vote{
			SessionID:     gs.ID,
			ParticipantID: req.ParticipantID,
			DuelIndex:     duel.Index,
			ItemID:        req.ItemID,
			CreatedAt:     s.now(),
		})
		if errors.Is(err, store.ErrDuplicate) {
			return apperr.New(apperr.CodeDuplicateVote, "participant already voted in this duel")
		}
		if err != nil {
			return storeErr("insert vote", err)
		}

		votes, err := tx.ListVotes(ctx, gs.ID, duel.Index)
		if err != nil {
			return storeErr("list votes", err)
		}
		res.Tally = engine.NewTally(duel, choices(votes))
		res.Complete = len(votes) >= len(members)

		expVersion, expDuel := gs.Version, gs.CurrentDuelIndex
		if res.Complete {
			out, err := s.resolve(ctx, tx, gs, members, res.Tally, log)
			if err != nil {
				return err
			}
			res.Winner, res.TieBreak, res.Finished = out.winner, out.tieBreak, out.finished
		}
		if err := tx.UpdateSession(ctx, gs, expVersion, expDuel); err != nil {
			return storeErr("update session", err)
		}
		if res.Snapshot, err = snapshot(ctx, tx, gs); err != nil {
			return err
		}
		if res.Finished {
			res.Champion = gs.State.Champion
			return s.teardown(ctx, tx, gs)
		}
		return nil
	})
	if err != nil {
		s.metrics.Votes.WithLabelValues(string(apperr.CodeOf(err))).Inc()
		return VoteResult{}, err
	}
	s.metrics.Votes.WithLabelValues("accepted").Inc()
	if res.Complete {
		s.countResolution(res.TieBreak)
	}

	events := []broadcast.Event{{
		Type:      broadcast.VoteTally,
		SessionID: req.SessionID,
		Version:   res.Snapshot.Version,
		Snapshot:  &res.Snapshot,
	}}
	if res.Finished {
		s.metrics.Sessions.WithLabelValues("finished").Inc()
		log.Info("tournament finished", zap.String("champion", res.Champion))
		events = append(events, finishedEvent(res.Snapshot))
	}
	s.publish(ctx, events...)
	return res, nil
}

func finishedEvent(snap types.Snapshot) broadcast.Event {
	return broadcast.Event{
		Type:      broadcast.SessionFinished,
		SessionID: snap.SessionID,
		Version:   snap.Version,
		Snapshot:  &snap,
		Payload:   map[string]any{"champion": snap.Champion},
	}
}

func (s *Service) countResolution(tb *engine.TieBreak) {
	kind := "plain"
	if tb != nil {
		kind = "tie"
	}
	s.metrics.Resolutions.WithLabelValues(kind).Inc()
}

type resolution struct {
	winner   string
	tieBreak *engine.TieBreak
	finished bool
}

// resolve decides the current duel from t, advances the bracket in gs and,
// when that was the final, archives the session and marks it finished. The
// caller persists gs afterwards.
func (s *Service) resolve(ctx context.Context, tx store.Tx, gs *store.GameSession, members []store.RoomMember, t engine.Tally, log *zap.Logger) (resolution, error) {
	duel, _ := gs.State.Current()
	winner, tb := engine.ResolveDuel(duel, t, s.coin)

	events, next, err := engine.Apply(gs.State, engine.Command{Type: engine.CmdRecordWinner, Winner: winner, TieBreak: tb})
	if err != nil {
		return resolution{}, engineErr(err)
	}
	if tb != nil {
		log.Info("duel tied, decided by coin flip", zap.String("coin", string(tb.Coin)), zap.String("winner", winner))
	}
	if engine.ContainsEvent(events, engine.EvtRoundCompleted) && len(next.Dropped) > len(gs.State.Dropped) {
		log.Warn("odd number of winners, trailing item leaves the bracket",
			zap.Strings("dropped", next.Dropped[len(gs.State.Dropped):]),
			zap.Int("round", next.CurrentRound))
	}
	gs.State = next
	out := resolution{winner: winner, tieBreak: tb}

	if !engine.ContainsEvent(events, engine.EvtTournamentCompleted) {
		return out, nil
	}

	votes, err := tx.ListSessionVotes(ctx, gs.ID)
	if err != nil {
		return resolution{}, storeErr("list session votes", err)
	}
	a, err := buildArchive(gs, votes, members, s.now())
	if err != nil {
		return resolution{}, apperr.Wrap(apperr.CodeInternal, "build archive", err)
	}
	if err := tx.InsertArchive(ctx, a); err != nil {
		// Archived twice means the session advanced twice; roll everything back.
		return resolution{}, apperr.Wrap(apperr.CodeInternal, "insert archive", err)
	}
	gs.Status = store.StatusFinished
	out.finished = true
	return out, nil
}

// teardown releases everything a finished session held. The archive is all
// that remains of it afterwards, besides the finished session row.
func (s *Service) teardown(ctx context.Context, tx store.Tx, gs *store.GameSession) error {
	if err := tx.SetInGame(ctx, gs.RoomID, false); err != nil {
		return storeErr("release members", err)
	}
	if err := tx.DeleteVotes(ctx, gs.ID, "", 0); err != nil {
		return storeErr("purge votes", err)
	}
	if err := tx.DeleteAcks(ctx, gs.ID, -1, ""); err != nil {
		return storeErr("purge acks", err)
	}
	if err := tx.DeleteRoom(ctx, gs.RoomID); err != nil {
		return storeErr("delete room", err)
	}
	return nil
}
