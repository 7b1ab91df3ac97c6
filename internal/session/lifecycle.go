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

// Cancel tears a running session down without archiving it. The room stays.
func (s *Service) Cancel(ctx context.Context, sessionID, requester string) error {
	var version int64
	err := s.withTx(ctx, func(tx store.Tx) error {
		gs, err := loadSession(ctx, tx, sessionID, true)
		if err != nil {
			return err
		}
		if _, err := requireOwner(ctx, tx, gs.RoomID, requester); err != nil {
			return err
		}
		if err := tx.DeleteVotes(ctx, gs.ID, "", 0); err != nil {
			return storeErr("delete votes", err)
		}
		if err := tx.DeleteAcks(ctx, gs.ID, -1, ""); err != nil {
			return storeErr("delete acks", err)
		}
		if err := tx.SetInGame(ctx, gs.RoomID, false); err != nil {
			return storeErr("release members", err)
		}
		if err := tx.DeleteSession(ctx, gs.ID); err != nil {
			return storeErr("delete session", err)
		}
		version = gs.Version + 1
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.Sessions.WithLabelValues("cancelled").Inc()
	s.log.Info("session cancelled", zap.String("session_id", sessionID), zap.String("by", requester))
	s.publish(ctx, broadcast.Event{
		Type:      broadcast.SessionCancelled,
		SessionID: sessionID,
		Version:   version,
		Payload:   map[string]any{"cancelled_by": requester},
	})
	return nil
}

type ExcludeRequest struct {
	SessionID     string
	RequesterID   string
	ParticipantID string
}

type ExcludeResult struct {
	Resolved bool           `json:"resolved"`
	Released bool           `json:"released"`
	Finished bool           `json:"finished"`
	Snapshot types.Snapshot `json:"snapshot"`
}

// Exclude removes a participant from a running session and its room. Quorums
// shrink with the room, so a duel that was only waiting on that participant is
// resolved, or released, right away.
func (s *Service) Exclude(ctx context.Context, req ExcludeRequest) (ExcludeResult, error) {
	if req.ParticipantID == "" {
		return ExcludeResult{}, apperr.New(apperr.CodeValidation, "participant is required")
	}
	if req.ParticipantID == req.RequesterID {
		return ExcludeResult{}, apperr.New(apperr.CodeValidation, "the owner cannot exclude themselves")
	}
	log := s.log.With(zap.String("session_id", req.SessionID), zap.String("participant_id", req.ParticipantID))

	var res ExcludeResult
	var tieBreak *engine.TieBreak
	err := s.withTx(ctx, func(tx store.Tx) error {
		res, tieBreak = ExcludeResult{}, nil
		gs, err := loadSession(ctx, tx, req.SessionID, true)
		if err != nil {
			return err
		}
		if _, err := requireOwner(ctx, tx, gs.RoomID, req.RequesterID); err != nil {
			return err
		}

		err = tx.SetMemberInGame(ctx, gs.RoomID, req.ParticipantID, false)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.WithMetadata(apperr.CodeNotFound, "participant is not a room member",
				map[string]string{"participant_id": req.ParticipantID})
		}
		if err != nil {
			return storeErr("release member", err)
		}
		if err := tx.RemoveMember(ctx, gs.RoomID, req.ParticipantID); err != nil {
			return storeErr("remove member", err)
		}

		// Votes on resolved duels stay: they are part of the history.
		fromDuel := gs.CurrentDuelIndex
		if gs.State.Next != nil {
			fromDuel++
		}
		if err := tx.DeleteVotes(ctx, gs.ID, req.ParticipantID, fromDuel); err != nil {
			return storeErr("delete votes", err)
		}
		if err := tx.DeleteAcks(ctx, gs.ID, -1, req.ParticipantID); err != nil {
			return storeErr("delete acks", err)
		}

		members, err := loadMembers(ctx, tx, gs.RoomID)
		if err != nil {
			return err
		}
		expVersion, expDuel := gs.Version, gs.CurrentDuelIndex

		if gs.State.Next == nil {
			duel, _ := gs.State.Current()
			votes, err := tx.ListVotes(ctx, gs.ID, duel.Index)
			if err != nil {
				return storeErr("list votes", err)
			}
			if len(votes) > 0 && len(votes) >= len(members) {
				out, err := s.resolve(ctx, tx, gs, members, engine.NewTally(duel, choices(votes)), log)
				if err != nil {
					return err
				}
				res.Resolved, res.Finished, tieBreak = true, out.finished, out.tieBreak
			}
		} else {
			_, _, res.Released, err = s.tryRelease(ctx, tx, gs, len(members))
			if err != nil {
				return err
			}
		}

		if err := tx.UpdateSession(ctx, gs, expVersion, expDuel); err != nil {
			return storeErr("update session", err)
		}
		if res.Snapshot, err = snapshot(ctx, tx, gs); err != nil {
			return err
		}
		if res.Finished {
			return s.teardown(ctx, tx, gs)
		}
		return nil
	})
	if err != nil {
		return ExcludeResult{}, err
	}

	log.Info("participant excluded",
		zap.Bool("resolved", res.Resolved),
		zap.Bool("released", res.Released),
		zap.Bool("finished", res.Finished))

	snap := res.Snapshot
	events := []broadcast.Event{{
		Type:      broadcast.ParticipantExcluded,
		SessionID: req.SessionID,
		Version:   snap.Version,
		Snapshot:  &snap,
		Payload:   map[string]any{"participant_id": req.ParticipantID},
	}}
	switch {
	case res.Finished:
		s.countResolution(tieBreak)
		s.metrics.Sessions.WithLabelValues("finished").Inc()
		events = append(events, finishedEvent(snap))
	case res.Resolved:
		s.countResolution(tieBreak)
		events = append(events, broadcast.Event{Type: broadcast.VoteTally, SessionID: req.SessionID, Version: snap.Version, Snapshot: &snap})
	case res.Released:
		s.metrics.GateReleases.Inc()
		events = append(events, duelChangedEvent(snap))
	}
	s.publish(ctx, events...)
	return res, nil
}
