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

type AckRequest struct {
	SessionID     string
	ParticipantID string
	DuelIndex     int
	Kind          store.AckKind
}

type AckResult struct {
	Count            int            `json:"count"`
	Needed           int            `json:"needed"`
	Advanced         bool           `json:"advanced"`
	CurrentDuelIndex int            `json:"current_duel_index"`
	Snapshot         types.Snapshot `json:"snapshot"`
}

// Acknowledge records that a participant is ready to leave a resolved duel.
// When the quorum for the duel's kind is met the staged transition becomes the
// visible current duel.
func (s *Service) Acknowledge(ctx context.Context, req AckRequest) (AckResult, error) {
	if req.Kind != store.AckNormal && req.Kind != store.AckTie {
		return AckResult{}, apperr.New(apperr.CodeValidation, "unknown acknowledgment kind")
	}
	if req.SessionID == "" || req.DuelIndex < 0 {
		return AckResult{}, apperr.New(apperr.CodeValidation, "session and duel index are required")
	}
	log := s.log.With(
		zap.String("session_id", req.SessionID),
		zap.String("participant_id", req.ParticipantID),
		zap.Int("duel_index", req.DuelIndex),
		zap.String("kind", string(req.Kind)))

	var res AckResult
	err := s.withTx(ctx, func(tx store.Tx) error {
		res = AckResult{}
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
		if gs.State.Next == nil {
			return apperr.New(apperr.CodeDuelNotResolved, "duel is still open")
		}
		if want := ackKind(gs.State.Next); req.Kind != want {
			return apperr.WithMetadata(apperr.CodeValidation, "acknowledgment kind does not match the duel",
				map[string]string{"kind": string(req.Kind), "expected": string(want)})
		}

		err = tx.InsertAck(ctx, store.Ack{
			SessionID:     gs.ID,
			ParticipantID: req.ParticipantID,
			DuelIndex:     gs.CurrentDuelIndex,
			Kind:          req.Kind,
			CreatedAt:     s.now(),
		})
		if errors.Is(err, store.ErrDuplicate) {
			return apperr.New(apperr.CodeAlreadyAcknowledged, "participant already acknowledged this duel")
		}
		if err != nil {
			return storeErr("insert ack", err)
		}

		expVersion, expDuel := gs.Version, gs.CurrentDuelIndex
		res.Count, res.Needed, res.Advanced, err = s.tryRelease(ctx, tx, gs, len(members))
		if err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, gs, expVersion, expDuel); err != nil {
			return storeErr("update session", err)
		}
		res.CurrentDuelIndex = gs.CurrentDuelIndex
		res.Snapshot, err = snapshot(ctx, tx, gs)
		return err
	})
	if err != nil {
		s.metrics.Acks.WithLabelValues(string(req.Kind), string(apperr.CodeOf(err))).Inc()
		return AckResult{}, err
	}
	s.metrics.Acks.WithLabelValues(string(req.Kind), "accepted").Inc()

	typ := broadcast.Ack
	if req.Kind == store.AckTie {
		typ = broadcast.TieAck
	}
	events := []broadcast.Event{{
		Type:      typ,
		SessionID: req.SessionID,
		Version:   res.Snapshot.Version,
		Snapshot:  &res.Snapshot,
		Payload:   map[string]any{"count": res.Count, "needed": res.Needed},
	}}
	if res.Advanced {
		s.metrics.GateReleases.Inc()
		log.Info("duel released", zap.Int("current_duel_index", res.CurrentDuelIndex))
		events = append(events, duelChangedEvent(res.Snapshot))
	}
	s.publish(ctx, events...)
	return res, nil
}

// tryRelease counts the acknowledgments of the current resolved duel and, on
// quorum, makes the staged duel current and purges the duel's acknowledgments.
func (s *Service) tryRelease(ctx context.Context, tx store.Tx, gs *store.GameSession, members int) (count, needed int, released bool, err error) {
	count, err = tx.CountAcks(ctx, gs.ID, gs.CurrentDuelIndex)
	if err != nil {
		return 0, 0, false, storeErr("count acks", err)
	}
	needed = quorum(ackKind(gs.State.Next), members)
	if count < needed || needed == 0 {
		return count, needed, false, nil
	}

	completed := gs.CurrentDuelIndex
	_, next, err := engine.Apply(gs.State, engine.Command{Type: engine.CmdRelease})
	if err != nil {
		return 0, 0, false, engineErr(err)
	}
	gs.State = next
	gs.CurrentDuelIndex = next.CurrentDuel
	now := s.now()
	gs.SyncedAt = &now

	if err := tx.DeleteAcks(ctx, gs.ID, completed, ""); err != nil {
		return 0, 0, false, storeErr("purge acks", err)
	}
	return count, needed, true, nil
}

func duelChangedEvent(snap types.Snapshot) broadcast.Event {
	return broadcast.Event{
		Type:      broadcast.DuelChanged,
		SessionID: snap.SessionID,
		Version:   snap.Version,
		Snapshot:  &snap,
		Payload:   map[string]any{"current_duel_index": snap.CurrentDuelIndex},
	}
}
