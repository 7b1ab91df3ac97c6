package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-tourney-backend/internal/apperr"
	"github.com/DoyleJ11/duel-tourney-backend/internal/engine"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
	"github.com/DoyleJ11/duel-tourney-backend/internal/types"
)

type StartRequest struct {
	RoomID       string
	ItemSourceID string
	RequesterID  string
}

type StartResult struct {
	SessionID  string         `json:"session_id"`
	DuelCount  int            `json:"duel_count"`
	RoundCount int            `json:"round_count"`
	Dropped    []string       `json:"dropped,omitempty"`
	Snapshot   types.Snapshot `json:"snapshot"`
}

// StartSession builds a bracket from an item source and opens the first duel
// for the members of the room.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (StartResult, error) {
	if req.RoomID == "" || req.ItemSourceID == "" {
		return StartResult{}, apperr.New(apperr.CodeValidation, "room and item source are required")
	}
	its, err := s.items.Items(ctx, req.ItemSourceID)
	if err != nil {
		return StartResult{}, itemsErr(req.ItemSourceID, err)
	}
	state, err := engine.BuildBracket(req.RoomID, its, s.rng)
	if err != nil {
		return StartResult{}, engineErr(err)
	}
	log := s.log.With(zap.String("room_id", req.RoomID))
	if len(state.Dropped) > 0 {
		log.Warn("odd number of items, trailing item left out of the bracket", zap.Strings("dropped", state.Dropped))
	}

	var res StartResult
	err = s.withTx(ctx, func(tx store.Tx) error {
		if _, err := requireOwner(ctx, tx, req.RoomID, req.RequesterID); err != nil {
			return err
		}
		members, err := loadMembers(ctx, tx, req.RoomID)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return apperr.New(apperr.CodeValidation, "room has no members")
		}
		_, err = tx.ActiveSessionForRoom(ctx, req.RoomID)
		switch {
		case err == nil:
			return apperr.New(apperr.CodeActiveSessionExists, "room already has a running session")
		case !errors.Is(err, store.ErrNotFound):
			return storeErr("find active session", err)
		}

		gs := &store.GameSession{
			ID:               s.newID(),
			RoomID:           req.RoomID,
			Status:           store.StatusInProgress,
			CurrentDuelIndex: state.CurrentDuel,
			State:            state.Clone(),
		}
		err = tx.CreateSession(ctx, gs)
		if errors.Is(err, store.ErrDuplicate) {
			// Lost the race for the room's single in-progress slot.
			return apperr.New(apperr.CodeActiveSessionExists, "room already has a running session")
		}
		if err != nil {
			return storeErr("create session", err)
		}
		if err := tx.SetInGame(ctx, req.RoomID, true); err != nil {
			return storeErr("flag members in game", err)
		}

		snap, err := snapshot(ctx, tx, gs)
		if err != nil {
			return err
		}
		res = StartResult{
			SessionID:  gs.ID,
			DuelCount:  len(state.Duels),
			RoundCount: state.TotalRounds,
			Dropped:    state.Dropped,
			Snapshot:   snap,
		}
		return nil
	})
	if err != nil {
		return StartResult{}, err
	}
	s.metrics.Sessions.WithLabelValues("started").Inc()
	log.Info("session started",
		zap.String("session_id", res.SessionID),
		zap.Int("duels", res.DuelCount),
		zap.Int("rounds", res.RoundCount))
	return res, nil
}
