package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-tourney-backend/internal/apperr"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
)

// CreateRoom opens a room owned by requester, who becomes its first member.
func (s *Service) CreateRoom(ctx context.Context, requester, name string) (*store.Room, error) {
	if requester == "" {
		return nil, apperr.New(apperr.CodeUnauthenticated, "missing participant")
	}
	room := &store.Room{ID: s.newID(), OwnerID: requester, Name: name}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateRoom(ctx, room); err != nil {
			return storeErr("create room", err)
		}
		if err := tx.AddMember(ctx, store.RoomMember{RoomID: room.ID, ParticipantID: requester}); err != nil {
			return storeErr("add owner", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("room created", zap.String("room_id", room.ID), zap.String("owner_id", requester))
	return room, nil
}

// JoinRoom adds requester to a room. Joining twice is a no-op. Rooms are closed
// to newcomers while a session runs, since quorums follow membership.
func (s *Service) JoinRoom(ctx context.Context, roomID, requester string) error {
	if requester == "" {
		return apperr.New(apperr.CodeUnauthenticated, "missing participant")
	}
	return s.store.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.ActiveSessionForRoom(ctx, roomID)
		switch {
		case err == nil:
			return apperr.New(apperr.CodeActiveSessionExists, "room has a running session")
		case !errors.Is(err, store.ErrNotFound):
			return storeErr("find active session", err)
		}
		err = tx.AddMember(ctx, store.RoomMember{RoomID: roomID, ParticipantID: requester})
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return nil
		case errors.Is(err, store.ErrNotFound):
			return apperr.WithMetadata(apperr.CodeNotFound, "room not found", map[string]string{"room_id": roomID})
		case err != nil:
			return storeErr("add member", err)
		}
		return nil
	})
}
