// Package httpapi exposes rooms and tournament sessions over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-tourney-backend/internal/apperr"
	"github.com/DoyleJ11/duel-tourney-backend/internal/session"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
	"github.com/DoyleJ11/duel-tourney-backend/internal/types"
)

// Sessions is implemented by *session.Service.
type Sessions interface {
	CreateRoom(ctx context.Context, requester, name string) (*store.Room, error)
	JoinRoom(ctx context.Context, roomID, requester string) error
	StartSession(ctx context.Context, req session.StartRequest) (session.StartResult, error)
	GetState(ctx context.Context, sessionID, requester string) (types.Snapshot, error)
	CastVote(ctx context.Context, req session.VoteRequest) (session.VoteResult, error)
	Acknowledge(ctx context.Context, req session.AckRequest) (session.AckResult, error)
	Cancel(ctx context.Context, sessionID, requester string) error
	Exclude(ctx context.Context, req session.ExcludeRequest) (session.ExcludeResult, error)
	FinalResults(ctx context.Context, sessionID string) (*store.Archive, error)
}

type API struct {
	sessions Sessions
	log      *zap.Logger
}

type createRoomBody struct {
	Name string `json:"name"`
}

type startBody struct {
	RoomID       string `json:"room_id"`
	ItemSourceID string `json:"item_source_id"`
}

type voteBody struct {
	DuelIndex *int   `json:"duel_index"`
	ItemID    string `json:"item_id"`
}

type ackBody struct {
	DuelIndex *int `json:"duel_index"`
}

func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var body createRoomBody
	if !a.decode(w, r, &body, true) {
		return
	}
	room, err := a.sessions.CreateRoom(r.Context(), Participant(r.Context()), body.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"room_id": room.ID, "owner_id": room.OwnerID, "name": room.Name})
}

func (a *API) JoinRoom(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.JoinRoom(r.Context(), chi.URLParam(r, "roomID"), Participant(r.Context())); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) StartSession(w http.ResponseWriter, r *http.Request) {
	var body startBody
	if !a.decode(w, r, &body, false) {
		return
	}
	res, err := a.sessions.StartSession(r.Context(), session.StartRequest{
		RoomID:       body.RoomID,
		ItemSourceID: body.ItemSourceID,
		RequesterID:  Participant(r.Context()),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) GetState(w http.ResponseWriter, r *http.Request) {
	snap, err := a.sessions.GetState(r.Context(), chi.URLParam(r, "sessionID"), Participant(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) CastVote(w http.ResponseWriter, r *http.Request) {
	var body voteBody
	if !a.decode(w, r, &body, false) {
		return
	}
	if body.DuelIndex == nil {
		a.fail(w, r, apperr.New(apperr.CodeValidation, "duel_index is required"))
		return
	}
	res, err := a.sessions.CastVote(r.Context(), session.VoteRequest{
		SessionID:     chi.URLParam(r, "sessionID"),
		ParticipantID: Participant(r.Context()),
		DuelIndex:     *body.DuelIndex,
		ItemID:        body.ItemID,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) Continue(w http.ResponseWriter, r *http.Request) { a.acknowledge(w, r, store.AckNormal) }

func (a *API) TieContinue(w http.ResponseWriter, r *http.Request) { a.acknowledge(w, r, store.AckTie) }

func (a *API) acknowledge(w http.ResponseWriter, r *http.Request, kind store.AckKind) {
	var body ackBody
	if !a.decode(w, r, &body, false) {
		return
	}
	if body.DuelIndex == nil {
		a.fail(w, r, apperr.New(apperr.CodeValidation, "duel_index is required"))
		return
	}
	res, err := a.sessions.Acknowledge(r.Context(), session.AckRequest{
		SessionID:     chi.URLParam(r, "sessionID"),
		ParticipantID: Participant(r.Context()),
		DuelIndex:     *body.DuelIndex,
		Kind:          kind,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Cancel(r.Context(), chi.URLParam(r, "sessionID"), Participant(r.Context())); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) Exclude(w http.ResponseWriter, r *http.Request) {
	res, err := a.sessions.Exclude(r.Context(), session.ExcludeRequest{
		SessionID:     chi.URLParam(r, "sessionID"),
		RequesterID:   Participant(r.Context()),
		ParticipantID: chi.URLParam(r, "participantID"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) FinalResults(w http.ResponseWriter, r *http.Request) {
	archive, err := a.sessions.FinalResults(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, archive)
}

func Healthz(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

// decode reads a JSON body into v. An empty body is accepted when optional is set.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	a.fail(w, r, apperr.Wrap(apperr.CodeValidation, "invalid JSON body", err))
	return false
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.CodeInternal {
		a.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("participant_id", Participant(r.Context())),
			zap.Error(err))
	} else {
		a.log.Debug("request rejected", zap.String("code", string(code)), zap.Error(err))
	}
	writeJSON(w, code.HTTPStatus(), types.ProblemFor(err, Locale(r.Context())))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
