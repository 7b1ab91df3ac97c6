// Package ws streams session events over a websocket and accepts votes and
// continue acknowledgments from the same connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/DoyleJ11/duel-tourney-backend/internal/apperr"
	"github.com/DoyleJ11/duel-tourney-backend/internal/broadcast"
	"github.com/DoyleJ11/duel-tourney-backend/internal/hub"
	"github.com/DoyleJ11/duel-tourney-backend/internal/lobby"
	"github.com/DoyleJ11/duel-tourney-backend/internal/session"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
	"github.com/DoyleJ11/duel-tourney-backend/internal/types"
)

// Sessions is the part of session.Service a connection drives.
type Sessions interface {
	CastVote(ctx context.Context, req session.VoteRequest) (session.VoteResult, error)
	Acknowledge(ctx context.Context, req session.AckRequest) (session.AckResult, error)
}

type Options struct {
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	DefaultLocale language.Tag
	// OriginPatterns is passed to websocket.Accept; empty means same-origin only.
	OriginPatterns []string
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.DefaultLocale == language.Und {
		o.DefaultLocale = language.English
	}
	return o
}

func Handler(h *hub.Hub, svc Sessions, resync *broadcast.Resyncer, opts Options, log *zap.Logger) http.HandlerFunc {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sessionID := q.Get("session")
		participant := q.Get("participant")
		if participant == "" {
			participant = r.Header.Get("X-Participant-ID")
		}
		tag := apperr.ResolveTag(q.Get("lang"), r.Header.Get("Accept-Language"), opts.DefaultLocale)
		if sessionID == "" {
			writeProblem(w, apperr.New(apperr.CodeValidation, "missing session"), tag)
			return
		}

		initial, err := resync.Resync(r.Context(), sessionID)
		if err != nil {
			writeProblem(w, err, tag)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		c := &client{
			conn:        conn,
			svc:         svc,
			resync:      resync,
			opts:        opts,
			tag:         tag,
			sessionID:   sessionID,
			participant: participant,
			replies:     make(chan types.ServerMessage, 8),
			log: log.With(
				zap.String("session_id", sessionID),
				zap.String("participant_id", participant),
				zap.String("client_id", clientID)),
		}
		c.replies <- eventMessage(initial)

		// A finished session never changes again; the snapshot is all there is.
		if initial.Snapshot != nil && initial.Snapshot.Status == string(store.StatusFinished) {
			c.write(r.Context(), <-c.replies)
			conn.Close(websocket.StatusNormalClosure, "session finished")
			return
		}

		out := make(chan broadcast.Event, 16)
		lb, err := join(r.Context(), h, sessionID, lobby.Join{ClientID: clientID, Outbox: out})
		if err != nil {
			conn.Close(websocket.StatusTryAgainLater, "session unavailable")
			return
		}
		defer func() {
			select {
			case lb.Inbox() <- lobby.Leave{ClientID: clientID}:
			case <-lb.Done():
			}
		}()
		c.log.Debug("client connected")

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go c.writeLoop(writeCtx, out, lb.Done())

		c.readLoop(r.Context(), writeCtx)
	}
}

// join registers the client with the session's lobby. A lobby reaped between
// lookup and Join is replaced once.
func join(ctx context.Context, h *hub.Hub, sessionID string, j lobby.Join) (*lobby.Lobby, error) {
	for attempt := 0; ; attempt++ {
		lb, err := h.Lobby(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if attempt > 1 {
			return nil, errors.New("lobby stopped")
		}
		// The inbox is buffered, so a send can still succeed on a stopped lobby.
		select {
		case <-lb.Done():
			continue
		default:
		}
		select {
		case lb.Inbox() <- j:
			return lb, nil
		case <-lb.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type client struct {
	conn        *websocket.Conn
	svc         Sessions
	resync      *broadcast.Resyncer
	opts        Options
	tag         language.Tag
	sessionID   string
	participant string
	replies     chan types.ServerMessage
	log         *zap.Logger
}

// writeLoop is the only writer of the connection.
func (c *client) writeLoop(ctx context.Context, out <-chan broadcast.Event, lobbyDone <-chan struct{}) {
	var last broadcast.Type
	for {
		select {
		case <-ctx.Done():
			return

		case <-lobbyDone:
			// A stopping lobby closes our outbox first, unless it stopped before
			// it ever read our Join.
			lobbyDone = nil
			select {
			case e, ok := <-out:
				if ok {
					last = e.Type
					if !c.write(ctx, eventMessage(e)) {
						return
					}
					continue
				}
				c.closeOutbox(last)
			default:
				c.conn.Close(websocket.StatusTryAgainLater, "lobby closed, reconnect to resync")
			}
			return

		case msg := <-c.replies:
			if !c.write(ctx, msg) {
				return
			}

		case e, ok := <-out:
			if !ok {
				c.closeOutbox(last)
				return
			}
			last = e.Type
			if !c.write(ctx, eventMessage(e)) {
				return
			}
		}
	}
}

// closeOutbox ends the connection once the lobby closed our outbox: the session
// ended or we fell behind.
func (c *client) closeOutbox(last broadcast.Type) {
	if last.Terminal() {
		c.conn.Close(websocket.StatusNormalClosure, "session over")
	} else {
		c.conn.Close(websocket.StatusTryAgainLater, "too slow, reconnect to resync")
	}
}

func (c *client) write(ctx context.Context, msg types.ServerMessage) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("encode message", zap.Error(err))
		return true
	}
	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, payload); err != nil {
		c.log.Debug("write failed", zap.Error(err))
		return false
	}
	return true
}

func (c *client) readLoop(ctx, writeCtx context.Context) {
	for {
		rctx, cancel := context.WithTimeout(ctx, c.opts.ReadTimeout)
		_, data, err := c.conn.Read(rctx)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					c.log.Debug("read failed", zap.Error(err))
				}
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.reply(writeCtx, errorMessage(apperr.New(apperr.CodeValidation, "bad json"), c.tag))
			continue
		}
		c.reply(writeCtx, c.handle(ctx, cm))
	}
}

func (c *client) reply(ctx context.Context, msg types.ServerMessage) {
	select {
	case c.replies <- msg:
	case <-ctx.Done():
	}
}

func (c *client) handle(ctx context.Context, cm types.ClientMessage) types.ServerMessage {
	switch cm.Type {
	case "Vote", "Continue", "TieContinue":
		if cm.DuelIndex == nil {
			return errorMessage(apperr.WithMetadata(apperr.CodeValidation, "duel_index is required",
				map[string]string{"type": cm.Type}), c.tag)
		}
	}

	switch cm.Type {
	case "Vote":
		res, err := c.svc.CastVote(ctx, session.VoteRequest{
			SessionID:     c.sessionID,
			ParticipantID: c.participant,
			DuelIndex:     *cm.DuelIndex,
			ItemID:        cm.ItemID,
		})
		if err != nil {
			return c.failed(err)
		}
		return resultMessage(res.Snapshot, res)

	case "Continue", "TieContinue":
		kind := store.AckNormal
		if cm.Type == "TieContinue" {
			kind = store.AckTie
		}
		res, err := c.svc.Acknowledge(ctx, session.AckRequest{
			SessionID:     c.sessionID,
			ParticipantID: c.participant,
			DuelIndex:     *cm.DuelIndex,
			Kind:          kind,
		})
		if err != nil {
			return c.failed(err)
		}
		return resultMessage(res.Snapshot, res)

	case "Sync":
		e, err := c.resync.Resync(ctx, c.sessionID)
		if err != nil {
			return c.failed(err)
		}
		return eventMessage(e)

	default:
		return errorMessage(apperr.WithMetadata(apperr.CodeValidation, "unknown message type",
			map[string]string{"type": cm.Type}), c.tag)
	}
}

func (c *client) failed(err error) types.ServerMessage {
	if apperr.CodeOf(err) == apperr.CodeInternal {
		c.log.Error("request failed", zap.Error(err))
	}
	return errorMessage(err, c.tag)
}

func eventMessage(e broadcast.Event) types.ServerMessage {
	msg := types.ServerMessage{Type: string(e.Type), Version: e.Version, Snapshot: e.Snapshot}
	if len(e.Payload) > 0 {
		msg.Payload = e.Payload
	}
	return msg
}

func resultMessage(snap types.Snapshot, payload any) types.ServerMessage {
	return types.ServerMessage{Type: "Result", Version: snap.Version, Snapshot: &snap, Payload: payload}
}

func errorMessage(err error, tag language.Tag) types.ServerMessage {
	return types.ServerMessage{Type: "Error", Error: types.ProblemFor(err, tag)}
}

func writeProblem(w http.ResponseWriter, err error, tag language.Tag) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.CodeOf(err).HTTPStatus())
	_ = json.NewEncoder(w).Encode(types.ProblemFor(err, tag))
}
