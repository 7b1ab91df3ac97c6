// Package hub owns the lobby actors of this process, one per observed session.
// It is the in-process broadcast.Publisher.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-tourney-backend/internal/broadcast"
	"github.com/DoyleJ11/duel-tourney-backend/internal/lobby"
	"github.com/DoyleJ11/duel-tourney-backend/internal/metrics"
)

type HubMsg interface{ isHubMsg() }

type GetLobby struct {
	SessionID string
	Reply     chan *lobby.Lobby
}

// EnsureLobby returns the session's lobby, starting it if needed.
type EnsureLobby struct {
	SessionID string
	Reply     chan *lobby.Lobby
}

type RemoveLobby struct {
	SessionID string
}

type Publish struct {
	Event broadcast.Event
}

type ShutdownHub struct{}

func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (Publish) isHubMsg()     {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	log     *zap.Logger
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ broadcast.Publisher = (*Hub)(nil)

func NewHub(parent context.Context, log *zap.Logger, m *metrics.Metrics) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 256),
		lobbies: make(map[string]*lobby.Lobby),
		log:     log.Named("hub"),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Publish hands the event to the hub actor. Sessions nobody observes are skipped.
func (h *Hub) Publish(ctx context.Context, e broadcast.Event) error {
	select {
	case h.inbox <- Publish{Event: e}:
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lobby is the request/reply form of EnsureLobby.
func (h *Hub) Lobby(ctx context.Context, sessionID string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	select {
	case h.inbox <- EnsureLobby{SessionID: sessionID, Reply: reply}:
	case <-h.ctx.Done():
		return nil, h.ctx.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case lb := <-reply:
		return lb, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetLobby:
				msg.Reply <- h.live(msg.SessionID) // May be nil

			case EnsureLobby:
				if lb := h.live(msg.SessionID); lb != nil {
					msg.Reply <- lb
					break
				}
				lb := lobby.NewLobby(h.ctx, msg.SessionID, h.log, h.onDrop)
				h.lobbies[msg.SessionID] = lb
				msg.Reply <- lb

			case RemoveLobby:
				if lb := h.lobbies[msg.SessionID]; lb != nil {
					deliver(lb, lobby.Shutdown{})
					delete(h.lobbies, msg.SessionID)
				}

			case Publish:
				if h.metrics != nil {
					h.metrics.BroadcastEvents.WithLabelValues(string(msg.Event.Type)).Inc()
				}
				lb := h.live(msg.Event.SessionID)
				if lb == nil {
					break
				}
				deliver(lb, lobby.Publish{Event: msg.Event})
				if msg.Event.Type.Terminal() {
					// Clients get the terminal event before their outbox is closed.
					deliver(lb, lobby.Shutdown{})
					delete(h.lobbies, msg.Event.SessionID)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// live returns the lobby for a session unless it has already stopped.
func (h *Hub) live(sessionID string) *lobby.Lobby {
	lb := h.lobbies[sessionID]
	if lb == nil {
		return nil
	}
	select {
	case <-lb.Done():
		delete(h.lobbies, sessionID)
		return nil
	default:
		return lb
	}
}

// deliver gives up once the lobby has stopped; a reaped lobby never drains its inbox.
func deliver(lb *lobby.Lobby, m lobby.Msg) {
	select {
	case lb.Inbox() <- m:
	case <-lb.Done():
	}
}

func (h *Hub) onDrop(string) {
	if h.metrics != nil {
		h.metrics.BroadcastDrops.Inc()
	}
}

func (h *Hub) shutdown() {
	for id, lb := range h.lobbies {
		deliver(lb, lobby.Shutdown{})
		delete(h.lobbies, id)
	}
	h.cancel()
}
