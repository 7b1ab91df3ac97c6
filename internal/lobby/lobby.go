// Package lobby runs one actor per observed session. It fans events out to the
// connected clients of that session and remembers the newest one for late joiners.
// The actor stops on its own when its last client leaves.
package lobby

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-tourney-backend/internal/broadcast"
)

type Msg interface{ isLobbyMsg() }

type Publish struct {
	Event broadcast.Event
}

func (Publish) isLobbyMsg() {}

type Join struct {
	ClientID string
	Outbox   chan broadcast.Event // where this client wants to receive events
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type View struct {
	SessionID  string
	Version    int64
	NumClients int
	Latest     *broadcast.Event
}

type Lobby struct {
	sessionID string
	inbox     chan Msg
	latest    *broadcast.Event
	clients   map[string]chan broadcast.Event
	onDrop    func(clientID string)
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewLobby starts the actor. onDrop, if set, is called for every client cut off
// because its outbox was full.
func NewLobby(parent context.Context, sessionID string, log *zap.Logger, onDrop func(clientID string)) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}

	l := &Lobby{
		sessionID: sessionID,
		inbox:     make(chan Msg, 64),
		clients:   make(map[string]chan broadcast.Event),
		onDrop:    onDrop,
		log:       log.With(zap.String("session_id", sessionID)),
		ctx:       ctx,
		cancel:    cancel,
	}

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.clients[msg.ClientID] = msg.Outbox
				if l.latest != nil && !l.send(msg.ClientID, msg.Outbox, *l.latest) && l.reap() {
					return
				}

			case Leave:
				delete(l.clients, msg.ClientID)
				if l.reap() {
					return
				}

			case Publish:
				e := msg.Event
				if l.latest != nil && e.Version < l.latest.Version {
					// Snapshots are read in the writing transaction, so an older
					// version can only describe a state that is already superseded.
					l.log.Debug("dropping stale event",
						zap.String("type", string(e.Type)),
						zap.Int64("version", e.Version),
						zap.Int64("latest", l.latest.Version))
					break
				}
				l.latest = &e
				dropped := false
				for id, ch := range l.clients {
					if !l.send(id, ch, e) {
						dropped = true
					}
				}
				if dropped && l.reap() {
					return
				}

			case GetState:
				// test-only: reflect internal state without data races
				v := View{SessionID: l.sessionID, NumClients: len(l.clients), Latest: l.latest}
				if l.latest != nil {
					v.Version = l.latest.Version
				}
				msg.Reply <- v

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

// send reports false when the client was dropped instead.
func (l *Lobby) send(id string, ch chan broadcast.Event, e broadcast.Event) bool {
	select {
	case ch <- e:
		return true
	default:
		// Client is slow/full - drop them. It resyncs from the store on reconnect.
		close(ch)
		delete(l.clients, id)
		l.log.Info("dropped slow client", zap.String("client_id", id))
		if l.onDrop != nil {
			l.onDrop(id)
		}
		return false
	}
}

// reap stops the actor once its last client is gone. The hub notices through
// Done and starts a fresh lobby for the next joiner, who resyncs from the store.
func (l *Lobby) reap() bool {
	if len(l.clients) > 0 {
		return false
	}
	l.log.Debug("last client left, stopping lobby")
	l.shutdown()
	return true
}

func (l *Lobby) shutdown() {
	for id, ch := range l.clients {
		close(ch) // Tell client no more events
		delete(l.clients, id)
	}
	l.cancel()
}

// Inbox exposes the inbox so the hub, tests or the WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the actor has stopped.
func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }
