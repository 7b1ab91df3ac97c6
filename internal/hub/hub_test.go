package hub

import (
	"context"
	"testing"
	"time"

	"github.com/DoyleJ11/duel-tourney-backend/internal/broadcast"
	"github.com/DoyleJ11/duel-tourney-backend/internal/lobby"
	"github.com/DoyleJ11/duel-tourney-backend/internal/metrics"
)

func recvEvent(t *testing.T, ch <-chan broadcast.Event) (broadcast.Event, bool) {
	t.Helper()
	select {
	case e, ok := <-ch:
		return e, ok
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
		return broadcast.Event{}, false
	}
}

func TestHub_Ensure_Get_SamePointer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil, nil)
	reply := make(chan *lobby.Lobby, 1)

	h.Inbox() <- EnsureLobby{SessionID: "s1", Reply: reply}
	lb1 := <-reply

	h.Inbox() <- GetLobby{SessionID: "s1", Reply: reply}
	lb2 := <-reply

	if lb1 == nil || lb2 == nil || lb1 != lb2 {
		t.Fatalf("expected same lobby pointer")
	}

	h.Inbox() <- GetLobby{SessionID: "unknown", Reply: reply}
	if lb := <-reply; lb != nil {
		t.Fatalf("expected no lobby for an unobserved session")
	}
}

func TestHub_Publish_ReachesSessionObservers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil, metrics.New())

	lb, err := h.Lobby(ctx, "s1")
	if err != nil {
		t.Fatalf("lobby: %v", err)
	}
	out := make(chan broadcast.Event, 4)
	lb.Inbox() <- lobby.Join{ClientID: "c1", Outbox: out}

	// events of other sessions are not delivered here
	if err := h.Publish(ctx, broadcast.Event{Type: broadcast.VoteTally, SessionID: "s2", Version: 9}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := h.Publish(ctx, broadcast.Event{Type: broadcast.VoteTally, SessionID: "s1", Version: 2}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	e, ok := recvEvent(t, out)
	if !ok || e.SessionID != "s1" || e.Version != 2 {
		t.Fatalf("want s1 v2, got %+v (open=%v)", e, ok)
	}
}

func TestHub_TerminalEvent_ClosesLobby(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil, nil)

	lb, err := h.Lobby(ctx, "s1")
	if err != nil {
		t.Fatalf("lobby: %v", err)
	}
	out := make(chan broadcast.Event, 4)
	lb.Inbox() <- lobby.Join{ClientID: "c1", Outbox: out}

	_ = h.Publish(ctx, broadcast.Event{Type: broadcast.SessionFinished, SessionID: "s1", Version: 12})

	e, ok := recvEvent(t, out)
	if !ok || e.Type != broadcast.SessionFinished {
		t.Fatalf("want session_finished before close, got %+v (open=%v)", e, ok)
	}
	if _, ok := recvEvent(t, out); ok {
		t.Fatalf("expected outbox to be closed after the terminal event")
	}

	reply := make(chan *lobby.Lobby, 1)
	h.Inbox() <- GetLobby{SessionID: "s1", Reply: reply}
	if got := <-reply; got != nil {
		t.Fatalf("expected lobby to be removed")
	}
}

func TestHub_Shutdown_StopsLobbies(t *testing.T) {
	h := NewHub(context.Background(), nil, nil)
	lb, err := h.Lobby(context.Background(), "s1")
	if err != nil {
		t.Fatalf("lobby: %v", err)
	}

	h.Inbox() <- ShutdownHub{}

	select {
	case <-lb.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("lobby still running after hub shutdown")
	}
}

func TestHub_LastClientLeaving_ReapsLobby(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil, nil)

	lb, err := h.Lobby(ctx, "s1")
	if err != nil {
		t.Fatalf("lobby: %v", err)
	}
	out := make(chan broadcast.Event, 4)
	lb.Inbox() <- lobby.Join{ClientID: "c1", Outbox: out}
	lb.Inbox() <- lobby.Leave{ClientID: "c1"}

	select {
	case <-lb.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("lobby still running after its last client left")
	}

	reply := make(chan *lobby.Lobby, 1)
	h.Inbox() <- GetLobby{SessionID: "s1", Reply: reply}
	if got := <-reply; got != nil {
		t.Fatalf("expected the stopped lobby to be forgotten")
	}

	fresh, err := h.Lobby(ctx, "s1")
	if err != nil {
		t.Fatalf("lobby: %v", err)
	}
	if fresh == lb {
		t.Fatalf("expected a new lobby for the next joiner")
	}
	select {
	case <-fresh.Done():
		t.Fatalf("new lobby is not running")
	default:
	}
}
