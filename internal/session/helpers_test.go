package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/duel-tourney-backend/internal/apperr"
	"github.com/DoyleJ11/duel-tourney-backend/internal/broadcast"
	"github.com/DoyleJ11/duel-tourney-backend/internal/engine"
	"github.com/DoyleJ11/duel-tourney-backend/internal/items"
	"github.com/DoyleJ11/duel-tourney-backend/internal/metrics"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store/memstore"
)

// inOrder keeps the catalog order so brackets are predictable.
type inOrder struct{}

func (inOrder) Shuffle(int, func(i, j int)) {}

type recorder struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (r *recorder) Publish(_ context.Context, e broadcast.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []broadcast.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]broadcast.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) count(t broadcast.Type) int {
	n := 0
	for _, typ := range r.types() {
		if typ == t {
			n++
		}
	}
	return n
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   store.Store
	mem     *memstore.Store // nil unless the fixture runs on memstore
	svc     *Service
	events  *recorder
	metrics *metrics.Metrics
	room    string
	owner   string
	members []string
	clock   time.Time
}

func catalog(n int) []engine.Item {
	its := make([]engine.Item, n)
	for i := range its {
		id := string(rune('a' + i))
		its[i] = engine.Item{ID: id, Name: "Item " + id}
	}
	return its
}

// newFixture creates a room owned by p1 whose members are p1..pN.
func newFixture(t *testing.T, members int, coin engine.CoinSide) *fixture {
	t.Helper()
	mem := memstore.New()
	f := newFixtureOn(t, mem, members, coin)
	f.mem = mem
	return f
}

func newFixtureOn(t *testing.T, st store.Store, members int, coin engine.CoinSide) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   st,
		events:  &recorder{},
		metrics: metrics.New(),
		room:    "room-1",
		owner:   "p1",
		clock:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	src := items.Static{
		"two":   catalog(2),
		"four":  catalog(4),
		"five":  catalog(5),
		"eight": catalog(8),
		"one":   catalog(1),
	}
	ids := 0
	f.svc = New(f.store, src,
		WithCoin(engine.FixedCoin(coin)),
		WithShuffler(inOrder{}),
		WithPublisher(f.events),
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(f.metrics),
		WithClock(func() time.Time { f.clock = f.clock.Add(time.Second); return f.clock }),
		WithIDGenerator(func() string { ids++; return fmt.Sprintf("session-%d", ids) }),
	)

	require.NoError(t, f.store.InTx(f.ctx, func(tx store.Tx) error {
		if err := tx.CreateRoom(f.ctx, &store.Room{ID: f.room, OwnerID: f.owner, Name: "Friday night"}); err != nil {
			return err
		}
		for i := 1; i <= members; i++ {
			id := fmt.Sprintf("p%d", i)
			f.members = append(f.members, id)
			if err := tx.AddMember(f.ctx, store.RoomMember{RoomID: f.room, ParticipantID: id}); err != nil {
				return err
			}
		}
		return nil
	}))
	return f
}

func (f *fixture) start(source string) StartResult {
	f.t.Helper()
	res, err := f.svc.StartSession(f.ctx, StartRequest{RoomID: f.room, ItemSourceID: source, RequesterID: f.owner})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) vote(sessionID, participant string, duel int, item string) (VoteResult, error) {
	return f.svc.CastVote(f.ctx, VoteRequest{SessionID: sessionID, ParticipantID: participant, DuelIndex: duel, ItemID: item})
}

func (f *fixture) mustVote(sessionID, participant string, duel int, item string) VoteResult {
	f.t.Helper()
	res, err := f.vote(sessionID, participant, duel, item)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) ack(sessionID, participant string, duel int, kind store.AckKind) (AckResult, error) {
	return f.svc.Acknowledge(f.ctx, AckRequest{SessionID: sessionID, ParticipantID: participant, DuelIndex: duel, Kind: kind})
}

func (f *fixture) mustAck(sessionID, participant string, duel int, kind store.AckKind) AckResult {
	f.t.Helper()
	res, err := f.ack(sessionID, participant, duel, kind)
	require.NoError(f.t, err)
	return res
}

// everyoneVotes casts one vote per member; picks[i] is the choice of member i.
func (f *fixture) everyoneVotes(sessionID string, duel int, picks ...string) VoteResult {
	f.t.Helper()
	require.Len(f.t, picks, len(f.members))
	var last VoteResult
	for i, p := range f.members {
		last = f.mustVote(sessionID, p, duel, picks[i])
	}
	return last
}

func (f *fixture) everyoneAcks(sessionID string, duel int) AckResult {
	f.t.Helper()
	var last AckResult
	for _, p := range f.members {
		last = f.mustAck(sessionID, p, duel, store.AckNormal)
	}
	return last
}

func (f *fixture) session(id string) *store.GameSession {
	f.t.Helper()
	var gs *store.GameSession
	require.NoError(f.t, f.store.InTx(f.ctx, func(tx store.Tx) error {
		var err error
		gs, err = tx.GetSession(f.ctx, id)
		return err
	}))
	return gs
}

func (f *fixture) votes(sessionID string) []store.Vote {
	f.t.Helper()
	var votes []store.Vote
	require.NoError(f.t, f.store.InTx(f.ctx, func(tx store.Tx) error {
		var err error
		votes, err = tx.ListSessionVotes(f.ctx, sessionID)
		return err
	}))
	return votes
}

func requireCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperr.CodeOf(err), "error: %v", err)
}
