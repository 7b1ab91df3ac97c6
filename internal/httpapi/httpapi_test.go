package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/text/language"

	"github.com/DoyleJ11/duel-tourney-backend/internal/engine"
	"github.com/DoyleJ11/duel-tourney-backend/internal/items"
	"github.com/DoyleJ11/duel-tourney-backend/internal/metrics"
	"github.com/DoyleJ11/duel-tourney-backend/internal/session"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store/memstore"
	"github.com/DoyleJ11/duel-tourney-backend/internal/types"
)

type inOrder struct{}

func (inOrder) Shuffle(int, func(i, j int)) {}

func newServer(t *testing.T, ping func(context.Context) error) *httptest.Server {
	t.Helper()
	log := zaptest.NewLogger(t)
	m := metrics.New()
	svc := session.New(memstore.New(), items.Static{
		"duo": {{ID: "x", Name: "X"}, {ID: "y", Name: "Y"}},
	},
		session.WithShuffler(inOrder{}),
		session.WithCoin(engine.FixedCoin(engine.Heads)),
		session.WithLogger(log),
		session.WithMetrics(m))

	srv := httptest.NewServer(SetupRoutes(Deps{
		Sessions:      svc,
		Metrics:       m.Handler(),
		Ping:          ping,
		Log:           log,
		DefaultLocale: language.English,
	}))
	t.Cleanup(srv.Close)
	return srv
}

type call struct {
	method, path, who, lang string
	body                    any
}

func do(t *testing.T, srv *httptest.Server, c call, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req, err := http.NewRequest(c.method, srv.URL+c.path, &buf)
	require.NoError(t, err)
	if c.who != "" {
		req.Header.Set(ParticipantHeader, c.who)
	}
	if c.lang != "" {
		req.Header.Set("Accept-Language", c.lang)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestTournamentOverHTTP(t *testing.T) {
	srv := newServer(t, nil)

	var room map[string]string
	require.Equal(t, http.StatusCreated, do(t, srv, call{method: "POST", path: "/rooms", who: "alice", body: map[string]string{"name": "Lunch"}}, &room))
	require.NotEmpty(t, room["room_id"])
	require.Equal(t, http.StatusNoContent, do(t, srv, call{method: "POST", path: "/rooms/" + room["room_id"] + "/members", who: "bob"}, nil))

	var started session.StartResult
	require.Equal(t, http.StatusCreated, do(t, srv, call{method: "POST", path: "/sessions", who: "alice",
		body: map[string]string{"room_id": room["room_id"], "item_source_id": "duo"}}, &started))
	assert.Equal(t, 1, started.DuelCount)
	sid := started.SessionID

	var results store.Archive
	assert.Equal(t, http.StatusNotFound, do(t, srv, call{method: "GET", path: "/sessions/" + sid + "/results"}, nil))

	var vote session.VoteResult
	require.Equal(t, http.StatusOK, do(t, srv, call{method: "POST", path: "/sessions/" + sid + "/votes", who: "alice",
		body: map[string]any{"duel_index": 0, "item_id": "y"}}, &vote))
	assert.False(t, vote.Complete)

	var problem types.Problem
	assert.Equal(t, http.StatusConflict, do(t, srv, call{method: "POST", path: "/sessions/" + sid + "/votes", who: "alice",
		body: map[string]any{"duel_index": 0, "item_id": "x"}}, &problem))
	assert.Equal(t, "DUPLICATE_VOTE", problem.Code)
	assert.True(t, problem.Idempotent)

	require.Equal(t, http.StatusOK, do(t, srv, call{method: "POST", path: "/sessions/" + sid + "/votes", who: "bob",
		body: map[string]any{"duel_index": 0, "item_id": "y"}}, &vote))
	assert.True(t, vote.Finished)
	assert.Equal(t, "y", vote.Champion)

	require.Equal(t, http.StatusOK, do(t, srv, call{method: "GET", path: "/sessions/" + sid + "/results"}, &results))
	assert.Equal(t, "y", results.Champion.ID)
	assert.Equal(t, []string{"alice", "bob"}, results.Participants)

	var snap types.Snapshot
	require.Equal(t, http.StatusOK, do(t, srv, call{method: "GET", path: "/sessions/" + sid, who: "bob"}, &snap))
	assert.Equal(t, "finished", snap.Status)
}

func TestErrorsAreLocalized(t *testing.T) {
	srv := newServer(t, nil)

	var problem types.Problem
	assert.Equal(t, http.StatusNotFound, do(t, srv, call{method: "GET", path: "/sessions/nope", lang: "fr-CA,fr;q=0.9"}, &problem))
	assert.Equal(t, "NOT_FOUND", problem.Code)
	assert.Equal(t, "Élément introuvable.", problem.Message)

	// rooms share the code, so the message must not name a session
	assert.Equal(t, http.StatusNotFound, do(t, srv, call{method: "POST", path: "/rooms/nope/members", who: "bob"}, &problem))
	assert.Equal(t, "NOT_FOUND", problem.Code)
	assert.Equal(t, "We could not find what you asked for.", problem.Message)

	assert.Equal(t, http.StatusUnauthorized, do(t, srv, call{method: "POST", path: "/rooms", body: map[string]string{}}, &problem))
	assert.Equal(t, "UNAUTHENTICATED", problem.Code)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, call{method: "POST", path: "/sessions/s/votes", who: "alice",
		body: map[string]any{"item_id": "x"}}, &problem))
	assert.Equal(t, "VALIDATION", problem.Code)
	assert.Equal(t, "The request is invalid.", problem.Message)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newServer(t, nil)
	assert.Equal(t, http.StatusOK, do(t, srv, call{method: "GET", path: "/healthz"}, nil))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := newServer(t, func(context.Context) error { return errors.New("db down") })
	assert.Equal(t, http.StatusServiceUnavailable, do(t, down, call{method: "GET", path: "/healthz"}, nil))
}
