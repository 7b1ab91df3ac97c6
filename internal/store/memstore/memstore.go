// Package memstore is an in-memory store.Store. A transaction works on a copy
// of the data that replaces the committed copy only when fn succeeds.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
)

type data struct {
	sessions map[string]store.GameSession
	votes    []store.Vote
	acks     []store.Ack
	rooms    map[string]store.Room
	members  []store.RoomMember
	archives map[string]store.Archive
}

func (d *data) clone() *data {
	c := &data{
		sessions: make(map[string]store.GameSession, len(d.sessions)),
		votes:    slices.Clone(d.votes),
		acks:     slices.Clone(d.acks),
		rooms:    make(map[string]store.Room, len(d.rooms)),
		members:  slices.Clone(d.members),
		archives: make(map[string]store.Archive, len(d.archives)),
	}
	for k, v := range d.sessions {
		v.State = v.State.Clone()
		c.sessions[k] = v
	}
	for k, v := range d.rooms {
		c.rooms[k] = v
	}
	for k, v := range d.archives {
		c.archives[k] = v
	}
	return c
}

type Store struct {
	mu        sync.Mutex
	d         *data
	now       func() time.Time
	conflicts int
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		d: &data{
			sessions: map[string]store.GameSession{},
			rooms:    map[string]store.Room{},
			archives: map[string]store.Archive{},
		},
		now: time.Now,
	}
}

// InjectConflicts makes the next n session updates fail with store.ErrConflict.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{d: s.d.clone(), s: s}
	if err := fn(t); err != nil {
		return err
	}
	s.d = t.d
	return nil
}

func (s *Store) Close() error { return nil }

type tx struct {
	d *data
	s *Store
}

func (t *tx) CreateSession(_ context.Context, gs *store.GameSession) error {
	if _, ok := t.d.sessions[gs.ID]; ok {
		return store.ErrDuplicate
	}
	now := t.s.now()
	gs.CreatedAt, gs.UpdatedAt = now, now
	if gs.Version == 0 {
		gs.Version = 1
	}
	cp := *gs
	cp.State = gs.State.Clone()
	t.d.sessions[gs.ID] = cp
	return nil
}

func (t *tx) GetSession(_ context.Context, id string) (*store.GameSession, error) {
	gs, ok := t.d.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	gs.State = gs.State.Clone()
	return &gs, nil
}

func (t *tx) ActiveSessionForRoom(ctx context.Context, roomID string) (*store.GameSession, error) {
	for id, gs := range t.d.sessions {
		if gs.RoomID == roomID && gs.Status == store.StatusInProgress {
			return t.GetSession(ctx, id)
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) UpdateSession(_ context.Context, gs *store.GameSession, expectedVersion int64, expectedDuel int) error {
	if t.s.conflicts > 0 {
		t.s.conflicts--
		return store.ErrConflict
	}
	cur, ok := t.d.sessions[gs.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != expectedVersion || cur.CurrentDuelIndex != expectedDuel {
		return store.ErrConflict
	}
	gs.Version = expectedVersion + 1
	gs.UpdatedAt = t.s.now()
	cp := *gs
	cp.State = gs.State.Clone()
	t.d.sessions[gs.ID] = cp
	return nil
}

func (t *tx) DeleteSession(_ context.Context, id string) error {
	if _, ok := t.d.sessions[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.d.sessions, id)
	return nil
}

func (t *tx) InsertVote(_ context.Context, v store.Vote) error {
	for _, existing := range t.d.votes {
		if existing.SessionID == v.SessionID && existing.DuelIndex == v.DuelIndex && existing.ParticipantID == v.ParticipantID {
			return store.ErrDuplicate
		}
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = t.s.now()
	}
	t.d.votes = append(t.d.votes, v)
	return nil
}

func (t *tx) ListVotes(_ context.Context, sessionID string, duelIndex int) ([]store.Vote, error) {
	var out []store.Vote
	for _, v := range t.d.votes {
		if v.SessionID == sessionID && v.DuelIndex == duelIndex {
			out = append(out, v)
		}
	}
	return out, nil
}

func (t *tx) ListSessionVotes(_ context.Context, sessionID string) ([]store.Vote, error) {
	var out []store.Vote
	for _, v := range t.d.votes {
		if v.SessionID == sessionID {
			out = append(out, v)
		}
	}
	slices.SortStableFunc(out, func(a, b store.Vote) int { return a.DuelIndex - b.DuelIndex })
	return out, nil
}

func (t *tx) DeleteVotes(_ context.Context, sessionID, participantID string, fromDuel int) error {
	t.d.votes = slices.DeleteFunc(t.d.votes, func(v store.Vote) bool {
		return v.SessionID == sessionID &&
			v.DuelIndex >= fromDuel &&
			(participantID == "" || v.ParticipantID == participantID)
	})
	return nil
}

func (t *tx) InsertAck(_ context.Context, a store.Ack) error {
	for _, existing := range t.d.acks {
		if existing.SessionID == a.SessionID && existing.DuelIndex == a.DuelIndex && existing.ParticipantID == a.ParticipantID {
			return store.ErrDuplicate
		}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = t.s.now()
	}
	t.d.acks = append(t.d.acks, a)
	return nil
}

func (t *tx) CountAcks(ctx context.Context, sessionID string, duelIndex int) (int, error) {
	acks, err := t.ListAcks(ctx, sessionID, duelIndex)
	return len(acks), err
}

func (t *tx) ListAcks(_ context.Context, sessionID string, duelIndex int) ([]store.Ack, error) {
	var out []store.Ack
	for _, a := range t.d.acks {
		if a.SessionID == sessionID && a.DuelIndex == duelIndex {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *tx) DeleteAcks(_ context.Context, sessionID string, duelIndex int, participantID string) error {
	t.d.acks = slices.DeleteFunc(t.d.acks, func(a store.Ack) bool {
		return a.SessionID == sessionID &&
			(duelIndex < 0 || a.DuelIndex == duelIndex) &&
			(participantID == "" || a.ParticipantID == participantID)
	})
	return nil
}

func (t *tx) CreateRoom(_ context.Context, r *store.Room) error {
	if _, ok := t.d.rooms[r.ID]; ok {
		return store.ErrDuplicate
	}
	r.CreatedAt = t.s.now()
	t.d.rooms[r.ID] = *r
	return nil
}

func (t *tx) GetRoom(_ context.Context, id string) (*store.Room, error) {
	r, ok := t.d.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (t *tx) DeleteRoom(_ context.Context, id string) error {
	delete(t.d.rooms, id)
	t.d.members = slices.DeleteFunc(t.d.members, func(m store.RoomMember) bool { return m.RoomID == id })
	return nil
}

func (t *tx) AddMember(_ context.Context, m store.RoomMember) error {
	if _, ok := t.d.rooms[m.RoomID]; !ok {
		return store.ErrNotFound
	}
	for _, existing := range t.d.members {
		if existing.RoomID == m.RoomID && existing.ParticipantID == m.ParticipantID {
			return store.ErrDuplicate
		}
	}
	m.JoinedAt = t.s.now()
	t.d.members = append(t.d.members, m)
	return nil
}

func (t *tx) RemoveMember(_ context.Context, roomID, participantID string) error {
	n := len(t.d.members)
	t.d.members = slices.DeleteFunc(t.d.members, func(m store.RoomMember) bool {
		return m.RoomID == roomID && m.ParticipantID == participantID
	})
	if len(t.d.members) == n {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) ListMembers(_ context.Context, roomID string) ([]store.RoomMember, error) {
	var out []store.RoomMember
	for _, m := range t.d.members {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *tx) SetInGame(_ context.Context, roomID string, inGame bool) error {
	for i := range t.d.members {
		if t.d.members[i].RoomID == roomID {
			t.d.members[i].InGame = inGame
		}
	}
	return nil
}

func (t *tx) SetMemberInGame(_ context.Context, roomID, participantID string, inGame bool) error {
	for i := range t.d.members {
		if t.d.members[i].RoomID == roomID && t.d.members[i].ParticipantID == participantID {
			t.d.members[i].InGame = inGame
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *tx) InsertArchive(_ context.Context, a *store.Archive) error {
	if _, ok := t.d.archives[a.SessionID]; ok {
		return store.ErrDuplicate
	}
	t.d.archives[a.SessionID] = *a
	return nil
}

func (t *tx) GetArchive(_ context.Context, sessionID string) (*store.Archive, error) {
	a, ok := t.d.archives[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}
