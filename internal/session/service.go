// Package session runs tournament sessions: it validates votes and continue
// acknowledgments, drives the bracket through the engine, and persists every
// step in a single compare-and-swap guarded store transaction.
package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-tourney-backend/internal/apperr"
	"github.com/DoyleJ11/duel-tourney-backend/internal/broadcast"
	"github.com/DoyleJ11/duel-tourney-backend/internal/engine"
	"github.com/DoyleJ11/duel-tourney-backend/internal/items"
	"github.com/DoyleJ11/duel-tourney-backend/internal/metrics"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
)

const (
	DefaultTxRetries = 5
	// TieQuorum is the number of continue acknowledgments that releases a duel
	// decided by a coin flip, whatever the room size.
	TieQuorum = 2

	publishTimeout = 3 * time.Second
)

type ItemSource interface {
	Items(ctx context.Context, sourceID string) ([]engine.Item, error)
}

type Service struct {
	store   store.Store
	items   ItemSource
	pub     broadcast.Publisher
	coin    engine.Coin
	rng     engine.Shuffler
	log     *zap.Logger
	metrics *metrics.Metrics
	retries int
	now     func() time.Time
	newID   func() string
}

type Option func(*Service)

func WithCoin(c engine.Coin) Option { return func(s *Service) { s.coin = c } }

func WithShuffler(r engine.Shuffler) Option { return func(s *Service) { s.rng = r } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

func WithPublisher(p broadcast.Publisher) Option { return func(s *Service) { s.pub = p } }

// WithTxRetries sets how many times a transaction is retried after a version conflict.
func WithTxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.retries = n
		}
	}
}

func New(st store.Store, src ItemSource, opts ...Option) *Service {
	s := &Service{
		store:   st,
		items:   src,
		pub:     broadcast.Nop,
		coin:    engine.RandomCoin{},
		rng:     engine.RandomShuffler,
		log:     zap.NewNop(),
		retries: DefaultTxRetries,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s
}

// SetPublisher swaps the event sink; used when the publisher is built after the service.
func (s *Service) SetPublisher(p broadcast.Publisher) { s.pub = p }

// withTx runs fn in a transaction and reruns it from scratch while the final
// session update loses a compare-and-swap race. fn must not keep state across attempts.
func (s *Service) withTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		err = s.store.InTx(ctx, fn)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		s.metrics.TxConflicts.Inc()
		s.log.Debug("session update conflicted, retrying", zap.Int("attempt", attempt+1))
	}
	return apperr.Wrap(apperr.CodeConflict, "session update kept conflicting", err)
}

func (s *Service) publish(ctx context.Context, events ...broadcast.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	for _, e := range events {
		if err := s.pub.Publish(ctx, e); err != nil {
			s.log.Warn("publish failed",
				zap.String("session_id", e.SessionID),
				zap.String("type", string(e.Type)),
				zap.Int64("version", e.Version),
				zap.Error(err))
		}
	}
}

// storeErr maps store failures of op to domain errors. Conflicts pass through
// untouched so withTx can retry them.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict):
		return err
	default:
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return err
		}
		return apperr.Wrap(apperr.CodeInternal, op, err)
	}
}

func engineErr(err error) error {
	switch {
	case errors.Is(err, engine.ErrNotEnoughItems), errors.Is(err, engine.ErrDuplicateItem), errors.Is(err, engine.ErrUnknownItem):
		return apperr.Wrap(apperr.CodeValidation, "invalid tournament input", err)
	case errors.Is(err, engine.ErrStaleDuel), errors.Is(err, engine.ErrDuelClosed):
		return apperr.Wrap(apperr.CodeStaleDuel, "duel is not open", err)
	case errors.Is(err, engine.ErrNothingStaged):
		return apperr.Wrap(apperr.CodeDuelNotResolved, "nothing to release", err)
	case errors.Is(err, engine.ErrTournamentCompleted):
		return apperr.Wrap(apperr.CodeSessionFinished, "tournament already completed", err)
	default:
		return apperr.Wrap(apperr.CodeInternal, "engine", err)
	}
}

func itemsErr(sourceID string, err error) error {
	if errors.Is(err, items.ErrUnknownSource) {
		return apperr.WithMetadata(apperr.CodeValidation, "unknown item source", map[string]string{"item_source_id": sourceID})
	}
	return apperr.Wrap(apperr.CodeInternal, "load items", err)
}

// loadSession returns the session, NOT_FOUND when it does not exist, and
// SESSION_FINISHED when mutable is set and the session is over.
func loadSession(ctx context.Context, tx store.Tx, id string, mutable bool) (*store.GameSession, error) {
	gs, err := tx.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.WithMetadata(apperr.CodeNotFound, "session not found", map[string]string{"session_id": id})
	}
	if err != nil {
		return nil, storeErr("load session", err)
	}
	if mutable && gs.Status == store.StatusFinished {
		return nil, apperr.New(apperr.CodeSessionFinished, "session is finished")
	}
	return gs, nil
}

func loadMembers(ctx context.Context, tx store.Tx, roomID string) ([]store.RoomMember, error) {
	members, err := tx.ListMembers(ctx, roomID)
	if err != nil {
		return nil, storeErr("list members", err)
	}
	return members, nil
}

func requireMember(members []store.RoomMember, participantID string) error {
	if participantID == "" {
		return apperr.New(apperr.CodeUnauthenticated, "missing participant")
	}
	for _, m := range members {
		if m.ParticipantID == participantID {
			return nil
		}
	}
	return apperr.New(apperr.CodeForbidden, "participant is not a room member")
}

func requireOwner(ctx context.Context, tx store.Tx, roomID, requester string) (*store.Room, error) {
	if requester == "" {
		return nil, apperr.New(apperr.CodeUnauthenticated, "missing participant")
	}
	room, err := tx.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.WithMetadata(apperr.CodeNotFound, "room not found", map[string]string{"room_id": roomID})
	}
	if err != nil {
		return nil, storeErr("load room", err)
	}
	if room.OwnerID != requester {
		return nil, apperr.New(apperr.CodeForbidden, "requester does not own the room")
	}
	return room, nil
}

func staleDuel(requested, current int) error {
	return apperr.WithMetadata(apperr.CodeStaleDuel, "duel is not current", map[string]string{
		"duel_index":         strconv.Itoa(requested),
		"current_duel_index": strconv.Itoa(current),
	})
}

func quorum(kind store.AckKind, members int) int {
	if kind == store.AckTie {
		return min(TieQuorum, members)
	}
	return members
}

func ackKind(next *engine.NextDuel) store.AckKind {
	if next != nil && next.TieBreak {
		return store.AckTie
	}
	return store.AckNormal
}
