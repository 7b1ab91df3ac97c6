// Package broadcast carries session events to observers. It is never a source
// of truth: every event holds a snapshot read from the store, tagged with the
// session version it was read at.
package broadcast

import (
	"context"

	"go.uber.org/multierr"

	"github.com/DoyleJ11/duel-tourney-backend/internal/types"
)

type Type string

const (
	VoteTally           Type = "vote_tally"
	DuelChanged         Type = "duel_changed"
	TieAck              Type = "tie_ack"
	Ack                 Type = "ack"
	SessionFinished     Type = "session_finished"
	SessionCancelled    Type = "session_cancelled"
	ParticipantExcluded Type = "participant_excluded"
	Snapshot            Type = "snapshot"
)

// Terminal reports whether no further events follow for the session.
func (t Type) Terminal() bool {
	return t == SessionFinished || t == SessionCancelled
}

type Event struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"session_id"`
	Version   int64           `json:"version"`
	Snapshot  *types.Snapshot `json:"snapshot,omitempty"`
	Payload   map[string]any  `json:"payload,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Nop discards events.
var Nop Publisher = PublisherFunc(func(context.Context, Event) error { return nil })

// Multi publishes to every publisher, even after a failure.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Publish(ctx, e))
	}
	return err
}
