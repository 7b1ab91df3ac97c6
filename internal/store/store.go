// Package store defines the persisted model of running tournaments and the
// transactional repository the session engine mutates it through.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/duel-tourney-backend/internal/engine"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict means a compare-and-swap update found a different version than expected.
	ErrConflict = errors.New("concurrent modification")
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
)

type AckKind string

const (
	AckNormal AckKind = "normal"
	AckTie    AckKind = "tie"
)

type GameSession struct {
	ID               string
	RoomID           string
	Status           Status
	CurrentDuelIndex int
	Version          int64
	State            engine.State
	SyncedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Vote struct {
	SessionID     string
	ParticipantID string
	DuelIndex     int
	ItemID        string
	CreatedAt     time.Time
}

type Ack struct {
	SessionID     string
	ParticipantID string
	DuelIndex     int
	Kind          AckKind
	CreatedAt     time.Time
}

type Room struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
}

type RoomMember struct {
	RoomID        string
	ParticipantID string
	InGame        bool
	JoinedAt      time.Time
}

type ArchivedVote struct {
	ParticipantID string `json:"participant_id"`
	ItemID        string `json:"item_id"`
}

type ArchivedDuel struct {
	Index    int              `json:"index"`
	Round    int              `json:"round"`
	Match    int              `json:"match"`
	Item1    engine.Item      `json:"item1"`
	Item2    engine.Item      `json:"item2"`
	Winner   string           `json:"winner"`
	Tally    engine.Tally     `json:"tally"`
	Votes    []ArchivedVote   `json:"votes"`
	TieBreak *engine.TieBreak `json:"tie_break,omitempty"`
}

// Archive is the immutable record of a finished session.
type Archive struct {
	SessionID    string         `json:"session_id"`
	RoomID       string         `json:"room_id"`
	Champion     engine.Item    `json:"champion"`
	Participants []string       `json:"participants"`
	Duels        []ArchivedDuel `json:"duels"`
	TotalRounds  int            `json:"total_rounds"`
	FinishedAt   time.Time      `json:"finished_at"`
	Digest       string         `json:"digest"`
}

// Store runs fn inside a single transaction. Any error returned by fn rolls
// back every write made through tx.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

type Tx interface {
	Sessions
	Votes
	Acks
	Rooms
	Archives
}

type Sessions interface {
	CreateSession(ctx context.Context, s *GameSession) error
	GetSession(ctx context.Context, id string) (*GameSession, error)
	// ActiveSessionForRoom returns ErrNotFound when the room has no in-progress session.
	ActiveSessionForRoom(ctx context.Context, roomID string) (*GameSession, error)
	// UpdateSession persists s only if the stored row still has expectedVersion and
	// expectedDuel; on success s.Version is incremented. Otherwise it returns ErrConflict.
	UpdateSession(ctx context.Context, s *GameSession, expectedVersion int64, expectedDuel int) error
	DeleteSession(ctx context.Context, id string) error
}

type Votes interface {
	// InsertVote returns ErrDuplicate when the participant already voted in the duel.
	InsertVote(ctx context.Context, v Vote) error
	ListVotes(ctx context.Context, sessionID string, duelIndex int) ([]Vote, error)
	ListSessionVotes(ctx context.Context, sessionID string) ([]Vote, error)
	// DeleteVotes removes votes of a session; an empty participantID removes all of them.
	DeleteVotes(ctx context.Context, sessionID, participantID string, fromDuel int) error
}

type Acks interface {
	// InsertAck returns ErrDuplicate when the participant already acknowledged the duel.
	InsertAck(ctx context.Context, a Ack) error
	CountAcks(ctx context.Context, sessionID string, duelIndex int) (int, error)
	ListAcks(ctx context.Context, sessionID string, duelIndex int) ([]Ack, error)
	// DeleteAcks purges acknowledgments. duelIndex < 0 matches every duel; an
	// empty participantID matches every participant.
	DeleteAcks(ctx context.Context, sessionID string, duelIndex int, participantID string) error
}

type Rooms interface {
	CreateRoom(ctx context.Context, r *Room) error
	GetRoom(ctx context.Context, id string) (*Room, error)
	DeleteRoom(ctx context.Context, id string) error
	// AddMember returns ErrDuplicate for an existing member and leaves tx usable.
	AddMember(ctx context.Context, m RoomMember) error
	RemoveMember(ctx context.Context, roomID, participantID string) error
	ListMembers(ctx context.Context, roomID string) ([]RoomMember, error)
	SetInGame(ctx context.Context, roomID string, inGame bool) error
	SetMemberInGame(ctx context.Context, roomID, participantID string, inGame bool) error
}

type Archives interface {
	// InsertArchive returns ErrDuplicate when the session was already archived.
	InsertArchive(ctx context.Context, a *Archive) error
	GetArchive(ctx context.Context, sessionID string) (*Archive, error)
}
