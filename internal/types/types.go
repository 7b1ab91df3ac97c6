// Package types holds the wire shapes shared by the HTTP, websocket and broadcast layers.
package types

import (
	"time"

	"golang.org/x/text/language"

	"github.com/DoyleJ11/duel-tourney-backend/internal/apperr"
	"github.com/DoyleJ11/duel-tourney-backend/internal/engine"
)

// DuelView is a duel enriched with its items.
type DuelView struct {
	Index int         `json:"index"`
	Round int         `json:"round"`
	Match int         `json:"match"`
	Item1 engine.Item `json:"item1"`
	Item2 engine.Item `json:"item2"`
}

// Snapshot is the full observable state of a session at one version. Observers
// keep the snapshot with the highest version and ignore older ones.
type Snapshot struct {
	SessionID    string `json:"session_id"`
	RoomID       string `json:"room_id"`
	Status       string `json:"status"`
	Version      int64  `json:"version"`
	CurrentRound int    `json:"current_round"`
	TotalRounds  int    `json:"total_rounds"`

	CurrentDuelIndex int       `json:"current_duel_index"`
	CurrentDuel      *DuelView `json:"current_duel,omitempty"`

	Tally        engine.Tally     `json:"tally"`
	VotesCast    int              `json:"votes_cast"`
	VotesNeeded  int              `json:"votes_needed"`
	VotingClosed bool             `json:"voting_closed"`
	TieBreak     *engine.TieBreak `json:"tie_break,omitempty"`

	Next       *engine.NextDuel `json:"next,omitempty"`
	AckKind    string           `json:"ack_kind,omitempty"`
	AcksCount  int              `json:"acks_count"`
	AcksNeeded int              `json:"acks_needed"`

	Participants []string       `json:"participants"`
	Results      map[int]string `json:"results"`
	Champion     *engine.Item   `json:"champion,omitempty"`
	Dropped      []string       `json:"dropped,omitempty"`
	SyncedAt     *time.Time     `json:"synced_at,omitempty"`

	// Requester-specific; empty in broadcast snapshots.
	MyVote string `json:"my_vote,omitempty"`
	MyAck  bool   `json:"my_ack,omitempty"`
}

type ClientMessage struct {
	Type      string `json:"type"` // "Vote" | "Continue" | "TieContinue" | "Sync"
	DuelIndex *int   `json:"duel_index,omitempty"` // required except for Sync
	ItemID    string `json:"item_id,omitempty"`
}

type ServerMessage struct {
	Type     string    `json:"type"` // event type | "Result" | "Error"
	Version  int64     `json:"version,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Payload  any       `json:"payload,omitempty"`
	Error    *Problem  `json:"error,omitempty"`
}

// Problem is the client-facing error body.
type Problem struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Idempotent bool              `json:"idempotent,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ProblemFor renders err for a client in the given language. Internal
// messages and causes stay in the logs.
func ProblemFor(err error, tag language.Tag) *Problem {
	e := apperr.As(err)
	p := &Problem{
		Code:       string(e.Code),
		Message:    apperr.Localize(tag, e.Code),
		Idempotent: e.Code.Idempotent(),
	}
	if e.Code != apperr.CodeInternal {
		p.Metadata = e.Metadata
	}
	return p
}
