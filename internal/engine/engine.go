package engine

import (
	"errors"
	"fmt"
)

var ErrNotEnoughItems = errors.New("at least two items are required")
var ErrDuplicateItem = errors.New("duplicate item id")
var ErrStaleDuel = errors.New("duel is no longer current")
var ErrDuelClosed = errors.New("duel voting is closed")
var ErrNotResolved = errors.New("duel has not been resolved")
var ErrUnknownItem = errors.New("item is not part of the duel")
var ErrNothingStaged = errors.New("no staged transition")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrTournamentCompleted = errors.New("tournament already completed")

type Item struct {
	ID    string            `json:"id" yaml:"id"`
	Name  string            `json:"name" yaml:"name"`
	Image string            `json:"image,omitempty" yaml:"image"`
	Meta  map[string]string `json:"meta,omitempty" yaml:"meta"`
}

// Duel is immutable once appended to State.Duels.
type Duel struct {
	Index int    `json:"index"`
	Round int    `json:"round"`
	Match int    `json:"match"`
	Item1 string `json:"item1"`
	Item2 string `json:"item2"`
}

func (d Duel) Has(itemID string) bool {
	return itemID == d.Item1 || itemID == d.Item2
}

type CoinSide string

const (
	Heads CoinSide = "heads"
	Tails CoinSide = "tails"
)

type TieBreak struct {
	DuelIndex int      `json:"duel_index"`
	Item1     string   `json:"item1"`
	Item2     string   `json:"item2"`
	Coin      CoinSide `json:"coin"`
	Winner    string   `json:"winner"`
	Votes     int      `json:"votes"`
}

// NextDuel is a transition prepared by the round advancer. It becomes visible
// only when the continuation gate releases it.
type NextDuel struct {
	DuelIndex     int    `json:"duel_index"`
	RoundComplete bool   `json:"round_complete"`
	TieBreak      bool   `json:"tie_break"`
	Winner        string `json:"winner"`
}

type State struct {
	RoomID       string         `json:"room_id"`
	Duels        []Duel         `json:"duels"`
	CurrentDuel  int            `json:"current_duel"`
	CurrentRound int            `json:"current_round"`
	TotalRounds  int            `json:"total_rounds"`
	Winners      []string       `json:"winners"`
	AllItems     []Item         `json:"all_items"`
	TieBreakers  []TieBreak     `json:"tie_breakers"`
	Results      map[int]string `json:"results"`
	Next         *NextDuel      `json:"next,omitempty"`
	Champion     string         `json:"champion,omitempty"`
	Dropped      []string       `json:"dropped,omitempty"`
}

type CommandType string

const (
	CmdRecordWinner CommandType = "RecordWinner"
	CmdRelease      CommandType = "Release"
)

type Command struct {
	Type     CommandType
	Winner   string
	TieBreak *TieBreak
}

/*
	CmdRecordWinner -> EvtDuelResolved (+ EvtTieBroken) -> EvtNextDuelStaged
	                -> EvtDuelResolved (+ EvtTieBroken) -> EvtRoundCompleted -> EvtNextDuelStaged
	                -> EvtDuelResolved (+ EvtTieBroken) -> EvtTournamentCompleted
	CmdRelease      -> EvtDuelChanged
*/

type EventType string

const (
	EvtDuelResolved        EventType = "DuelResolved"
	EvtTieBroken           EventType = "TieBroken"
	EvtRoundCompleted      EventType = "RoundCompleted"
	EvtNextDuelStaged      EventType = "NextDuelStaged"
	EvtTournamentCompleted EventType = "TournamentCompleted"
	EvtDuelChanged         EventType = "DuelChanged"
)

type Event struct {
	Type      EventType
	DuelIndex int
	Round     int
	ItemID    string
}

// Apply is a pure reducer over State. The input state is never mutated.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Champion != "" {
		return nil, s, ErrTournamentCompleted
	}
	if s.CurrentDuel < 0 || s.CurrentDuel >= len(s.Duels) {
		return nil, s, fmt.Errorf("current duel %d out of range", s.CurrentDuel)
	}

	switch cmd.Type {
	case CmdRecordWinner:
		return recordWinner(s, cmd)

	case CmdRelease:
		if s.Next == nil {
			return nil, s, ErrNothingStaged
		}
		newState := s.Clone()
		newState.CurrentDuel = s.Next.DuelIndex
		newState.Next = nil
		return []Event{{Type: EvtDuelChanged, DuelIndex: newState.CurrentDuel, Round: newState.Duels[newState.CurrentDuel].Round}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func recordWinner(s State, cmd Command) ([]Event, State, error) {
	duel := s.Duels[s.CurrentDuel]
	if s.Next != nil {
		return nil, s, ErrDuelClosed
	}
	if !duel.Has(cmd.Winner) {
		return nil, s, ErrUnknownItem
	}
	if len(s.Winners) >= s.DuelsInRound(s.CurrentRound) {
		return nil, s, fmt.Errorf("round %d already has all of its winners", s.CurrentRound)
	}

	newState := s.Clone()
	events := []Event{{Type: EvtDuelResolved, DuelIndex: duel.Index, Round: duel.Round, ItemID: cmd.Winner}}

	if cmd.TieBreak != nil {
		tb := *cmd.TieBreak
		tb.DuelIndex = duel.Index
		newState.TieBreakers = append(newState.TieBreakers, tb)
		events = append(events, Event{Type: EvtTieBroken, DuelIndex: duel.Index, Round: duel.Round, ItemID: tb.Winner})
	}

	newState.Winners = append(newState.Winners, cmd.Winner)
	newState.Results[duel.Index] = cmd.Winner

	if len(newState.Winners) < newState.DuelsInRound(newState.CurrentRound) {
		newState.Next = &NextDuel{
			DuelIndex: s.CurrentDuel + 1,
			TieBreak:  cmd.TieBreak != nil,
			Winner:    cmd.Winner,
		}
		events = append(events, Event{Type: EvtNextDuelStaged, DuelIndex: s.CurrentDuel + 1, Round: newState.CurrentRound})
		return events, newState, nil
	}

	// Round complete
	if len(newState.Winners) == 1 {
		newState.Champion = cmd.Winner
		events = append(events, Event{Type: EvtTournamentCompleted, DuelIndex: duel.Index, Round: duel.Round, ItemID: cmd.Winner})
		return events, newState, nil
	}

	events = append(events, Event{Type: EvtRoundCompleted, DuelIndex: duel.Index, Round: newState.CurrentRound})

	nextRound := newState.CurrentRound + 1
	duels, dropped := pairItems(newState.Winners, nextRound, len(newState.Duels))
	newState.Duels = append(newState.Duels, duels...)
	newState.Dropped = append(newState.Dropped, dropped...)
	newState.CurrentRound = nextRound
	newState.Winners = []string{}
	newState.Next = &NextDuel{
		DuelIndex:     duels[0].Index,
		RoundComplete: true,
		TieBreak:      cmd.TieBreak != nil,
		Winner:        cmd.Winner,
	}
	events = append(events, Event{Type: EvtNextDuelStaged, DuelIndex: duels[0].Index, Round: nextRound})
	return events, newState, nil
}
