package engine

import (
	"maps"
	"slices"
)

func (s State) Clone() State {
	c := s
	c.Duels = slices.Clone(s.Duels)
	c.Winners = slices.Clone(s.Winners)
	c.AllItems = slices.Clone(s.AllItems)
	c.TieBreakers = slices.Clone(s.TieBreakers)
	c.Dropped = slices.Clone(s.Dropped)
	c.Results = maps.Clone(s.Results)
	if c.Results == nil {
		c.Results = map[int]string{}
	}
	if s.Next != nil {
		next := *s.Next
		c.Next = &next
	}
	return c
}

func (s State) DuelsInRound(round int) int {
	n := 0
	for _, d := range s.Duels {
		if d.Round == round {
			n++
		}
	}
	return n
}

func (s State) Current() (Duel, bool) {
	if s.CurrentDuel < 0 || s.CurrentDuel >= len(s.Duels) {
		return Duel{}, false
	}
	return s.Duels[s.CurrentDuel], true
}

func (s State) Item(id string) (Item, bool) {
	for _, it := range s.AllItems {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// TieBreakFor returns the tie record of a duel, if the duel was decided by a coin flip.
func (s State) TieBreakFor(duelIndex int) (TieBreak, bool) {
	for _, tb := range s.TieBreakers {
		if tb.DuelIndex == duelIndex {
			return tb, true
		}
	}
	return TieBreak{}, false
}

func (s State) Finished() bool {
	return s.Champion != ""
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
