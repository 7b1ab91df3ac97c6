package engine

import (
	"math/rand/v2"
	"sort"
)

type Coin interface {
	Flip() CoinSide
}

// RandomCoin is a fair coin. It is not meant to be cryptographically strong.
// With a nil Rand it uses the package-level generator and is safe for concurrent use.
type RandomCoin struct {
	Rand *rand.Rand
}

func (c RandomCoin) Flip() CoinSide {
	var heads bool
	if c.Rand != nil {
		heads = c.Rand.IntN(2) == 0
	} else {
		heads = rand.IntN(2) == 0
	}
	if heads {
		return Heads
	}
	return Tails
}

// FixedCoin always lands on the same side.
type FixedCoin CoinSide

func (c FixedCoin) Flip() CoinSide { return CoinSide(c) }

type ItemCount struct {
	ItemID string `json:"item_id"`
	Votes  int    `json:"votes"`
}

// Tally holds per-item counts for a duel, sorted by votes descending.
type Tally []ItemCount

// NewTally counts the chosen items. Both duel items are always present.
// Choices that are not part of the duel are ignored.
func NewTally(d Duel, choices []string) Tally {
	counts := map[string]int{d.Item1: 0, d.Item2: 0}
	for _, c := range choices {
		if d.Has(c) {
			counts[c]++
		}
	}
	t := Tally{{ItemID: d.Item1, Votes: counts[d.Item1]}, {ItemID: d.Item2, Votes: counts[d.Item2]}}
	sort.SliceStable(t, func(i, j int) bool { return t[i].Votes > t[j].Votes })
	return t
}

func (t Tally) Total() int {
	n := 0
	for _, c := range t {
		n += c.Votes
	}
	return n
}

func (t Tally) Count(itemID string) int {
	for _, c := range t {
		if c.ItemID == itemID {
			return c.Votes
		}
	}
	return 0
}

// ResolveDuel picks the winner of a completed duel. Only the top two counts are
// compared; when they are equal a single coin flip decides (heads -> Item1).
func ResolveDuel(d Duel, t Tally, coin Coin) (string, *TieBreak) {
	if len(t) == 0 {
		return "", nil
	}
	if len(t) < 2 || t[0].Votes != t[1].Votes {
		return t[0].ItemID, nil
	}

	side := coin.Flip()
	winner := d.Item1
	if side == Tails {
		winner = d.Item2
	}
	return winner, &TieBreak{
		DuelIndex: d.Index,
		Item1:     d.Item1,
		Item2:     d.Item2,
		Coin:      side,
		Winner:    winner,
		Votes:     t[0].Votes,
	}
}
