package engine

import (
	"math/bits"
	"math/rand/v2"
	"slices"
)

// Shuffler is satisfied by *math/rand/v2.Rand.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

type globalShuffler struct{}

func (globalShuffler) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// RandomShuffler uses the package-level generator and is safe for concurrent use.
var RandomShuffler Shuffler = globalShuffler{}

// BuildBracket shuffles the items and pairs them into round-one duels.
// There are no byes: a trailing unpaired item is dropped and reported in State.Dropped.
func BuildBracket(roomID string, items []Item, rng Shuffler) (State, error) {
	if len(items) < 2 {
		return State{}, ErrNotEnoughItems
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if it.ID == "" || seen[it.ID] {
			return State{}, ErrDuplicateItem
		}
		seen[it.ID] = true
	}

	order := slices.Clone(items)
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	ids := make([]string, len(order))
	for i, it := range order {
		ids[i] = it.ID
	}
	duels, dropped := pairItems(ids, 1, 0)

	return State{
		RoomID:       roomID,
		Duels:        duels,
		CurrentDuel:  0,
		CurrentRound: 1,
		TotalRounds:  TotalRounds(len(items)),
		Winners:      []string{},
		AllItems:     slices.Clone(items),
		TieBreakers:  []TieBreak{},
		Results:      map[int]string{},
		Dropped:      dropped,
	}, nil
}

// TotalRounds is ceil(log2(n)).
func TotalRounds(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

func pairItems(ids []string, round, firstIndex int) ([]Duel, []string) {
	duels := make([]Duel, 0, len(ids)/2)
	for i := 0; i+1 < len(ids); i += 2 {
		duels = append(duels, Duel{
			Index: firstIndex + len(duels),
			Round: round,
			Match: len(duels),
			Item1: ids[i],
			Item2: ids[i+1],
		})
	}
	var dropped []string
	if len(ids)%2 == 1 {
		dropped = []string{ids[len(ids)-1]}
	}
	return duels, dropped
}
