package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var duel = Duel{Index: 3, Round: 2, Match: 1, Item1: "a", Item2: "b"}

func TestNewTally(t *testing.T) {
	tally := NewTally(duel, []string{"b", "a", "b", "zzz"})

	require.Len(t, tally, 2)
	assert.Equal(t, ItemCount{ItemID: "b", Votes: 2}, tally[0])
	assert.Equal(t, ItemCount{ItemID: "a", Votes: 1}, tally[1])
	assert.Equal(t, 3, tally.Total())
	assert.Equal(t, 0, NewTally(duel, nil).Count("a"))
}

func TestResolveDuel(t *testing.T) {
	cases := []struct {
		name       string
		choices    []string
		coin       CoinSide
		wantWinner string
		wantTie    bool
	}{
		{name: "clear majority", choices: []string{"a", "a", "b"}, coin: Tails, wantWinner: "a"},
		{name: "unanimous second item", choices: []string{"b", "b"}, coin: Heads, wantWinner: "b"},
		{name: "tie heads takes item1", choices: []string{"a", "b"}, coin: Heads, wantWinner: "a", wantTie: true},
		{name: "tie tails takes item2", choices: []string{"b", "a"}, coin: Tails, wantWinner: "b", wantTie: true},
		{name: "no votes is a tie", choices: nil, coin: Tails, wantWinner: "b", wantTie: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			winner, tb := ResolveDuel(duel, NewTally(duel, tc.choices), FixedCoin(tc.coin))

			assert.Equal(t, tc.wantWinner, winner)
			if !tc.wantTie {
				assert.Nil(t, tb)
				return
			}
			require.NotNil(t, tb)
			assert.Equal(t, TieBreak{
				DuelIndex: 3,
				Item1:     "a",
				Item2:     "b",
				Coin:      tc.coin,
				Winner:    tc.wantWinner,
				Votes:     len(tc.choices) / 2,
			}, *tb)
		})
	}
}

func TestRandomCoin_LandsOnBothSides(t *testing.T) {
	seen := map[CoinSide]bool{}
	for i := 0; i < 200 && len(seen) < 2; i++ {
		seen[RandomCoin{}.Flip()] = true
	}
	assert.True(t, seen[Heads])
	assert.True(t, seen[Tails])
}
