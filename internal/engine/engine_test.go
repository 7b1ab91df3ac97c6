package engine

import (
	"errors"
	"fmt"
	"testing"
)

// identity keeps the input order so brackets are predictable.
type identity struct{}

func (identity) Shuffle(int, func(i, j int)) {}

func items(n int) []Item {
	out := make([]Item, n)
	for i := range out {
		out[i] = Item{ID: fmt.Sprintf("i%d", i+1), Name: fmt.Sprintf("Item %d", i+1)}
	}
	return out
}

func mustBuild(t *testing.T, n int) State {
	t.Helper()
	s, err := BuildBracket("room", items(n), identity{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return s
}

func containsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func TestRecordWinner_RejectsForeignItem(t *testing.T) {
	s := mustBuild(t, 4)

	_, _, err := Apply(s, Command{Type: CmdRecordWinner, Winner: "i3"})
	if err == nil || !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("want ErrUnknownItem, got %v", err)
	}
}

func TestRecordWinner_StagesWithoutMovingCurrentDuel(t *testing.T) {
	s := mustBuild(t, 4)

	events, next, err := Apply(s, Command{Type: CmdRecordWinner, Winner: "i1"})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if next.CurrentDuel != 0 {
		t.Fatalf("current duel moved before release: %d", next.CurrentDuel)
	}
	if next.Next == nil || next.Next.DuelIndex != 1 || next.Next.RoundComplete {
		t.Fatalf("unexpected staged transition %+v", next.Next)
	}
	if !containsEvent(events, EvtNextDuelStaged) {
		t.Fatalf("expected EvtNextDuelStaged")
	}
	if len(s.Winners) != 0 {
		t.Fatalf("input state was mutated: %+v", s.Winners)
	}
}

func TestRecordWinner_RejectsSecondResolution(t *testing.T) {
	s := mustBuild(t, 4)
	_, s, _ = Apply(s, Command{Type: CmdRecordWinner, Winner: "i1"})

	_, _, err := Apply(s, Command{Type: CmdRecordWinner, Winner: "i2"})
	if !errors.Is(err, ErrDuelClosed) {
		t.Fatalf("want ErrDuelClosed, got %v", err)
	}
}

func TestRelease_RequiresStagedTransition(t *testing.T) {
	s := mustBuild(t, 4)

	_, _, err := Apply(s, Command{Type: CmdRelease})
	if !errors.Is(err, ErrNothingStaged) {
		t.Fatalf("want ErrNothingStaged, got %v", err)
	}
}

func TestFourItems_NoTies_PlaysToChampion(t *testing.T) {
	s := mustBuild(t, 4)

	steps := []struct {
		winner        string
		wantEvent     EventType
		wantNextDuel  int
		roundComplete bool
	}{
		{winner: "i1", wantEvent: EvtNextDuelStaged, wantNextDuel: 1},
		{winner: "i4", wantEvent: EvtRoundCompleted, wantNextDuel: 2, roundComplete: true},
	}

	for _, st := range steps {
		events, next, err := Apply(s, Command{Type: CmdRecordWinner, Winner: st.winner})
		if err != nil {
			t.Fatalf("record %s: %v", st.winner, err)
		}
		if !containsEvent(events, st.wantEvent) {
			t.Fatalf("record %s: missing %s in %+v", st.winner, st.wantEvent, events)
		}
		if next.Next.DuelIndex != st.wantNextDuel || next.Next.RoundComplete != st.roundComplete {
			t.Fatalf("record %s: staged %+v", st.winner, next.Next)
		}
		_, s, err = Apply(next, Command{Type: CmdRelease})
		if err != nil {
			t.Fatalf("release: %v", err)
		}
	}

	if s.CurrentRound != 2 || s.CurrentDuel != 2 {
		t.Fatalf("want round 2 duel 2, got round %d duel %d", s.CurrentRound, s.CurrentDuel)
	}
	final := s.Duels[2]
	if final.Item1 != "i1" || final.Item2 != "i4" || final.Round != 2 || final.Match != 0 {
		t.Fatalf("unexpected final %+v", final)
	}

	events, s, err := Apply(s, Command{Type: CmdRecordWinner, Winner: "i4"})
	if err != nil {
		t.Fatalf("final: %v", err)
	}
	if !containsEvent(events, EvtTournamentCompleted) {
		t.Fatalf("expected EvtTournamentCompleted")
	}
	if s.Champion != "i4" || s.Next != nil {
		t.Fatalf("want champion i4 with nothing staged, got %q %+v", s.Champion, s.Next)
	}
	if len(s.Duels) != 3 || s.TotalRounds != 2 {
		t.Fatalf("want 3 duels over 2 rounds, got %d/%d", len(s.Duels), s.TotalRounds)
	}

	if _, _, err := Apply(s, Command{Type: CmdRecordWinner, Winner: "i4"}); !errors.Is(err, ErrTournamentCompleted) {
		t.Fatalf("want ErrTournamentCompleted, got %v", err)
	}
}

func TestRecordWinner_TieBreakIsRecordedAndFlagged(t *testing.T) {
	s := mustBuild(t, 2)
	s.Duels = append(s.Duels, Duel{Index: 1, Round: 1, Match: 1, Item1: "x", Item2: "y"})

	tb := &TieBreak{Item1: "i1", Item2: "i2", Coin: Tails, Winner: "i2", Votes: 1}
	events, next, err := Apply(s, Command{Type: CmdRecordWinner, Winner: "i2", TieBreak: tb})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if !containsEvent(events, EvtTieBroken) {
		t.Fatalf("expected EvtTieBroken")
	}
	if !next.Next.TieBreak {
		t.Fatalf("staged transition should require the tie quorum")
	}
	got, ok := next.TieBreakFor(0)
	if !ok || got.Winner != "i2" || got.Coin != Tails {
		t.Fatalf("unexpected tie record %+v", got)
	}
}

func TestRecordWinner_OddWinnersDropTrailing(t *testing.T) {
	s := mustBuild(t, 6)

	for _, w := range []string{"i1", "i3", "i5"} {
		var err error
		_, s, err = Apply(s, Command{Type: CmdRecordWinner, Winner: w})
		if err != nil {
			t.Fatalf("record %s: %v", w, err)
		}
		_, s, err = Apply(s, Command{Type: CmdRelease})
		if err != nil {
			t.Fatalf("release: %v", err)
		}
	}

	if s.DuelsInRound(2) != 1 {
		t.Fatalf("want a single round-2 duel, got %d", s.DuelsInRound(2))
	}
	if len(s.Dropped) != 1 || s.Dropped[0] != "i5" {
		t.Fatalf("want i5 dropped, got %+v", s.Dropped)
	}
}
