package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/DoyleJ11/duel-tourney-backend/internal/apperr"
	"github.com/DoyleJ11/duel-tourney-backend/internal/engine"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
)

// buildArchive joins the vote log against the final bracket.
func buildArchive(gs *store.GameSession, votes []store.Vote, members []store.RoomMember, finishedAt time.Time) (*store.Archive, error) {
	st := gs.State
	champion, ok := st.Item(st.Champion)
	if !ok {
		return nil, fmt.Errorf("champion %q is not a tournament item", st.Champion)
	}

	byDuel := make(map[int][]store.Vote, len(st.Duels))
	seen := map[string]bool{}
	participants := []string{}
	addParticipant := func(id string) {
		if !seen[id] {
			seen[id] = true
			participants = append(participants, id)
		}
	}
	for _, m := range members {
		addParticipant(m.ParticipantID)
	}
	for _, v := range votes {
		byDuel[v.DuelIndex] = append(byDuel[v.DuelIndex], v)
		addParticipant(v.ParticipantID)
	}
	slices.Sort(participants)

	duels := make([]store.ArchivedDuel, 0, len(st.Duels))
	for _, d := range st.Duels {
		dv := byDuel[d.Index]
		slices.SortFunc(dv, func(a, b store.Vote) int { return strings.Compare(a.ParticipantID, b.ParticipantID) })
		voters := make([]store.ArchivedVote, len(dv))
		for i, v := range dv {
			voters[i] = store.ArchivedVote{ParticipantID: v.ParticipantID, ItemID: v.ItemID}
		}
		i1, _ := st.Item(d.Item1)
		i2, _ := st.Item(d.Item2)
		ad := store.ArchivedDuel{
			Index:  d.Index,
			Round:  d.Round,
			Match:  d.Match,
			Item1:  i1,
			Item2:  i2,
			Winner: st.Results[d.Index],
			Tally:  engine.NewTally(d, choices(dv)),
			Votes:  voters,
		}
		if tb, ok := st.TieBreakFor(d.Index); ok {
			ad.TieBreak = &tb
		}
		duels = append(duels, ad)
	}

	a := &store.Archive{
		SessionID:    gs.ID,
		RoomID:       gs.RoomID,
		Champion:     champion,
		Participants: participants,
		Duels:        duels,
		TotalRounds:  st.TotalRounds,
		FinishedAt:   finishedAt.UTC(),
	}
	digest, err := archiveDigest(a)
	if err != nil {
		return nil, err
	}
	a.Digest = digest
	return a, nil
}

// archiveDigest is the hex BLAKE2b-256 of the archive's JSON body without its digest.
func archiveDigest(a *store.Archive) (string, error) {
	body := *a
	body.Digest = ""
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyArchive reports whether the archive still matches its digest.
func VerifyArchive(a *store.Archive) bool {
	d, err := archiveDigest(a)
	return err == nil && d == a.Digest
}

// FinalResults returns the archive of a finished session.
func (s *Service) FinalResults(ctx context.Context, sessionID string) (*store.Archive, error) {
	var a *store.Archive
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		a, err = tx.GetArchive(ctx, sessionID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return storeErr("load archive", err)
		}
		if _, err := loadSession(ctx, tx, sessionID, false); err != nil {
			return err
		}
		return apperr.WithMetadata(apperr.CodeSessionNotFinished, "session is not finished", map[string]string{"session_id": sessionID})
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}
