package gormstore

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
)

type tx struct {
	db *gorm.DB
}

func (t *tx) CreateSession(ctx context.Context, gs *store.GameSession) error {
	if gs.Version == 0 {
		gs.Version = 1
	}
	row := sessionRow{
		ID:               gs.ID,
		RoomID:           gs.RoomID,
		Status:           string(gs.Status),
		CurrentDuelIndex: gs.CurrentDuelIndex,
		Version:          gs.Version,
		State:            datatypes.NewJSONType(gs.State),
		SyncedAt:         gs.SyncedAt,
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate(err)
	}
	gs.CreatedAt, gs.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func (t *tx) GetSession(ctx context.Context, id string) (*store.GameSession, error) {
	var row sessionRow
	if err := t.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate(err)
	}
	return row.toModel(), nil
}

func (t *tx) ActiveSessionForRoom(ctx context.Context, roomID string) (*store.GameSession, error) {
	var row sessionRow
	err := t.db.WithContext(ctx).
		Where("room_id = ? AND status = ?", roomID, string(store.StatusInProgress)).
		Take(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return row.toModel(), nil
}

// UpdateSession is a compare-and-swap on (version, current_duel_index). Under
// Postgres READ COMMITTED a concurrent writer blocks on the row and then sees
// the bumped version, so at most one of two racing transactions commits.
func (t *tx) UpdateSession(ctx context.Context, gs *store.GameSession, expectedVersion int64, expectedDuel int) error {
	now := time.Now()
	res := t.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND version = ? AND current_duel_index = ?", gs.ID, expectedVersion, expectedDuel).
		Updates(map[string]any{
			"status":             string(gs.Status),
			"current_duel_index": gs.CurrentDuelIndex,
			"version":            expectedVersion + 1,
			"state":              datatypes.NewJSONType(gs.State),
			"synced_at":          gs.SyncedAt,
			"updated_at":         now,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := t.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", gs.ID).Count(&n).Error; err != nil {
			return translate(err)
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	gs.Version = expectedVersion + 1
	gs.UpdatedAt = now
	return nil
}

func (t *tx) DeleteSession(ctx context.Context, id string) error {
	res := t.db.WithContext(ctx).Where("id = ?", id).Delete(&sessionRow{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) InsertVote(ctx context.Context, v store.Vote) error {
	row := voteRow{
		SessionID:     v.SessionID,
		DuelIndex:     v.DuelIndex,
		ParticipantID: v.ParticipantID,
		ItemID:        v.ItemID,
		CreatedAt:     v.CreatedAt,
	}
	return translate(t.db.WithContext(ctx).Create(&row).Error)
}

func (t *tx) ListVotes(ctx context.Context, sessionID string, duelIndex int) ([]store.Vote, error) {
	var rows []voteRow
	err := t.db.WithContext(ctx).
		Where("session_id = ? AND duel_index = ?", sessionID, duelIndex).
		Order("created_at, participant_id").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	return votesToModel(rows), nil
}

func (t *tx) ListSessionVotes(ctx context.Context, sessionID string) ([]store.Vote, error) {
	var rows []voteRow
	err := t.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("duel_index, created_at, participant_id").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	return votesToModel(rows), nil
}

func votesToModel(rows []voteRow) []store.Vote {
	out := make([]store.Vote, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out
}

func (t *tx) DeleteVotes(ctx context.Context, sessionID, participantID string, fromDuel int) error {
	q := t.db.WithContext(ctx).Where("session_id = ? AND duel_index >= ?", sessionID, fromDuel)
	if participantID != "" {
		q = q.Where("participant_id = ?", participantID)
	}
	return translate(q.Delete(&voteRow{}).Error)
}

func (t *tx) InsertAck(ctx context.Context, a store.Ack) error {
	row := ackRow{
		SessionID:     a.SessionID,
		DuelIndex:     a.DuelIndex,
		ParticipantID: a.ParticipantID,
		Kind:          string(a.Kind),
		CreatedAt:     a.CreatedAt,
	}
	return translate(t.db.WithContext(ctx).Create(&row).Error)
}

func (t *tx) CountAcks(ctx context.Context, sessionID string, duelIndex int) (int, error) {
	var n int64
	err := t.db.WithContext(ctx).Model(&ackRow{}).
		Where("session_id = ? AND duel_index = ?", sessionID, duelIndex).
		Count(&n).Error
	return int(n), translate(err)
}

func (t *tx) ListAcks(ctx context.Context, sessionID string, duelIndex int) ([]store.Ack, error) {
	var rows []ackRow
	err := t.db.WithContext(ctx).
		Where("session_id = ? AND duel_index = ?", sessionID, duelIndex).
		Order("created_at, participant_id").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	out := make([]store.Ack, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (t *tx) DeleteAcks(ctx context.Context, sessionID string, duelIndex int, participantID string) error {
	q := t.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if duelIndex >= 0 {
		q = q.Where("duel_index = ?", duelIndex)
	}
	if participantID != "" {
		q = q.Where("participant_id = ?", participantID)
	}
	return translate(q.Delete(&ackRow{}).Error)
}

func (t *tx) CreateRoom(ctx context.Context, r *store.Room) error {
	row := roomRow{ID: r.ID, OwnerID: r.OwnerID, Name: r.Name}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate(err)
	}
	r.CreatedAt = row.CreatedAt
	return nil
}

func (t *tx) GetRoom(ctx context.Context, id string) (*store.Room, error) {
	var row roomRow
	if err := t.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate(err)
	}
	return &store.Room{ID: row.ID, OwnerID: row.OwnerID, Name: row.Name, CreatedAt: row.CreatedAt}, nil
}

func (t *tx) DeleteRoom(ctx context.Context, id string) error {
	db := t.db.WithContext(ctx)
	if err := db.Where("room_id = ?", id).Delete(&memberRow{}).Error; err != nil {
		return translate(err)
	}
	return translate(db.Where("id = ?", id).Delete(&roomRow{}).Error)
}

func (t *tx) AddMember(ctx context.Context, m store.RoomMember) error {
	var n int64
	if err := t.db.WithContext(ctx).Model(&roomRow{}).Where("id = ?", m.RoomID).Count(&n).Error; err != nil {
		return translate(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	// A failed INSERT aborts a Postgres transaction, so duplicates are
	// detected without one.
	row := memberRow{RoomID: m.RoomID, ParticipantID: m.ParticipantID, InGame: m.InGame, JoinedAt: time.Now()}
	res := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrDuplicate
	}
	return nil
}

func (t *tx) RemoveMember(ctx context.Context, roomID, participantID string) error {
	res := t.db.WithContext(ctx).
		Where("room_id = ? AND participant_id = ?", roomID, participantID).
		Delete(&memberRow{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) ListMembers(ctx context.Context, roomID string) ([]store.RoomMember, error) {
	var rows []memberRow
	err := t.db.WithContext(ctx).Where("room_id = ?", roomID).Order("joined_at, participant_id").Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	out := make([]store.RoomMember, len(rows))
	for i, r := range rows {
		out[i] = store.RoomMember{RoomID: r.RoomID, ParticipantID: r.ParticipantID, InGame: r.InGame, JoinedAt: r.JoinedAt}
	}
	return out, nil
}

func (t *tx) SetInGame(ctx context.Context, roomID string, inGame bool) error {
	return translate(t.db.WithContext(ctx).Model(&memberRow{}).
		Where("room_id = ?", roomID).
		Update("in_game", inGame).Error)
}

func (t *tx) SetMemberInGame(ctx context.Context, roomID, participantID string, inGame bool) error {
	res := t.db.WithContext(ctx).Model(&memberRow{}).
		Where("room_id = ? AND participant_id = ?", roomID, participantID).
		Update("in_game", inGame)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) InsertArchive(ctx context.Context, a *store.Archive) error {
	row := archiveRow{
		SessionID:  a.SessionID,
		RoomID:     a.RoomID,
		Champion:   a.Champion.ID,
		Digest:     a.Digest,
		Body:       datatypes.NewJSONType(*a),
		FinishedAt: a.FinishedAt,
	}
	return translate(t.db.WithContext(ctx).Create(&row).Error)
}

func (t *tx) GetArchive(ctx context.Context, sessionID string) (*store.Archive, error) {
	var row archiveRow
	if err := t.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&row).Error; err != nil {
		return nil, translate(err)
	}
	a := row.Body.Data()
	return &a, nil
}
