package gormstore

import (
	"time"

	"gorm.io/datatypes"

	"github.com/DoyleJ11/duel-tourney-backend/internal/engine"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store"
)

type sessionRow struct {
	ID               string `gorm:"primaryKey;size:64"`
	RoomID           string `gorm:"size:64;not null;index"`
	Status           string `gorm:"size:16;not null;index"`
	CurrentDuelIndex int    `gorm:"not null"`
	Version          int64  `gorm:"not null"`
	State            datatypes.JSONType[engine.State]
	SyncedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (sessionRow) TableName() string { return "game_sessions" }

func (r sessionRow) toModel() *store.GameSession {
	return &store.GameSession{
		ID:               r.ID,
		RoomID:           r.RoomID,
		Status:           store.Status(r.Status),
		CurrentDuelIndex: r.CurrentDuelIndex,
		Version:          r.Version,
		State:            r.State.Data(),
		SyncedAt:         r.SyncedAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

type voteRow struct {
	SessionID     string `gorm:"primaryKey;size:64"`
	DuelIndex     int    `gorm:"primaryKey;autoIncrement:false"`
	ParticipantID string `gorm:"primaryKey;size:64"`
	ItemID        string `gorm:"size:128;not null"`
	CreatedAt     time.Time
}

func (voteRow) TableName() string { return "votes" }

func (r voteRow) toModel() store.Vote {
	return store.Vote{
		SessionID:     r.SessionID,
		ParticipantID: r.ParticipantID,
		DuelIndex:     r.DuelIndex,
		ItemID:        r.ItemID,
		CreatedAt:     r.CreatedAt,
	}
}

type ackRow struct {
	SessionID     string `gorm:"primaryKey;size:64"`
	DuelIndex     int    `gorm:"primaryKey;autoIncrement:false"`
	ParticipantID string `gorm:"primaryKey;size:64"`
	Kind          string `gorm:"size:16;not null"`
	CreatedAt     time.Time
}

func (ackRow) TableName() string { return "continuation_acks" }

func (r ackRow) toModel() store.Ack {
	return store.Ack{
		SessionID:     r.SessionID,
		ParticipantID: r.ParticipantID,
		DuelIndex:     r.DuelIndex,
		Kind:          store.AckKind(r.Kind),
		CreatedAt:     r.CreatedAt,
	}
}

type roomRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	OwnerID   string `gorm:"size:64;not null"`
	Name      string `gorm:"size:200"`
	CreatedAt time.Time
}

func (roomRow) TableName() string { return "rooms" }

type memberRow struct {
	RoomID        string `gorm:"primaryKey;size:64"`
	ParticipantID string `gorm:"primaryKey;size:64"`
	InGame        bool   `gorm:"not null;default:false"`
	JoinedAt      time.Time
}

func (memberRow) TableName() string { return "room_members" }

type archiveRow struct {
	SessionID  string `gorm:"primaryKey;size:64"`
	RoomID     string `gorm:"size:64;not null;index"`
	Champion   string `gorm:"size:128;not null"`
	Digest     string `gorm:"size:64;not null"`
	Body       datatypes.JSONType[store.Archive]
	FinishedAt time.Time
}

func (archiveRow) TableName() string { return "session_archives" }
