// Package store persists durable voice-state rows behind the REST
// collaborator. Rows live independently of the live signaling path and may
// transiently disagree with it; reconciliation on join is the resync point.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/harmonium-chat/harmonium/internal/domain"
)

// VoiceStateRow is one persisted participant record, keyed by user within a
// channel. A user holds at most one row because a client may join one room
// at a time.
type VoiceStateRow struct {
	UserID        string    `gorm:"primaryKey;column:user_id"`
	ChannelID     string    `gorm:"column:channel_id;index"`
	DisplayName   string    `gorm:"column:display_name"`
	Muted         bool      `gorm:"column:is_muted"`
	CameraOn      bool      `gorm:"column:is_camera_on"`
	Deafened      bool      `gorm:"column:is_deafened"`
	ScreenSharing bool      `gorm:"column:is_screen_sharing"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (VoiceStateRow) TableName() string { return "voice_states" }

// VoiceStates is the GORM-backed repository for voice-state rows.
type VoiceStates struct {
	db *gorm.DB
}

// Open connects to the configured database. An empty DSN falls back to a
// local sqlite file for development.
func Open(dsn string) (*VoiceStates, error) {
	var dial gorm.Dialector
	if dsn == "" {
		dial = sqlite.Open("harmonium.db")
	} else {
		dial = postgres.Open(dsn)
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewVoiceStates(db)
}

func NewVoiceStates(db *gorm.DB) (*VoiceStates, error) {
	if err := db.AutoMigrate(&VoiceStateRow{}); err != nil {
		return nil, fmt.Errorf("migrate voice states: %w", err)
	}
	return &VoiceStates{db: db}, nil
}

// Save upserts the participant's row for the given channel.
func (s *VoiceStates) Save(ctx context.Context, ch domain.ChannelID, p domain.Participant) error {
	row := VoiceStateRow{
		UserID:        string(p.UserID),
		ChannelID:     string(ch),
		DisplayName:   p.DisplayName,
		Muted:         p.State.Muted,
		CameraOn:      p.State.CameraOn,
		Deafened:      p.State.Deafened,
		ScreenSharing: p.State.ScreenSharing,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		log.Error().Err(err).Str("module", "store").Str("user", string(p.UserID)).Msg("failed to save voice state")
		return err
	}
	return nil
}

// Delete removes the user's row. Missing rows are not an error; leave must
// stay idempotent all the way down.
func (s *VoiceStates) Delete(ctx context.Context, ch domain.ChannelID, user domain.UserID) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND channel_id = ?", string(user), string(ch)).
		Delete(&VoiceStateRow{})
	if res.Error != nil {
		log.Error().Err(res.Error).Str("module", "store").Str("user", string(user)).Msg("failed to delete voice state")
		return res.Error
	}
	return nil
}

// ListByChannel returns the channel's persisted rows.
func (s *VoiceStates) ListByChannel(ctx context.Context, ch domain.ChannelID) ([]VoiceStateRow, error) {
	var rows []VoiceStateRow
	err := s.db.WithContext(ctx).
		Where("channel_id = ?", string(ch)).
		Order("user_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
