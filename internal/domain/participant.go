package domain

import "errors"

const (
	MaxUserIDLen      = 36
	MaxDisplayNameLen = 64
)

var (
	ErrUserIDEmpty        = errors.New("user id empty")
	ErrUserIDTooLong      = errors.New("user id too long")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

// Participant is one connected, authenticated user inside a voice channel.
type Participant struct {
	UserID      UserID     `json:"userId"`
	ConnID      ConnID     `json:"-"`
	DisplayName string     `json:"displayName"`
	State       VoiceState `json:"state"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(user UserID, conn ConnID, displayName string, state VoiceState) (*Participant, error) {
	if len(user) == 0 {
		return nil, ErrUserIDEmpty
	}
	if len(user) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	if displayName == "" {
		displayName = string(user)
	}
	return &Participant{UserID: user, ConnID: conn, DisplayName: displayName, State: state}, nil
}
