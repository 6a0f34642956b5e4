// Package protocol defines the JSON wire schema spoken over the signaling
// websocket. The server routes these frames but never interprets SDP or ICE
// payloads, so candidate bodies stay raw.
package protocol

import (
	"encoding/json"

	"github.com/harmonium-chat/harmonium/internal/domain"
)

// Client -> server message types.
const (
	TypeJoin       = "join-voice-channel"
	TypeLeave      = "leave-voice-channel"
	TypeUserUpdate = "voice-user-update"
	TypeOffer      = "webrtc-offer"
	TypeAnswer     = "webrtc-answer"
	TypeCandidate  = "webrtc-ice-candidate"
	TypePing       = "ping"
)

// Server -> client message types.
const (
	TypeUserJoined  = "voice-user-joined"
	TypeUserLeft    = "voice-user-left"
	TypeUserUpdated = "voice-user-updated"
	TypePong        = "pong"
	TypeError       = "error"
)

// Envelope is the minimal prefix every frame carries; handlers re-unmarshal
// the full frame into the matching payload struct.
type Envelope struct {
	Type string `json:"type"`
}

// Participant is the read-only wire view of a channel member.
type Participant struct {
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
	IsMuted     bool          `json:"isMuted"`
	IsCameraOn  bool          `json:"isCameraOn"`
	IsDeafened  bool          `json:"isDeafened"`
	IsScreen    bool          `json:"isScreenSharing"`
}

// FromDomain converts a registry participant into its wire view.
func FromDomain(p domain.Participant) Participant {
	return Participant{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		IsMuted:     p.State.Muted,
		IsCameraOn:  p.State.CameraOn,
		IsDeafened:  p.State.Deafened,
		IsScreen:    p.State.ScreenSharing,
	}
}

// ToState rebuilds the domain voice state out of the wire view.
func (p Participant) ToState() domain.VoiceState {
	return domain.VoiceState{
		Muted:         p.IsMuted,
		CameraOn:      p.IsCameraOn,
		Deafened:      p.IsDeafened,
		ScreenSharing: p.IsScreen,
	}
}

type JoinVoiceChannel struct {
	Type       string           `json:"type"`
	ChannelID  domain.ChannelID `json:"channelId"`
	IsMuted    bool             `json:"isMuted"`
	IsCameraOn bool             `json:"isCameraOn"`
}

type LeaveVoiceChannel struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channelId"`
}

// VoiceUserUpdate carries the partial state flags flat on the frame, next to
// channelId; absent flags leave the current value alone.
type VoiceUserUpdate struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channelId"`
	domain.VoiceStatePatch
}

// Signal carries one relayed negotiation message: an SDP offer/answer or a
// single ICE candidate, in the field named after the frame type. The sender
// fills TargetUserID; the relay stamps FromUserID before forwarding.
// Candidate stays opaque to the server.
type Signal struct {
	Type         string           `json:"type"`
	ChannelID    domain.ChannelID `json:"channelId"`
	TargetUserID domain.UserID    `json:"targetUserId,omitempty"`
	FromUserID   domain.UserID    `json:"fromUserId,omitempty"`
	Offer        string           `json:"offer,omitempty"`
	Answer       string           `json:"answer,omitempty"`
	Candidate    json.RawMessage  `json:"candidate,omitempty"`
}

type VoiceUserJoined struct {
	Type        string           `json:"type"`
	ChannelID   domain.ChannelID `json:"channelId"`
	Participant Participant      `json:"participant"`
}

type VoiceUserLeft struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channelId"`
	UserID    domain.UserID    `json:"userId"`
}

// VoiceUserUpdated echoes the accepted partial flags flat, the same shape the
// update request used, plus the userId they apply to.
type VoiceUserUpdated struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channelId"`
	UserID    domain.UserID    `json:"userId"`
	domain.VoiceStatePatch
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
