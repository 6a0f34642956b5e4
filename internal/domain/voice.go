// Package domain contains entity without logic, just meta-data
package domain

type (
	// UserID is the authenticated identity attached to a connection.
	UserID string
	// ChannelID names one voice channel ("room").
	ChannelID string
	// ConnID identifies one signaling transport connection. It is a weak
	// back-reference: the registry looks connections up by it but never
	// owns or closes them.
	ConnID string
)

// VoiceState is the per-participant media state. The booleans are mutated
// only by their owning user's update messages, never by peers.
type VoiceState struct {
	Muted         bool `json:"isMuted"`
	CameraOn      bool `json:"isCameraOn"`
	Deafened      bool `json:"isDeafened"`
	ScreenSharing bool `json:"isScreenSharing"`
}

// VoiceStatePatch is a partial voice-state update. Nil fields are left as is.
type VoiceStatePatch struct {
	Muted         *bool `json:"isMuted,omitempty"`
	CameraOn      *bool `json:"isCameraOn,omitempty"`
	Deafened      *bool `json:"isDeafened,omitempty"`
	ScreenSharing *bool `json:"isScreenSharing,omitempty"`
}

// IsZero reports whether the patch carries no fields at all.
func (p VoiceStatePatch) IsZero() bool {
	return p.Muted == nil && p.CameraOn == nil && p.Deafened == nil && p.ScreenSharing == nil
}

// Apply merges the patch into s and returns the result.
func (p VoiceStatePatch) Apply(s VoiceState) VoiceState {
	if p.Muted != nil {
		s.Muted = *p.Muted
	}
	if p.CameraOn != nil {
		s.CameraOn = *p.CameraOn
	}
	if p.Deafened != nil {
		s.Deafened = *p.Deafened
	}
	if p.ScreenSharing != nil {
		s.ScreenSharing = *p.ScreenSharing
	}
	return s
}
