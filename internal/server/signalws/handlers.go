package signalws

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/harmonium-chat/harmonium/internal/domain"
	"github.com/harmonium-chat/harmonium/internal/protocol"
	"github.com/harmonium-chat/harmonium/internal/server/registry"
)

func (ctl *Controller) handleJoin(s *session, data []byte) {
	var p protocol.JoinVoiceChannel
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("bad join payload")
		ctl.sendError(s.conn, "bad_payload")
		return
	}
	if p.ChannelID == "" {
		ctl.sendError(s.conn, "empty channel")
		return
	}
	if !ctl.limiter.Allow(s.id.UserID) {
		ctl.sendError(s.conn, "join rate limited")
		return
	}

	member, err := domain.NewParticipant(s.id.UserID, s.connID, s.id.DisplayName, domain.VoiceState{
		Muted:    p.IsMuted,
		CameraOn: p.IsCameraOn,
	})
	if err != nil {
		ctl.sendError(s.conn, "bad_identity")
		return
	}

	if err := ctl.registry.Join(p.ChannelID, *member); err != nil {
		if errors.Is(err, registry.ErrAlreadyMember) {
			log.Warn().Str("module", "signalws").Str("user", string(s.id.UserID)).Str("channel", string(p.ChannelID)).Msg("join rejected: already member")
			ctl.sendError(s.conn, "already_member")
			return
		}
		if errors.Is(err, registry.ErrInAnotherChannel) {
			log.Warn().Str("module", "signalws").Str("user", string(s.id.UserID)).Str("channel", string(p.ChannelID)).Msg("join rejected: already in another channel")
			ctl.sendError(s.conn, "already_in_channel")
			return
		}
		ctl.sendError(s.conn, "join_failed")
		return
	}

	// Join success is implied by the broadcasts that follow; no direct ack.
	ctl.broadcast(p.ChannelID, protocol.VoiceUserJoined{
		Type:        protocol.TypeUserJoined,
		ChannelID:   p.ChannelID,
		Participant: protocol.FromDomain(*member),
	}, s.connID)
}

func (ctl *Controller) handleLeave(s *session, data []byte) {
	var p protocol.LeaveVoiceChannel
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("bad leave payload")
		return
	}
	member, ok := ctl.registry.Leave(p.ChannelID, s.connID)
	if !ok {
		// Duplicate leave from a disconnect race. Deliberately not an error.
		log.Debug().Str("module", "signalws").Str("user", string(s.id.UserID)).Str("channel", string(p.ChannelID)).Msg("leave for non-member")
		return
	}
	ctl.broadcastLeft(p.ChannelID, member, s.connID)
}

func (ctl *Controller) handleUpdate(s *session, data []byte) {
	var p protocol.VoiceUserUpdate
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("bad update payload")
		return
	}
	if p.VoiceStatePatch.IsZero() {
		return
	}
	member, ok := ctl.registry.Update(p.ChannelID, s.connID, p.VoiceStatePatch)
	if !ok {
		return
	}
	ctl.broadcast(p.ChannelID, protocol.VoiceUserUpdated{
		Type:            protocol.TypeUserUpdated,
		ChannelID:       p.ChannelID,
		UserID:          member.UserID,
		VoiceStatePatch: p.VoiceStatePatch,
	}, s.connID)
}

// handleSignal routes one offer/answer/candidate frame to its target. The
// payload is re-marshaled only to stamp fromUserId; SDP and candidate bodies
// pass through untouched.
func (ctl *Controller) handleSignal(s *session, data []byte) {
	var p protocol.Signal
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("bad signal payload")
		return
	}
	if p.TargetUserID == "" {
		log.Warn().Str("module", "signalws").Str("type", p.Type).Msg("signal without target")
		return
	}
	target := p.TargetUserID
	p.FromUserID = s.id.UserID
	p.TargetUserID = ""

	b, err := json.Marshal(p)
	if err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("signal marshal")
		return
	}
	ctl.relay.Relay(s.id.UserID, target, b)
}

func (ctl *Controller) broadcastLeft(ch domain.ChannelID, member domain.Participant, exclude domain.ConnID) {
	ctl.broadcast(ch, protocol.VoiceUserLeft{
		Type:      protocol.TypeUserLeft,
		ChannelID: ch,
		UserID:    member.UserID,
	}, exclude)
}

// broadcast fans a room event out and kicks members whose send buffer
// overflowed: a client that cannot drain lifecycle events is dropped from
// the room rather than left with a stale view of it.
func (ctl *Controller) broadcast(ch domain.ChannelID, v any, exclude domain.ConnID) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("broadcast marshal")
		return
	}
	dropped := ctl.relay.Broadcast(ctl.registry.Snapshot(ch), b, exclude)
	for _, slow := range dropped {
		log.Warn().Str("module", "signalws").Str("user", string(slow.UserID)).Str("channel", string(ch)).Msg("kicking slow member")
		if member, ok := ctl.registry.Leave(ch, slow.ConnID); ok {
			ctl.broadcastLeft(ch, member, slow.ConnID)
		}
	}
}
