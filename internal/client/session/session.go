// Package session ties the client's pieces together for one voice-channel
// membership: the signaling connection, the active peer link set, the local
// media controller, and the presence reconciler. All incoming signaling is
// handled by one dispatch loop, so message reactions never overlap.
package session

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/harmonium-chat/harmonium/internal/client/media"
	"github.com/harmonium-chat/harmonium/internal/client/peer"
	"github.com/harmonium-chat/harmonium/internal/domain"
	"github.com/harmonium-chat/harmonium/internal/protocol"
)

// Signaler is the persistent signaling connection.
type Signaler interface {
	Send(v any) error
	Incoming() <-chan []byte
	Close()
}

// Snapshotter fetches the point-in-time membership snapshot on join.
type Snapshotter interface {
	ChannelUsers(ctx context.Context, ch domain.ChannelID) ([]protocol.Participant, error)
}

// Persister writes the durable voice-state rows. Optional; the live
// signaling path works without it.
type Persister interface {
	JoinVoiceState(ctx context.Context, ch domain.ChannelID, state domain.VoiceStatePatch) error
	LeaveVoiceState(ctx context.Context, ch domain.ChannelID) error
	UpdateVoiceState(ctx context.Context, ch domain.ChannelID, state domain.VoiceStatePatch) error
}

// Events are the UI-facing callbacks. Nil fields are skipped.
type Events struct {
	ParticipantJoined  func(protocol.Participant)
	ParticipantLeft    func(domain.UserID)
	ParticipantUpdated func(domain.UserID, domain.VoiceStatePatch)
	RemoteTrack        func(domain.UserID, *webrtc.TrackRemote)
	LinkFailed         func(domain.UserID)
}

// Session is one user's membership in one voice channel. It owns the link
// set and is scoped to the connection lifetime: teardown on disconnect is
// total and local, with no process-wide shared state.
type Session struct {
	self    domain.UserID
	channel domain.ChannelID

	sig     Signaler
	snap    Snapshotter
	persist Persister
	links   *peer.Links
	media   *media.Controller
	events  Events
	logger  zerolog.Logger
}

type Options struct {
	Self      domain.UserID
	Signaler  Signaler
	Snapshot  Snapshotter
	Persister Persister
	Factory   peer.TransportFactory
	Device    media.Device
	Events    Events
	Logger    zerolog.Logger
}

func New(o Options) *Session {
	s := &Session{
		self:    o.Self,
		sig:     o.Signaler,
		snap:    o.Snapshot,
		persist: o.Persister,
		events:  o.Events,
		logger:  o.Logger.With().Str("module", "session").Str("self", string(o.Self)).Logger(),
	}
	s.links = peer.NewLinks(o.Self, o.Factory, o.Logger)
	s.links.OnTeardown(func(remote domain.UserID, final peer.LinkState) {
		if final == peer.StateFailed && s.events.LinkFailed != nil {
			s.events.LinkFailed(remote)
		}
	})
	s.media = media.NewController(o.Device, s.eachLink, s.reportState, o.Logger)
	return s
}

// Media exposes the local media controller for UI toggles.
func (s *Session) Media() *media.Controller { return s.media }

// Links exposes the active link set, mainly for introspection.
func (s *Session) Links() *peer.Links { return s.links }

// Join starts local capture, announces membership, persists the durable row
// and reconciles against the members already in the channel.
func (s *Session) Join(ctx context.Context, ch domain.ChannelID, muted, cameraOn bool) error {
	s.channel = ch

	if err := s.media.Start(ctx, muted, cameraOn); err != nil {
		return err
	}
	if err := s.sig.Send(protocol.JoinVoiceChannel{
		Type:       protocol.TypeJoin,
		ChannelID:  ch,
		IsMuted:    muted,
		IsCameraOn: cameraOn,
	}); err != nil {
		return err
	}
	if s.persist != nil {
		patch := domain.VoiceStatePatch{Muted: &muted, CameraOn: &cameraOn}
		if err := s.persist.JoinVoiceState(ctx, ch, patch); err != nil {
			s.logger.Warn().Err(err).Msg("durable join failed")
		}
	}
	return s.reconcile(ctx)
}

// Leave tears the whole session down: membership, every link, the capture.
func (s *Session) Leave(ctx context.Context) {
	if err := s.sig.Send(protocol.LeaveVoiceChannel{Type: protocol.TypeLeave, ChannelID: s.channel}); err != nil {
		s.logger.Debug().Err(err).Msg("leave send failed")
	}
	if s.persist != nil {
		if err := s.persist.LeaveVoiceState(ctx, s.channel); err != nil {
			s.logger.Warn().Err(err).Msg("durable leave failed")
		}
	}
	s.links.CloseAll()
	s.media.Release()
}

// Run dispatches incoming signaling until the connection or ctx dies. The
// link set and capture are released on the way out.
func (s *Session) Run(ctx context.Context) {
	defer func() {
		s.links.CloseAll()
		s.media.Release()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-s.sig.Incoming():
			if !ok {
				s.logger.Info().Msg("signaling connection closed")
				return
			}
			s.dispatch(ctx, data)
		}
	}
}

func (s *Session) dispatch(ctx context.Context, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Error().Err(err).Msg("bad frame")
		return
	}

	switch env.Type {
	case protocol.TypeUserJoined:
		s.handleUserJoined(data)
	case protocol.TypeUserLeft:
		s.handleUserLeft(data)
	case protocol.TypeUserUpdated:
		s.handleUserUpdated(data)
	case protocol.TypeOffer:
		s.handleOffer(ctx, data)
	case protocol.TypeAnswer:
		s.handleAnswer(data)
	case protocol.TypeCandidate:
		s.handleCandidate(data)
	case protocol.TypeError:
		var p protocol.Error
		_ = json.Unmarshal(data, &p)
		s.logger.Warn().Str("error", p.Error).Msg("server error")
	case protocol.TypePong:
	default:
		s.logger.Warn().Str("type", env.Type).Msg("unknown frame")
	}
}

// handleUserJoined instantiates our half of the newcomer's mesh link. The
// newcomer drives the offer; we only answer, so no offer is started here.
func (s *Session) handleUserJoined(data []byte) {
	var p protocol.VoiceUserJoined
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Error().Err(err).Msg("bad joined payload")
		return
	}
	if p.Participant.UserID == s.self {
		return
	}
	if _, _, err := s.ensureLink(p.Participant.UserID); err != nil {
		s.logger.Error().Err(err).Str("remote", string(p.Participant.UserID)).Msg("ensure link")
		return
	}
	if s.events.ParticipantJoined != nil {
		s.events.ParticipantJoined(p.Participant)
	}
}

func (s *Session) handleUserLeft(data []byte) {
	var p protocol.VoiceUserLeft
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Error().Err(err).Msg("bad left payload")
		return
	}
	s.links.Close(p.UserID)
	if s.events.ParticipantLeft != nil {
		s.events.ParticipantLeft(p.UserID)
	}
}

func (s *Session) handleUserUpdated(data []byte) {
	var p protocol.VoiceUserUpdated
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Error().Err(err).Msg("bad updated payload")
		return
	}
	if s.events.ParticipantUpdated != nil {
		s.events.ParticipantUpdated(p.UserID, p.VoiceStatePatch)
	}
}

func (s *Session) handleOffer(ctx context.Context, data []byte) {
	var p protocol.Signal
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Error().Err(err).Msg("bad offer payload")
		return
	}
	link, _, err := s.ensureLink(p.FromUserID)
	if err != nil {
		s.logger.Error().Err(err).Str("remote", string(p.FromUserID)).Msg("ensure link for offer")
		return
	}
	answer, ok, err := link.HandleOffer(ctx, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.Offer,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("remote", string(p.FromUserID)).Msg("apply offer")
		return
	}
	if !ok {
		return
	}
	if err := s.sig.Send(protocol.Signal{
		Type:         protocol.TypeAnswer,
		ChannelID:    s.channel,
		TargetUserID: p.FromUserID,
		Answer:       answer.SDP,
	}); err != nil {
		s.logger.Error().Err(err).Msg("send answer")
	}
}

func (s *Session) handleAnswer(data []byte) {
	var p protocol.Signal
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Error().Err(err).Msg("bad answer payload")
		return
	}
	link, ok := s.links.Get(p.FromUserID)
	if !ok {
		s.logger.Debug().Str("remote", string(p.FromUserID)).Msg("answer for unknown link")
		return
	}
	if err := link.HandleAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  p.Answer,
	}); err != nil {
		s.logger.Error().Err(err).Str("remote", string(p.FromUserID)).Msg("apply answer")
	}
}

// handleCandidate applies a relayed ICE candidate. A candidate with no link
// at all means the target left before delivery; it is dropped.
func (s *Session) handleCandidate(data []byte) {
	var p protocol.Signal
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Error().Err(err).Msg("bad candidate payload")
		return
	}
	link, ok := s.links.Get(p.FromUserID)
	if !ok {
		s.logger.Debug().Str("remote", string(p.FromUserID)).Msg("candidate for unknown link, dropped")
		return
	}
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(p.Candidate, &ci); err != nil {
		s.logger.Error().Err(err).Msg("bad candidate body")
		return
	}
	if err := link.AddRemoteCandidate(ci); err != nil {
		s.logger.Error().Err(err).Str("remote", string(p.FromUserID)).Msg("add candidate")
	}
}

// ensureLink returns the live link for the remote, creating and wiring it on
// first sight. Creation attaches the current local tracks, so a later answer
// carries our media without an extra cycle.
func (s *Session) ensureLink(remote domain.UserID) (*peer.Link, bool, error) {
	link, created, err := s.links.Ensure(remote)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return link, false, nil
	}

	link.OnRenegotiationNeeded(func() {
		if err := s.startOffer(context.Background(), link); err != nil {
			s.logger.Error().Err(err).Str("remote", string(remote)).Msg("deferred renegotiation offer")
		}
	})

	tp := link.Transport()
	tp.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		b, err := json.Marshal(ci)
		if err != nil {
			return
		}
		if err := s.sig.Send(protocol.Signal{
			Type:         protocol.TypeCandidate,
			ChannelID:    s.channel,
			TargetUserID: remote,
			Candidate:    b,
		}); err != nil {
			s.logger.Debug().Err(err).Msg("send candidate")
		}
	})
	tp.OnRemoteTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if s.events.RemoteTrack != nil {
			s.events.RemoteTrack(remote, track)
		}
	})

	if audio := s.media.AudioTrack(); audio != nil {
		if err := tp.AddLocalTrack(audio); err != nil {
			s.logger.Warn().Err(err).Msg("attach audio track")
		} else if !s.media.MicEnabled() {
			if err := tp.ReplaceLocalTrack(webrtc.RTPCodecTypeAudio, nil); err != nil {
				s.logger.Warn().Err(err).Msg("mute new link")
			}
		}
	}
	if video := s.media.VideoTrack(); video != nil {
		if err := tp.AddLocalTrack(video); err != nil {
			s.logger.Warn().Err(err).Msg("attach video track")
		}
	}
	return link, true, nil
}

// startOffer runs the offer side of the cycle and dispatches the result.
func (s *Session) startOffer(ctx context.Context, link *peer.Link) error {
	offer, ok, err := link.StartOffer(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return s.sig.Send(protocol.Signal{
		Type:         protocol.TypeOffer,
		ChannelID:    s.channel,
		TargetUserID: link.Remote(),
		Offer:        offer.SDP,
	})
}

// eachLink adapts the link set for the media controller.
func (s *Session) eachLink(fn func(media.LinkSink)) {
	s.links.Each(func(l *peer.Link) {
		fn(&linkSink{s: s, l: l})
	})
}

type linkSink struct {
	s *Session
	l *peer.Link
}

func (k *linkSink) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	return k.l.Transport().ReplaceLocalTrack(kind, track)
}

func (k *linkSink) AttachTrack(track webrtc.TrackLocal) error {
	return k.l.Transport().AddLocalTrack(track)
}

func (k *linkSink) DetachTrack(kind webrtc.RTPCodecType) error {
	return k.l.Transport().RemoveLocalTrack(kind)
}

func (k *linkSink) Renegotiate(ctx context.Context) error {
	return k.s.startOffer(ctx, k.l)
}

// reportState publishes the local voice state after a toggle.
func (s *Session) reportState(ctx context.Context, muted, cameraOn bool) error {
	patch := domain.VoiceStatePatch{Muted: &muted, CameraOn: &cameraOn}
	if err := s.sig.Send(protocol.VoiceUserUpdate{
		Type:            protocol.TypeUserUpdate,
		ChannelID:       s.channel,
		VoiceStatePatch: patch,
	}); err != nil {
		return err
	}
	if s.persist != nil {
		if err := s.persist.UpdateVoiceState(ctx, s.channel, patch); err != nil {
			s.logger.Warn().Err(err).Msg("durable update failed")
		}
	}
	return nil
}
