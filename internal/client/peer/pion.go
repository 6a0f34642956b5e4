package peer

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// PionTransport implements MediaTransport on a pion PeerConnection.
type PionTransport struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders map[webrtc.RTPCodecType]*webrtc.RTPSender
	closed  bool

	onICE       func(webrtc.ICECandidateInit)
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onConnected func()
	onFailure   func()
}

// DefaultRTCConfig builds the PeerConnection configuration from the
// configured STUN servers.
func DefaultRTCConfig(stunServers []string) webrtc.Configuration {
	if len(stunServers) == 0 {
		stunServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	}
}

func NewPionTransport(cfg webrtc.Configuration) (*PionTransport, error) {
	return NewPionTransportWithEngine(cfg, nil)
}

// NewPionTransportWithEngine builds the transport on a custom MediaEngine,
// so capture codecs registered by the device end up in the negotiation.
func NewPionTransportWithEngine(cfg webrtc.Configuration, engine *webrtc.MediaEngine) (*PionTransport, error) {
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if engine != nil {
		pc, err = webrtc.NewAPI(webrtc.WithMediaEngine(engine)).NewPeerConnection(cfg)
	} else {
		pc, err = webrtc.NewPeerConnection(cfg)
	}
	if err != nil {
		return nil, err
	}
	t := &PionTransport{
		pc:      pc,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		t.mu.Lock()
		fn := t.onICE
		t.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().Str("module", "peer").Str("kind", track.Kind().String()).Str("track_id", track.ID()).Msg("remote track received")
		t.mu.Lock()
		fn := t.onTrack
		t.mu.Unlock()
		if fn != nil {
			fn(track, receiver)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "peer").Str("peer_connection_state", s.String()).Msg("peer state")
		t.mu.Lock()
		connected := t.onConnected
		failed := t.onFailure
		t.mu.Unlock()
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if connected != nil {
				connected()
			}
		case webrtc.PeerConnectionStateFailed:
			if failed != nil {
				failed()
			}
		}
	})

	return t, nil
}

func (t *PionTransport) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	// Trickle ICE: candidates flow through OnICECandidate as they gather.
	return offer, nil
}

func (t *PionTransport) ApplyOfferCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	// Roll back an abandoned local offer first, otherwise the remote
	// description is rejected while signaling sits in have-local-offer.
	if t.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
		if err := t.pc.SetLocalDescription(rollback); err != nil {
			return webrtc.SessionDescription{}, err
		}
	}
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (t *PionTransport) ApplyAnswer(answer webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(answer)
}

func (t *PionTransport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(ci)
}

func (t *PionTransport) AddLocalTrack(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.senders[track.Kind()] = sender
	t.mu.Unlock()
	return nil
}

func (t *PionTransport) ReplaceLocalTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	t.mu.Lock()
	sender, ok := t.senders[kind]
	t.mu.Unlock()
	if !ok {
		return ErrNoSender
	}
	return sender.ReplaceTrack(track)
}

func (t *PionTransport) RemoveLocalTrack(kind webrtc.RTPCodecType) error {
	t.mu.Lock()
	sender, ok := t.senders[kind]
	if ok {
		delete(t.senders, kind)
	}
	t.mu.Unlock()
	if !ok {
		return ErrNoSender
	}
	return t.pc.RemoveTrack(sender)
}

func (t *PionTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *PionTransport) OnRemoteTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *PionTransport) OnConnected(fn func()) {
	t.mu.Lock()
	t.onConnected = fn
	t.mu.Unlock()
}

func (t *PionTransport) OnFailure(fn func()) {
	t.mu.Lock()
	t.onFailure = fn
	t.mu.Unlock()
}

func (t *PionTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("close error")
	}
}

func (t *PionTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
