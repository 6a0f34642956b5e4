// Package peer owns the negotiation lifecycle of the client's peer-to-peer
// media connections: one Link, one state machine, one transport per remote
// participant.
package peer

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/harmonium-chat/harmonium/internal/domain"
)

// LinkState is the signaling state of one link. Failed and Closed are
// terminal: a link never transitions out of them and is removed from the
// active set instead of being reused.
type LinkState int

const (
	StateIdle LinkState = iota
	StateOfferSent
	StateOfferReceived
	StateAnswered
	StateConnected
	StateFailed
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer_sent"
	case StateOfferReceived:
		return "offer_received"
	case StateAnswered:
		return "answered"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether the state can never be left again.
func (s LinkState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Link drives the offer/answer lifecycle for exactly one remote participant.
// All transitions go through the methods below, each switching on current
// state; transport operations run outside the lock and every continuation
// re-checks state afterwards, because the link may have been torn down while
// the operation was in flight.
type Link struct {
	self   domain.UserID
	remote domain.UserID
	tp     MediaTransport
	logger zerolog.Logger

	mu                sync.Mutex
	state             LinkState
	offerOutstanding  bool
	renegotiateQueued bool
	haveRemoteDesc    bool
	pendingICE        []webrtc.ICECandidateInit
	tornDown          bool

	onTerminal    func(*Link)
	onRenegotiate func()
}

// NewLink wraps the transport in a fresh Idle link. The local userId breaks
// offer glare deterministically, see HandleOffer. onTerminal fires exactly
// once when the link reaches Failed or Closed, after resources are released.
func NewLink(self, remote domain.UserID, tp MediaTransport, logger zerolog.Logger, onTerminal func(*Link)) *Link {
	l := &Link{
		self:       self,
		remote:     remote,
		tp:         tp,
		logger:     logger.With().Str("module", "peer").Str("remote", string(remote)).Logger(),
		state:      StateIdle,
		onTerminal: onTerminal,
	}
	tp.OnConnected(l.handleConnected)
	tp.OnFailure(l.Fail)
	return l
}

// OnRenegotiationNeeded registers the callback that restarts the offer cycle
// for a track change that had to wait for the link to settle. Fired outside
// the link lock.
func (l *Link) OnRenegotiationNeeded(fn func()) {
	l.mu.Lock()
	l.onRenegotiate = fn
	l.mu.Unlock()
}

func (l *Link) Remote() domain.UserID { return l.remote }

func (l *Link) Transport() MediaTransport { return l.tp }

func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// StartOffer creates and applies a local offer, entering OfferSent (or a
// renegotiation sub-cycle when already Connected). When the link is busy
// negotiating, the request is not lost: it is queued and replayed through
// OnRenegotiationNeeded once the link reaches Connected. The false return
// without error covers both the queued case and a torn-down link.
func (l *Link) StartOffer(ctx context.Context) (webrtc.SessionDescription, bool, error) {
	l.mu.Lock()
	if l.state.Terminal() {
		l.mu.Unlock()
		return webrtc.SessionDescription{}, false, nil
	}
	if l.offerOutstanding || (l.state != StateIdle && l.state != StateConnected) {
		l.renegotiateQueued = true
		l.logger.Debug().Str("state", l.state.String()).Msg("offer deferred until link settles")
		l.mu.Unlock()
		return webrtc.SessionDescription{}, false, nil
	}
	l.offerOutstanding = true
	// A fresh offer carries the current tracks, satisfying any queued request.
	l.renegotiateQueued = false
	l.mu.Unlock()

	offer, err := l.tp.CreateOffer(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.offerOutstanding = false
		return webrtc.SessionDescription{}, false, err
	}
	if l.state.Terminal() {
		// Torn down while the offer was being created.
		l.offerOutstanding = false
		return webrtc.SessionDescription{}, false, nil
	}
	if l.state == StateIdle {
		l.state = StateOfferSent
	}
	l.logger.Debug().Str("state", l.state.String()).Msg("offer created")
	return offer, true, nil
}

// HandleOffer applies a remote offer and returns the local answer. A remote
// offer arriving while our own offer is outstanding is glare, broken by
// comparing userIds: the lexicographically smaller side keeps its offer and
// drops the inbound one, the larger side abandons its offer and answers.
// Both sides pick the same winner, so exactly one negotiation survives.
func (l *Link) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, bool, error) {
	l.mu.Lock()
	if l.state.Terminal() {
		l.mu.Unlock()
		return webrtc.SessionDescription{}, false, nil
	}
	if l.offerOutstanding {
		if l.self < l.remote {
			l.logger.Warn().Str("state", l.state.String()).Msg("glare: dropping remote offer, local offer wins")
			l.mu.Unlock()
			return webrtc.SessionDescription{}, false, nil
		}
		l.logger.Warn().Str("state", l.state.String()).Msg("glare: yielding to remote offer")
		l.offerOutstanding = false
		if l.state == StateOfferSent {
			l.state = StateOfferReceived
		}
	}
	if l.state == StateIdle {
		l.state = StateOfferReceived
	}
	l.mu.Unlock()

	answer, err := l.tp.ApplyOfferCreateAnswer(ctx, offer)

	l.mu.Lock()
	if err != nil {
		if l.state == StateOfferReceived {
			l.state = StateIdle
		}
		l.mu.Unlock()
		return webrtc.SessionDescription{}, false, err
	}
	if l.state.Terminal() {
		l.mu.Unlock()
		return webrtc.SessionDescription{}, false, nil
	}
	l.haveRemoteDesc = true
	if l.state == StateOfferReceived {
		l.state = StateAnswered
	}
	queued := l.takePendingLocked()
	l.mu.Unlock()

	l.flushCandidates(queued)
	return answer, true, nil
}

// HandleAnswer applies the remote answer to our outstanding offer. Answers
// with no outstanding offer are dropped.
func (l *Link) HandleAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	if l.state.Terminal() || !l.offerOutstanding {
		l.logger.Debug().Str("state", l.state.String()).Msg("dropping unexpected answer")
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	err := l.tp.ApplyAnswer(answer)

	l.mu.Lock()
	if l.state.Terminal() {
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		l.offerOutstanding = false
		l.mu.Unlock()
		return err
	}
	l.offerOutstanding = false
	l.haveRemoteDesc = true
	if l.state == StateOfferSent {
		l.state = StateConnected
	}
	queued := l.takePendingLocked()
	reneg := l.takeRenegotiationLocked()
	l.mu.Unlock()

	l.flushCandidates(queued)
	if reneg != nil {
		reneg()
	}
	return nil
}

// AddRemoteCandidate applies a remote ICE candidate, buffering it FIFO while
// no remote description exists yet.
func (l *Link) AddRemoteCandidate(ci webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if l.state.Terminal() {
		l.mu.Unlock()
		return nil
	}
	if !l.haveRemoteDesc {
		l.pendingICE = append(l.pendingICE, ci)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.tp.AddICECandidate(ci)
}

// PendingCandidates reports how many candidates are still buffered.
func (l *Link) PendingCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pendingICE)
}

func (l *Link) takePendingLocked() []webrtc.ICECandidateInit {
	queued := l.pendingICE
	l.pendingICE = nil
	return queued
}

// takeRenegotiationLocked claims the deferred renegotiation callback once
// the link has settled into Connected with no offer in flight.
func (l *Link) takeRenegotiationLocked() func() {
	if !l.renegotiateQueued || l.state != StateConnected || l.offerOutstanding {
		return nil
	}
	l.renegotiateQueued = false
	return l.onRenegotiate
}

func (l *Link) flushCandidates(queued []webrtc.ICECandidateInit) {
	for _, ci := range queued {
		if err := l.tp.AddICECandidate(ci); err != nil {
			l.logger.Error().Err(err).Msg("flush buffered candidate")
		}
	}
}

func (l *Link) handleConnected() {
	l.mu.Lock()
	if l.state == StateAnswered {
		l.state = StateConnected
		l.logger.Info().Msg("link connected")
	}
	reneg := l.takeRenegotiationLocked()
	l.mu.Unlock()
	if reneg != nil {
		reneg()
	}
}

// Fail marks the link Failed and tears it down. Called by the transport's
// failure callback; safe to call more than once.
func (l *Link) Fail() {
	l.teardown(StateFailed)
}

// Close tears the link down: peer left, local leave, or glare loss. Safe to
// call more than once.
func (l *Link) Close() {
	l.teardown(StateClosed)
}

func (l *Link) teardown(final LinkState) {
	l.mu.Lock()
	if l.tornDown {
		l.mu.Unlock()
		return
	}
	l.tornDown = true
	l.state = final
	l.offerOutstanding = false
	l.renegotiateQueued = false
	l.pendingICE = nil
	l.mu.Unlock()

	l.tp.Close()
	l.logger.Info().Str("state", final.String()).Msg("link torn down")
	if l.onTerminal != nil {
		l.onTerminal(l)
	}
}
