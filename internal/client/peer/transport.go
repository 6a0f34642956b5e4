package peer

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

var ErrNoSender = errors.New("no sender for track kind")

// MediaTransport abstracts the one media connection a link owns. The pion
// implementation lives in pion.go; tests use an in-memory fake.
type MediaTransport interface {
	// CreateOffer builds a local offer and applies it as the local description.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// ApplyOfferCreateAnswer applies a remote offer and returns the local answer.
	ApplyOfferCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// ApplyAnswer applies the remote answer to an outstanding local offer.
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error

	// AddLocalTrack attaches a local track, creating a sender for its kind.
	AddLocalTrack(track webrtc.TrackLocal) error
	// ReplaceLocalTrack swaps the sender's track in place without
	// renegotiation. A nil track silences the sender.
	ReplaceLocalTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
	// RemoveLocalTrack detaches the sender for the kind; requires renegotiation.
	RemoveLocalTrack(kind webrtc.RTPCodecType) error

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnRemoteTrack sets a callback invoked when a remote track arrives.
	OnRemoteTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	// OnConnected fires once ICE/DTLS completes.
	OnConnected(func())
	// OnFailure fires when the underlying transport reports failure.
	OnFailure(func())

	Close()
	IsClosed() bool
}

// TransportFactory builds the media transport for one remote participant.
type TransportFactory func() (MediaTransport, error)
