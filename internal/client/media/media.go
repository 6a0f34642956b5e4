// Package media owns the client's local capture: acquisition, mute/camera
// toggling, and the fan-out of track changes to active peer links. The
// capture APIs differ per platform, so everything is behind the Device
// interface; the signaling core never branches on platform type.
package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Constraints selects which kinds of tracks to capture.
type Constraints struct {
	Audio bool
	Video bool
}

// Capture is one acquired set of local tracks. Exactly one capture is live
// per session; peer links reference its tracks but never own them.
type Capture interface {
	AudioTrack() webrtc.TrackLocal
	VideoTrack() webrtc.TrackLocal
	Close()
}

// Device is the platform capability interface for acquiring local media.
type Device interface {
	AcquireLocalMedia(ctx context.Context, c Constraints) (Capture, error)
}

// LinkSink is what the controller needs from the peer layer: swap a track in
// place (no renegotiation), restructure tracks, and re-run a negotiation
// cycle. The session wires this to the active link set.
type LinkSink interface {
	// ReplaceTrack swaps the sender's track in place; nil silences it.
	ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
	// AttachTrack adds a brand new sender for the track.
	AttachTrack(track webrtc.TrackLocal) error
	// DetachTrack removes the sender for the kind.
	DetachTrack(kind webrtc.RTPCodecType) error
	// Renegotiate re-runs the offer/answer cycle on the existing link.
	Renegotiate(ctx context.Context) error
}

// EachLink visits every active peer link's sink.
type EachLink func(fn func(LinkSink))

// StateReporter publishes the local voice state to the room after a toggle,
// so remote UIs update before renegotiation settles on their side.
type StateReporter func(ctx context.Context, muted, cameraOn bool) error

// Controller owns the single local capture handle and the two toggles.
type Controller struct {
	dev    Device
	links  EachLink
	report StateReporter
	logger zerolog.Logger

	mu       sync.Mutex
	capture  Capture
	micOn    bool
	cameraOn bool
}

func NewController(dev Device, links EachLink, report StateReporter, logger zerolog.Logger) *Controller {
	return &Controller{
		dev:    dev,
		links:  links,
		report: report,
		logger: logger.With().Str("module", "media").Logger(),
	}
}

// Start acquires the initial capture. Camera is only captured when cameraOn;
// audio is always captured and muted by gating the senders, so unmuting
// never needs a renegotiation.
func (c *Controller) Start(ctx context.Context, muted, cameraOn bool) error {
	cap, err := c.dev.AcquireLocalMedia(ctx, Constraints{Audio: true, Video: cameraOn})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.capture = cap
	c.micOn = !muted
	c.cameraOn = cameraOn
	c.mu.Unlock()
	return nil
}

// MicEnabled reports whether the microphone is currently live.
func (c *Controller) MicEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.micOn
}

// CameraEnabled reports whether the camera is currently live.
func (c *Controller) CameraEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cameraOn
}

// AudioTrack returns the current capture's audio track when the mic is live.
// New links attach this at creation.
func (c *Controller) AudioTrack() webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return nil
	}
	return c.capture.AudioTrack()
}

// VideoTrack returns the current capture's video track, nil with camera off.
func (c *Controller) VideoTrack() webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil || !c.cameraOn {
		return nil
	}
	return c.capture.VideoTrack()
}

// ToggleMic flips the microphone by gating the existing audio sender on
// every link in place. No track is added or removed, so no renegotiation.
func (c *Controller) ToggleMic(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.capture == nil {
		c.mu.Unlock()
		return false, ErrNotStarted
	}
	c.micOn = !c.micOn
	on := c.micOn
	var track webrtc.TrackLocal
	if on {
		track = c.capture.AudioTrack()
	}
	camera := c.cameraOn
	c.mu.Unlock()

	c.links(func(s LinkSink) {
		if err := s.ReplaceTrack(webrtc.RTPCodecTypeAudio, track); err != nil {
			c.logger.Warn().Err(err).Msg("mic toggle: replace audio track")
		}
	})

	if err := c.report(ctx, !on, camera); err != nil {
		c.logger.Warn().Err(err).Msg("mic toggle: state report")
	}
	return on, nil
}

// ToggleCamera fully replaces the capture (a track is being added or
// removed), swaps tracks on every active link, renegotiates each, and then
// reports the new state. Device errors roll the toggle back.
func (c *Controller) ToggleCamera(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.capture == nil {
		c.mu.Unlock()
		return false, ErrNotStarted
	}
	wantCamera := !c.cameraOn
	old := c.capture
	c.mu.Unlock()

	cap, err := c.dev.AcquireLocalMedia(ctx, Constraints{Audio: true, Video: wantCamera})
	if err != nil {
		// Rolled back: flags and the old capture stay untouched.
		c.logger.Error().Err(err).Bool("camera", wantCamera).Msg("camera toggle: device acquire failed")
		return !wantCamera, err
	}

	c.mu.Lock()
	if c.capture != old {
		// A concurrent toggle won; discard ours.
		c.mu.Unlock()
		cap.Close()
		return c.CameraEnabled(), nil
	}
	c.capture = cap
	c.cameraOn = wantCamera
	micOn := c.micOn
	c.mu.Unlock()
	old.Close()

	var audio webrtc.TrackLocal
	if micOn {
		audio = cap.AudioTrack()
	}
	video := cap.VideoTrack()

	c.links(func(s LinkSink) {
		if err := s.ReplaceTrack(webrtc.RTPCodecTypeAudio, audio); err != nil {
			c.logger.Warn().Err(err).Msg("camera toggle: replace audio track")
		}
		if wantCamera {
			if err := s.ReplaceTrack(webrtc.RTPCodecTypeVideo, video); err != nil {
				if err := s.AttachTrack(video); err != nil {
					c.logger.Warn().Err(err).Msg("camera toggle: attach video track")
				}
			}
		} else {
			if err := s.DetachTrack(webrtc.RTPCodecTypeVideo); err != nil {
				c.logger.Debug().Err(err).Msg("camera toggle: detach video track")
			}
		}
		if err := s.Renegotiate(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("camera toggle: renegotiate")
		}
	})

	if err := c.report(ctx, !micOn, wantCamera); err != nil {
		c.logger.Warn().Err(err).Msg("camera toggle: state report")
	}
	return wantCamera, nil
}

// Release closes the capture; used on leave and disconnect.
func (c *Controller) Release() {
	c.mu.Lock()
	cap := c.capture
	c.capture = nil
	c.mu.Unlock()
	if cap != nil {
		cap.Close()
	}
}
