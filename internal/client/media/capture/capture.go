// Package capture implements media.Device on pion/mediadevices, capturing
// from the host microphone and camera.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone driver
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/harmonium-chat/harmonium/internal/client/media"
)

// Device acquires local media through mediadevices with opus audio and VP8
// video encoders.
type Device struct {
	selector *mediadevices.CodecSelector
}

func NewDevice() (*Device, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	return &Device{selector: selector}, nil
}

// PopulateEngine registers the selected codecs on the given MediaEngine so
// peer connections negotiate what the capture actually encodes.
func (d *Device) PopulateEngine(engine *webrtc.MediaEngine) {
	d.selector.Populate(engine)
}

func (d *Device) AcquireLocalMedia(ctx context.Context, c media.Constraints) (media.Capture, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Audio {
		constraints.Audio = func(mt *mediadevices.MediaTrackConstraints) {
			mt.SampleRate = prop.Int(48000)
			mt.ChannelCount = prop.Int(1)
			mt.Latency = prop.Duration(20 * time.Millisecond)
		}
	}
	if c.Video {
		constraints.Video = func(mt *mediadevices.MediaTrackConstraints) {
			mt.Width = prop.Int(640)
			mt.Height = prop.Int(480)
			mt.FrameRate = prop.Float(30)
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		log.Error().Err(err).Str("module", "capture").Msg("get user media")
		return nil, fmt.Errorf("%w: %v", media.ErrNoDevice, err)
	}
	return &deviceCapture{stream: stream}, nil
}

type deviceCapture struct {
	stream mediadevices.MediaStream
}

func (c *deviceCapture) AudioTrack() webrtc.TrackLocal {
	tracks := c.stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil
	}
	return tracks[0]
}

func (c *deviceCapture) VideoTrack() webrtc.TrackLocal {
	tracks := c.stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil
	}
	return tracks[0]
}

func (c *deviceCapture) Close() {
	for _, t := range c.stream.GetTracks() {
		if err := t.Close(); err != nil {
			log.Debug().Err(err).Str("module", "capture").Msg("track close")
		}
	}
}
