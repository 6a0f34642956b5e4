package media

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t *fakeTrack) ID() string       { return t.id }
func (t *fakeTrack) RID() string      { return "" }
func (t *fakeTrack) StreamID() string { return "stream" }
func (t *fakeTrack) Kind() webrtc.RTPCodecType {
	return t.kind
}
func (t *fakeTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (t *fakeTrack) Unbind(webrtc.TrackLocalContext) error { return nil }

type fakeCapture struct {
	audio  *fakeTrack
	video  *fakeTrack
	closed bool
}

func (c *fakeCapture) AudioTrack() webrtc.TrackLocal { return c.audio }
func (c *fakeCapture) VideoTrack() webrtc.TrackLocal {
	if c.video == nil {
		return nil
	}
	return c.video
}
func (c *fakeCapture) Close() { c.closed = true }

type fakeDevice struct {
	acquired   []*fakeCapture
	acquireErr error
	serial     int
}

func (d *fakeDevice) AcquireLocalMedia(ctx context.Context, cs Constraints) (Capture, error) {
	if d.acquireErr != nil {
		return nil, d.acquireErr
	}
	d.serial++
	cap := &fakeCapture{audio: &fakeTrack{id: "audio", kind: webrtc.RTPCodecTypeAudio}}
	if cs.Video {
		cap.video = &fakeTrack{id: "video", kind: webrtc.RTPCodecTypeVideo}
	}
	d.acquired = append(d.acquired, cap)
	return cap, nil
}

type trackOp struct {
	op    string
	kind  webrtc.RTPCodecType
	track webrtc.TrackLocal
}

type fakeSink struct {
	ops          []trackOp
	renegotiated int
}

func (s *fakeSink) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	s.ops = append(s.ops, trackOp{op: "replace", kind: kind, track: track})
	return nil
}

func (s *fakeSink) AttachTrack(track webrtc.TrackLocal) error {
	s.ops = append(s.ops, trackOp{op: "attach", track: track})
	return nil
}

func (s *fakeSink) DetachTrack(kind webrtc.RTPCodecType) error {
	s.ops = append(s.ops, trackOp{op: "detach", kind: kind})
	return nil
}

func (s *fakeSink) Renegotiate(ctx context.Context) error {
	s.renegotiated++
	return nil
}

type report struct {
	muted    bool
	cameraOn bool
}

type harness struct {
	dev     *fakeDevice
	sinks   []*fakeSink
	reports []report
	ctl     *Controller
}

func newHarness(sinkCount int) *harness {
	h := &harness{dev: &fakeDevice{}}
	for i := 0; i < sinkCount; i++ {
		h.sinks = append(h.sinks, &fakeSink{})
	}
	each := func(fn func(LinkSink)) {
		for _, s := range h.sinks {
			fn(s)
		}
	}
	reporter := func(ctx context.Context, muted, cameraOn bool) error {
		h.reports = append(h.reports, report{muted: muted, cameraOn: cameraOn})
		return nil
	}
	h.ctl = NewController(h.dev, each, reporter, zerolog.Nop())
	return h
}

func TestStartCapturesAudioOnly(t *testing.T) {
	h := newHarness(0)
	if err := h.ctl.Start(context.Background(), false, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.ctl.AudioTrack() == nil {
		t.Fatal("audio track must always be captured")
	}
	if h.ctl.VideoTrack() != nil {
		t.Fatal("no video track with camera off")
	}
	if !h.ctl.MicEnabled() || h.ctl.CameraEnabled() {
		t.Fatalf("flags: mic=%v camera=%v", h.ctl.MicEnabled(), h.ctl.CameraEnabled())
	}
}

func TestToggleBeforeStart(t *testing.T) {
	h := newHarness(0)
	if _, err := h.ctl.ToggleMic(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("ToggleMic err = %v, want ErrNotStarted", err)
	}
	if _, err := h.ctl.ToggleCamera(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("ToggleCamera err = %v, want ErrNotStarted", err)
	}
}

func TestToggleMicNeverRenegotiates(t *testing.T) {
	h := newHarness(2)
	if err := h.ctl.Start(context.Background(), false, false); err != nil {
		t.Fatalf("start: %v", err)
	}

	on, err := h.ctl.ToggleMic(context.Background())
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if on {
		t.Fatal("toggle from live mic must mute")
	}

	for i, s := range h.sinks {
		if s.renegotiated != 0 {
			t.Fatalf("sink %d renegotiated on a mic toggle", i)
		}
		if len(s.ops) != 1 || s.ops[0].op != "replace" || s.ops[0].kind != webrtc.RTPCodecTypeAudio {
			t.Fatalf("sink %d ops = %+v", i, s.ops)
		}
		if s.ops[0].track != nil {
			t.Fatal("muting must replace the audio track with nil")
		}
	}
	if len(h.reports) != 1 || !h.reports[0].muted {
		t.Fatalf("reports = %+v", h.reports)
	}

	// Unmute swaps the real track back in, still without renegotiation.
	on, err = h.ctl.ToggleMic(context.Background())
	if err != nil || !on {
		t.Fatalf("unmute: on=%v err=%v", on, err)
	}
	for i, s := range h.sinks {
		if s.renegotiated != 0 {
			t.Fatalf("sink %d renegotiated on unmute", i)
		}
		last := s.ops[len(s.ops)-1]
		if last.op != "replace" || last.track == nil {
			t.Fatalf("sink %d last op = %+v", i, last)
		}
	}
}

func TestToggleCameraOnRenegotiatesEachLink(t *testing.T) {
	h := newHarness(2)
	if err := h.ctl.Start(context.Background(), false, false); err != nil {
		t.Fatalf("start: %v", err)
	}

	on, err := h.ctl.ToggleCamera(context.Background())
	if err != nil || !on {
		t.Fatalf("camera on: on=%v err=%v", on, err)
	}
	if h.ctl.VideoTrack() == nil {
		t.Fatal("video track missing after camera on")
	}
	if len(h.dev.acquired) != 2 {
		t.Fatalf("captures acquired = %d, want 2 (initial + re-acquire)", len(h.dev.acquired))
	}
	if !h.dev.acquired[0].closed {
		t.Fatal("old capture must be closed after the swap")
	}

	for i, s := range h.sinks {
		if s.renegotiated != 1 {
			t.Fatalf("sink %d renegotiated %d times, want exactly 1", i, s.renegotiated)
		}
	}
	if len(h.reports) != 1 || !h.reports[0].cameraOn {
		t.Fatalf("reports = %+v", h.reports)
	}
}

func TestToggleCameraOffDetachesVideo(t *testing.T) {
	h := newHarness(1)
	if err := h.ctl.Start(context.Background(), false, true); err != nil {
		t.Fatalf("start: %v", err)
	}

	on, err := h.ctl.ToggleCamera(context.Background())
	if err != nil || on {
		t.Fatalf("camera off: on=%v err=%v", on, err)
	}
	if h.ctl.VideoTrack() != nil {
		t.Fatal("video track must be gone after camera off")
	}

	s := h.sinks[0]
	var detached bool
	for _, op := range s.ops {
		if op.op == "detach" && op.kind == webrtc.RTPCodecTypeVideo {
			detached = true
		}
	}
	if !detached {
		t.Fatalf("video sender not detached: %+v", s.ops)
	}
	if s.renegotiated != 1 {
		t.Fatalf("renegotiated %d times, want 1", s.renegotiated)
	}
}

func TestToggleCameraDeviceErrorRollsBack(t *testing.T) {
	h := newHarness(1)
	if err := h.ctl.Start(context.Background(), false, false); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.dev.acquireErr = errors.New("device busy")
	on, err := h.ctl.ToggleCamera(context.Background())
	if err == nil {
		t.Fatal("device error must surface")
	}
	if on {
		t.Fatal("rollback must keep camera off")
	}
	if h.ctl.CameraEnabled() {
		t.Fatal("camera flag must stay off after rollback")
	}
	if h.dev.acquired[0].closed {
		t.Fatal("rollback must keep the old capture alive")
	}
	if len(h.sinks[0].ops) != 0 || h.sinks[0].renegotiated != 0 {
		t.Fatal("rollback must not touch any link")
	}
	if len(h.reports) != 0 {
		t.Fatal("rollback must not report state")
	}

	// The session keeps working with the old capture.
	h.dev.acquireErr = nil
	if _, err := h.ctl.ToggleMic(context.Background()); err != nil {
		t.Fatalf("mic toggle after failed camera toggle: %v", err)
	}
}

func TestMutedStateSurvivesCameraToggle(t *testing.T) {
	h := newHarness(1)
	if err := h.ctl.Start(context.Background(), true, false); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := h.ctl.ToggleCamera(context.Background()); err != nil {
		t.Fatalf("camera on: %v", err)
	}

	s := h.sinks[0]
	for _, op := range s.ops {
		if op.op == "replace" && op.kind == webrtc.RTPCodecTypeAudio && op.track != nil {
			t.Fatal("camera toggle must not unmute the audio sender")
		}
	}
	if len(h.reports) != 1 || !h.reports[0].muted {
		t.Fatalf("reports = %+v, muted flag lost", h.reports)
	}
}

func TestReleaseClosesCapture(t *testing.T) {
	h := newHarness(0)
	if err := h.ctl.Start(context.Background(), false, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.ctl.Release()
	if !h.dev.acquired[0].closed {
		t.Fatal("release must close the capture")
	}
	// Release twice is fine.
	h.ctl.Release()
}
