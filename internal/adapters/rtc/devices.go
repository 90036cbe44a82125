package rtc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/cbrcs/studysession/internal/core"
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

// SampleTrack is a local capture track fed by a generator goroutine.
// Disabled tracks stay attached but write nothing.
type SampleTrack struct {
	track   *webrtc.TrackLocalStaticSample
	kind    webrtc.RTPCodecType
	enabled atomic.Bool

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func newSampleTrack(kind webrtc.RTPCodecType, mime, label string, frame []byte) (*SampleTrack, error) {
	clockRate := uint32(90000)
	channels := uint16(0)
	if kind == webrtc.RTPCodecTypeAudio {
		clockRate, channels = 48000, 2
	}
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime, ClockRate: clockRate, Channels: channels},
		label+"-"+uuid.NewString()[:8],
		"studysession",
	)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &SampleTrack{track: local, kind: kind, cancel: cancel, done: make(chan struct{})}
	t.enabled.Store(true)
	go t.generate(ctx, frame)
	return t, nil
}

func openTrack(kind webrtc.RTPCodecType, mime, label string, frame []byte) (core.LocalTrack, error) {
	t, err := newSampleTrack(kind, mime, label, frame)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *SampleTrack) generate(ctx context.Context, frame []byte) {
	defer close(t.done)
	if frame == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.enabled.Load() {
				continue
			}
			// unbound tracks drop samples silently
			_ = t.track.WriteSample(media.Sample{Data: frame, Duration: frameDuration})
		}
	}
}

func (t *SampleTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *SampleTrack) Track() webrtc.TrackLocal { return t.track }

func (t *SampleTrack) SetEnabled(on bool) { t.enabled.Store(on) }

func (t *SampleTrack) Enabled() bool { return t.enabled.Load() }

func (t *SampleTrack) Stop() {
	t.stopOnce.Do(func() {
		t.cancel()
		<-t.done
	})
}

// SyntheticDevices stands in for real capture hardware in headless peers:
// the microphone sends Opus silence, camera and screen send no frames.
type SyntheticDevices struct {
	// Deny makes every Open fail, like a refused permission prompt.
	Deny error
}

func (d SyntheticDevices) OpenMicrophone(context.Context) (core.LocalTrack, error) {
	if d.Deny != nil {
		return nil, d.Deny
	}
	return openTrack(webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus, "mic", opusSilence)
}

func (d SyntheticDevices) OpenCamera(context.Context) (core.LocalTrack, error) {
	if d.Deny != nil {
		return nil, d.Deny
	}
	return openTrack(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8, "camera", nil)
}

func (d SyntheticDevices) OpenScreen(context.Context) (core.LocalTrack, error) {
	if d.Deny != nil {
		return nil, d.Deny
	}
	return openTrack(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8, "screen", nil)
}
