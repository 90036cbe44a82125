package client

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/core"
	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/protocol"
)

type capability int

const (
	capMic capability = iota
	capCamera
	capScreen
	capHand
)

// TrackOutput is where the controller publishes its current local tracks.
// It is called with the controller's lock held and must not call back.
type TrackOutput interface {
	SetTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal)
}

// MediaController owns local capture and the local media flags.
// Devices are opened lazily on the first toggle that needs them.
// Screen sharing takes over the outgoing video while it lasts.
type MediaController struct {
	devices  core.Devices
	out      TrackOutput
	send     SendFunc
	onChange func(domain.MediaStatus)

	mu       sync.Mutex
	status   domain.MediaStatus
	inflight map[capability]bool
	mic      core.LocalTrack
	camera   core.LocalTrack
	screen   core.LocalTrack
	// set by Stop; nothing is captured or published afterwards
	stopped bool
}

func NewMediaController(devices core.Devices, out TrackOutput, send SendFunc, initial domain.MediaStatus, onChange func(domain.MediaStatus)) *MediaController {
	if onChange == nil {
		onChange = func(domain.MediaStatus) {}
	}
	initial.IsScreenSharing = false
	initial.HandRaised = false
	return &MediaController{
		devices:  devices,
		out:      out,
		send:     send,
		onChange: onChange,
		status:   initial,
		inflight: make(map[capability]bool),
	}
}

func (m *MediaController) Status() domain.MediaStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Start captures whatever the initial flags ask for. A refused device
// leaves its flag off and is reported; the other one still starts.
func (m *MediaController) Start(ctx context.Context) error {
	m.mu.Lock()
	st := m.status
	m.mu.Unlock()

	var errs []error
	if !st.Muted {
		mic, err := m.devices.OpenMicrophone(ctx)
		if err == nil {
			err = m.adopt(mic, func() {
				m.mic = mic
				m.out.SetTrack(webrtc.RTPCodecTypeAudio, mic.Track())
			})
		}
		if err != nil {
			m.mu.Lock()
			m.status.Muted = true
			m.mu.Unlock()
			errs = append(errs, err)
		}
	}
	if !st.CameraOff {
		cam, err := m.devices.OpenCamera(ctx)
		if err == nil {
			err = m.adopt(cam, func() {
				m.camera = cam
				m.out.SetTrack(webrtc.RTPCodecTypeVideo, cam.Track())
			})
		}
		if err != nil {
			m.mu.Lock()
			m.status.CameraOff = true
			m.mu.Unlock()
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		m.onChange(m.Status())
	}
	return errors.Join(errs...)
}

// adopt runs commit under the lock unless the controller was stopped while
// the device was opening, in which case the fresh track is released.
func (m *MediaController) adopt(t core.LocalTrack, commit func()) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		t.Stop()
		return ErrNotConnected
	}
	commit()
	m.mu.Unlock()
	return nil
}

func (m *MediaController) begin(c capability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrNotConnected
	}
	if m.inflight[c] {
		return ErrToggleInFlight
	}
	m.inflight[c] = true
	return nil
}

func (m *MediaController) end(c capability) {
	m.mu.Lock()
	delete(m.inflight, c)
	m.mu.Unlock()
}

// ToggleMute flips the microphone. Muting only disables the track so
// unmuting is instant.
func (m *MediaController) ToggleMute(ctx context.Context) error {
	if err := m.begin(capMic); err != nil {
		return err
	}
	defer m.end(capMic)

	m.mu.Lock()
	muted := !m.status.Muted
	mic := m.mic
	m.mu.Unlock()

	var opened core.LocalTrack
	if !muted && mic == nil {
		t, err := m.devices.OpenMicrophone(ctx)
		if err != nil {
			return err
		}
		opened = t
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		if opened != nil {
			opened.Stop()
		}
		return ErrNotConnected
	}
	if opened != nil {
		m.mic = opened
		m.out.SetTrack(webrtc.RTPCodecTypeAudio, opened.Track())
	}
	if m.mic != nil {
		m.mic.SetEnabled(!muted)
	}
	m.status.Muted = muted
	st := m.status
	m.mu.Unlock()
	return m.publish(protocol.StatusUpdate{Muted: &muted}, st)
}

// ToggleCamera flips the camera. Turning it off releases the device.
func (m *MediaController) ToggleCamera(ctx context.Context) error {
	if err := m.begin(capCamera); err != nil {
		return err
	}
	defer m.end(capCamera)

	m.mu.Lock()
	off := !m.status.CameraOff
	m.mu.Unlock()

	var cam core.LocalTrack
	if !off {
		t, err := m.devices.OpenCamera(ctx)
		if err != nil {
			return err
		}
		cam = t
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		if cam != nil {
			cam.Stop()
		}
		return ErrNotConnected
	}
	prev := m.camera
	m.camera = cam
	m.status.CameraOff = off
	if m.screen == nil {
		m.out.SetTrack(webrtc.RTPCodecTypeVideo, trackOf(cam))
	}
	st := m.status
	m.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	return m.publish(protocol.StatusUpdate{CameraOff: &off}, st)
}

// ToggleScreenShare starts or stops sharing. Stopping hands the video
// sender back to the camera if it is on.
func (m *MediaController) ToggleScreenShare(ctx context.Context) error {
	if err := m.begin(capScreen); err != nil {
		return err
	}
	defer m.end(capScreen)

	m.mu.Lock()
	on := !m.status.IsScreenSharing
	m.mu.Unlock()

	var screen core.LocalTrack
	if on {
		t, err := m.devices.OpenScreen(ctx)
		if err != nil {
			return err
		}
		screen = t
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		if screen != nil {
			screen.Stop()
		}
		return ErrNotConnected
	}
	prev := m.screen
	m.screen = screen
	m.status.IsScreenSharing = on
	video := trackOf(screen)
	if !on {
		video = trackOf(m.camera)
	}
	m.out.SetTrack(webrtc.RTPCodecTypeVideo, video)
	st := m.status
	m.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	return m.publish(protocol.StatusUpdate{IsScreenSharing: &on}, st)
}

func (m *MediaController) ToggleHandRaise() error {
	if err := m.begin(capHand); err != nil {
		return err
	}
	defer m.end(capHand)

	m.mu.Lock()
	m.status.HandRaised = !m.status.HandRaised
	st := m.status
	m.mu.Unlock()
	return m.publish(protocol.HandRaise{HandRaised: st.HandRaised}, st)
}

func (m *MediaController) publish(msg protocol.Message, st domain.MediaStatus) error {
	m.onChange(st)
	if err := m.send(msg); err != nil {
		log.Warn().Err(err).Str("module", "client.media").Str("type", string(msg.Kind())).Msg("status not sent")
		return err
	}
	return nil
}

// Stop releases every capture device and unpublishes the local tracks.
// Toggles still opening a device release it when they return; later
// toggles fail with ErrNotConnected.
func (m *MediaController) Stop() {
	m.mu.Lock()
	m.stopped = true
	tracks := []core.LocalTrack{m.mic, m.camera, m.screen}
	m.mic, m.camera, m.screen = nil, nil, nil
	m.out.SetTrack(webrtc.RTPCodecTypeAudio, nil)
	m.out.SetTrack(webrtc.RTPCodecTypeVideo, nil)
	m.mu.Unlock()
	for _, t := range tracks {
		if t != nil {
			t.Stop()
		}
	}
}

func trackOf(t core.LocalTrack) webrtc.TrackLocal {
	if t == nil {
		return nil
	}
	return t.Track()
}
