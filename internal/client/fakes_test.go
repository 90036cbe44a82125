package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/cbrcs/studysession/internal/core"
	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/protocol"
)

type outbox struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (o *outbox) send(m protocol.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
	return nil
}

func (o *outbox) all() []protocol.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]protocol.Message(nil), o.msgs...)
}

func (o *outbox) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = nil
}

type fakeMedia struct {
	mu         sync.Mutex
	remote     domain.ParticipantID
	h          core.MediaHandlers
	offers     int
	answered   int
	applied    int
	candidates []webrtc.ICECandidateInit
	tracks     map[webrtc.RTPCodecType]webrtc.TrackLocal
	closed     bool
}

func (f *fakeMedia) CreateOffer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + string(f.remote)}, nil
}

func (f *fakeMedia) ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + string(f.remote)}, nil
}

func (f *fakeMedia) ApplyAnswer(webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied++
	return nil
}

func (f *fakeMedia) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeMedia) ReplaceTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks[kind] = t
	return nil
}

func (f *fakeMedia) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeMedia) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeMedia) counts() (offers, answered, applied, candidates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers, f.answered, f.applied, len(f.candidates)
}

func (f *fakeMedia) track(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracks[kind]
}

type fakeFactory struct {
	mu      sync.Mutex
	conns   map[domain.ParticipantID]*fakeMedia
	created int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[domain.ParticipantID]*fakeMedia)}
}

func (f *fakeFactory) New(remote domain.ParticipantID, h core.MediaHandlers) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeMedia{remote: remote, h: h, tracks: make(map[webrtc.RTPCodecType]webrtc.TrackLocal)}
	f.conns[remote] = c
	f.created++
	return c, nil
}

func (f *fakeFactory) conn(remote domain.ParticipantID) *fakeMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[remote]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type fakeTrack struct {
	kind    webrtc.RTPCodecType
	local   webrtc.TrackLocal
	mu      sync.Mutex
	enabled bool
	stopped bool
}

func newFakeTrack(t *testing.T, kind webrtc.RTPCodecType, id string) *fakeTrack {
	t.Helper()
	mime := webrtc.MimeTypeVP8
	if kind == webrtc.RTPCodecTypeAudio {
		mime = webrtc.MimeTypeOpus
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "test")
	require.NoError(t, err)
	return &fakeTrack{kind: kind, local: local, enabled: true}
}

func (f *fakeTrack) Kind() webrtc.RTPCodecType { return f.kind }
func (f *fakeTrack) Track() webrtc.TrackLocal  { return f.local }

func (f *fakeTrack) SetEnabled(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = on
}

func (f *fakeTrack) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTrack) state() (enabled, stopped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, f.stopped
}

type fakeDevices struct {
	t    *testing.T
	deny error
	// gate, when set, holds every open until it is closed
	gate    chan struct{}
	waiting atomic.Int32

	mu     sync.Mutex
	opened []*fakeTrack
}

func (d *fakeDevices) open(ctx context.Context, kind webrtc.RTPCodecType, label string) (core.LocalTrack, error) {
	if d.gate != nil {
		d.waiting.Add(1)
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.deny != nil {
		return nil, d.deny
	}
	tr := newFakeTrack(d.t, kind, label)
	d.mu.Lock()
	d.opened = append(d.opened, tr)
	d.mu.Unlock()
	return tr, nil
}

func (d *fakeDevices) OpenMicrophone(ctx context.Context) (core.LocalTrack, error) {
	return d.open(ctx, webrtc.RTPCodecTypeAudio, "mic")
}

func (d *fakeDevices) OpenCamera(ctx context.Context) (core.LocalTrack, error) {
	return d.open(ctx, webrtc.RTPCodecTypeVideo, "camera")
}

func (d *fakeDevices) OpenScreen(ctx context.Context) (core.LocalTrack, error) {
	return d.open(ctx, webrtc.RTPCodecTypeVideo, "screen")
}

func (d *fakeDevices) tracks() []*fakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeTrack(nil), d.opened...)
}

type trackOut struct {
	mu     sync.Mutex
	tracks map[webrtc.RTPCodecType]webrtc.TrackLocal
}

func newTrackOut() *trackOut {
	return &trackOut{tracks: make(map[webrtc.RTPCodecType]webrtc.TrackLocal)}
}

func (o *trackOut) SetTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracks[kind] = t
}

func (o *trackOut) get(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tracks[kind]
}

type recorder struct {
	mu     sync.Mutex
	states []State
	roster []domain.Participant
	chat   []ChatEntry
	hands  []protocol.HandRaiseUpdate
	errs   []error
}

func (r *recorder) OnStateChange(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) OnParticipants(p []domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roster = p
}

func (r *recorder) OnChat(e ChatEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = append(r.chat, e)
}

func (r *recorder) OnHandRaise(u protocol.HandRaiseUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hands = append(r.hands, u)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) lastRoster() []domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roster
}
