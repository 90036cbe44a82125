package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/core"
	"github.com/cbrcs/studysession/internal/domain"
)

// DefaultICEServers are public STUN servers; two so one outage does not
// break NAT discovery.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return NewWebRTCConfig(DefaultICEServers)
}

// NewWebRTCConfig builds a configuration from ice server urls, falling back
// to DefaultICEServers when none are given.
func NewWebRTCConfig(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		urls = DefaultICEServers
	}
	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// WebRTCConnection is a pion PeerConnection with one sendrecv transceiver
// per media kind, so local tracks can be swapped without renegotiation.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	remote domain.ParticipantID
	h      core.MediaHandlers

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	senders map[webrtc.RTPCodecType]*webrtc.RTPSender
	closed  bool
}

// NewFactory returns a core.MediaFactory producing WebRTCConnections.
func NewFactory(cfg webrtc.Configuration) core.MediaFactory {
	return func(remote domain.ParticipantID, h core.MediaHandlers) (core.MediaConnection, error) {
		return NewWebRTCConnection(cfg, remote, h)
	}
}

func NewWebRTCConnection(cfg webrtc.Configuration, remote domain.ParticipantID, h core.MediaHandlers) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &WebRTCConnection{
		pc:      pc,
		remote:  remote,
		h:       h,
		ctx:     ctx,
		cancel:  cancel,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender, 2),
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		tr, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv})
		if err != nil {
			_ = pc.Close()
			cancel()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
		c.senders[kind] = tr.Sender()
	}
	c.bind()
	return c, nil
}

func (c *WebRTCConnection) bind() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("remote", string(c.remote)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.cancel()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.h.OnICECandidate != nil {
			c.h.OnICECandidate(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("remote", string(c.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		if c.h.OnTrack != nil {
			c.h.OnTrack(c.ctx, track)
		}
	})
}

func (c *WebRTCConnection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

// ApplyOfferAndCreateAnswer returns as soon as the answer is set; candidates
// follow through OnICECandidate.
func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	c.mu.Lock()
	sender, ok := c.senders[kind]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no %s sender", kind)
	}
	return sender.ReplaceTrack(track)
}

// ConnectionState exposes the pion state for diagnostics.
func (c *WebRTCConnection) ConnectionState() webrtc.PeerConnectionState {
	return c.pc.ConnectionState()
}

func (c *WebRTCConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WebRTCConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("remote", string(c.remote)).Msg("close error")
		return
	}
	log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Msg("closed")
}
