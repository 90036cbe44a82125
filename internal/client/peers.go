package client

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/core"
	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/protocol"
)

// SendFunc queues a signaling message towards the server.
type SendFunc func(protocol.Message) error

// TrackSink receives remote tracks together with the participant they
// came from.
type TrackSink interface {
	Play(ctx context.Context, from domain.ParticipantID, track *webrtc.TrackRemote)
	Remove(from domain.ParticipantID)
}

type peerEntry struct {
	conn        core.MediaConnection
	haveRemote  bool
	offerIssued bool
	// local candidates wait until our description has been sent
	sdpSent bool
	pending []webrtc.ICECandidateInit
}

// PeerManager owns one media connection per remote participant.
type PeerManager struct {
	factory core.MediaFactory
	send    SendFunc
	sink    TrackSink

	mu     sync.Mutex
	peers  map[domain.ParticipantID]*peerEntry
	tracks map[webrtc.RTPCodecType]webrtc.TrackLocal
	// set by CloseAll; no entry is created afterwards
	closed bool
}

func NewPeerManager(factory core.MediaFactory, send SendFunc, sink TrackSink) *PeerManager {
	return &PeerManager{
		factory: factory,
		send:    send,
		sink:    sink,
		peers:   make(map[domain.ParticipantID]*peerEntry),
		tracks:  make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
	}
}

// CreatePeerConnection returns the entry for id, creating it with the
// current local tracks attached.
func (m *PeerManager) CreatePeerConnection(id domain.ParticipantID) (core.MediaConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entryLocked(id)
	if err != nil {
		return nil, err
	}
	return e.conn, nil
}

func (m *PeerManager) entryLocked(id domain.ParticipantID) (*peerEntry, error) {
	if e, ok := m.peers[id]; ok {
		return e, nil
	}
	if m.closed {
		return nil, ErrNotConnected
	}
	h := core.MediaHandlers{
		OnICECandidate: func(c webrtc.ICECandidateInit) { m.sendCandidate(id, c) },
	}
	if m.sink != nil {
		h.OnTrack = func(ctx context.Context, t *webrtc.TrackRemote) { m.sink.Play(ctx, id, t) }
	}
	conn, err := m.factory(id, h)
	if err != nil {
		return nil, fmt.Errorf("peer %s: %w", id, err)
	}
	for kind, t := range m.tracks {
		if err := conn.ReplaceTrack(kind, t); err != nil {
			log.Warn().Err(err).Str("module", "client.peers").Str("peer", string(id)).Msg("attach track")
		}
	}
	e := &peerEntry{conn: conn}
	m.peers[id] = e
	log.Debug().Str("module", "client.peers").Str("peer", string(id)).Msg("peer created")
	return e, nil
}

// Offer creates the entry for a newcomer and sends it an offer.
func (m *PeerManager) Offer(id domain.ParticipantID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entryLocked(id)
	if err != nil {
		return err
	}
	sdp, err := e.conn.CreateOffer()
	if err != nil {
		return fmt.Errorf("offer %s: %w", id, err)
	}
	e.offerIssued = true
	return m.sendSDPLocked(protocol.TypeWebRTCOffer, id, e, sdp)
}

// HandleOffer answers a remote offer, creating the entry on first contact.
func (m *PeerManager) HandleOffer(from domain.ParticipantID, data json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		return fmt.Errorf("offer from %s: %w", from, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entryLocked(from)
	if err != nil {
		return err
	}
	answer, err := e.conn.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		return fmt.Errorf("answer %s: %w", from, err)
	}
	e.haveRemote = true
	return m.sendSDPLocked(protocol.TypeWebRTCAnswer, from, e, answer)
}

// HandleAnswer completes an offer we sent. Answers for unknown peers are
// dropped.
func (m *PeerManager) HandleAnswer(from domain.ParticipantID, data json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		return fmt.Errorf("answer from %s: %w", from, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.peers[from]
	if !ok || !e.offerIssued {
		log.Debug().Str("module", "client.peers").Str("peer", string(from)).Msg("answer without offer dropped")
		return nil
	}
	if err := e.conn.ApplyAnswer(answer); err != nil {
		return fmt.Errorf("answer %s: %w", from, err)
	}
	e.haveRemote = true
	return nil
}

// HandleICECandidate applies a remote candidate. Candidates that arrive
// before the remote description are dropped.
func (m *PeerManager) HandleICECandidate(from domain.ParticipantID, data json.RawMessage) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("candidate from %s: %w", from, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.peers[from]
	if !ok || !e.haveRemote {
		log.Debug().Str("module", "client.peers").Str("peer", string(from)).Msg("early ice candidate dropped")
		return nil
	}
	return e.conn.AddICECandidate(c)
}

// Handle dispatches a relayed negotiation frame.
func (m *PeerManager) Handle(n protocol.Negotiation) error {
	switch n.Type {
	case protocol.TypeWebRTCOffer:
		return m.HandleOffer(n.FromParticipantID, n.Data)
	case protocol.TypeWebRTCAnswer:
		return m.HandleAnswer(n.FromParticipantID, n.Data)
	case protocol.TypeWebRTCICECandidate:
		return m.HandleICECandidate(n.FromParticipantID, n.Data)
	}
	return protocol.ErrUnknownType
}

// Remove closes and forgets the entry for id.
func (m *PeerManager) Remove(id domain.ParticipantID) {
	m.mu.Lock()
	e, ok := m.peers[id]
	delete(m.peers, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	e.conn.Close()
	if m.sink != nil {
		m.sink.Remove(id)
	}
	log.Debug().Str("module", "client.peers").Str("peer", string(id)).Msg("peer removed")
}

// CloseAll removes every entry and refuses new ones from then on.
func (m *PeerManager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	for _, id := range m.Peers() {
		m.Remove(id)
	}
}

// Peers lists the remote ids that currently have an entry.
func (m *PeerManager) Peers() []domain.ParticipantID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.peers))
}

func (m *PeerManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// SetTrack swaps the local source of kind on every connection. A nil
// track stops sending that kind.
func (m *PeerManager) SetTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t == nil {
		delete(m.tracks, kind)
	} else {
		m.tracks[kind] = t
	}
	for id, e := range m.peers {
		if err := e.conn.ReplaceTrack(kind, t); err != nil {
			log.Warn().Err(err).Str("module", "client.peers").Str("peer", string(id)).Msg("replace track")
		}
	}
}

// sendSDPLocked sends the description, then any candidates gathered
// while it was being produced, keeping them behind it on the wire.
func (m *PeerManager) sendSDPLocked(t protocol.Type, to domain.ParticipantID, e *peerEntry, sdp webrtc.SessionDescription) error {
	data, err := json.Marshal(sdp)
	if err != nil {
		return err
	}
	if err := m.send(protocol.Negotiation{Type: t, TargetParticipantID: to, Data: data}); err != nil {
		return err
	}
	e.sdpSent = true
	for _, c := range e.pending {
		m.sendCandidateLocked(to, c)
	}
	e.pending = nil
	return nil
}

func (m *PeerManager) sendCandidate(to domain.ParticipantID, c webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.peers[to]
	if !ok {
		return
	}
	if !e.sdpSent {
		e.pending = append(e.pending, c)
		return
	}
	m.sendCandidateLocked(to, c)
}

func (m *PeerManager) sendCandidateLocked(to domain.ParticipantID, c webrtc.ICECandidateInit) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := m.send(protocol.Negotiation{Type: protocol.TypeWebRTCICECandidate, TargetParticipantID: to, Data: data}); err != nil {
		log.Debug().Err(err).Str("module", "client.peers").Str("peer", string(to)).Msg("send candidate")
	}
}
