package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/domain"
)

// Renderer consumes the RTP packets of one remote track.
type Renderer interface {
	WriteRTP(*rtp.Packet) error
}

// RendererFactory picks a renderer for a newly arrived remote track.
type RendererFactory func(from domain.ParticipantID, kind webrtc.RTPCodecType) Renderer

type slot struct {
	from   domain.ParticipantID
	kind   webrtc.RTPCodecType
	render Renderer
	cancel context.CancelFunc
	done   chan struct{}
}

// SlotSet binds remote tracks to renderers, one read loop per track.
// Slots of a participant are torn down when it leaves.
type SlotSet struct {
	newRenderer RendererFactory

	mu    sync.Mutex
	slots map[domain.ParticipantID][]*slot
}

func NewSlotSet(f RendererFactory) *SlotSet {
	if f == nil {
		f = func(domain.ParticipantID, webrtc.RTPCodecType) Renderer { return &StatsRenderer{} }
	}
	return &SlotSet{newRenderer: f, slots: make(map[domain.ParticipantID][]*slot)}
}

// Play starts reading track into a fresh renderer until ctx ends or the
// track fails.
func (s *SlotSet) Play(ctx context.Context, from domain.ParticipantID, track *webrtc.TrackRemote) {
	s.play(ctx, from, track.Kind(), func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
}

func (s *SlotSet) play(ctx context.Context, from domain.ParticipantID, kind webrtc.RTPCodecType, read func() (*rtp.Packet, error)) {
	logger := log.With().
		Str("module", "client.slots").
		Str("from", string(from)).
		Str("kind", kind.String()).
		Logger()

	slotCtx, cancel := context.WithCancel(ctx)
	sl := &slot{
		from:   from,
		kind:   kind,
		render: s.newRenderer(from, kind),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.slots[from] = append(s.slots[from], sl)
	s.mu.Unlock()

	logger.Debug().Msg("slot started")
	go sl.loop(slotCtx, read, &logger)
}

// loop forwards packets into the renderer. A renderer error only drops
// that packet; a read error ends the slot.
func (sl *slot) loop(ctx context.Context, read func() (*rtp.Packet, error), logger *zerolog.Logger) {
	defer close(sl.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("slot closed")
			return
		default:
		}
		pkt, err := read()
		if err != nil {
			logger.Debug().Err(err).Msg("slot read ended")
			return
		}
		if err := sl.render.WriteRTP(pkt); err != nil {
			logger.Warn().Err(err).Msg("render")
		}
	}
}

// Remove cancels every slot of from. Loops blocked in a read end once the
// peer connection is closed.
func (s *SlotSet) Remove(from domain.ParticipantID) {
	s.mu.Lock()
	slots := s.slots[from]
	delete(s.slots, from)
	s.mu.Unlock()
	for _, sl := range slots {
		sl.cancel()
	}
}

// Renderers returns the renderers currently bound for from.
func (s *SlotSet) Renderers(from domain.ParticipantID) []Renderer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Renderer, 0, len(s.slots[from]))
	for _, sl := range s.slots[from] {
		out = append(out, sl.render)
	}
	return out
}

func (s *SlotSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// StatsRenderer discards media and counts what it received.
type StatsRenderer struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (r *StatsRenderer) WriteRTP(p *rtp.Packet) error {
	r.packets.Add(1)
	r.bytes.Add(uint64(len(p.Payload)))
	return nil
}

func (r *StatsRenderer) Packets() uint64 { return r.packets.Load() }

func (r *StatsRenderer) Bytes() uint64 { return r.bytes.Load() }
