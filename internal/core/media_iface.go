package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/cbrcs/studysession/internal/domain"
)

// MediaConnection is one peer-to-peer media link to a remote participant.
// Negotiation calls are synchronous; candidates are trickled through the
// handler passed at construction.
type MediaConnection interface {
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyOfferAndCreateAnswer sets the remote offer, then creates and sets the local answer.
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// ApplyAnswer sets the remote answer to a previously sent offer.
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// ReplaceTrack swaps what the connection sends for kind; nil stops sending.
	ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
}

// MediaHandlers are the callbacks a MediaConnection reports to.
type MediaHandlers struct {
	// OnICECandidate is invoked for every locally gathered candidate.
	OnICECandidate func(webrtc.ICECandidateInit)
	// OnTrack is invoked when a new remote track arrives; ctx ends with the connection.
	OnTrack func(ctx context.Context, track *webrtc.TrackRemote)
}

// MediaFactory allocates a connection towards remote.
type MediaFactory func(remote domain.ParticipantID, h MediaHandlers) (MediaConnection, error)

// LocalTrack is one captured local source (microphone, camera or screen).
type LocalTrack interface {
	Kind() webrtc.RTPCodecType
	Track() webrtc.TrackLocal
	// SetEnabled keeps the track attached but stops emitting media.
	SetEnabled(on bool)
	// Stop releases the capture device. A stopped track cannot be restarted.
	Stop()
}

// Devices opens capture sources. An error means permission was refused or
// the device is unavailable.
type Devices interface {
	OpenMicrophone(ctx context.Context) (LocalTrack, error)
	OpenCamera(ctx context.Context) (LocalTrack, error)
	OpenScreen(ctx context.Context) (LocalTrack, error)
}
