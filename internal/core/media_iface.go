package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dncdante911/worldmates-calls/internal/domain"
)

// ConnState mirrors the media engine's connection state for presentation.
type ConnState string

const (
	ConnNew          ConnState = "new"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

// MediaEngine abstracts one peer-to-peer media transport. A session owns
// exactly one engine; an engine is never reused after Close.
type MediaEngine interface {
	// CreateOffer produces the local session description for an outgoing call.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// CreateAnswer produces the local session description for an accepted call.
	// The remote offer must already be applied.
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	// SetRemoteDescription applies the counterpart's offer or answer.
	SetRemoteDescription(webrtc.SessionDescription) error
	// AddRemoteCandidate applies a remote ICE candidate. Best-effort: a bad
	// candidate must not abort the call.
	AddRemoteCandidate(webrtc.ICECandidateInit) error

	SetAudio(enabled bool)
	SetVideo(enabled bool)

	// OnLocalCandidate sets a callback for newly gathered local ICE candidates.
	OnLocalCandidate(func(webrtc.ICECandidateInit))
	// OnConnectionState sets a callback for media connection state changes.
	OnConnectionState(func(ConnState))
	// OnRemoteTrack sets a callback invoked when a remote media track arrives.
	OnRemoteTrack(func(track *webrtc.TrackRemote))

	// Close stops all underlying media resources.
	Close()
}

// EngineFactory builds one MediaEngine per call leg.
type EngineFactory func(sid string, kind domain.MediaKind) (MediaEngine, error)
