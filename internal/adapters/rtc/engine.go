// Package rtc implements the media engine boundary over pion/webrtc.
package rtc

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dncdante911/worldmates-calls/internal/core"
	"github.com/dncdante911/worldmates-calls/internal/domain"
)

// Engine owns one PeerConnection for one call leg. Never reused after Close.
type Engine struct {
	pc  *webrtc.PeerConnection
	sid string

	audioTrack  *webrtc.TrackLocalStaticRTP
	videoTrack  *webrtc.TrackLocalStaticRTP
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender

	onICE   func(webrtc.ICECandidateInit)
	onState func(core.ConnState)
	onTrack func(*webrtc.TrackRemote)
}

// DefaultConfig falls back to public STUN when the server sends no ICE list.
func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ConfigFromURLs builds a pion configuration from plain server URLs.
func ConfigFromURLs(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return DefaultConfig()
	}
	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// NewEngine creates a PeerConnection with local audio (and video, for video
// calls) tracks attached.
func NewEngine(cfg webrtc.Configuration, sid string, kind domain.MediaKind) (*Engine, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	e := &Engine{pc: pc, sid: sid}

	e.audioTrack, err = webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "worldmates")
	if err != nil {
		pc.Close()
		return nil, err
	}
	if e.audioSender, err = pc.AddTrack(e.audioTrack); err != nil {
		pc.Close()
		return nil, err
	}

	if kind == domain.MediaVideo {
		e.videoTrack, err = webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "worldmates")
		if err != nil {
			pc.Close()
			return nil, err
		}
		if e.videoSender, err = pc.AddTrack(e.videoTrack); err != nil {
			pc.Close()
			return nil, err
		}
	}

	e.bind()
	return e, nil
}

func (e *Engine) bind() {
	e.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && e.onICE != nil {
			e.onICE(cand.ToJSON())
		}
	})

	e.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("sid", e.sid).Str("peer_connection_state", s.String()).Msg("peer state")
		if e.onState != nil {
			e.onState(mapState(s))
		}
	})

	e.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("sid", e.sid).Str("ice_state", s.String()).Msg("ICE state")
	})

	e.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("sid", e.sid).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		if e.onTrack != nil {
			e.onTrack(track)
		}
	})
}

func mapState(s webrtc.PeerConnectionState) core.ConnState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return core.ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return core.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.ConnFailed
	default:
		return core.ConnClosed
	}
}

func (e *Engine) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	// Trickle ICE: candidates follow over the signal channel, no need to
	// wait for gathering.
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (e *Engine) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (e *Engine) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return e.pc.SetRemoteDescription(desc)
}

func (e *Engine) AddRemoteCandidate(ci webrtc.ICECandidateInit) error {
	return e.pc.AddICECandidate(ci)
}

// SetAudio pauses or resumes the outgoing audio track.
func (e *Engine) SetAudio(enabled bool) {
	e.replace(e.audioSender, e.audioTrack, enabled)
}

// SetVideo pauses or resumes the outgoing video track. No-op on audio calls.
func (e *Engine) SetVideo(enabled bool) {
	e.replace(e.videoSender, e.videoTrack, enabled)
}

func (e *Engine) replace(sender *webrtc.RTPSender, track *webrtc.TrackLocalStaticRTP, enabled bool) {
	if sender == nil {
		return
	}
	var t webrtc.TrackLocal
	if enabled {
		t = track
	}
	if err := sender.ReplaceTrack(t); err != nil {
		log.Warn().Str("module", "rtc").Str("sid", e.sid).Err(err).Msg("replace track")
	}
}

func (e *Engine) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) { e.onICE = fn }
func (e *Engine) OnConnectionState(fn func(core.ConnState)) { e.onState = fn }
func (e *Engine) OnRemoteTrack(fn func(*webrtc.TrackRemote)) { e.onTrack = fn }

func (e *Engine) Close() {
	if err := e.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("sid", e.sid).Msg("close error")
		return
	}
	log.Info().Str("module", "rtc").Str("sid", e.sid).Msg("closed")
}

// Factory builds one Engine per leg with a fixed ICE configuration.
func Factory(cfg webrtc.Configuration) core.EngineFactory {
	return func(sid string, kind domain.MediaKind) (core.MediaEngine, error) {
		return NewEngine(cfg, sid, kind)
	}
}
