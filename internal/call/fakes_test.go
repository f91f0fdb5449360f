package call

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dncdante911/worldmates-calls/internal/core"
	"github.com/dncdante911/worldmates-calls/internal/domain"
)

// fakeEngine records every media engine interaction and exposes the wired
// callbacks so tests can drive connection-state transitions.
type fakeEngine struct {
	offers  int
	answers int
	remote  []webrtc.SessionDescription
	cands   []webrtc.ICECandidateInit
	closed  int

	offerErr     error
	setRemoteErr error

	onICE   func(webrtc.ICECandidateInit)
	onState func(core.ConnState)
	onTrack func(*webrtc.TrackRemote)
}

func (f *fakeEngine) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	f.offers++
	if f.offerErr != nil {
		return webrtc.SessionDescription{}, f.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeEngine) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	f.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeEngine) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if f.setRemoteErr != nil {
		return f.setRemoteErr
	}
	f.remote = append(f.remote, desc)
	return nil
}

func (f *fakeEngine) AddRemoteCandidate(ci webrtc.ICECandidateInit) error {
	f.cands = append(f.cands, ci)
	return nil
}

func (f *fakeEngine) SetAudio(enabled bool) {}
func (f *fakeEngine) SetVideo(enabled bool) {}

func (f *fakeEngine) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) { f.onICE = fn }
func (f *fakeEngine) OnConnectionState(fn func(core.ConnState)) { f.onState = fn }
func (f *fakeEngine) OnRemoteTrack(fn func(*webrtc.TrackRemote)) { f.onTrack = fn }

func (f *fakeEngine) Close() { f.closed++ }

// fakeEmitter records every emission. Safe for use from ring timer callbacks.
type fakeEmitter struct {
	mu     sync.Mutex
	events []core.Event
}

func (f *fakeEmitter) Emit(ev core.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEmitter) Close() {}

func (f *fakeEmitter) byName(name string) []core.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Event
	for _, ev := range f.events {
		if ev.Name() == name {
			out = append(out, ev)
		}
	}
	return out
}

// engineRecorder hands out fake engines and remembers them in creation order.
type engineRecorder struct {
	engines []*fakeEngine
	sids    []string
	err     error
}

func (r *engineRecorder) factory(sid string, kind domain.MediaKind) (core.MediaEngine, error) {
	if r.err != nil {
		return nil, r.err
	}
	e := &fakeEngine{}
	r.engines = append(r.engines, e)
	r.sids = append(r.sids, sid)
	return e, nil
}

func (r *engineRecorder) last() *fakeEngine {
	if len(r.engines) == 0 {
		return nil
	}
	return r.engines[len(r.engines)-1]
}
