package call

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dncdante911/worldmates-calls/internal/core"
	"github.com/dncdante911/worldmates-calls/internal/domain"
)

// Snapshot is the observable state published to presentation after every
// transition. When no session is active, an explicit idle snapshot is
// published instead of silence.
type Snapshot struct {
	Idle  bool             `json:"idle"`
	State State            `json:"state,omitempty"`
	Role  domain.Role      `json:"role,omitempty"`
	Peer  domain.Peer      `json:"peer,omitzero"`
	Kind  domain.MediaKind `json:"kind,omitempty"`
	Room  domain.RoomID    `json:"room,omitempty"`
	Conn  core.ConnState   `json:"conn,omitempty"`
}

// IncomingCall is surfaced to presentation when an offer arrives while idle.
type IncomingCall struct {
	SessionID domain.SessionID `json:"sessionId"`
	Peer      domain.Peer      `json:"peer"`
	Kind      domain.MediaKind `json:"kind"`
	Room      domain.RoomID    `json:"room"`
}

// Options wires a Coordinator. Self identifies the local endpoint; Engines
// builds one media engine per leg; RingTimeout bounds all ringing states.
type Options struct {
	Self        domain.UserID
	Engines     core.EngineFactory
	Emitter     core.SignalEmitter
	RingTimeout time.Duration

	// Listeners are invoked synchronously under the coordinator's lock and
	// must not call back into it.
	OnSnapshot    func(Snapshot)
	OnIncoming    func(IncomingCall)
	OnRemoteTrack func(*webrtc.TrackRemote)
	OnPeerMedia   func(core.ParticipantMediaEvent)
}

// Coordinator owns at most one active session plus one pending inbound offer.
// A single mutex serializes intents, inbound dispatch, ring timers and media
// engine callbacks, so a local end() and an inbound call:end can never race.
type Coordinator struct {
	mu   sync.Mutex
	opts Options

	active  *Session
	pending *Session
	conn    core.ConnState
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = 45 * time.Second
	}
	return &Coordinator{opts: opts, conn: core.ConnNew}
}

// Register announces this endpoint to the signaling server. The signal
// adapter calls it after every (re)connect.
func (c *Coordinator) Register() {
	_ = c.opts.Emitter.Emit(core.RegisterEvent{UserID: c.opts.Self})
}

// Initiate starts an outgoing 1:1 call. Fails with ErrBusy while another
// call is active; the existing call is left untouched.
func (c *Coordinator) Initiate(ctx context.Context, peer domain.Peer, kind domain.MediaKind) (domain.SessionID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return "", core.ErrBusy
	}

	// The engine carries the session id in its logs, so mint it first.
	sid := domain.NewSessionID()
	engine, err := c.opts.Engines(string(sid), kind)
	if err != nil {
		return "", &core.MediaEngineError{Op: "create engine", Err: err}
	}

	sess := newInitiatorSession(sid, c.opts.Self, peer, kind, engine, c.opts.Emitter)
	c.wireEngine(sess, engine)
	c.active = sess

	if err := sess.initiate(ctx); err != nil {
		c.active = nil
		c.publish()
		return "", err
	}
	sess.startRingTimer(c.opts.RingTimeout, func() { c.onRingExpire(sess.room) })
	c.publish()
	return sess.id, nil
}

// Accept answers the pending inbound call and promotes it to active.
func (c *Coordinator) Accept(ctx context.Context, id domain.SessionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.pending
	if sess == nil || sess.id != id {
		return core.ErrNoPendingCall
	}
	c.pending = nil
	sess.stopRingTimer()

	if err := sess.accept(ctx); err != nil {
		c.publish()
		return err
	}
	c.active = sess
	c.publish()
	return nil
}

// Reject declines the pending inbound call and returns to idle.
func (c *Coordinator) Reject(id domain.SessionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.pending
	if sess == nil || sess.id != id {
		return core.ErrNoPendingCall
	}
	c.pending = nil
	err := sess.reject()
	c.publish()
	return err
}

// End hangs up the active call. No-op when idle; idempotent.
func (c *Coordinator) End() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return
	}
	c.active.end(domain.ReasonHangup)
	c.active = nil
	c.publish()
}

// ToggleAudio mutes or unmutes the local microphone on the active call and
// tells the room. No-op when idle.
func (c *Coordinator) ToggleAudio(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return
	}
	c.active.engine.SetAudio(enabled)
	_ = c.opts.Emitter.Emit(core.ToggleAudioEvent{RoomName: c.active.room, UserID: c.opts.Self, Enabled: enabled})
}

// ToggleVideo turns the local camera on or off on the active call and tells
// the room. No-op when idle.
func (c *Coordinator) ToggleVideo(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return
	}
	c.active.engine.SetVideo(enabled)
	_ = c.opts.Emitter.Emit(core.ToggleVideoEvent{RoomName: c.active.room, UserID: c.opts.Self, Enabled: enabled})
}

// Snapshot returns the current observable state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Dispatch routes one inbound signaling event. Events for unknown rooms are
// dropped: they are late arrivals for calls that already ended.
func (c *Coordinator) Dispatch(ev core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case core.IncomingEvent:
		c.onIncoming(e)
	case core.AnswerEvent:
		if sess := c.sessionFor(e.RoomName); sess != nil {
			sess.handleAnswer(e)
			c.reap()
		} else {
			c.dropUnknown(ev)
		}
	case core.CandidateEvent:
		if sess := c.sessionFor(e.RoomName); sess != nil {
			sess.handleCandidate(e)
		} else {
			c.dropUnknown(ev)
		}
	case core.RejectedEvent:
		if sess := c.sessionFor(e.RoomName); sess != nil {
			sess.handleRejected(e)
			c.reap()
		} else {
			c.dropUnknown(ev)
		}
	case core.EndedEvent:
		if sess := c.sessionFor(e.RoomName); sess != nil {
			sess.handleEnded(e)
			c.reap()
		} else {
			c.dropUnknown(ev)
		}
	case core.ParticipantMediaEvent:
		if c.sessionFor(e.RoomName) == nil {
			c.dropUnknown(ev)
			return
		}
		if c.opts.OnPeerMedia != nil {
			c.opts.OnPeerMedia(e)
		}
	default:
		log.Warn().Str("module", "call.coordinator").Str("event", ev.Name()).Msg("unhandled signal")
	}
}

// onIncoming handles an inbound offer. While busy the offer is auto-rejected
// (no call waiting); a duplicate offer for a room we already track is dropped
// so a server resend cannot kill the pending call.
func (c *Coordinator) onIncoming(ev core.IncomingEvent) {
	if ev.FromID == c.opts.Self {
		log.Warn().Str("module", "call.coordinator").Msg("ignoring own offer echo")
		return
	}
	if c.sessionFor(ev.RoomName) != nil {
		log.Debug().Str("module", "call.coordinator").Str("room", string(ev.RoomName)).Msg("duplicate offer dropped")
		return
	}
	if c.active != nil || c.pending != nil {
		log.Info().Str("module", "call.coordinator").Str("room", string(ev.RoomName)).Msg("busy, auto-rejecting offer")
		_ = c.opts.Emitter.Emit(core.RejectEvent{RoomName: ev.RoomName, UserID: c.opts.Self})
		return
	}

	engine, err := c.opts.Engines(string(ev.RoomName), ev.CallType)
	if err != nil {
		log.Error().Str("module", "call.coordinator").Err(err).Msg("engine for inbound offer")
		_ = c.opts.Emitter.Emit(core.RejectEvent{RoomName: ev.RoomName, UserID: c.opts.Self})
		return
	}

	sess := newResponderSession(c.opts.Self, ev, engine, c.opts.Emitter)
	c.wireEngine(sess, engine)
	c.pending = sess
	sess.startRingTimer(c.opts.RingTimeout, func() { c.onRingExpire(sess.room) })

	if c.opts.OnIncoming != nil {
		c.opts.OnIncoming(IncomingCall{SessionID: sess.id, Peer: sess.peer, Kind: sess.kind, Room: sess.room})
	}
	c.publish()
}

// wireEngine routes media engine callbacks back through the coordinator lock.
// Candidate emission reads only fields immutable after session creation, so
// it skips the lock.
func (c *Coordinator) wireEngine(sess *Session, engine core.MediaEngine) {
	engine.OnLocalCandidate(func(ci webrtc.ICECandidateInit) {
		_ = c.opts.Emitter.Emit(core.NewCandidateEvent(sess.room, c.opts.Self, sess.peer.ID, ci))
	})
	engine.OnConnectionState(func(cs core.ConnState) {
		c.onConnState(sess.room, cs)
	})
	engine.OnRemoteTrack(func(track *webrtc.TrackRemote) {
		if c.opts.OnRemoteTrack != nil {
			c.opts.OnRemoteTrack(track)
		}
	})
}

func (c *Coordinator) onConnState(room domain.RoomID, cs core.ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess := c.sessionFor(room)
	if sess == nil {
		return
	}
	c.conn = cs
	sess.handleConnState(cs)
	c.reap()
}

func (c *Coordinator) onRingExpire(room domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess := c.sessionFor(room)
	if sess == nil || !sess.state.Ringing() {
		return
	}
	log.Info().Str("module", "call.coordinator").Str("room", string(room)).Msg("ringing timed out")
	sess.end(domain.ReasonTimeout)
	c.reap()
}

func (c *Coordinator) sessionFor(room domain.RoomID) *Session {
	if c.active != nil && c.active.room == room {
		return c.active
	}
	if c.pending != nil && c.pending.room == room {
		return c.pending
	}
	return nil
}

// reap clears terminal sessions from their slots and republishes.
func (c *Coordinator) reap() {
	if c.active != nil && c.active.state.Terminal() {
		c.active = nil
	}
	if c.pending != nil && c.pending.state.Terminal() {
		c.pending = nil
	}
	c.publish()
}

func (c *Coordinator) dropUnknown(ev core.Event) {
	log.Debug().
		Str("module", "call.coordinator").
		Str("event", ev.Name()).
		Str("room", string(ev.Room())).
		Msg("no session for room, dropped")
}

func (c *Coordinator) snapshot() Snapshot {
	sess := c.active
	if sess == nil {
		sess = c.pending
	}
	if sess == nil {
		return Snapshot{Idle: true}
	}
	return Snapshot{
		State: sess.state,
		Role:  sess.role,
		Peer:  sess.peer,
		Kind:  sess.kind,
		Room:  sess.room,
		Conn:  c.conn,
	}
}

func (c *Coordinator) publish() {
	if c.opts.OnSnapshot != nil {
		c.opts.OnSnapshot(c.snapshot())
	}
}
