package call

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dncdante911/worldmates-calls/internal/core"
	"github.com/dncdante911/worldmates-calls/internal/domain"
)

// Session is one pairwise negotiation between two signaling endpoints. In a
// group call every leg is its own Session. All methods must run under the
// owning coordinator's lock; the session itself holds no mutex.
type Session struct {
	id     domain.SessionID
	room   domain.RoomID
	role   domain.Role
	peer   domain.Peer
	kind   domain.MediaKind
	selfID domain.UserID

	state State

	engine core.MediaEngine
	emit   core.SignalEmitter

	localDesc  *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	// Candidates that arrived before the remote description. Flushed exactly
	// once, in arrival order, right after the remote description is set.
	pendingRemote []webrtc.ICECandidateInit
	remoteOffer   string

	ringTimer      *time.Timer
	endEmitted     bool
	engineReleased bool

	// announceRoom is false for group legs: the group coordinator emits
	// join/leave/end for the shared room once, not per leg.
	announceRoom bool
}

func newInitiatorSession(id domain.SessionID, self domain.UserID, peer domain.Peer, kind domain.MediaKind, engine core.MediaEngine, emit core.SignalEmitter) *Session {
	return &Session{
		id:           id,
		room:         domain.NewRoomID(),
		role:         domain.RoleInitiator,
		peer:         peer,
		kind:         kind,
		selfID:       self,
		state:        StateIdle,
		engine:       engine,
		emit:         emit,
		announceRoom: true,
	}
}

// newGroupLegSession is one initiator leg of a group call sharing the group
// room.
func newGroupLegSession(self domain.UserID, peer domain.Peer, kind domain.MediaKind, room domain.RoomID, engine core.MediaEngine, emit core.SignalEmitter) *Session {
	return &Session{
		id:     domain.NewSessionID(),
		room:   room,
		role:   domain.RoleInitiator,
		peer:   peer,
		kind:   kind,
		selfID: self,
		state:  StateIdle,
		engine: engine,
		emit:   emit,
	}
}

// newResponderSession exists only after an offer has been observed.
func newResponderSession(self domain.UserID, ev core.IncomingEvent, engine core.MediaEngine, emit core.SignalEmitter) *Session {
	return &Session{
		id:           domain.NewSessionID(),
		room:         ev.RoomName,
		role:         domain.RoleResponder,
		peer:         domain.Peer{ID: ev.FromID, Name: ev.FromName, Avatar: ev.FromAvatar},
		kind:         ev.CallType,
		selfID:       self,
		state:        StateOffered,
		engine:       engine,
		emit:         emit,
		remoteOffer:  ev.SDPOffer,
		announceRoom: true,
	}
}

func (s *Session) ID() domain.SessionID { return s.id }
func (s *Session) Room() domain.RoomID { return s.room }
func (s *Session) Role() domain.Role { return s.role }
func (s *Session) Peer() domain.Peer { return s.peer }
func (s *Session) Kind() domain.MediaKind { return s.kind }
func (s *Session) State() State { return s.state }

// initiate creates the local offer and emits call:initiate. Offer creation
// and emission are separate transitions so a failure points at the step that
// broke.
func (s *Session) initiate(ctx context.Context) error {
	if s.state != StateIdle {
		return core.ErrSessionClosed
	}
	s.state = StateOffering

	offer, err := s.engine.CreateOffer(ctx)
	if err != nil {
		s.fail(domain.ReasonMediaFailed)
		return &core.MediaEngineError{Op: "create offer", Err: err}
	}
	s.localDesc = &offer

	ev := core.InitiateEvent{
		RoomName: s.room,
		FromID:   s.selfID,
		ToID:     s.peer.ID,
		CallType: s.kind,
		SDPOffer: offer.SDP,
	}
	if err := s.emit.Emit(ev); err != nil {
		s.fail(domain.ReasonMediaFailed)
		return err
	}
	if s.announceRoom {
		_ = s.emit.Emit(core.JoinRoomEvent{RoomName: s.room, UserID: s.selfID})
	}

	s.state = StateAwaitingAnswer
	s.logger().Info().Msg("offer emitted, awaiting answer")
	return nil
}

// accept applies the buffered remote offer, creates the local answer and
// emits call:accept.
func (s *Session) accept(ctx context.Context) error {
	if s.state != StateOffered {
		return core.ErrNoPendingCall
	}
	s.state = StateAnswering

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.remoteOffer}
	if err := s.setRemote(offer); err != nil {
		s.rejectAfterFailure()
		return &core.MediaEngineError{Op: "set remote offer", Err: err}
	}

	answer, err := s.engine.CreateAnswer(ctx)
	if err != nil {
		s.rejectAfterFailure()
		return &core.MediaEngineError{Op: "create answer", Err: err}
	}
	s.localDesc = &answer

	if s.announceRoom {
		_ = s.emit.Emit(core.JoinRoomEvent{RoomName: s.room, UserID: s.selfID})
	}
	if err := s.emit.Emit(core.AcceptEvent{RoomName: s.room, UserID: s.selfID, SDPAnswer: answer.SDP}); err != nil {
		s.fail(domain.ReasonMediaFailed)
		return err
	}

	s.flushPending()
	s.state = StateConnecting
	s.logger().Info().Msg("answer emitted, connecting")
	return nil
}

// rejectAfterFailure declines the call when our own media setup broke during
// accept, so the initiator stops ringing now instead of at their timeout.
func (s *Session) rejectAfterFailure() {
	_ = s.emit.Emit(core.RejectEvent{RoomName: s.room, UserID: s.selfID})
	s.fail(domain.ReasonMediaFailed)
}

// reject declines a ringing inbound call.
func (s *Session) reject() error {
	if s.state != StateOffered {
		return core.ErrNoPendingCall
	}
	_ = s.emit.Emit(core.RejectEvent{RoomName: s.room, UserID: s.selfID})
	s.state = StateRejected
	s.releaseEngine()
	s.logger().Info().Msg("call rejected locally")
	return nil
}

// handleAnswer processes the remote answer for an initiator leg.
func (s *Session) handleAnswer(ev core.AnswerEvent) {
	if s.state != StateAwaitingAnswer {
		s.logger().Warn().Str("state", string(s.state)).Msg("answer ignored")
		return
	}
	if s.remoteDesc != nil {
		s.logger().Warn().Msg("duplicate answer ignored")
		return
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: ev.SDPAnswer}
	if err := s.setRemote(answer); err != nil {
		s.logger().Error().Err(err).Msg("set remote answer")
		s.fail(domain.ReasonMediaFailed)
		return
	}
	s.flushPending()
	s.state = StateConnecting
	s.logger().Info().Msg("answer applied, connecting")
}

// handleCandidate applies or buffers one remote ICE candidate. A candidate
// that fails to apply is logged and skipped: the leg may still connect
// through other candidates.
func (s *Session) handleCandidate(ev core.CandidateEvent) {
	if s.state.Terminal() {
		return
	}
	ci := ev.Init()
	if s.remoteDesc == nil {
		s.pendingRemote = append(s.pendingRemote, ci)
		s.logger().Debug().Int("buffered", len(s.pendingRemote)).Msg("candidate buffered before remote description")
		return
	}
	if err := s.engine.AddRemoteCandidate(ci); err != nil {
		s.logger().Warn().Err(err).Msg("stale candidate dropped")
	}
}

// handleConnState reacts to media engine connection-state transitions.
func (s *Session) handleConnState(cs core.ConnState) {
	if s.state.Terminal() {
		return
	}
	switch cs {
	case core.ConnConnected:
		if s.state == StateConnecting {
			s.state = StateConnected
			s.logger().Info().Msg("media connected")
		}
	case core.ConnFailed:
		s.logger().Warn().Msg("media failed")
		s.endLocal(domain.ReasonMediaFailed, true)
	case core.ConnDisconnected:
		// Often transient; ICE may restore the path. Only the connectivity
		// label changes, FAILED or CLOSED terminates.
		s.logger().Warn().Msg("media disconnected")
	case core.ConnClosed:
		s.logger().Info().Msg("media closed")
		s.endLocal(domain.ReasonRemoteEnded, false)
	}
}

// handleRejected processes a remote decline.
func (s *Session) handleRejected(ev core.RejectedEvent) {
	if s.state.Terminal() {
		return
	}
	s.logger().Info().Int64("rejected_by", int64(ev.RejectedBy)).Msg("call rejected remotely")
	s.state = StateRejected
	s.releaseEngine()
}

// handleEnded processes a remote hangup. No call:end is echoed back.
func (s *Session) handleEnded(ev core.EndedEvent) {
	s.endLocal(ev.Reason, false)
}

// end terminates the leg on local intent. Safe to call in any state,
// including terminal ones.
func (s *Session) end(reason domain.EndReason) {
	s.endLocal(reason, true)
}

// endLocal is the single termination path. Idempotent: one call:end emission
// at most, one engine release at most, later events for the room are dropped
// by the coordinator once the session is unregistered.
func (s *Session) endLocal(reason domain.EndReason, emitEnd bool) {
	if s.state.Terminal() {
		return
	}
	if emitEnd && s.announceRoom && !s.endEmitted {
		s.endEmitted = true
		_ = s.emit.Emit(core.EndEvent{RoomName: s.room, UserID: s.selfID, Reason: reason})
	}
	if s.announceRoom {
		_ = s.emit.Emit(core.LeaveRoomEvent{RoomName: s.room, UserID: s.selfID})
	}
	if reason == domain.ReasonMediaFailed {
		s.state = StateFailed
	} else {
		s.state = StateEnded
	}
	s.releaseEngine()
	s.logger().Info().Str("reason", string(reason)).Msg("call ended")
}

// fail marks the leg failed after a local media engine error.
func (s *Session) fail(reason domain.EndReason) {
	if s.state.Terminal() {
		return
	}
	s.state = StateFailed
	s.releaseEngine()
	s.logger().Warn().Str("reason", string(reason)).Msg("call failed")
}

func (s *Session) setRemote(desc webrtc.SessionDescription) error {
	if s.remoteDesc != nil {
		return core.ErrSessionClosed
	}
	if err := s.engine.SetRemoteDescription(desc); err != nil {
		return err
	}
	s.remoteDesc = &desc
	return nil
}

func (s *Session) flushPending() {
	for _, ci := range s.pendingRemote {
		if err := s.engine.AddRemoteCandidate(ci); err != nil {
			s.logger().Warn().Err(err).Msg("buffered candidate dropped")
		}
	}
	if n := len(s.pendingRemote); n > 0 {
		s.logger().Info().Int("count", n).Msg("flushed buffered candidates")
	}
	s.pendingRemote = nil
}

func (s *Session) startRingTimer(d time.Duration, expire func()) {
	s.stopRingTimer()
	s.ringTimer = time.AfterFunc(d, expire)
}

func (s *Session) stopRingTimer() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

func (s *Session) releaseEngine() {
	s.stopRingTimer()
	if s.engineReleased {
		return
	}
	s.engineReleased = true
	s.engine.Close()
}

func (s *Session) logger() *zerolog.Logger {
	l := log.With().
		Str("module", "call.session").
		Str("sid", string(s.id)).
		Str("room", string(s.room)).
		Str("role", string(s.role)).
		Logger()
	return &l
}
