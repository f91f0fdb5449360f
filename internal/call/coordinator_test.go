package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dncdante911/worldmates-calls/internal/core"
	"github.com/dncdante911/worldmates-calls/internal/domain"
)

const self = domain.UserID(7)

func testPeer() domain.Peer {
	return domain.Peer{ID: 42, Name: "Olena", Avatar: "https://worldmates.club/a/42.png"}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *engineRecorder, *fakeEmitter) {
	t.Helper()
	rec := &engineRecorder{}
	emitter := &fakeEmitter{}
	coord := NewCoordinator(Options{
		Self:    self,
		Engines: rec.factory,
		Emitter: emitter,
	})
	return coord, rec, emitter
}

func incomingOffer(room domain.RoomID) core.IncomingEvent {
	return core.IncomingEvent{
		RoomName: room,
		FromID:   99,
		FromName: "Dmytro",
		CallType: domain.MediaAudio,
		SDPOffer: "v=0 remote offer",
	}
}

func TestInitiateToConnected(t *testing.T) {
	coord, rec, emitter := newTestCoordinator(t)

	sid, err := coord.Initiate(context.Background(), testPeer(), domain.MediaVideo)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if sid == "" {
		t.Fatal("Initiate returned empty session id")
	}

	snap := coord.Snapshot()
	if snap.State != StateAwaitingAnswer {
		t.Fatalf("state after initiate = %s, want %s", snap.State, StateAwaitingAnswer)
	}
	if snap.Role != domain.RoleInitiator || snap.Kind != domain.MediaVideo {
		t.Errorf("snapshot role/kind = %s/%s", snap.Role, snap.Kind)
	}
	if got := emitter.byName(core.EvInitiate); len(got) != 1 {
		t.Fatalf("call:initiate emitted %d times, want 1", len(got))
	}
	if got := emitter.byName(core.EvJoinRoom); len(got) != 1 {
		t.Errorf("call:join_room emitted %d times, want 1", len(got))
	}

	coord.Dispatch(core.AnswerEvent{RoomName: snap.Room, FromUserID: 42, SDPAnswer: "v=0 answer"})
	if s := coord.Snapshot().State; s != StateConnecting {
		t.Fatalf("state after answer = %s, want %s", s, StateConnecting)
	}

	eng := rec.last()
	if len(eng.remote) != 1 {
		t.Fatalf("remote descriptions applied = %d, want 1", len(eng.remote))
	}

	eng.onState(core.ConnConnected)
	if s := coord.Snapshot().State; s != StateConnected {
		t.Fatalf("state after media connect = %s, want %s", s, StateConnected)
	}
}

func TestInitiateWhileActiveIsBusy(t *testing.T) {
	coord, rec, _ := newTestCoordinator(t)

	if _, err := coord.Initiate(context.Background(), testPeer(), domain.MediaAudio); err != nil {
		t.Fatalf("first Initiate: %v", err)
	}
	room := coord.Snapshot().Room

	_, err := coord.Initiate(context.Background(), domain.Peer{ID: 43, Name: "Ivan"}, domain.MediaAudio)
	if !errors.Is(err, core.ErrBusy) {
		t.Fatalf("second Initiate error = %v, want ErrBusy", err)
	}
	if got := coord.Snapshot().Room; got != room {
		t.Errorf("active room changed on busy initiate: %s -> %s", room, got)
	}
	if len(rec.engines) != 1 {
		t.Errorf("engines created = %d, want 1", len(rec.engines))
	}
}

func TestCandidatesBufferedUntilAnswer(t *testing.T) {
	coord, rec, _ := newTestCoordinator(t)

	if _, err := coord.Initiate(context.Background(), testPeer(), domain.MediaAudio); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	room := coord.Snapshot().Room
	eng := rec.last()

	for i := 0; i < 3; i++ {
		coord.Dispatch(core.CandidateEvent{
			RoomName:  room,
			Candidate: []string{"cand-a", "cand-b", "cand-c"}[i],
		})
	}
	if len(eng.cands) != 0 {
		t.Fatalf("candidates applied before remote description: %d", len(eng.cands))
	}

	coord.Dispatch(core.AnswerEvent{RoomName: room, SDPAnswer: "v=0 answer"})

	if len(eng.cands) != 3 {
		t.Fatalf("flushed candidates = %d, want 3", len(eng.cands))
	}
	for i, want := range []string{"cand-a", "cand-b", "cand-c"} {
		if eng.cands[i].Candidate != want {
			t.Errorf("flush order [%d] = %s, want %s", i, eng.cands[i].Candidate, want)
		}
	}

	// A candidate after the answer goes straight through.
	coord.Dispatch(core.CandidateEvent{RoomName: room, Candidate: "cand-d"})
	if len(eng.cands) != 4 {
		t.Errorf("late candidate not applied, total = %d", len(eng.cands))
	}
}

func TestDuplicateAnswerIgnored(t *testing.T) {
	coord, rec, _ := newTestCoordinator(t)

	if _, err := coord.Initiate(context.Background(), testPeer(), domain.MediaAudio); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	room := coord.Snapshot().Room

	coord.Dispatch(core.AnswerEvent{RoomName: room, SDPAnswer: "v=0 first"})
	coord.Dispatch(core.AnswerEvent{RoomName: room, SDPAnswer: "v=0 second"})

	eng := rec.last()
	if len(eng.remote) != 1 {
		t.Fatalf("remote descriptions applied = %d, want 1", len(eng.remote))
	}
	if eng.remote[0].SDP != "v=0 first" {
		t.Errorf("applied SDP = %q, want the first answer", eng.remote[0].SDP)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	coord, rec, emitter := newTestCoordinator(t)

	if _, err := coord.Initiate(context.Background(), testPeer(), domain.MediaAudio); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	coord.End()
	coord.End()

	if got := emitter.byName(core.EvEnd); len(got) != 1 {
		t.Fatalf("call:end emitted %d times, want 1", len(got))
	}
	if eng := rec.last(); eng.closed != 1 {
		t.Errorf("engine closed %d times, want 1", eng.closed)
	}
	if !coord.Snapshot().Idle {
		t.Error("coordinator not idle after End")
	}
}

func TestIncomingAcceptFlow(t *testing.T) {
	rec := &engineRecorder{}
	emitter := &fakeEmitter{}
	var ringing IncomingCall
	coord := NewCoordinator(Options{
		Self:       self,
		Engines:    rec.factory,
		Emitter:    emitter,
		OnIncoming: func(in IncomingCall) { ringing = in },
	})

	room := domain.RoomID("room_1_abc")
	coord.Dispatch(incomingOffer(room))

	if ringing.SessionID == "" {
		t.Fatal("OnIncoming not invoked")
	}
	if ringing.Peer.ID != 99 || ringing.Room != room {
		t.Fatalf("incoming call = %+v", ringing)
	}
	if s := coord.Snapshot().State; s != StateOffered {
		t.Fatalf("state while ringing = %s, want %s", s, StateOffered)
	}

	// Candidates before accept are buffered, then flushed on accept.
	coord.Dispatch(core.CandidateEvent{RoomName: room, Candidate: "early-1"})
	coord.Dispatch(core.CandidateEvent{RoomName: room, Candidate: "early-2"})

	if err := coord.Accept(context.Background(), ringing.SessionID); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if s := coord.Snapshot().State; s != StateConnecting {
		t.Fatalf("state after accept = %s, want %s", s, StateConnecting)
	}

	eng := rec.last()
	if len(eng.remote) != 1 || eng.remote[0].SDP != "v=0 remote offer" {
		t.Fatalf("remote offer not applied: %+v", eng.remote)
	}
	if len(eng.cands) != 2 || eng.cands[0].Candidate != "early-1" || eng.cands[1].Candidate != "early-2" {
		t.Fatalf("buffered candidates not flushed in order: %+v", eng.cands)
	}
	if got := emitter.byName(core.EvAccept); len(got) != 1 {
		t.Errorf("call:accept emitted %d times, want 1", len(got))
	}
}

func TestIncomingRejectFlow(t *testing.T) {
	rec := &engineRecorder{}
	emitter := &fakeEmitter{}
	var ringing IncomingCall
	coord := NewCoordinator(Options{
		Self:       self,
		Engines:    rec.factory,
		Emitter:    emitter,
		OnIncoming: func(in IncomingCall) { ringing = in },
	})

	coord.Dispatch(incomingOffer("room_2_def"))
	if err := coord.Reject(ringing.SessionID); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	if got := emitter.byName(core.EvReject); len(got) != 1 {
		t.Fatalf("call:reject emitted %d times, want 1", len(got))
	}
	if eng := rec.last(); eng.closed != 1 {
		t.Errorf("engine closed %d times, want 1", eng.closed)
	}
	if !coord.Snapshot().Idle {
		t.Error("coordinator not idle after Reject")
	}
	if err := coord.Reject(ringing.SessionID); !errors.Is(err, core.ErrNoPendingCall) {
		t.Errorf("second Reject error = %v, want ErrNoPendingCall", err)
	}
}

func TestIncomingWhileBusyAutoRejected(t *testing.T) {
	coord, rec, emitter := newTestCoordinator(t)

	if _, err := coord.Initiate(context.Background(), testPeer(), domain.MediaAudio); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	room := coord.Snapshot().Room

	coord.Dispatch(incomingOffer("room_3_ghi"))

	rejects := emitter.byName(core.EvReject)
	if len(rejects) != 1 {
		t.Fatalf("call:reject emitted %d times, want 1", len(rejects))
	}
	if got := rejects[0].Room(); got != "room_3_ghi" {
		t.Errorf("reject addressed to room %s, want room_3_ghi", got)
	}
	if got := coord.Snapshot().Room; got != room {
		t.Errorf("active call disturbed by busy offer: %s -> %s", room, got)
	}
	if len(rec.engines) != 1 {
		t.Errorf("engines created = %d, want 1", len(rec.engines))
	}
}

func TestDuplicateOfferDropped(t *testing.T) {
	rec := &engineRecorder{}
	emitter := &fakeEmitter{}
	calls := 0
	coord := NewCoordinator(Options{
		Self:       self,
		Engines:    rec.factory,
		Emitter:    emitter,
		OnIncoming: func(IncomingCall) { calls++ },
	})

	coord.Dispatch(incomingOffer("room_4_jkl"))
	coord.Dispatch(incomingOffer("room_4_jkl"))

	if calls != 1 {
		t.Errorf("OnIncoming invoked %d times, want 1", calls)
	}
	if len(rec.engines) != 1 {
		t.Errorf("engines created = %d, want 1", len(rec.engines))
	}
	if got := emitter.byName(core.EvReject); len(got) != 0 {
		t.Errorf("resent offer was rejected instead of dropped: %d rejects", len(got))
	}
}

func TestOwnOfferEchoIgnored(t *testing.T) {
	coord, rec, _ := newTestCoordinator(t)

	ev := incomingOffer("room_5_mno")
	ev.FromID = self
	coord.Dispatch(ev)

	if !coord.Snapshot().Idle {
		t.Error("own echo created a pending call")
	}
	if len(rec.engines) != 0 {
		t.Errorf("engines created = %d, want 0", len(rec.engines))
	}
}

func TestRemoteRejectEndsCall(t *testing.T) {
	coord, rec, emitter := newTestCoordinator(t)

	if _, err := coord.Initiate(context.Background(), testPeer(), domain.MediaAudio); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	room := coord.Snapshot().Room

	coord.Dispatch(core.RejectedEvent{RoomName: room, RejectedBy: 42})

	if !coord.Snapshot().Idle {
		t.Error("coordinator not idle after remote reject")
	}
	if eng := rec.last(); eng.closed != 1 {
		t.Errorf("engine closed %d times, want 1", eng.closed)
	}
	// A remote rejection is not echoed back as call:end.
	if got := emitter.byName(core.EvEnd); len(got) != 0 {
		t.Errorf("call:end emitted %d times on remote reject, want 0", len(got))
	}
}

func TestRemoteEndedNotEchoed(t *testing.T) {
	coord, rec, emitter := newTestCoordinator(t)

	if _, err := coord.Initiate(context.Background(), testPeer(), domain.MediaAudio); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	room := coord.Snapshot().Room
	coord.Dispatch(core.AnswerEvent{RoomName: room, SDPAnswer: "v=0 answer"})

	coord.Dispatch(core.EndedEvent{RoomName: room, Reason: domain.ReasonHangup})

	if !coord.Snapshot().Idle {
		t.Error("coordinator not idle after remote end")
	}
	if got := emitter.byName(core.EvEnd); len(got) != 0 {
		t.Errorf("call:end echoed back %d times, want 0", len(got))
	}
	if eng := rec.last(); eng.closed != 1 {
		t.Errorf("engine closed %d times, want 1", eng.closed)
	}
}

func TestEventForUnknownRoomDropped(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	coord.Dispatch(core.AnswerEvent{RoomName: "room_gone", SDPAnswer: "v=0"})
	coord.Dispatch(core.EndedEvent{RoomName: "room_gone"})

	if !coord.Snapshot().Idle {
		t.Error("stray events changed coordinator state")
	}
}

func TestMediaFailureEndsWithEmission(t *testing.T) {
	coord, rec, emitter := newTestCoordinator(t)

	if _, err := coord.Initiate(context.Background(), testPeer(), domain.MediaAudio); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	room := coord.Snapshot().Room
	coord.Dispatch(core.AnswerEvent{RoomName: room, SDPAnswer: "v=0 answer"})

	rec.last().onState(core.ConnFailed)

	if !coord.Snapshot().Idle {
		t.Error("coordinator not idle after media failure")
	}
	ends := emitter.byName(core.EvEnd)
	if len(ends) != 1 {
		t.Fatalf("call:end emitted %d times, want 1", len(ends))
	}
	if ev := ends[0].(core.EndEvent); ev.Reason != domain.ReasonMediaFailed {
		t.Errorf("end reason = %s, want %s", ev.Reason, domain.ReasonMediaFailed)
	}
}

func TestDisconnectedDoesNotEndCall(t *testing.T) {
	coord, rec, emitter := newTestCoordinator(t)

	if _, err := coord.Initiate(context.Background(), testPeer(), domain.MediaAudio); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	room := coord.Snapshot().Room
	coord.Dispatch(core.AnswerEvent{RoomName: room, SDPAnswer: "v=0 answer"})
	eng := rec.last()
	eng.onState(core.ConnConnected)

	// Transient ICE disconnect: the connectivity label changes, the call
	// survives.
	eng.onState(core.ConnDisconnected)

	snap := coord.Snapshot()
	if snap.State != StateConnected {
		t.Fatalf("state after disconnect = %s, want %s", snap.State, StateConnected)
	}
	if snap.Conn != core.ConnDisconnected {
		t.Errorf("conn label = %s, want %s", snap.Conn, core.ConnDisconnected)
	}
	if eng.closed != 0 {
		t.Errorf("engine closed %d times on transient disconnect, want 0", eng.closed)
	}
	if got := emitter.byName(core.EvEnd); len(got) != 0 {
		t.Errorf("call:end emitted %d times on transient disconnect, want 0", len(got))
	}

	// A closed transport still terminates.
	eng.onState(core.ConnClosed)
	if !coord.Snapshot().Idle {
		t.Error("coordinator not idle after transport close")
	}
}

func TestEngineIDMatchesSessionID(t *testing.T) {
	coord, rec, _ := newTestCoordinator(t)

	sid, err := coord.Initiate(context.Background(), testPeer(), domain.MediaAudio)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if rec.sids[0] != string(sid) {
		t.Errorf("engine id %q does not match session id %q", rec.sids[0], sid)
	}
}

func TestAcceptFailureRejectsRemote(t *testing.T) {
	rec := &engineRecorder{}
	emitter := &fakeEmitter{}
	var ringing IncomingCall
	coord := NewCoordinator(Options{
		Self:       self,
		Engines:    rec.factory,
		Emitter:    emitter,
		OnIncoming: func(in IncomingCall) { ringing = in },
	})

	coord.Dispatch(incomingOffer("room_6_pqr"))
	rec.last().setRemoteErr = errors.New("no codecs in common")

	err := coord.Accept(context.Background(), ringing.SessionID)
	var me *core.MediaEngineError
	if !errors.As(err, &me) {
		t.Fatalf("Accept error = %v, want MediaEngineError", err)
	}

	// The initiator must stop ringing now, not at their timeout.
	if got := emitter.byName(core.EvReject); len(got) != 1 {
		t.Fatalf("call:reject emitted %d times, want 1", len(got))
	}
	if eng := rec.last(); eng.closed != 1 {
		t.Errorf("engine closed %d times, want 1", eng.closed)
	}
	if !coord.Snapshot().Idle {
		t.Error("coordinator not idle after failed accept")
	}
}

func TestRingTimeoutEndsUnansweredCall(t *testing.T) {
	rec := &engineRecorder{}
	emitter := &fakeEmitter{}
	coord := NewCoordinator(Options{
		Self:        self,
		Engines:     rec.factory,
		Emitter:     emitter,
		RingTimeout: 20 * time.Millisecond,
	})

	if _, err := coord.Initiate(context.Background(), testPeer(), domain.MediaAudio); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if coord.Snapshot().Idle {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !coord.Snapshot().Idle {
		t.Fatal("call still ringing after timeout")
	}

	ends := emitter.byName(core.EvEnd)
	if len(ends) != 1 {
		t.Fatalf("call:end emitted %d times, want 1", len(ends))
	}
	if ev := ends[0].(core.EndEvent); ev.Reason != domain.ReasonTimeout {
		t.Errorf("end reason = %s, want %s", ev.Reason, domain.ReasonTimeout)
	}
}

func TestAnswerCancelsRingTimeout(t *testing.T) {
	rec := &engineRecorder{}
	emitter := &fakeEmitter{}
	coord := NewCoordinator(Options{
		Self:        self,
		Engines:     rec.factory,
		Emitter:     emitter,
		RingTimeout: 20 * time.Millisecond,
	})

	if _, err := coord.Initiate(context.Background(), testPeer(), domain.MediaAudio); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	room := coord.Snapshot().Room
	coord.Dispatch(core.AnswerEvent{RoomName: room, SDPAnswer: "v=0 answer"})

	time.Sleep(60 * time.Millisecond)

	if s := coord.Snapshot().State; s != StateConnecting {
		t.Fatalf("state after answered ring window = %s, want %s", s, StateConnecting)
	}
	if got := emitter.byName(core.EvEnd); len(got) != 0 {
		t.Errorf("answered call timed out anyway: %d call:end", len(got))
	}
}

func TestToggleWhileActiveEmits(t *testing.T) {
	coord, _, emitter := newTestCoordinator(t)

	if _, err := coord.Initiate(context.Background(), testPeer(), domain.MediaVideo); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	coord.ToggleAudio(false)
	coord.ToggleVideo(false)

	if got := emitter.byName(core.EvToggleAudio); len(got) != 1 {
		t.Errorf("call:toggle_audio emitted %d times, want 1", len(got))
	}
	if got := emitter.byName(core.EvToggleVideo); len(got) != 1 {
		t.Errorf("call:toggle_video emitted %d times, want 1", len(got))
	}

	coord.End()
	coord.ToggleAudio(true)
	if got := emitter.byName(core.EvToggleAudio); len(got) != 1 {
		t.Errorf("toggle while idle emitted: %d events", len(got))
	}
}
