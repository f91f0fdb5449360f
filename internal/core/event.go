package core

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/dncdante911/worldmates-calls/internal/domain"
)

// Signaling event names. The set is closed: anything else on the wire is
// dropped by ParseEvent.
const (
	EvRegister      = "call:register"
	EvInitiate      = "call:initiate"
	EvGroupInitiate = "group_call:initiate"
	EvAccept        = "call:accept"
	EvReject        = "call:reject"
	EvEnd           = "call:end"
	EvJoinRoom      = "call:join_room"
	EvLeaveRoom     = "call:leave_room"
	EvCandidate     = "ice:candidate"
	EvToggleAudio   = "call:toggle_audio"
	EvToggleVideo   = "call:toggle_video"

	EvIncoming      = "call:incoming"
	EvGroupIncoming = "group_call:incoming"
	EvAnswer        = "call:answer"
	EvRejected      = "call:rejected"
	EvEnded         = "call:ended"
	EvAudioChanged  = "participant:audio_changed"
	EvVideoChanged  = "participant:video_changed"
)

// Event is one variant of the closed signaling protocol.
type Event interface {
	Name() string
	Room() domain.RoomID
}

// Envelope is the wire frame around every event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RegisterEvent announces this endpoint for inbound call routing.
type RegisterEvent struct {
	UserID domain.UserID `json:"userId"`
}

func (RegisterEvent) Name() string { return EvRegister }
func (RegisterEvent) Room() domain.RoomID { return "" }

// InitiateEvent carries the offer of a 1:1 call.
type InitiateEvent struct {
	RoomName   domain.RoomID    `json:"roomName"`
	FromID     domain.UserID    `json:"fromId"`
	ToID       domain.UserID    `json:"toId"`
	FromName   string           `json:"fromName,omitempty"`
	FromAvatar string           `json:"fromAvatar,omitempty"`
	CallType   domain.MediaKind `json:"callType"`
	SDPOffer   string           `json:"sdpOffer"`
}

func (InitiateEvent) Name() string { return EvInitiate }
func (e InitiateEvent) Room() domain.RoomID { return e.RoomName }

// GroupInitiateEvent carries the offer of a group call.
type GroupInitiateEvent struct {
	RoomName    domain.RoomID    `json:"roomName"`
	GroupID     domain.UserID    `json:"groupId"`
	InitiatedBy domain.UserID    `json:"initiatedBy"`
	CallType    domain.MediaKind `json:"callType"`
	SDPOffer    string           `json:"sdpOffer"`
}

func (GroupInitiateEvent) Name() string { return EvGroupInitiate }
func (e GroupInitiateEvent) Room() domain.RoomID { return e.RoomName }

// AcceptEvent carries the responder's answer back to the initiator.
type AcceptEvent struct {
	RoomName  domain.RoomID `json:"roomName"`
	UserID    domain.UserID `json:"userId"`
	SDPAnswer string        `json:"sdpAnswer"`
}

func (AcceptEvent) Name() string { return EvAccept }
func (e AcceptEvent) Room() domain.RoomID { return e.RoomName }

// RejectEvent declines a ringing call.
type RejectEvent struct {
	RoomName domain.RoomID `json:"roomName"`
	UserID   domain.UserID `json:"userId"`
}

func (RejectEvent) Name() string { return EvReject }
func (e RejectEvent) Room() domain.RoomID { return e.RoomName }

// EndEvent terminates a call for every member of the room.
type EndEvent struct {
	RoomName domain.RoomID    `json:"roomName"`
	UserID   domain.UserID    `json:"userId"`
	Reason   domain.EndReason `json:"reason"`
}

func (EndEvent) Name() string { return EvEnd }
func (e EndEvent) Room() domain.RoomID { return e.RoomName }

// JoinRoomEvent subscribes this endpoint to room-scoped relays.
type JoinRoomEvent struct {
	RoomName domain.RoomID `json:"roomName"`
	UserID   domain.UserID `json:"userId"`
}

func (JoinRoomEvent) Name() string { return EvJoinRoom }
func (e JoinRoomEvent) Room() domain.RoomID { return e.RoomName }

// LeaveRoomEvent unsubscribes this endpoint from room-scoped relays.
type LeaveRoomEvent struct {
	RoomName domain.RoomID `json:"roomName"`
	UserID   domain.UserID `json:"userId"`
}

func (LeaveRoomEvent) Name() string { return EvLeaveRoom }
func (e LeaveRoomEvent) Room() domain.RoomID { return e.RoomName }

// CandidateEvent carries one ICE candidate in either direction.
type CandidateEvent struct {
	RoomName      domain.RoomID `json:"roomName"`
	FromUserID    domain.UserID `json:"fromUserId,omitempty"`
	ToUserID      domain.UserID `json:"toUserId,omitempty"`
	Candidate     string        `json:"candidate"`
	SDPMLineIndex uint16        `json:"sdpMLineIndex"`
	SDPMid        string        `json:"sdpMid"`
}

func (CandidateEvent) Name() string { return EvCandidate }
func (e CandidateEvent) Room() domain.RoomID { return e.RoomName }

// Init converts the wire fields into the media engine's candidate type.
func (e CandidateEvent) Init() webrtc.ICECandidateInit {
	ci := webrtc.ICECandidateInit{Candidate: e.Candidate}
	idx := e.SDPMLineIndex
	ci.SDPMLineIndex = &idx
	if e.SDPMid != "" {
		mid := e.SDPMid
		ci.SDPMid = &mid
	}
	return ci
}

// NewCandidateEvent builds the outbound wire shape from an engine candidate.
func NewCandidateEvent(room domain.RoomID, from, to domain.UserID, ci webrtc.ICECandidateInit) CandidateEvent {
	ev := CandidateEvent{
		RoomName:   room,
		FromUserID: from,
		ToUserID:   to,
		Candidate:  ci.Candidate,
	}
	if ci.SDPMLineIndex != nil {
		ev.SDPMLineIndex = *ci.SDPMLineIndex
	}
	if ci.SDPMid != nil {
		ev.SDPMid = *ci.SDPMid
	}
	return ev
}

// ToggleAudioEvent tells the room this endpoint muted or unmuted.
type ToggleAudioEvent struct {
	RoomName domain.RoomID `json:"roomName"`
	UserID   domain.UserID `json:"userId"`
	Enabled  bool          `json:"enabled"`
}

func (ToggleAudioEvent) Name() string { return EvToggleAudio }
func (e ToggleAudioEvent) Room() domain.RoomID { return e.RoomName }

// ToggleVideoEvent tells the room this endpoint turned its camera on or off.
type ToggleVideoEvent struct {
	RoomName domain.RoomID `json:"roomName"`
	UserID   domain.UserID `json:"userId"`
	Enabled  bool          `json:"enabled"`
}

func (ToggleVideoEvent) Name() string { return EvToggleVideo }
func (e ToggleVideoEvent) Room() domain.RoomID { return e.RoomName }

// IncomingEvent is an inbound offer: a remote peer is calling us.
type IncomingEvent struct {
	CallID     int64            `json:"callId,omitempty"`
	RoomName   domain.RoomID    `json:"roomName"`
	FromID     domain.UserID    `json:"fromId"`
	FromName   string           `json:"fromName,omitempty"`
	FromAvatar string           `json:"fromAvatar,omitempty"`
	CallType   domain.MediaKind `json:"callType"`
	SDPOffer   string           `json:"sdpOffer"`
}

func (IncomingEvent) Name() string { return EvIncoming }
func (e IncomingEvent) Room() domain.RoomID { return e.RoomName }

// GroupIncomingEvent is an inbound offer addressed to a whole group.
type GroupIncomingEvent struct {
	RoomName      domain.RoomID    `json:"roomName"`
	GroupID       domain.UserID    `json:"groupId"`
	InitiatedBy   domain.UserID    `json:"initiatedBy"`
	InitiatorName string           `json:"initiatorName,omitempty"`
	CallType      domain.MediaKind `json:"callType"`
	SDPOffer      string           `json:"sdpOffer"`
}

func (GroupIncomingEvent) Name() string { return EvGroupIncoming }
func (e GroupIncomingEvent) Room() domain.RoomID { return e.RoomName }

// AnswerEvent is the remote answer to our offer.
type AnswerEvent struct {
	RoomName   domain.RoomID `json:"roomName"`
	FromUserID domain.UserID `json:"fromUserId,omitempty"`
	SDPAnswer  string        `json:"sdpAnswer"`
}

func (AnswerEvent) Name() string { return EvAnswer }
func (e AnswerEvent) Room() domain.RoomID { return e.RoomName }

// RejectedEvent: the remote peer declined before connecting.
type RejectedEvent struct {
	RoomName   domain.RoomID `json:"roomName"`
	RejectedBy domain.UserID `json:"rejectedBy,omitempty"`
}

func (RejectedEvent) Name() string { return EvRejected }
func (e RejectedEvent) Room() domain.RoomID { return e.RoomName }

// EndedEvent: the call was terminated remotely.
type EndedEvent struct {
	RoomName domain.RoomID    `json:"roomName"`
	Reason   domain.EndReason `json:"reason,omitempty"`
}

func (EndedEvent) Name() string { return EvEnded }
func (e EndedEvent) Room() domain.RoomID { return e.RoomName }

// ParticipantMediaEvent: a room member toggled audio or video.
type ParticipantMediaEvent struct {
	Kind     domain.MediaKind `json:"-"`
	RoomName domain.RoomID    `json:"roomName"`
	UserID   domain.UserID    `json:"userId"`
	Enabled  bool             `json:"enabled"`
}

func (e ParticipantMediaEvent) Name() string {
	if e.Kind == domain.MediaVideo {
		return EvVideoChanged
	}
	return EvAudioChanged
}
func (e ParticipantMediaEvent) Room() domain.RoomID { return e.RoomName }

// Encode wraps an event into its wire envelope.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ev.Name(), err)
	}
	return json.Marshal(Envelope{Event: ev.Name(), Data: data})
}

// ParseEvent decodes an inbound envelope into a typed variant. Unknown names
// and payloads missing required fields are rejected; the caller drops them.
func ParseEvent(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("bad envelope: %w", err)
	}
	return parseData(env.Event, env.Data)
}

func parseData(name string, data json.RawMessage) (Event, error) {
	switch name {
	case EvIncoming:
		var ev IncomingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.RoomName == "" || ev.SDPOffer == "" || ev.FromID <= 0 {
			return nil, fmt.Errorf("%s: missing roomName, sdpOffer or fromId", name)
		}
		if _, ok := domain.ParseMediaKind(string(ev.CallType)); !ok {
			ev.CallType = domain.MediaAudio
		}
		return ev, nil
	case EvGroupIncoming:
		var ev GroupIncomingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.RoomName == "" || ev.SDPOffer == "" || ev.InitiatedBy <= 0 {
			return nil, fmt.Errorf("%s: missing roomName, sdpOffer or initiatedBy", name)
		}
		if _, ok := domain.ParseMediaKind(string(ev.CallType)); !ok {
			ev.CallType = domain.MediaAudio
		}
		return ev, nil
	case EvAnswer:
		var ev AnswerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.RoomName == "" || ev.SDPAnswer == "" {
			return nil, fmt.Errorf("%s: missing roomName or sdpAnswer", name)
		}
		return ev, nil
	case EvRejected:
		var ev RejectedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.RoomName == "" {
			return nil, fmt.Errorf("%s: missing roomName", name)
		}
		return ev, nil
	case EvEnded:
		var ev EndedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.RoomName == "" {
			return nil, fmt.Errorf("%s: missing roomName", name)
		}
		if ev.Reason == "" {
			ev.Reason = domain.ReasonRemoteEnded
		}
		return ev, nil
	case EvCandidate:
		var ev CandidateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.RoomName == "" || ev.Candidate == "" {
			return nil, fmt.Errorf("%s: missing roomName or candidate", name)
		}
		return ev, nil
	case EvAudioChanged, EvVideoChanged:
		var ev ParticipantMediaEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.RoomName == "" {
			return nil, fmt.Errorf("%s: missing roomName", name)
		}
		ev.Kind = domain.MediaAudio
		if name == EvVideoChanged {
			ev.Kind = domain.MediaVideo
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown signal: %s", name)
	}
}
