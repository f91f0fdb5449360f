package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	// RoomID is the correlation key shared by both ends of one negotiation.
	RoomID string
	// SessionID identifies one local CallSession instance.
	SessionID string
)

// MediaKind selects the local capture intent for a call.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func ParseMediaKind(s string) (MediaKind, bool) {
	switch MediaKind(s) {
	case MediaAudio, MediaVideo:
		return MediaKind(s), true
	}
	return "", false
}

// Role is fixed at session creation and never changes.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// EndReason travels in call:end payloads and snapshots.
type EndReason string

const (
	ReasonHangup      EndReason = "user_ended"
	ReasonRejected    EndReason = "rejected"
	ReasonTimeout     EndReason = "timeout"
	ReasonMediaFailed EndReason = "media_failed"
	ReasonRemoteEnded EndReason = "remote_ended"
)

// NewRoomID mints an initiator-local room key. The millisecond prefix keeps
// the historical wire shape; the uuid suffix removes same-millisecond clashes.
func NewRoomID() RoomID {
	return RoomID(fmt.Sprintf("room_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8]))
}

// NewSessionID mints a process-unique call session id.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}
