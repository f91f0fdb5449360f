// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strconv"
)

const MaxPeerNameLen = 64

var (
	ErrPeerNameTooLong = errors.New("peer name too long")
	ErrPeerIDInvalid   = errors.New("peer id invalid")
)

// UserID is the numeric account id shared with the REST backend.
type UserID int64

func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }

// Peer is the counterpart of one call leg. The core only uses it as a label.
type Peer struct {
	ID     UserID `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// NewPeer is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewPeer(id UserID, name, avatar string) (Peer, error) {
	if id <= 0 {
		return Peer{}, ErrPeerIDInvalid
	}
	if len(name) > MaxPeerNameLen {
		return Peer{}, ErrPeerNameTooLong
	}
	return Peer{ID: id, Name: name, Avatar: avatar}, nil
}
