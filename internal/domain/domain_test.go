package domain

import (
	"strings"
	"testing"
)

func TestNewPeerValidation(t *testing.T) {
	if _, err := NewPeer(0, "x", ""); err != ErrPeerIDInvalid {
		t.Errorf("zero id error = %v, want ErrPeerIDInvalid", err)
	}
	if _, err := NewPeer(-3, "x", ""); err != ErrPeerIDInvalid {
		t.Errorf("negative id error = %v, want ErrPeerIDInvalid", err)
	}
	if _, err := NewPeer(1, strings.Repeat("a", MaxPeerNameLen+1), ""); err != ErrPeerNameTooLong {
		t.Errorf("long name error = %v, want ErrPeerNameTooLong", err)
	}
	p, err := NewPeer(42, "Olena", "https://worldmates.club/a/42.png")
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	if p.ID != 42 || p.Name != "Olena" {
		t.Errorf("peer = %+v", p)
	}
}

func TestParseMediaKind(t *testing.T) {
	if k, ok := ParseMediaKind("audio"); !ok || k != MediaAudio {
		t.Errorf("audio -> %s/%v", k, ok)
	}
	if k, ok := ParseMediaKind("video"); !ok || k != MediaVideo {
		t.Errorf("video -> %s/%v", k, ok)
	}
	if _, ok := ParseMediaKind("screen"); ok {
		t.Error("unknown kind accepted")
	}
}

func TestNewRoomIDShape(t *testing.T) {
	id := string(NewRoomID())
	if !strings.HasPrefix(id, "room_") {
		t.Fatalf("room id %q has no room_ prefix", id)
	}
	if parts := strings.Split(id, "_"); len(parts) != 3 {
		t.Fatalf("room id %q not room_<ts>_<suffix>", id)
	}
}

func TestNewRoomIDUnique(t *testing.T) {
	seen := make(map[RoomID]bool)
	for i := 0; i < 100; i++ {
		id := NewRoomID()
		if seen[id] {
			t.Fatalf("duplicate room id %s", id)
		}
		seen[id] = true
	}
}
