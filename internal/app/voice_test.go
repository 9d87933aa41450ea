package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/accord-chat/accord/internal/core"
)

type staticICE struct{ servers []core.ICEServer }

func (s staticICE) ICEServers(context.Context) []core.ICEServer { return s.servers }

func newTestVoice(t *testing.T) *VoiceRelay {
	t.Helper()
	p, _ := newTestPipeline(t)
	return &VoiceRelay{
		Pipeline: p,
		Registry: p.Registry,
		ICE:      staticICE{servers: []core.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}}},
	}
}

func TestVoiceJoinRosterOrdering(t *testing.T) {
	v := newTestVoice(t)
	ctx := context.Background()

	alice := &fakeConn{}
	if rej := v.Join(ctx, core.JoinRequest{User: "alice", Token: "tok-alice", Channel: "v1"}, alice); rej != nil {
		t.Fatalf("alice join: %v", rej)
	}
	m := decodeFrame(t, alice.sent()[0])
	if m["type"] != EvJoinedVoice {
		t.Fatalf("want %s, got %v", EvJoinedVoice, m["type"])
	}
	if users := m["connectedUserIds"].([]any); len(users) != 0 {
		t.Fatalf("first joiner: want empty connectedUserIds, got %v", users)
	}
	if ice := m["iceServers"].([]any); len(ice) != 1 {
		t.Fatalf("want delivered ICE server list, got %v", ice)
	}

	bob := &fakeConn{}
	if rej := v.Join(ctx, core.JoinRequest{User: "bob", Token: "tok-bob", Channel: "v1"}, bob); rej != nil {
		t.Fatalf("bob join: %v", rej)
	}
	m = decodeFrame(t, bob.sent()[0])
	users := m["connectedUserIds"].([]any)
	if len(users) != 1 || users[0] != "alice" {
		t.Fatalf(`second joiner: want ["alice"], got %v`, users)
	}
}

func TestVoiceJoinNotifiesOthersIdentityOnly(t *testing.T) {
	v := newTestVoice(t)
	ctx := context.Background()

	alice := &fakeConn{}
	v.Join(ctx, core.JoinRequest{User: "alice", Token: "tok-alice", Channel: "v1"}, alice)
	alice.frames = nil

	bob := &fakeConn{}
	v.Join(ctx, core.JoinRequest{User: "bob", Token: "tok-bob", Channel: "v1"}, bob)

	frames := alice.sent()
	if len(frames) != 1 {
		t.Fatalf("want one user-joined frame, got %d", len(frames))
	}
	m := decodeFrame(t, frames[0])
	if m["type"] != EvUserJoinedVoice || m["user"] != "bob" {
		t.Fatalf("unexpected notification: %v", m)
	}
	if _, ok := m["token"]; ok {
		t.Fatal("notification must never carry a credential")
	}
}

func TestVoiceForwardTargetsOneConnection(t *testing.T) {
	v := newTestVoice(t)

	alice := &fakeConn{}
	bob := &fakeConn{}
	carol := &fakeConn{}
	v.Registry.Join("v1", "alice", alice)
	v.Registry.Join("v1", "bob", bob)
	v.Registry.Join("v1", "carol", carol)

	payload := json.RawMessage(`{"sdp":"v=0...","type":"offer"}`)
	v.Forward(EvOffer, "v1", "bob", "alice", payload)

	if len(alice.sent()) != 1 {
		t.Fatalf("target must receive exactly one frame, got %d", len(alice.sent()))
	}
	if len(bob.sent()) != 0 || len(carol.sent()) != 0 {
		t.Fatal("signaling is never broadcast")
	}

	m := decodeFrame(t, alice.sent()[0])
	if m["type"] != EvOffer || m["from"] != "bob" {
		t.Fatalf("forward must be tagged with sender identity: %v", m)
	}
	raw, _ := json.Marshal(m["payload"])
	var got, want map[string]any
	_ = json.Unmarshal(raw, &got)
	_ = json.Unmarshal(payload, &want)
	if got["sdp"] != want["sdp"] {
		t.Fatal("payload must be forwarded verbatim")
	}
}

func TestVoiceForwardAbsentTargetSilentNoop(t *testing.T) {
	v := newTestVoice(t)

	bob := &fakeConn{}
	v.Registry.Join("v1", "bob", bob)

	// alice already left; nothing surfaces to anybody, nothing crashes.
	v.Forward(EvAnswer, "v1", "bob", "alice", json.RawMessage(`{}`))

	if len(bob.sent()) != 0 {
		t.Fatal("sender must not be told about a gone target")
	}
}

func TestVoiceLeaveNotifiesRemaining(t *testing.T) {
	v := newTestVoice(t)

	alice := &fakeConn{}
	bob := &fakeConn{}
	v.Registry.Join("v1", "alice", alice)
	v.Registry.Join("v1", "bob", bob)

	if !v.Leave("v1", "alice") {
		t.Fatal("leave should remove alice")
	}
	frames := bob.sent()
	if len(frames) != 1 {
		t.Fatalf("want exactly one user-left frame, got %d", len(frames))
	}
	m := decodeFrame(t, frames[0])
	if m["type"] != EvUserLeftVoice || m["user"] != "alice" {
		t.Fatalf("unexpected frame: %v", m)
	}

	// A second leave, as a disconnect cleanup race would produce, is
	// silent.
	if v.Leave("v1", "alice") {
		t.Fatal("second leave must be a no-op")
	}
	if len(bob.sent()) != 1 {
		t.Fatal("no duplicate user-left notification")
	}
}

func TestVoiceDisconnectCleanup(t *testing.T) {
	v := newTestVoice(t)

	aliceConn := &fakeConn{}
	bobConn := &fakeConn{}
	v.Registry.Join("v1", "alice", aliceConn)
	v.Registry.Join("v1", "bob", bobConn)

	// Transport died without an explicit leave.
	if !v.LeaveConn("v1", "alice", aliceConn) {
		t.Fatal("cleanup should remove alice")
	}
	for _, u := range v.Registry.Members("v1") {
		if u == "alice" {
			t.Fatal("alice must be gone after cleanup")
		}
	}
	if len(bobConn.sent()) != 1 {
		t.Fatalf("bob must receive exactly one user-left, got %d", len(bobConn.sent()))
	}

	// Explicit leave racing the cleanup changes nothing further.
	v.Leave("v1", "alice")
	if len(bobConn.sent()) != 1 {
		t.Fatal("raced leave must not duplicate the notification")
	}
}
