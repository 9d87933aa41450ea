package signal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/accord-chat/accord/internal/adapters/store"
	"github.com/accord-chat/accord/internal/app"
	"github.com/accord-chat/accord/internal/config"
	"github.com/accord-chat/accord/internal/core"
	"github.com/accord-chat/accord/internal/domain"
)

// newTestController wires the controller against in-memory stores with
// one instance, text channel c1 and voice channel v1.
func newTestController(t *testing.T) *Controller {
	t.Helper()

	creds := store.NewMemCredentials()
	creds.SetToken("alice", "tok-alice")
	creds.SetToken("bob", "tok-bob")

	dir := store.NewMemDirectory()
	dir.PutChannel(domain.Channel{ID: "c1", Type: domain.ChannelText}, "inst-1")
	dir.PutChannel(domain.Channel{ID: "v1", Type: domain.ChannelVoice}, "inst-1")
	dir.PutUser(domain.UserInfo{ID: "alice", Roles: []domain.Role{{Instance: "inst-1", Kind: domain.RoleMember}}})
	dir.PutUser(domain.UserInfo{ID: "bob", Roles: []domain.Role{{Instance: "inst-1", Kind: domain.RoleMember}}})

	registry := app.NewRegistry()
	pipeline := &app.Pipeline{
		Gate:     app.Gate{Store: creds},
		Users:    dir,
		Channels: dir,
		Registry: registry,
	}
	chat := &app.ChatRelay{Pipeline: pipeline, Registry: registry, Messages: store.NewMemMessages(creds)}
	voice := &app.VoiceRelay{Pipeline: pipeline, Registry: registry, ICE: store.NewStaticICE(nil)}

	cfg := &config.Config{
		JoinRateLimit:  100,
		JoinRateWindow: time.Minute,
	}
	ctl := NewController(cfg, chat, voice)
	chat.Groups = ctl
	return ctl
}

func newTestSession(user domain.UserID) *session {
	return &session{
		user:  user,
		conn:  &wsConn{send: make(chan core.Frame, 64)},
		text:  make(map[domain.ChannelID]struct{}),
		voice: make(map[domain.ChannelID]struct{}),
	}
}

// drain collects every frame buffered on the session's send channel.
func drain(t *testing.T, sess *session) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case f := <-sess.conn.send:
			var m map[string]any
			if err := json.Unmarshal(f, &m); err != nil {
				t.Fatalf("bad frame %q: %v", f, err)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestDispatchJoinChannel(t *testing.T) {
	ctl := newTestController(t)
	sess := newTestSession("alice")

	ctl.dispatch(context.Background(), sess, []byte(`{"type":"join-channel","channel":"c1","user":"alice","token":"tok-alice"}`))

	frames := drain(t, sess)
	if len(frames) != 1 || frames[0]["type"] != app.EvJoinedChannel {
		t.Fatalf("want one joined-channel frame, got %v", frames)
	}
	if _, ok := sess.text["c1"]; !ok {
		t.Fatal("session must track the joined channel")
	}
}

func TestDispatchBadPayloadRejectedBeforeBusinessLogic(t *testing.T) {
	ctl := newTestController(t)
	sess := newTestSession("alice")

	// Missing token.
	ctl.dispatch(context.Background(), sess, []byte(`{"type":"join-channel","channel":"c1","user":"alice"}`))

	frames := drain(t, sess)
	if len(frames) != 1 {
		t.Fatalf("want one error frame, got %v", frames)
	}
	if frames[0]["type"] != app.EvErrorChannel || frames[0]["code"] != string(core.RejectBadPayload) {
		t.Fatalf("want error-channel/bad-payload, got %v", frames[0])
	}
	if got := len(ctl.Chat.Registry.Members("c1")); got != 0 {
		t.Fatal("bad payload must not touch the registry")
	}
}

func TestDispatchIdentityMismatchRejected(t *testing.T) {
	ctl := newTestController(t)
	sess := newTestSession("bob")

	ctl.dispatch(context.Background(), sess, []byte(`{"type":"join-channel","channel":"c1","user":"alice","token":"tok-alice"}`))

	frames := drain(t, sess)
	if len(frames) != 1 || frames[0]["code"] != string(core.RejectBadCredentials) {
		t.Fatalf("claimed user must match socket identity, got %v", frames)
	}
}

func TestDispatchVoiceJoinAndSignalForward(t *testing.T) {
	ctl := newTestController(t)
	ctx := context.Background()
	alice := newTestSession("alice")
	bob := newTestSession("bob")

	ctl.dispatch(ctx, alice, []byte(`{"type":"join-voicechannel","channel":"v1","user":"alice","token":"tok-alice"}`))
	ctl.dispatch(ctx, bob, []byte(`{"type":"join-voicechannel","channel":"v1","user":"bob","token":"tok-bob"}`))

	bobFrames := drain(t, bob)
	if len(bobFrames) != 1 || bobFrames[0]["type"] != app.EvJoinedVoice {
		t.Fatalf("want joined-voicechannel ack, got %v", bobFrames)
	}
	users := bobFrames[0]["connectedUserIds"].([]any)
	if len(users) != 1 || users[0] != "alice" {
		t.Fatalf(`want connectedUserIds ["alice"], got %v`, users)
	}

	aliceFrames := drain(t, alice)
	last := aliceFrames[len(aliceFrames)-1]
	if last["type"] != app.EvUserJoinedVoice || last["user"] != "bob" {
		t.Fatalf("alice must learn bob joined, got %v", last)
	}

	// Bob's offer reaches alice only, verbatim.
	ctl.dispatch(ctx, bob, []byte(`{"type":"webrtc-offer","channel":"v1","user":"bob","target":"alice","payload":{"sdp":"v=0"}}`))
	aliceFrames = drain(t, alice)
	if len(aliceFrames) != 1 || aliceFrames[0]["type"] != app.EvOffer || aliceFrames[0]["from"] != "bob" {
		t.Fatalf("want forwarded offer from bob, got %v", aliceFrames)
	}
	if got := drain(t, bob); len(got) != 0 {
		t.Fatalf("sender must receive nothing back on a forward, got %v", got)
	}
}

func TestDispatchSignalForwardToGoneTargetIsSilent(t *testing.T) {
	ctl := newTestController(t)
	ctx := context.Background()
	bob := newTestSession("bob")

	ctl.dispatch(ctx, bob, []byte(`{"type":"join-voicechannel","channel":"v1","user":"bob","token":"tok-bob"}`))
	drain(t, bob)

	ctl.dispatch(ctx, bob, []byte(`{"type":"webrtc-ice-candidate","channel":"v1","user":"bob","target":"alice","payload":{"candidate":"x"}}`))
	if got := drain(t, bob); len(got) != 0 {
		t.Fatalf("forward to a gone target surfaces nothing, got %v", got)
	}
}

func TestCleanupEmitsOneUserLeftPerRemainingMember(t *testing.T) {
	ctl := newTestController(t)
	ctx := context.Background()
	alice := newTestSession("alice")
	bob := newTestSession("bob")

	ctl.dispatch(ctx, alice, []byte(`{"type":"join-voicechannel","channel":"v1","user":"alice","token":"tok-alice"}`))
	ctl.dispatch(ctx, bob, []byte(`{"type":"join-voicechannel","channel":"v1","user":"bob","token":"tok-bob"}`))
	drain(t, alice)
	drain(t, bob)

	// Alice's transport dies without an explicit leave.
	ctl.cleanup(alice)

	for _, u := range ctl.Voice.Registry.Members("v1") {
		if u == "alice" {
			t.Fatal("alice must be out of the roster after cleanup")
		}
	}
	bobFrames := drain(t, bob)
	if len(bobFrames) != 1 || bobFrames[0]["type"] != app.EvUserLeftVoice || bobFrames[0]["user"] != "alice" {
		t.Fatalf("bob must receive exactly one user-left for alice, got %v", bobFrames)
	}

	// Cleanup again (or a raced explicit leave): nothing further.
	ctl.cleanup(alice)
	if got := drain(t, bob); len(got) != 0 {
		t.Fatalf("cleanup must be idempotent, got %v", got)
	}
}

func TestDispatchLeaveVoice(t *testing.T) {
	ctl := newTestController(t)
	ctx := context.Background()
	alice := newTestSession("alice")
	bob := newTestSession("bob")

	ctl.dispatch(ctx, alice, []byte(`{"type":"join-voicechannel","channel":"v1","user":"alice","token":"tok-alice"}`))
	ctl.dispatch(ctx, bob, []byte(`{"type":"join-voicechannel","channel":"v1","user":"bob","token":"tok-bob"}`))
	drain(t, alice)
	drain(t, bob)

	ctl.dispatch(ctx, alice, []byte(`{"type":"leave-voicechannel","channel":"v1","user":"alice"}`))

	if _, ok := alice.voice["v1"]; ok {
		t.Fatal("session must untrack the left channel")
	}
	bobFrames := drain(t, bob)
	if len(bobFrames) != 1 || bobFrames[0]["type"] != app.EvUserLeftVoice {
		t.Fatalf("want one user-left frame, got %v", bobFrames)
	}
}
