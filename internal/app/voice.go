package app

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/accord-chat/accord/internal/core"
	"github.com/accord-chat/accord/internal/domain"
)

// Forwarded WebRTC event names, identical in both directions.
const (
	EvOffer     = "webrtc-offer"
	EvAnswer    = "webrtc-answer"
	EvCandidate = "webrtc-ice-candidate"
)

// VoiceRelay admits users into voice channels and forwards WebRTC
// negotiation payloads between them, addressed by identity. It never
// inspects SDP or ICE contents and never touches media.
type VoiceRelay struct {
	Pipeline *Pipeline
	Registry *Registry
	ICE      core.ICEProvider
}

// Join runs the pipeline with the voice type check. The reply carries the
// roster as it stood before this join plus the ICE server list; by the
// newcomer-initiates rule the joining client then creates one offer per
// listed member, so the relay never initiates offers itself.
func (v *VoiceRelay) Join(ctx context.Context, req core.JoinRequest, conn core.Conn) *core.Reject {
	adm, rej := v.Pipeline.Admit(ctx, req, conn, domain.ChannelVoice)
	if rej != nil {
		return rej
	}
	var ice []core.ICEServer
	if v.ICE != nil {
		ice = v.ICE.ICEServers(ctx)
	}
	deliver(conn, encode(JoinedVoiceEvent{
		Type:       EvJoinedVoice,
		Channel:    req.Channel,
		Users:      adm.Roster,
		ICEServers: ice,
	}))
	v.broadcast(req.Channel, req.User, encode(VoiceMemberEvent{
		Type:    EvUserJoinedVoice,
		Channel: req.Channel,
		User:    req.User,
	}))
	return nil
}

// Forward relays one offer, answer or candidate payload verbatim to the
// target's connection. An absent target already left: silently drop, at
// most once, no retry.
func (v *VoiceRelay) Forward(kind string, channel domain.ChannelID, from, target domain.UserID, payload json.RawMessage) {
	conn, ok := v.Registry.HandleFor(channel, target)
	if !ok {
		log.Debug().Str("module", "app.voice").Str("kind", kind).Str("target", string(target)).Msg("target gone, dropping signal")
		return
	}
	deliver(conn, encode(SignalEvent{Type: kind, Channel: channel, From: from, Payload: payload}))
}

// Leave removes the user and tells the remaining members. Safe to call
// again after an explicit leave already ran, or vice versa.
func (v *VoiceRelay) Leave(channel domain.ChannelID, user domain.UserID) bool {
	if !v.Registry.Leave(channel, user) {
		return false
	}
	v.notifyLeft(channel, user)
	return true
}

// LeaveConn is the disconnect-cleanup variant: it only removes the user
// if the registered handle is still conn, so a stale connection's
// teardown cannot evict a replacement session.
func (v *VoiceRelay) LeaveConn(channel domain.ChannelID, user domain.UserID, conn core.Conn) bool {
	if !v.Registry.LeaveConn(channel, user, conn) {
		return false
	}
	v.notifyLeft(channel, user)
	return true
}

func (v *VoiceRelay) notifyLeft(channel domain.ChannelID, user domain.UserID) {
	log.Info().Str("module", "app.voice").Str("channel", string(channel)).Str("user", string(user)).Msg("left voice channel")
	v.broadcast(channel, user, encode(VoiceMemberEvent{
		Type:    EvUserLeftVoice,
		Channel: channel,
		User:    user,
	}))
}

func (v *VoiceRelay) broadcast(channel domain.ChannelID, skip domain.UserID, frame core.Frame) {
	for _, user := range v.Registry.Members(channel) {
		if user == skip {
			continue
		}
		if conn, ok := v.Registry.HandleFor(channel, user); ok {
			deliver(conn, frame)
		}
	}
}
