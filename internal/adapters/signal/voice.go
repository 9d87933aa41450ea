package signal

import (
	"context"
	"encoding/json"

	"github.com/accord-chat/accord/internal/app"
	"github.com/accord-chat/accord/internal/core"
	"github.com/accord-chat/accord/internal/domain"
)

type joinVoicePayload struct {
	Type    string `json:"type"`
	Channel string `json:"channel" validate:"required"`
	User    string `json:"user" validate:"required"`
	Token   string `json:"token" validate:"required"`
}

type leaveVoicePayload struct {
	Type    string `json:"type"`
	Channel string `json:"channel" validate:"required"`
	User    string `json:"user" validate:"required"`
}

type signalForwardPayload struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel" validate:"required"`
	User    string          `json:"user" validate:"required"`
	Target  string          `json:"target" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

func (ctl *Controller) handleJoinVoice(ctx context.Context, sess *session, data []byte) {
	var p joinVoicePayload
	if rej := ctl.bind(data, &p); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorVoice, rej)
		return
	}
	if rej := ctl.guardIdentity(sess, p.User); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorVoice, rej)
		return
	}
	if !ctl.limiter.Allow(domain.UserID(p.User)) {
		ctl.sendError(sess.conn, app.EvErrorVoice, core.Rejectf(core.RejectBadPayload, "join rate exceeded"))
		return
	}

	req := core.JoinRequest{
		User:    domain.UserID(p.User),
		Token:   p.Token,
		Channel: domain.ChannelID(p.Channel),
	}
	if rej := ctl.Voice.Join(ctx, req, sess.conn); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorVoice, rej)
		return
	}
	sess.track(req.Channel, true)
}

func (ctl *Controller) handleLeaveVoice(sess *session, data []byte) {
	var p leaveVoicePayload
	if rej := ctl.bind(data, &p); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorVoice, rej)
		return
	}
	if rej := ctl.guardIdentity(sess, p.User); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorVoice, rej)
		return
	}
	channel := domain.ChannelID(p.Channel)
	ctl.Voice.Leave(channel, domain.UserID(p.User))
	sess.untrackVoice(channel)
}

// handleSignalForward relays webrtc-offer, webrtc-answer and
// webrtc-ice-candidate frames. A missing target is expected churn and
// stays silent; only structural problems are reported back.
func (ctl *Controller) handleSignalForward(sess *session, kind string, data []byte) {
	var p signalForwardPayload
	if rej := ctl.bind(data, &p); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorVoice, rej)
		return
	}
	if rej := ctl.guardIdentity(sess, p.User); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorVoice, rej)
		return
	}
	ctl.Voice.Forward(kind, domain.ChannelID(p.Channel), domain.UserID(p.User), domain.UserID(p.Target), p.Payload)
}
