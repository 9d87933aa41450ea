package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/accord-chat/accord/internal/app"
	"github.com/accord-chat/accord/internal/core"
	"github.com/accord-chat/accord/internal/domain"
)

type joinChannelPayload struct {
	Type    string `json:"type"`
	Channel string `json:"channel" validate:"required"`
	User    string `json:"user" validate:"required"`
	Token   string `json:"token" validate:"required"`
}

type sendMessagePayload struct {
	Type    string `json:"type"`
	Channel string `json:"channel" validate:"required"`
	User    string `json:"user" validate:"required"`
	Token   string `json:"token" validate:"required"`
	Content string `json:"content" validate:"required"`
	ReplyTo string `json:"replyTo,omitempty"`
}

type deleteMessagePayload struct {
	Type    string `json:"type"`
	Channel string `json:"channel" validate:"required"`
	User    string `json:"user" validate:"required"`
	Token   string `json:"token" validate:"required"`
	Message string `json:"message" validate:"required"`
}

type pingUsersPayload struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel" validate:"required"`
	User    string   `json:"user" validate:"required"`
	Token   string   `json:"token" validate:"required"`
	Targets []string `json:"targets,omitempty"`
}

// guardIdentity rejects events whose claimed user differs from the
// identity bound to the socket at upgrade. The per-event token still goes
// through the credential gate afterwards.
func (ctl *Controller) guardIdentity(sess *session, user string) *core.Reject {
	if sess.user != "" && domain.UserID(user) != sess.user {
		return core.Rejectf(core.RejectBadCredentials, "event user does not match socket identity")
	}
	return nil
}

func (ctl *Controller) handleJoinChannel(ctx context.Context, sess *session, data []byte) {
	var p joinChannelPayload
	if rej := ctl.bind(data, &p); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorChannel, rej)
		return
	}
	if rej := ctl.guardIdentity(sess, p.User); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorChannel, rej)
		return
	}
	if !ctl.limiter.Allow(domain.UserID(p.User)) {
		ctl.sendError(sess.conn, app.EvErrorChannel, core.Rejectf(core.RejectBadPayload, "join rate exceeded"))
		return
	}

	req := core.JoinRequest{
		User:    domain.UserID(p.User),
		Token:   p.Token,
		Channel: domain.ChannelID(p.Channel),
	}
	if rej := ctl.Chat.Join(ctx, req, sess.conn); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorChannel, rej)
		return
	}
	sess.track(req.Channel, false)
	ctl.subscribe(req.Channel, sess.conn)
}

func (ctl *Controller) handleSendMessage(ctx context.Context, sess *session, data []byte) {
	var p sendMessagePayload
	if rej := ctl.bind(data, &p); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorChannel, rej)
		return
	}
	if rej := ctl.guardIdentity(sess, p.User); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorChannel, rej)
		return
	}
	var replyTo *domain.MessageID
	if p.ReplyTo != "" {
		id := domain.MessageID(p.ReplyTo)
		replyTo = &id
	}
	rej := ctl.Chat.Send(ctx, domain.ChannelID(p.Channel), domain.UserID(p.User), p.Token, p.Content, replyTo)
	if rej != nil {
		ctl.sendError(sess.conn, app.EvErrorChannel, rej)
	}
}

func (ctl *Controller) handleDeleteMessage(ctx context.Context, sess *session, data []byte) {
	var p deleteMessagePayload
	if rej := ctl.bind(data, &p); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorChannel, rej)
		return
	}
	if rej := ctl.guardIdentity(sess, p.User); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorChannel, rej)
		return
	}
	rej := ctl.Chat.Delete(ctx, domain.ChannelID(p.Channel), domain.UserID(p.User), p.Token, domain.MessageID(p.Message))
	if rej != nil {
		ctl.sendError(sess.conn, app.EvErrorChannel, rej)
	}
}

func (ctl *Controller) handlePingUsers(ctx context.Context, sess *session, data []byte) {
	var p pingUsersPayload
	if rej := ctl.bind(data, &p); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorChannel, rej)
		return
	}
	if rej := ctl.guardIdentity(sess, p.User); rej != nil {
		ctl.sendError(sess.conn, app.EvErrorChannel, rej)
		return
	}
	targets := make([]domain.UserID, 0, len(p.Targets))
	for _, t := range p.Targets {
		targets = append(targets, domain.UserID(t))
	}
	rej := ctl.Chat.Ping(ctx, domain.ChannelID(p.Channel), domain.UserID(p.User), p.Token, targets)
	if rej != nil {
		ctl.sendError(sess.conn, app.EvErrorChannel, rej)
		return
	}
	log.Debug().Str("module", "signal").Str("channel", p.Channel).Str("from", p.User).Int("targets", len(targets)).Msg("ping relayed")
}
