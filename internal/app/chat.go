package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/accord-chat/accord/internal/core"
	"github.com/accord-chat/accord/internal/domain"
)

// ChatRelay serves text channels: joins, message fan-out, deletions and
// pings. Persistence happens before any delivery; the message store
// re-validates the credential on its own, which together with the relay's
// gate check is deliberate defense in depth.
type ChatRelay struct {
	Pipeline *Pipeline
	Registry *Registry
	Messages core.MessageStore
	Groups   core.GroupSender
}

// Join admits the user to a text channel and replies with the roster.
func (r *ChatRelay) Join(ctx context.Context, req core.JoinRequest, conn core.Conn) *core.Reject {
	adm, rej := r.Pipeline.Admit(ctx, req, conn, domain.ChannelText)
	if rej != nil {
		return rej
	}
	deliver(conn, encode(JoinedChannelEvent{
		Type:    EvJoinedChannel,
		Channel: req.Channel,
		Users:   adm.Roster,
	}))
	return nil
}

// Send persists the message and fans the stored representation out to
// every tracked member connection, the sender included.
func (r *ChatRelay) Send(ctx context.Context, channel domain.ChannelID, author domain.UserID, token, content string, replyTo *domain.MessageID) *core.Reject {
	if !r.Pipeline.Gate.Verify(ctx, author, token) {
		return core.Rejectf(core.RejectBadCredentials, "credential mismatch")
	}
	msg, err := r.Messages.Persist(ctx, channel, author, content, token, replyTo)
	if err != nil {
		if errors.Is(err, core.ErrUnauthenticated) {
			return core.Rejectf(core.RejectBadCredentials, "store rejected credential")
		}
		log.Error().Err(err).Str("module", "app.chat").Str("channel", string(channel)).Msg("persist failed")
		return core.Rejectf(core.RejectStoreFailure, "message not stored")
	}
	r.fanOut(channel, encode(ReceiveMessageEvent{Type: EvReceiveMessage, Message: *msg}), "")
	return nil
}

// Delete removes a message if the requester is its author or holds a
// moderation role, then broadcasts the tombstone to the other members.
func (r *ChatRelay) Delete(ctx context.Context, channel domain.ChannelID, requester domain.UserID, token string, id domain.MessageID) *core.Reject {
	if !r.Pipeline.Gate.Verify(ctx, requester, token) {
		return core.Rejectf(core.RejectBadCredentials, "credential mismatch")
	}
	msg, err := r.Messages.Get(ctx, channel, id)
	if err != nil {
		return core.Rejectf(core.RejectNotFound, "message %s", id)
	}
	if msg.Author != requester {
		if rej := r.Pipeline.AuthorizeModeration(ctx, requester, channel); rej != nil {
			return rej
		}
	}
	if err := r.Messages.Delete(ctx, channel, id); err != nil {
		log.Error().Err(err).Str("module", "app.chat").Str("message", string(id)).Msg("delete failed")
		return core.Rejectf(core.RejectStoreFailure, "message not deleted")
	}
	// A tombstone carries only the id, never the content.
	r.fanOut(channel, encode(MessageDeletedEvent{Type: EvMessageDeleted, Channel: channel, Message: id}), requester)
	return nil
}

// Ping notifies the targeted members, or every other member when no
// targets are named.
func (r *ChatRelay) Ping(ctx context.Context, channel domain.ChannelID, from domain.UserID, token string, targets []domain.UserID) *core.Reject {
	if !r.Pipeline.Gate.Verify(ctx, from, token) {
		return core.Rejectf(core.RejectBadCredentials, "credential mismatch")
	}
	frame := encode(PingedEvent{Type: EvPinged, Channel: channel, From: from})
	if len(targets) == 0 {
		r.fanOut(channel, frame, from)
		return nil
	}
	for _, target := range targets {
		if conn, ok := r.Registry.HandleFor(channel, target); ok {
			deliver(conn, frame)
		}
	}
	return nil
}

// fanOut delivers a frame to every tracked member except skip. An empty
// tracked membership while sockets may still expect delivery is a
// degraded mode: fall back to the transport broadcast group, loudly.
func (r *ChatRelay) fanOut(channel domain.ChannelID, frame core.Frame, skip domain.UserID) {
	members := r.Registry.Members(channel)
	if len(members) == 0 {
		if r.Groups != nil {
			log.Warn().Str("module", "app.chat").Str("channel", string(channel)).Msg("no tracked members, falling back to broadcast group")
			r.Groups.SendGroup(channel, frame)
		}
		return
	}
	for _, user := range members {
		if user == skip {
			continue
		}
		if conn, ok := r.Registry.HandleFor(channel, user); ok {
			deliver(conn, frame)
		}
	}
}
