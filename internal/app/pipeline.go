package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/accord-chat/accord/internal/core"
	"github.com/accord-chat/accord/internal/domain"
)

// Pipeline runs every join through the same sequence:
// credential check -> channel validation -> instance authorization ->
// registry admission. No registry mutation happens before the user is
// fully authorized, so a rejected join has no observable side effect.
type Pipeline struct {
	Gate     Gate
	Users    core.UserResolver
	Channels core.ChannelStore
	Registry *Registry
}

// Admission is the successful outcome of one join.
type Admission struct {
	Channel domain.Channel
	// Roster holds the members present before this join, in join order.
	Roster []domain.UserID
}

// Admit validates the request and, on success, registers the connection.
// want restricts the channel type; leave it empty to accept any.
func (p *Pipeline) Admit(ctx context.Context, req core.JoinRequest, conn core.Conn, want domain.ChannelType) (*Admission, *core.Reject) {
	if req.User == "" || req.Token == "" || req.Channel == "" {
		return nil, core.Rejectf(core.RejectBadPayload, "missing join fields")
	}
	if !p.Gate.Verify(ctx, req.User, req.Token) {
		return nil, core.Rejectf(core.RejectBadCredentials, "credential mismatch")
	}

	ch, err := p.Channels.GetChannel(ctx, req.Channel)
	if err != nil {
		return nil, core.Rejectf(core.RejectChannelNotFound, "channel %s", req.Channel)
	}
	if want != "" && ch.Type != want {
		return nil, core.Rejectf(core.RejectWrongChannelType, "channel %s is %s", req.Channel, ch.Type)
	}

	if rej := p.authorize(ctx, req.User, req.Channel, domain.RoleMember); rej != nil {
		return nil, rej
	}

	prior := p.Registry.Join(req.Channel, req.User, conn)
	log.Info().Str("module", "app.pipeline").Str("channel", string(req.Channel)).Str("user", string(req.User)).Int("roster", len(prior)).Msg("admitted")
	return &Admission{Channel: ch, Roster: prior}, nil
}

// AuthorizeModeration reports whether the user may perform
// moderation-gated actions in the channel's owning instance.
func (p *Pipeline) AuthorizeModeration(ctx context.Context, user domain.UserID, channel domain.ChannelID) *core.Reject {
	return p.authorize(ctx, user, channel, domain.RoleModerator)
}

func (p *Pipeline) authorize(ctx context.Context, user domain.UserID, channel domain.ChannelID, min domain.RoleKind) *core.Reject {
	instance, err := p.Users.ResolveInstanceForChannel(ctx, channel)
	if err != nil {
		return core.Rejectf(core.RejectChannelNotFound, "no instance for channel %s", channel)
	}
	info, err := p.Users.GetUserInfo(ctx, user)
	if err != nil {
		// Fail closed on resolver errors.
		return core.Rejectf(core.RejectNotAuthorized, "cannot resolve user %s", user)
	}
	kind, member := info.RoleIn(instance)
	if !member || !kind.AtLeast(min) {
		return core.Rejectf(core.RejectNotAuthorized, "user %s lacks %s in instance %s", user, min, instance)
	}
	return nil
}
