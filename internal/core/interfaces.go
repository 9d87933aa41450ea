package core

import (
	"context"

	"github.com/accord-chat/accord/internal/domain"
)

// Frame is a marshaled event payload ready for the wire.
type Frame []byte

// Conn abstracts one live bidirectional event connection to a client.
// Owned by the transport adapter; the core only stores and writes to it.
// TrySend must never block: a full buffer is an error, not a stall.
type Conn interface {
	TrySend(Frame) error
	Close()
}

// GroupSender is the transport-level broadcast group, used only as the
// degraded-mode fallback when the membership registry has no tracked
// connections for a channel.
type GroupSender interface {
	SendGroup(channel domain.ChannelID, f Frame)
}

// CredentialStore looks up the current valid session token for a user.
// A logged-out user has an empty token.
type CredentialStore interface {
	GetCredentials(ctx context.Context, user domain.UserID) (token string, err error)
}

// UserResolver resolves authorization state for users and channels.
type UserResolver interface {
	GetUserInfo(ctx context.Context, user domain.UserID) (domain.UserInfo, error)
	ResolveInstanceForChannel(ctx context.Context, channel domain.ChannelID) (domain.InstanceID, error)
}

// ChannelStore resolves channel metadata.
type ChannelStore interface {
	GetChannel(ctx context.Context, channel domain.ChannelID) (domain.Channel, error)
}

// MessageStore persists and retrieves chat messages. Persist re-validates
// the credential internally; together with the relay's own gate check this
// is a deliberate redundancy, not a bug.
type MessageStore interface {
	Persist(ctx context.Context, channel domain.ChannelID, author domain.UserID, content, token string, replyTo *domain.MessageID) (*domain.Message, error)
	Get(ctx context.Context, channel domain.ChannelID, id domain.MessageID) (*domain.Message, error)
	Delete(ctx context.Context, channel domain.ChannelID, id domain.MessageID) error
}

// ICEServer mirrors the RTCIceServer shape delivered to joining clients.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEProvider returns the ICE server list handed out at voice join time.
type ICEProvider interface {
	ICEServers(ctx context.Context) []ICEServer
}

// JoinRequest is the transient, validated-once join input.
type JoinRequest struct {
	User    domain.UserID
	Token   string
	Channel domain.ChannelID
}
