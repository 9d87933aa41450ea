package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/accord-chat/accord/internal/core"
	"github.com/accord-chat/accord/internal/domain"
)

// Server-to-client event names.
const (
	EvJoinedChannel   = "joined-channel"
	EvReceiveMessage  = "receive-message"
	EvMessageDeleted  = "message-deleted"
	EvPinged          = "pinged"
	EvJoinedVoice     = "joined-voicechannel"
	EvUserJoinedVoice = "user-joined-voicechannel"
	EvUserLeftVoice   = "user-left-voicechannel"
	EvErrorChannel    = "error-channel"
	EvErrorVoice      = "error-voicechannel"
)

type JoinedChannelEvent struct {
	Type    string           `json:"type"`
	Channel domain.ChannelID `json:"channel"`
	Users   []domain.UserID  `json:"users"`
}

type ReceiveMessageEvent struct {
	Type    string         `json:"type"`
	Message domain.Message `json:"message"`
}

type MessageDeletedEvent struct {
	Type    string           `json:"type"`
	Channel domain.ChannelID `json:"channel"`
	Message domain.MessageID `json:"message"`
}

type PingedEvent struct {
	Type    string           `json:"type"`
	Channel domain.ChannelID `json:"channel"`
	From    domain.UserID    `json:"from"`
}

type JoinedVoiceEvent struct {
	Type       string           `json:"type"`
	Channel    domain.ChannelID `json:"channel"`
	Users      []domain.UserID  `json:"connectedUserIds"`
	ICEServers []core.ICEServer `json:"iceServers"`
}

type VoiceMemberEvent struct {
	Type    string           `json:"type"`
	Channel domain.ChannelID `json:"channel"`
	User    domain.UserID    `json:"user"`
}

// SignalEvent carries a forwarded WebRTC payload, verbatim, tagged with
// the sender's identity.
type SignalEvent struct {
	Type    string           `json:"type"`
	Channel domain.ChannelID `json:"channel"`
	From    domain.UserID    `json:"from"`
	Payload json.RawMessage  `json:"payload"`
}

type ErrorEvent struct {
	Type  string          `json:"type"`
	Code  core.RejectCode `json:"code"`
	Error string          `json:"error"`
}

// encode marshals an event for the wire. Marshal failures are a
// programming error; the frame is dropped and logged.
func encode(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Msg("event marshal failed")
		return nil
	}
	return b
}

// deliver writes one frame to one connection, fire-and-forget. A slow or
// dead recipient never stalls or fails the caller.
func deliver(conn core.Conn, f core.Frame) {
	if conn == nil || f == nil {
		return
	}
	if err := conn.TrySend(f); err != nil {
		log.Warn().Err(err).Str("module", "app").Msg("delivery dropped")
	}
}
