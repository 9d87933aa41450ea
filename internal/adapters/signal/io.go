package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/accord-chat/accord/internal/app"
	"github.com/accord-chat/accord/internal/core"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sess *session) {
	defer func() {
		log.Info().Str("module", "signal").Str("user", string(sess.user)).Msg("readPump closing")
		ctl.cleanup(sess)
		sess.conn.Close()
	}()

	c := sess.conn
	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	readWindow := ctl.Cfg.PingPeriod + ctl.Cfg.WriteTimeout
	_ = c.conn.SetReadDeadline(time.Now().Add(readWindow))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWindow))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("user", string(sess.user)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(ctx, sess, data)
		}
	}
}

// dispatch routes one inbound frame by its type tag. One handler per
// event kind, no shared control flow between kinds.
func (ctl *Controller) dispatch(ctx context.Context, sess *session, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json frame")
		return
	}

	switch env.Type {
	case "join-channel":
		ctl.handleJoinChannel(ctx, sess, data)
	case "send-message":
		ctl.handleSendMessage(ctx, sess, data)
	case "delete-message":
		ctl.handleDeleteMessage(ctx, sess, data)
	case "ping-users":
		ctl.handlePingUsers(ctx, sess, data)
	case "join-voicechannel":
		ctl.handleJoinVoice(ctx, sess, data)
	case "leave-voicechannel":
		ctl.handleLeaveVoice(sess, data)
	case app.EvOffer, app.EvAnswer, app.EvCandidate:
		ctl.handleSignalForward(sess, env.Type, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown event")
	}
}

// bind unmarshals and structurally validates a payload. Anything that
// fails here is rejected before it reaches business logic.
func (ctl *Controller) bind(data []byte, v any) *core.Reject {
	if err := json.Unmarshal(data, v); err != nil {
		return core.Rejectf(core.RejectBadPayload, "malformed payload")
	}
	if err := ctl.validate.Struct(v); err != nil {
		return core.Rejectf(core.RejectBadPayload, "missing required fields")
	}
	return nil
}

func (ctl *Controller) sendError(c *wsConn, event string, rej *core.Reject) {
	b, err := json.Marshal(app.ErrorEvent{Type: event, Code: rej.Code, Error: rej.Detail})
	if err != nil {
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("error frame dropped")
	}
}
