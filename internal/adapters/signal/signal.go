// Package signal is the WebSocket adapter: it owns connection lifecycle,
// payload validation and dispatch into the relays. Event frames are JSON
// with a "type" discriminator.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/accord-chat/accord/internal/app"
	"github.com/accord-chat/accord/internal/config"
	"github.com/accord-chat/accord/internal/core"
	"github.com/accord-chat/accord/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checking is handled by middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller serves every live socket and routes events to the relays.
type Controller struct {
	Cfg   *config.Config
	Chat  *app.ChatRelay
	Voice *app.VoiceRelay

	validate *validator.Validate
	limiter  *JoinRateLimiter

	mu     sync.RWMutex
	groups map[domain.ChannelID]map[*wsConn]struct{}
}

func NewController(cfg *config.Config, chat *app.ChatRelay, voice *app.VoiceRelay) *Controller {
	return &Controller{
		Cfg:      cfg,
		Chat:     chat,
		Voice:    voice,
		validate: validator.New(),
		limiter:  NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateWindow),
		groups:   make(map[domain.ChannelID]map[*wsConn]struct{}),
	}
}

// wsConn wraps one gorilla connection behind core.Conn. Writes go through
// a buffered channel drained by writePump; TrySend never blocks.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// session is the per-connection state: the identity bound at upgrade and
// the channels this connection joined, so disconnect cleanup knows what
// to unwind.
type session struct {
	user domain.UserID
	conn *wsConn

	mu    sync.Mutex
	text  map[domain.ChannelID]struct{}
	voice map[domain.ChannelID]struct{}
}

func (s *session) track(channel domain.ChannelID, voice bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if voice {
		s.voice[channel] = struct{}{}
	} else {
		s.text[channel] = struct{}{}
	}
}

func (s *session) untrackVoice(channel domain.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.voice, channel)
}

// HandleWS upgrades the request and starts the connection's pump pair.
// The JWT middleware already bound user_id to the request context.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	user := domain.UserID(c.GetString("user_id"))
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("user", string(user)).Msg("new WS connection")

	conn := &wsConn{conn: ws, send: make(chan core.Frame, 64)}
	sess := &session{
		user:  user,
		conn:  conn,
		text:  make(map[domain.ChannelID]struct{}),
		voice: make(map[domain.ChannelID]struct{}),
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		ctl.writePump(ctx, conn)
	}()
	go func() {
		defer cancel()
		ctl.readPump(ctx, sess)
	}()
}

// SendGroup implements core.GroupSender: best-effort delivery to every
// socket subscribed to the channel's broadcast group.
func (ctl *Controller) SendGroup(channel domain.ChannelID, f core.Frame) {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	for conn := range ctl.groups[channel] {
		if err := conn.TrySend(f); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("channel", string(channel)).Msg("group delivery dropped")
		}
	}
}

func (ctl *Controller) subscribe(channel domain.ChannelID, conn *wsConn) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	set, ok := ctl.groups[channel]
	if !ok {
		set = make(map[*wsConn]struct{})
		ctl.groups[channel] = set
	}
	set[conn] = struct{}{}
}

func (ctl *Controller) unsubscribeAll(conn *wsConn) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	for channel, set := range ctl.groups {
		delete(set, conn)
		if len(set) == 0 {
			delete(ctl.groups, channel)
		}
	}
}

// cleanup unwinds everything a connection joined. Idempotent with an
// explicit leave that raced it: LeaveConn only removes the mapping if it
// still points at this connection.
func (ctl *Controller) cleanup(sess *session) {
	sess.mu.Lock()
	voice := make([]domain.ChannelID, 0, len(sess.voice))
	for ch := range sess.voice {
		voice = append(voice, ch)
	}
	text := make([]domain.ChannelID, 0, len(sess.text))
	for ch := range sess.text {
		text = append(text, ch)
	}
	sess.voice = make(map[domain.ChannelID]struct{})
	sess.text = make(map[domain.ChannelID]struct{})
	sess.mu.Unlock()

	for _, ch := range voice {
		ctl.Voice.LeaveConn(ch, sess.user, sess.conn)
	}
	for _, ch := range text {
		ctl.Chat.Registry.LeaveConn(ch, sess.user, sess.conn)
	}
	ctl.unsubscribeAll(sess.conn)
}
