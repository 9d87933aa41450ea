package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/accord-chat/accord/internal/core"
	"github.com/accord-chat/accord/internal/domain"
)

var ErrNotJoined = errors.New("not joined to a voice channel")

// Orchestrator owns the local voice session: capture, one peer
// connection per remote participant, mute and deafen state. All entry
// points are safe for concurrent use; negotiation with different peers
// proceeds independently.
type Orchestrator struct {
	Signals  Signaler
	Media    MediaSource
	Playback Playback
	// NegotiationTimeout bounds how long an outbound offer may wait for
	// an answer before the attempt is torn down. Zero disables it.
	NegotiationTimeout time.Duration

	mu          sync.Mutex
	gen         uint64
	channel     domain.ChannelID
	localTrack  webrtc.TrackLocal
	stopCapture func()
	iceConfig   webrtc.Configuration
	peers       map[domain.UserID]*peer
	muted       bool
	deafened    bool
}

type peer struct {
	user     domain.UserID
	pc       *webrtc.PeerConnection
	sender   *webrtc.RTPSender
	answered chan struct{}
	once     sync.Once
}

func NewOrchestrator(signals Signaler, media MediaSource, playback Playback) *Orchestrator {
	return &Orchestrator{
		Signals:            signals,
		Media:              media,
		Playback:           playback,
		NegotiationTimeout: 30 * time.Second,
		peers:              make(map[domain.UserID]*peer),
	}
}

// Join enters a voice channel. Joining while connected to a different
// channel leaves that one first, completely, including the leave
// notification to the relay. A capture failure aborts before the relay
// is ever asked to admit the new channel.
func (o *Orchestrator) Join(channel domain.ChannelID) error {
	o.mu.Lock()
	prev := o.channel
	if prev != "" {
		o.leaveLocked()
	}
	track, stop, err := o.Media.OpenTrack()
	if err == nil {
		o.channel = channel
		o.localTrack = track
		o.stopCapture = stop
		o.gen++
	}
	o.mu.Unlock()

	if prev != "" {
		if lerr := o.Signals.LeaveVoice(prev); lerr != nil {
			log.Warn().Err(lerr).Str("module", "client").Msg("leave notify failed")
		}
	}
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	if err := o.Signals.JoinVoice(channel); err != nil {
		// The relay never admitted us, so there is nothing to leave
		// server-side; tear down locally only.
		o.mu.Lock()
		o.leaveLocked()
		o.mu.Unlock()
		return fmt.Errorf("join voice: %w", err)
	}
	return nil
}

// HandleJoined consumes the relay's join acknowledgment: the roster of
// members already present and the ICE configuration. The newcomer is the
// initiator: one outbound offer per listed member, each negotiated on
// its own goroutine.
func (o *Orchestrator) HandleJoined(roster []domain.UserID, ice []core.ICEServer) {
	o.mu.Lock()
	if o.channel == "" {
		// Leave raced the acknowledgment; stay torn down.
		o.mu.Unlock()
		return
	}
	o.iceConfig = iceConfiguration(ice)
	gen := o.gen
	o.mu.Unlock()

	for _, user := range roster {
		go func(user domain.UserID) {
			if err := o.offerTo(gen, user); err != nil {
				log.Warn().Err(err).Str("module", "client").Str("peer", string(user)).Msg("offer failed")
			}
		}(user)
	}
}

func (o *Orchestrator) offerTo(gen uint64, user domain.UserID) error {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return nil
	}
	p, err := o.newPeerLocked(user)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	channel := o.channel
	o.mu.Unlock()

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		o.dropPeer(user)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		o.dropPeer(user)
		return fmt.Errorf("set local offer: %w", err)
	}
	if err := o.Signals.SendOffer(channel, user, offer); err != nil {
		o.dropPeer(user)
		return fmt.Errorf("send offer: %w", err)
	}

	if o.NegotiationTimeout > 0 {
		go o.awaitAnswer(p)
	}
	return nil
}

// awaitAnswer drops a single pending attempt that never got an answer.
// Other peers are unaffected.
func (o *Orchestrator) awaitAnswer(p *peer) {
	select {
	case <-p.answered:
	case <-time.After(o.NegotiationTimeout):
		log.Warn().Str("module", "client").Str("peer", string(p.user)).Msg("no answer within timeout, dropping peer")
		o.dropPeer(p.user)
	}
}

// HandleOffer answers a remote offer. A repeated offer from the same
// sender overwrites descriptions on the existing connection rather than
// erroring.
func (o *Orchestrator) HandleOffer(from domain.UserID, sdp webrtc.SessionDescription) error {
	o.mu.Lock()
	if o.channel == "" {
		o.mu.Unlock()
		return ErrNotJoined
	}
	p, ok := o.peers[from]
	if !ok {
		var err error
		p, err = o.newPeerLocked(from)
		if err != nil {
			o.mu.Unlock()
			return err
		}
	}
	channel := o.channel
	o.mu.Unlock()

	if err := p.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	return o.Signals.SendAnswer(channel, from, answer)
}

// HandleAnswer applies a remote answer to the pending connection.
func (o *Orchestrator) HandleAnswer(from domain.UserID, sdp webrtc.SessionDescription) error {
	o.mu.Lock()
	p, ok := o.peers[from]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	if err := p.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	p.once.Do(func() { close(p.answered) })
	return nil
}

// HandleCandidate applies a remote ICE candidate. A candidate for an
// unknown sender is dropped: that connection was already torn down.
func (o *Orchestrator) HandleCandidate(from domain.UserID, cand webrtc.ICECandidateInit) error {
	o.mu.Lock()
	p, ok := o.peers[from]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	return p.pc.AddICECandidate(cand)
}

// HandleUserLeft tears down just the departed participant's connection.
func (o *Orchestrator) HandleUserLeft(user domain.UserID) {
	o.dropPeer(user)
}

// Leave notifies the relay and tears everything down: every peer
// connection closed, capture stopped, maps cleared. No-op when already
// left, including a leave racing an in-flight join.
func (o *Orchestrator) Leave() {
	o.mu.Lock()
	channel := o.channel
	o.leaveLocked()
	o.mu.Unlock()

	if channel != "" {
		if err := o.Signals.LeaveVoice(channel); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("leave notify failed")
		}
	}
}

func (o *Orchestrator) leaveLocked() {
	o.gen++
	for user, p := range o.peers {
		o.closePeer(p)
		if o.Playback != nil {
			o.Playback.Stop(user)
		}
	}
	o.peers = make(map[domain.UserID]*peer)
	if o.stopCapture != nil {
		o.stopCapture()
	}
	o.channel = ""
	o.localTrack = nil
	o.stopCapture = nil
}

// ToggleMute flips outbound audio without closing any connection.
func (o *Orchestrator) ToggleMute() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setMutedLocked(!o.muted)
	return o.muted
}

// ToggleDeafen flips inbound playback. Deafening always forces mute;
// un-deafening leaves mute on, requiring an explicit unmute.
func (o *Orchestrator) ToggleDeafen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deafened = !o.deafened
	if o.deafened {
		o.setMutedLocked(true)
	}
	if o.Playback != nil {
		o.Playback.SetSilenced(o.deafened)
	}
	return o.deafened
}

func (o *Orchestrator) Muted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.muted
}

func (o *Orchestrator) Deafened() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deafened
}

// Peers returns the identities with an open peer connection.
func (o *Orchestrator) Peers() []domain.UserID {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.UserID, 0, len(o.peers))
	for user := range o.peers {
		out = append(out, user)
	}
	return out
}

func (o *Orchestrator) setMutedLocked(muted bool) {
	if o.muted == muted {
		return
	}
	o.muted = muted
	for _, p := range o.peers {
		if p.sender == nil {
			continue
		}
		var track webrtc.TrackLocal
		if !muted {
			track = o.localTrack
		}
		if err := p.sender.ReplaceTrack(track); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("peer", string(p.user)).Msg("replace track failed")
		}
	}
}

// newPeerLocked creates and registers the connection for one remote
// participant. Caller holds o.mu.
func (o *Orchestrator) newPeerLocked(user domain.UserID) (*peer, error) {
	pc, err := webrtc.NewPeerConnection(o.iceConfig)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &peer{user: user, pc: pc, answered: make(chan struct{})}

	if o.localTrack != nil {
		sender, err := pc.AddTrack(o.localTrack)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
		p.sender = sender
		if o.muted {
			// The transceiver stays open so unmute is a track swap, not a
			// renegotiation.
			if err := sender.ReplaceTrack(nil); err != nil {
				log.Warn().Err(err).Str("module", "client").Str("peer", string(user)).Msg("mute new peer failed")
			}
		}
	}

	channel := o.channel
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := o.Signals.SendCandidate(channel, user, c.ToJSON()); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("peer", string(user)).Msg("send candidate failed")
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "client").Str("peer", string(user)).Str("kind", track.Kind().String()).Msg("remote track")
		if o.Playback != nil {
			o.Playback.Play(user, track)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "client").Str("peer", string(user)).Str("state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateDisconnected {
			// Tear down this connection only; the rest of the mesh stays up.
			o.dropPeer(user)
		}
	})

	o.peers[user] = p
	return p, nil
}

// dropPeer removes and closes one peer connection without touching any
// other.
func (o *Orchestrator) dropPeer(user domain.UserID) {
	o.mu.Lock()
	p, ok := o.peers[user]
	if ok {
		delete(o.peers, user)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	o.closePeer(p)
	if o.Playback != nil {
		o.Playback.Stop(user)
	}
}

func (o *Orchestrator) closePeer(p *peer) {
	p.once.Do(func() { close(p.answered) })
	if err := p.pc.Close(); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("peer", string(p.user)).Msg("close peer")
	}
}
