// Package client is the client-side counterpart of the voice relay: it
// keeps one peer connection per remote participant in the active voice
// channel and one local capture for the duration of membership.
package client

import (
	"github.com/pion/webrtc/v4"

	"github.com/accord-chat/accord/internal/core"
	"github.com/accord-chat/accord/internal/domain"
)

// Signaler delivers negotiation messages to the relay. Delivery is
// fire-and-forget; the orchestrator never waits for acknowledgments.
type Signaler interface {
	JoinVoice(channel domain.ChannelID) error
	LeaveVoice(channel domain.ChannelID) error
	SendOffer(channel domain.ChannelID, to domain.UserID, sdp webrtc.SessionDescription) error
	SendAnswer(channel domain.ChannelID, to domain.UserID, sdp webrtc.SessionDescription) error
	SendCandidate(channel domain.ChannelID, to domain.UserID, cand webrtc.ICECandidateInit) error
}

// MediaSource opens the local audio capture. The returned stop function
// releases the device; the orchestrator owns calling it exactly once per
// membership.
type MediaSource interface {
	OpenTrack() (webrtc.TrackLocal, func(), error)
}

// Playback renders remote audio. SetSilenced gates all inbound playback
// without touching the underlying connections.
type Playback interface {
	Play(from domain.UserID, track *webrtc.TrackRemote)
	Stop(from domain.UserID)
	SetSilenced(bool)
}

func iceConfiguration(servers []core.ICEServer) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	for _, s := range servers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return cfg
}
