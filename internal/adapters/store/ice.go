package store

import (
	"context"

	"github.com/accord-chat/accord/internal/config"
	"github.com/accord-chat/accord/internal/core"
)

// StaticICE serves the configured ICE server list. TURN/STUN
// provisioning is external; only the delivered list is consumed here.
type StaticICE struct {
	servers []core.ICEServer
}

func NewStaticICE(cfgs []config.ICEServer) *StaticICE {
	servers := make([]core.ICEServer, 0, len(cfgs))
	for _, c := range cfgs {
		servers = append(servers, core.ICEServer{
			URLs:       c.URLs,
			Username:   c.Username,
			Credential: c.Credential,
		})
	}
	return &StaticICE{servers: servers}
}

func (s *StaticICE) ICEServers(context.Context) []core.ICEServer {
	out := make([]core.ICEServer, len(s.servers))
	copy(out, s.servers)
	return out
}
