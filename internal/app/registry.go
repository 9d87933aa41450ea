package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/accord-chat/accord/internal/core"
	"github.com/accord-chat/accord/internal/domain"
)

// Registry is the single source of truth for channel membership, for both
// text and voice channels. It maps each channel to an ordered roster of
// userID -> live connection. Locking is per channel so unrelated channels
// never serialize on each other.
type Registry struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]*roster
}

type roster struct {
	mu    sync.RWMutex
	conns map[domain.UserID]core.Conn
	order []domain.UserID
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[domain.ChannelID]*roster)}
}

func (r *Registry) getOrCreate(channel domain.ChannelID) *roster {
	r.mu.RLock()
	ros, ok := r.channels[channel]
	r.mu.RUnlock()
	if ok {
		return ros
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ros, ok = r.channels[channel]; ok {
		return ros
	}
	ros = &roster{conns: make(map[domain.UserID]core.Conn)}
	r.channels[channel] = ros
	return ros
}

func (r *Registry) get(channel domain.ChannelID) (*roster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ros, ok := r.channels[channel]
	return ros, ok
}

// Join inserts or replaces the user's connection in the channel and
// returns the members that were present before, excluding the joining
// user. A replaced connection is stale and is not notified.
func (r *Registry) Join(channel domain.ChannelID, user domain.UserID, conn core.Conn) []domain.UserID {
	ros := r.getOrCreate(channel)
	ros.mu.Lock()
	defer ros.mu.Unlock()

	prior := make([]domain.UserID, 0, len(ros.order))
	for _, u := range ros.order {
		if u != user {
			prior = append(prior, u)
		}
	}
	if _, replaced := ros.conns[user]; !replaced {
		ros.order = append(ros.order, user)
	}
	ros.conns[user] = conn
	log.Debug().Str("module", "app.registry").Str("channel", string(channel)).Str("user", string(user)).Int("prior", len(prior)).Msg("joined")
	return prior
}

// Leave removes the user's mapping if present. Leaving a channel the user
// is not in, or a channel that was never populated, is a no-op.
func (r *Registry) Leave(channel domain.ChannelID, user domain.UserID) bool {
	ros, ok := r.get(channel)
	if !ok {
		return false
	}
	ros.mu.Lock()
	defer ros.mu.Unlock()
	return ros.remove(user)
}

// LeaveConn removes the user's mapping only if it still points at conn.
// Disconnect cleanup uses this so a stale connection's teardown cannot
// evict a replacement that joined in the meantime.
func (r *Registry) LeaveConn(channel domain.ChannelID, user domain.UserID, conn core.Conn) bool {
	ros, ok := r.get(channel)
	if !ok {
		return false
	}
	ros.mu.Lock()
	defer ros.mu.Unlock()
	if cur, ok := ros.conns[user]; !ok || cur != conn {
		return false
	}
	return ros.remove(user)
}

// remove expects the roster lock to be held.
func (ros *roster) remove(user domain.UserID) bool {
	if _, ok := ros.conns[user]; !ok {
		return false
	}
	delete(ros.conns, user)
	for i, u := range ros.order {
		if u == user {
			ros.order = append(ros.order[:i], ros.order[i+1:]...)
			break
		}
	}
	return true
}

// Members returns a snapshot of the channel's roster in join order. The
// returned slice is the caller's to keep; concurrent joins and leaves
// never mutate it.
func (r *Registry) Members(channel domain.ChannelID) []domain.UserID {
	ros, ok := r.get(channel)
	if !ok {
		return nil
	}
	ros.mu.RLock()
	defer ros.mu.RUnlock()
	out := make([]domain.UserID, len(ros.order))
	copy(out, ros.order)
	return out
}

// HandleFor returns the live connection for one member, if any.
func (r *Registry) HandleFor(channel domain.ChannelID, user domain.UserID) (core.Conn, bool) {
	ros, ok := r.get(channel)
	if !ok {
		return nil, false
	}
	ros.mu.RLock()
	defer ros.mu.RUnlock()
	conn, ok := ros.conns[user]
	return conn, ok
}
