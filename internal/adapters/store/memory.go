package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/accord-chat/accord/internal/core"
	"github.com/accord-chat/accord/internal/domain"
)

// MemCredentials is an in-memory credential store. SetToken with an
// empty token models a logout.
type MemCredentials struct {
	mu     sync.RWMutex
	tokens map[domain.UserID]string
}

func NewMemCredentials() *MemCredentials {
	return &MemCredentials{tokens: make(map[domain.UserID]string)}
}

func (s *MemCredentials) SetToken(user domain.UserID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[user] = token
}

func (s *MemCredentials) GetCredentials(_ context.Context, user domain.UserID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[user], nil
}

// MemMessages is an in-memory message store with the same internal
// credential re-validation as the redis adapter.
type MemMessages struct {
	Creds core.CredentialStore

	mu       sync.RWMutex
	messages map[domain.ChannelID]map[domain.MessageID]domain.Message
}

func NewMemMessages(creds core.CredentialStore) *MemMessages {
	return &MemMessages{
		Creds:    creds,
		messages: make(map[domain.ChannelID]map[domain.MessageID]domain.Message),
	}
}

func (s *MemMessages) Persist(ctx context.Context, channel domain.ChannelID, author domain.UserID, content, token string, replyTo *domain.MessageID) (*domain.Message, error) {
	stored, err := s.Creds.GetCredentials(ctx, author)
	if err != nil {
		return nil, err
	}
	if token == "" || stored != token {
		return nil, core.ErrUnauthenticated
	}
	msg := domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		Channel:   channel,
		Author:    author,
		Content:   content,
		ReplyTo:   replyTo,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages[channel] == nil {
		s.messages[channel] = make(map[domain.MessageID]domain.Message)
	}
	s.messages[channel][msg.ID] = msg
	return &msg, nil
}

func (s *MemMessages) Get(_ context.Context, channel domain.ChannelID, id domain.MessageID) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[channel][id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &msg, nil
}

func (s *MemMessages) Delete(_ context.Context, channel domain.ChannelID, id domain.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages[channel], id)
	return nil
}

// MemDirectory implements the user/role resolver and channel metadata
// store in memory. The CRUD service owns these records; deployments feed
// this view, tests seed it directly.
type MemDirectory struct {
	mu        sync.RWMutex
	users     map[domain.UserID]domain.UserInfo
	channels  map[domain.ChannelID]domain.Channel
	instances map[domain.ChannelID]domain.InstanceID
}

func NewMemDirectory() *MemDirectory {
	return &MemDirectory{
		users:     make(map[domain.UserID]domain.UserInfo),
		channels:  make(map[domain.ChannelID]domain.Channel),
		instances: make(map[domain.ChannelID]domain.InstanceID),
	}
}

func (d *MemDirectory) PutUser(info domain.UserInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[info.ID] = info
}

func (d *MemDirectory) PutChannel(ch domain.Channel, instance domain.InstanceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.ID] = ch
	d.instances[ch.ID] = instance
}

func (d *MemDirectory) GetUserInfo(_ context.Context, user domain.UserID) (domain.UserInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.users[user]
	if !ok {
		return domain.UserInfo{}, core.ErrNotFound
	}
	return info, nil
}

func (d *MemDirectory) ResolveInstanceForChannel(_ context.Context, channel domain.ChannelID) (domain.InstanceID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	instance, ok := d.instances[channel]
	if !ok {
		return "", core.ErrNotFound
	}
	return instance, nil
}

func (d *MemDirectory) GetChannel(_ context.Context, channel domain.ChannelID) (domain.Channel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[channel]
	if !ok {
		return domain.Channel{}, core.ErrNotFound
	}
	return ch, nil
}
