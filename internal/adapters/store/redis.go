// Package store provides the backing-store adapters behind the core
// collaborator interfaces: redis for deployments, in-memory for tests
// and for collaborators whose system of record lives elsewhere.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/accord-chat/accord/internal/config"
	"github.com/accord-chat/accord/internal/core"
	"github.com/accord-chat/accord/internal/domain"
)

func credKey(user domain.UserID) string      { return "cred:" + string(user) }
func msgKey(channel domain.ChannelID) string { return "channel:" + string(channel) + ":messages" }

// RedisCredentials reads the current session token per user. The account
// service owns writes; an absent key means logged out.
type RedisCredentials struct {
	Client *redis.Client
}

func (s *RedisCredentials) GetCredentials(ctx context.Context, user domain.UserID) (string, error) {
	token, err := s.Client.Get(ctx, credKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("credential lookup: %w", err)
	}
	return token, nil
}

// RedisMessages persists chat messages per channel. Persist re-validates
// the credential against the stored token on its own, independently of
// the relay's gate check.
type RedisMessages struct {
	Client *redis.Client
	Creds  core.CredentialStore
}

func (s *RedisMessages) Persist(ctx context.Context, channel domain.ChannelID, author domain.UserID, content, token string, replyTo *domain.MessageID) (*domain.Message, error) {
	stored, err := s.Creds.GetCredentials(ctx, author)
	if err != nil {
		return nil, fmt.Errorf("persist credential check: %w", err)
	}
	if token == "" || stored != token {
		return nil, core.ErrUnauthenticated
	}

	msg := &domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		Channel:   channel,
		Author:    author,
		Content:   content,
		ReplyTo:   replyTo,
		CreatedAt: time.Now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	if err := s.Client.HSet(ctx, msgKey(channel), string(msg.ID), b).Err(); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	return msg, nil
}

func (s *RedisMessages) Get(ctx context.Context, channel domain.ChannelID, id domain.MessageID) (*domain.Message, error) {
	b, err := s.Client.HGet(ctx, msgKey(channel), string(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	var msg domain.Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &msg, nil
}

func (s *RedisMessages) Delete(ctx context.Context, channel domain.ChannelID, id domain.MessageID) error {
	if err := s.Client.HDel(ctx, msgKey(channel), string(id)).Err(); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// NewRedisClient connects and pings once so a bad address fails at boot,
// not on the first event.
func NewRedisClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
