package gameserver

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Presence tracks which game accounts are online in a Redis set fed by
// the join and leave webhooks.
type Presence struct {
	client *redis.Client
	key    string
}

// NewPresence creates a presence tracker over key.
func NewPresence(client *redis.Client, key string) *Presence {
	return &Presence{client: client, key: key}
}

// Join marks account online.
func (p *Presence) Join(ctx context.Context, account string) error {
	if err := p.client.SAdd(ctx, p.key, account).Err(); err != nil {
		return fmt.Errorf("failed to mark %s online: %w", account, err)
	}
	return nil
}

// Leave marks account offline.
func (p *Presence) Leave(ctx context.Context, account string) error {
	if err := p.client.SRem(ctx, p.key, account).Err(); err != nil {
		return fmt.Errorf("failed to mark %s offline: %w", account, err)
	}
	return nil
}

// IsOnline reports whether account is online.
func (p *Presence) IsOnline(ctx context.Context, account string) (bool, error) {
	ok, err := p.client.SIsMember(ctx, p.key, account).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence of %s: %w", account, err)
	}
	return ok, nil
}

// Online filters accounts down to those online, keeping their order.
func (p *Presence) Online(ctx context.Context, accounts []string) ([]string, error) {
	if len(accounts) == 0 {
		return nil, nil
	}

	members := make([]any, len(accounts))
	for i, a := range accounts {
		members[i] = a
	}
	flags, err := p.client.SMIsMember(ctx, p.key, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check presence: %w", err)
	}

	online := make([]string, 0, len(accounts))
	for i, on := range flags {
		if on {
			online = append(online, accounts[i])
		}
	}
	return online, nil
}

// Reset forgets every online account. Called when the game server starts
// or stops.
func (p *Presence) Reset(ctx context.Context) error {
	if err := p.client.Del(ctx, p.key).Err(); err != nil {
		return fmt.Errorf("failed to reset presence: %w", err)
	}
	return nil
}
