// Package gameserver adapts the external game server: a Redis stream the
// server-side plugin reads commands from, a Redis set of online accounts
// and the economy plugin's balance table.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"reward-bridge/internal/config"
)

// ErrZeroAmount is returned when asked to move no currency.
var ErrZeroAmount = errors.New("currency amount must not be zero")

// NewRedisClient creates the client shared by the sink and presence tracker.
func NewRedisClient(ctx context.Context, cfg *config.GameServerConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	return client, nil
}

// CommandSink appends game-server commands to a Redis stream. A command
// counts as issued once XADD succeeds.
type CommandSink struct {
	client *redis.Client
	stream string
	maxLen int64
	credit string
	debit  string
	now    func() time.Time
}

// NewCommandSink creates a sink writing to cfg.CommandStream.
func NewCommandSink(client *redis.Client, cfg *config.GameServerConfig) *CommandSink {
	return &CommandSink{
		client: client,
		stream: cfg.CommandStream,
		maxLen: cfg.StreamMaxLen,
		credit: cfg.CreditCommand,
		debit:  cfg.DebitCommand,
		now:    time.Now,
	}
}

// Send appends one command and returns its command id.
func (s *CommandSink) Send(ctx context.Context, command string) (string, error) {
	id := uuid.NewString()
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":        id,
			"command":   command,
			"issued_at": s.now().UTC().Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return "", fmt.Errorf("failed to append command to %s: %w", s.stream, err)
	}

	log.Debug().Str("command_id", id).Str("command", command).Msg("Command issued")
	return id, nil
}

// SendAll appends commands in order in one pipeline.
func (s *CommandSink) SendAll(ctx context.Context, commands []string) error {
	if len(commands) == 0 {
		return nil
	}

	issuedAt := s.now().UTC().Format(time.RFC3339Nano)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, c := range commands {
			args := &redis.XAddArgs{
				Stream: s.stream,
				Values: map[string]any{"id": uuid.NewString(), "command": c, "issued_at": issuedAt},
			}
			if s.maxLen > 0 {
				args.MaxLen = s.maxLen
				args.Approx = true
			}
			pipe.XAdd(ctx, args)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append %d commands to %s: %w", len(commands), s.stream, err)
	}
	return nil
}

// CurrencyCommand renders the credit or debit command for a signed amount.
func CurrencyCommand(creditTmpl, debitTmpl, account string, amount int64) (string, error) {
	if amount == 0 {
		return "", ErrZeroAmount
	}
	tmpl := creditTmpl
	if amount < 0 {
		tmpl = debitTmpl
		amount = -amount
	}
	r := strings.NewReplacer("{account}", account, "{amount}", strconv.FormatInt(amount, 10))
	return r.Replace(tmpl), nil
}

// Credit issues a credit for a positive amount or a debit for a negative one.
func (s *CommandSink) Credit(ctx context.Context, account string, amount int64) error {
	command, err := CurrencyCommand(s.credit, s.debit, account, amount)
	if err != nil {
		return err
	}
	_, err = s.Send(ctx, command)
	return err
}
