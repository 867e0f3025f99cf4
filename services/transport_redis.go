// services/transport_redis.go
package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fitness-score-engine/utils"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// RedisTransport publishes envelopes on one pub/sub channel per chain selector.
// Every node subscribes to its own selector's channel.
type RedisTransport struct {
	log        *utils.Logger
	rdb        *goredis.Client
	prefix     string
	localChain uint64
	fees       FeeSchedule
}

type RedisTransportConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	LocalChain    uint64
	Fees          FeeSchedule
}

func NewRedisTransport(ctx context.Context, cfg RedisTransportConfig, log *utils.Logger) (*RedisTransport, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	prefix := strings.TrimSpace(cfg.ChannelPrefix)
	if prefix == "" {
		prefix = "crosschain"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisTransport{
		log:        utils.OrNop(log).With("service", "RedisTransport"),
		rdb:        rdb,
		prefix:     prefix,
		localChain: cfg.LocalChain,
		fees:       cfg.Fees,
	}, nil
}

func (t *RedisTransport) channel(selector uint64) string {
	return t.prefix + ":" + strconv.FormatUint(selector, 10)
}

func (t *RedisTransport) EstimateFee(_ context.Context, _ uint64, payload []byte, computeBudget uint64) (uint64, error) {
	return t.fees.Fee(len(payload), computeBudget), nil
}

func (t *RedisTransport) Send(ctx context.Context, destination uint64, payload []byte, computeBudget uint64) (string, error) {
	if t == nil || t.rdb == nil {
		return "", fmt.Errorf("redis transport not initialized")
	}
	id := deriveMessageID(t.localChain, destination, uuid.NewString(), payload)
	raw, err := encodeEnvelope(Envelope{
		MessageID:     id,
		SourceChain:   t.localChain,
		DestChain:     destination,
		ComputeBudget: computeBudget,
		Payload:       payload,
	})
	if err != nil {
		return "", err
	}
	if err := t.rdb.Publish(ctx, t.channel(destination), raw).Err(); err != nil {
		return "", fmt.Errorf("redis publish: %w", err)
	}
	return id, nil
}

// StartForwarder subscribes to the local chain's channel and hands every
// envelope to h until ctx is cancelled.
func (t *RedisTransport) StartForwarder(ctx context.Context, h InboundHandler) error {
	if t == nil || t.rdb == nil {
		return fmt.Errorf("redis transport not initialized")
	}
	if h == nil {
		return fmt.Errorf("inbound handler required")
	}

	sub := t.rdb.Subscribe(ctx, t.channel(t.localChain))

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				env, err := decodeEnvelope([]byte(m.Payload))
				if err != nil {
					t.log.Warn("bad cross-chain envelope", "error", err)
					continue
				}
				if err := h.HandleInbound(ctx, InboundMessage{
					SourceChain: env.SourceChain,
					MessageID:   env.MessageID,
					Payload:     env.Payload,
				}); err != nil {
					t.log.Warn("inbound message rejected", "message_id", env.MessageID, "source", env.SourceChain, "error", err)
				}
			}
		}
	}()

	return nil
}

func (t *RedisTransport) Close() error {
	if t == nil || t.rdb == nil {
		return nil
	}
	return t.rdb.Close()
}
