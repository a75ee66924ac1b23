package events

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
)

const DefaultStream = "trustlessswap:events"

// RedisPublisher appends events to a Redis stream with XADD.
type RedisPublisher struct {
	client *goredis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher creates a publisher. maxLen <= 0 keeps the whole stream.
func NewRedisPublisher(client *goredis.Client, stream string, maxLen int64) *RedisPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, evs ...Event) error {
	for _, e := range evs {
		args := &goredis.XAddArgs{
			Stream: p.stream,
			Values: map[string]interface{}{
				"seq":       strconv.FormatUint(e.Seq, 10),
				"tx":        e.TxID.String(),
				"kind":      string(e.Kind),
				"user":      e.User.String(),
				"amountIn":  e.AmountIn.String(),
				"amountOut": e.AmountOut.String(),
				"timestamp": strconv.FormatInt(e.Timestamp.Unix(), 10),
			},
		}
		if p.maxLen > 0 {
			args.MaxLen = p.maxLen
			args.Approx = true
		}
		if err := p.client.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("redis xadd %s: %w", p.stream, err)
		}
	}
	return nil
}
