package events

import (
	"context"
	"fmt"
	"time"

	"execEngine/internal/domain"
	"execEngine/internal/ports"

	goredis "github.com/go-redis/redis/v8"
)

var _ ports.EventPublisher = (*RedisPublisher)(nil)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// RedisPublisher publishes engine events on Redis pub/sub channels
// "<prefix>:orders" and "<prefix>:positions".
type RedisPublisher struct {
	client *goredis.Client
	prefix string
	logger ports.Logger
}

// NewRedisPublisher creates a publisher and pings the server.
func NewRedisPublisher(cfg RedisConfig, logger ports.Logger) (*RedisPublisher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for Redis publisher")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is empty: %w", ports.ErrConfigurationError)
	}
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "exec"
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %v: %w", cfg.Addr, err, ports.ErrConnectionFailed)
	}

	logger.Info(ctx, "Redis event publisher connected", map[string]interface{}{"addr": cfg.Addr, "prefix": prefix})
	return &RedisPublisher{client: client, prefix: prefix, logger: logger}, nil
}

// OrdersChannel is the channel order events are published on.
func (p *RedisPublisher) OrdersChannel() string { return p.prefix + ":orders" }

// PositionsChannel is the channel position events are published on.
func (p *RedisPublisher) PositionsChannel() string { return p.prefix + ":positions" }

func (p *RedisPublisher) PublishOrder(ctx context.Context, order *domain.Order) error {
	msg, err := encode(TypeOrder, order)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.OrdersChannel(), msg).Err(); err != nil {
		return fmt.Errorf("failed to publish order %s: %w", order.ID, err)
	}
	return nil
}

func (p *RedisPublisher) PublishPosition(ctx context.Context, pos *domain.Position) error {
	msg, err := encode(TypePosition, pos)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.PositionsChannel(), msg).Err(); err != nil {
		return fmt.Errorf("failed to publish position %s: %w", pos.Symbol, err)
	}
	return nil
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
