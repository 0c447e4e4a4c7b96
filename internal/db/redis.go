package db

import (
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/config"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis opens the client behind the side-effect dedup window,
// the tracker fix cache, the hardware signal channels, and the event
// fan-out. An empty address disables all of those; callers treat a nil
// client as running degraded.
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}
