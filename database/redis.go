package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"realtimechat/config"
)

// RedisConnect opens one client per configured database number and pings each.
func RedisConnect(ctx context.Context, s config.Settings, log zerolog.Logger) (map[int]*redis.Client, error) {
	clients := make(map[int]*redis.Client, len(s.RedisDB))
	for _, db := range s.RedisDB {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", s.RedisHost, s.RedisPort),
			Password: s.RedisPassword,
			DB:       db,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			for _, c := range clients {
				c.Close()
			}
			client.Close()
			return nil, fmt.Errorf("connect redis db %d: %w", db, err)
		}
		clients[db] = client
	}

	log.Info().Ints("dbs", s.RedisDB).Msg("connections opened to Redis")
	return clients, nil
}
