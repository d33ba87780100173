package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"realtimechat/backend"
	"realtimechat/config"
	"realtimechat/database"
	"realtimechat/event"
)

// backends are the storage and transport the chat core runs on.
type backends struct {
	docs    backend.Documents
	objects backend.Objects
	feed    backend.Feed
	cache   backend.Cache
	db      *gorm.DB // accounts and casbin policies
	events  event.Emitter
	rabbit  *event.RabbitMQ // nil unless connected
	redis   *redis.Client   // socket.io adapter, nil for memory
	closers []func() error
}

func (b *backends) Close(log zerolog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close backend")
		}
	}
}

func connect(ctx context.Context, s config.Settings, log zerolog.Logger) (*backends, error) {
	switch s.Backend {
	case "memory":
		return connectMemory(s, log)
	case "postgres":
		return connectPostgres(ctx, s, log)
	default:
		return nil, fmt.Errorf("unknown BACKEND %q", s.Backend)
	}
}

func connectMemory(s config.Settings, log zerolog.Logger) (*backends, error) {
	db, err := database.SQLiteConnect(s.SQLitePath, log)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	mem := backend.NewMemory()
	mem.BaseURL = s.PublicURL
	log.Info().Msg("using in-memory chat backend")

	return &backends{
		docs:    mem,
		objects: mem,
		feed:    mem,
		cache:   mem.Cache(),
		db:      db,
		events:  event.Nop{},
		closers: []func() error{sqlDB.Close},
	}, nil
}

func connectPostgres(ctx context.Context, s config.Settings, log zerolog.Logger) (*backends, error) {
	b := &backends{}
	fail := func(err error) (*backends, error) {
		b.Close(log)
		return nil, err
	}

	if len(s.RedisDB) < 2 {
		return nil, fmt.Errorf("REDIS_DB needs two databases, got %v", s.RedisDB)
	}
	clients, err := database.RedisConnect(ctx, s, log)
	if err != nil {
		return nil, err
	}
	for _, c := range clients {
		b.closers = append(b.closers, c.Close)
	}
	b.cache = database.NewRedisCache(clients[s.RedisDB[0]])
	b.redis = clients[s.RedisDB[1]]

	feed := database.NewRedisFeed(b.redis, log)
	b.closers = append(b.closers, feed.Close)
	b.feed = feed

	rabbit, err := event.RabbitMQConnect(s, log)
	if err != nil {
		return fail(err)
	}
	b.closers = append(b.closers, rabbit.Close)
	b.rabbit = rabbit
	b.events = rabbit

	db, err := database.PostgresConnect(s, log)
	if err != nil {
		return fail(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fail(err)
	}
	b.closers = append(b.closers, sqlDB.Close)
	b.db = db

	store := database.NewStore(db, feed, rabbit, s.PublicURL, log)
	b.docs = store
	b.objects = store
	return b, nil
}
