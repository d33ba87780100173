package socketio

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	eiolog "github.com/zishang520/engine.io/v2/log"
	"github.com/zishang520/socket.io-go-redis/adapter"
	r_type "github.com/zishang520/socket.io-go-redis/types"
	"github.com/zishang520/socket.io/v2/socket"

	"realtimechat/identity"
)

type Options struct {
	// Redis shares rooms between instances. Nil keeps the in-process adapter.
	Redis *redis.Client
	Debug bool
}

// Server is the socket.io endpoint mounted on the fiber app.
type Server struct {
	io  *socket.Server
	log zerolog.Logger
}

// Init mounts socket.io on app. Connections carrying a valid access token in
// the token query join the room named after their user id.
func Init(app *fiber.App, resolver *identity.Resolver, opts Options, log zerolog.Logger) *Server {
	eiolog.DEBUG = opts.Debug
	log = log.With().Str("component", "socketio").Logger()

	options := socket.DefaultServerOptions()
	options.SetServeClient(true)
	options.SetAllowEIO3(true)
	options.SetPingInterval(25 * time.Second)
	options.SetPingTimeout(20 * time.Second)
	options.SetMaxHttpBufferSize(1 << 20)
	options.SetConnectTimeout(5 * time.Second)
	if opts.Redis != nil {
		options.SetAdapter(&adapter.RedisAdapterBuilder{
			Redis: r_type.NewRedisClient(context.Background(), opts.Redis),
			Opts:  &adapter.RedisAdapterOptions{},
		})
	}

	server := socket.NewServer(nil, nil)

	server.Use(func(client *socket.Socket, next func(*socket.ExtendedError)) {
		token, auth := client.Conn().Request().Query().Get("token")

		if auth {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			uid, err := resolver.Require(identity.WithCredential(ctx, token))
			cancel()

			if err == nil {
				client.Join(socket.Room(uid))
				client.SetData(uid)
			} else {
				log.Debug().Err(err).Msg("socket token rejected")
			}
		}

		next(nil)
	})

	app.Get("/socket.io/", adaptor.HTTPHandler(server.ServeHandler(options)))
	app.Post("/socket.io/", adaptor.HTTPHandler(server.ServeHandler(options)))

	return &Server{io: server, log: log}
}

// IO exposes the underlying server for event binding.
func (s *Server) IO() *socket.Server { return s.io }

// Emit sends an event to every socket of user id.
func (s *Server) Emit(id string, event string, message any) {
	s.log.Debug().Str("room", id).Str("event", event).Msg("emit")
	s.io.To(socket.Room(id)).Emit(event, message)
}

func (s *Server) Close() {
	s.io.Close(nil)
}
