package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"golang.org/x/sync/errgroup"

	"realtimechat/attachment"
	"realtimechat/channel"
	"realtimechat/config"
	"realtimechat/controller"
	"realtimechat/database"
	"realtimechat/event"
	"realtimechat/event/listener"
	"realtimechat/identity"
	"realtimechat/logging"
	"realtimechat/middleware"
	"realtimechat/profile"
	"realtimechat/router"
	"realtimechat/socketio"
	"realtimechat/utils"
)

func main() {
	settings := config.Load()
	log := logging.New(settings.LogLevel, settings.LogPretty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := connect(ctx, settings, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect backends")
	}

	enforcer, err := database.Casbin(b.db)
	if err != nil {
		b.Close(log)
		log.Fatal().Err(err).Msg("load RBAC policy")
	}

	tokens := utils.NewTokenIssuer(settings)
	accounts := database.NewAccounts(b.db, tokens, b.cache, enforcer, b.events, log)
	accounts.BcryptCost = settings.BcryptCost
	resolver := identity.NewResolver(accounts, nil, log)

	attachments := attachment.New(b.objects, b.cache, attachment.Options{
		Dedup:  settings.DedupUploads,
		Logger: log,
	})
	profiles := profile.New(b.docs, profile.Options{Logger: log})
	chat := channel.New(b.docs, b.feed, channel.Options{
		HistoryLimit:    settings.HistoryLimit,
		CatchUpInterval: settings.CatchUpInterval,
		Logger:          log,
	})

	rest := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		AppName:               "realtimechat",
		BodyLimit:             attachment.DefaultMaxSize + 1<<20,
	})

	rest.Use(cors.New())

	socket := socketio.Init(rest, resolver, socketio.Options{
		Redis: b.redis,
		Debug: settings.LogLevel == "debug",
	}, log)

	h := controller.New(accounts, profiles, attachments, b.objects, chat, log)
	router.Rest(rest, h, []fiber.Handler{
		middleware.JWT(tokens.AccessKey),
		middleware.Identity(resolver),
	}, middleware.RBAC(enforcer))
	router.Socket(socket.IO(), chat, socket, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", settings.ServerPort).Str("backend", settings.Backend).Msg("listening")
		return rest.Listen(fmt.Sprintf(":%s", settings.ServerPort))
	})

	if b.rabbit != nil {
		// Run the audit listener on the event queue
		events := make(chan event.Event)
		g.Go(func() error {
			listener.Audit(gctx, events, log)
			return nil
		})
		g.Go(func() error {
			err := b.rabbit.Subscribe(gctx, events)
			if err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		select {
		case s := <-SignalC:
			log.Info().Str("signal", s.String()).Msg("shutting down")
		case <-gctx.Done():
		}
		close(exit)
	}()

	<-exit
	cancel()
	if err := rest.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	socket.Close()
	chat.Close()

	code := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("stopped with error")
		code = 1
	}
	b.Close(log)
	os.Exit(code)
}
