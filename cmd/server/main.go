package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"calendar-service/internal/app"
	"calendar-service/internal/authz"
	"calendar-service/internal/cache"
	"calendar-service/internal/calendar"
	"calendar-service/internal/config"
	"calendar-service/internal/conflict"
	"calendar-service/internal/logging"
	"calendar-service/internal/notify"
	"calendar-service/internal/quota"
	"calendar-service/internal/recurrence"
	"calendar-service/internal/reminder"
	"calendar-service/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Caller: cfg.Log.Caller,
	})

	st, closeStore, err := app.OpenStore(ctx, cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	db, err := reminder.Open(cfg.Reminder.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open reminder store")
	}
	defer db.Close()

	pubsub := notify.NewGoChannel(logging.NewWatermillAdapter())
	publisher := notify.NewPublisher(pubsub)
	defer publisher.Close()

	perms, err := authz.NewChecker(cfg.Authz.PolicyPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load permissions")
	}

	exp := recurrence.NewExpander(cfg.Engine.MaxOccurrences)
	google := app.NewGoogleCalendar(cfg.Google)
	var opts []conflict.Option
	if google != nil {
		opts = append(opts, conflict.WithBusySource(google))
	}
	resolver := conflict.NewResolver(exp, conflict.Config{
		Limit:           cfg.Engine.ConflictLimit,
		UndecidedIsBusy: cfg.Engine.UndecidedIsBusy,
		IncludePast:     !cfg.Engine.IgnorePastConflicts,
	}, opts...)

	appInstance := &app.App{
		Store:    st,
		Resolver: resolver,
		Exp:      exp,
		Google:   google,
	}
	appInstance.Listing = cache.NewListing[app.Occurrence](appInstance.ListOccurrences, cfg.Cache.TTL)
	appInstance.Engine = calendar.New(calendar.Deps{
		Store:       st,
		Permissions: perms,
		Resolver:    resolver,
		Expander:    exp,
		Reminders:   reminder.NewService(db),
		Notifier:    publisher,
		Quota:       quota.NewChecker(st, cfg.Engine.QuotaMaxAppointments),
		Cache:       appInstance.Listing,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), app.RequestLogger())
	appInstance.Register(router, app.AuthMiddleware(cfg.Auth))

	if err := server.Run(ctx, router, cfg.Server.Addr(), cfg.Server.ShutdownTimeout); err != nil {
		logging.Error().Err(err).Msg("http server failed")
	}
	logging.Info().Msg("server stopped")
}
