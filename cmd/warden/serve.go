package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/warden/internal/actions"
	"github.com/memohai/warden/internal/bot"
	"github.com/memohai/warden/internal/broadcast"
	"github.com/memohai/warden/internal/channel"
	"github.com/memohai/warden/internal/channel/adapters/discord"
	"github.com/memohai/warden/internal/channel/adapters/local"
	"github.com/memohai/warden/internal/channel/adapters/telegram"
	"github.com/memohai/warden/internal/config"
	"github.com/memohai/warden/internal/handlers"
	channelchecker "github.com/memohai/warden/internal/healthcheck/checkers/channel"
	statechecker "github.com/memohai/warden/internal/healthcheck/checkers/state"
	"github.com/memohai/warden/internal/identity"
	"github.com/memohai/warden/internal/logger"
	"github.com/memohai/warden/internal/messages"
	"github.com/memohai/warden/internal/policy"
	"github.com/memohai/warden/internal/schedule"
	"github.com/memohai/warden/internal/server"
	"github.com/memohai/warden/internal/storage/badgerstore"
	"github.com/memohai/warden/internal/storage/file"
	"github.com/memohai/warden/internal/storage/postgres"
	"github.com/memohai/warden/internal/version"
)

type configPath string

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect the configured channel and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(configPath(configFlag(cmd)))
		},
	}
}

func runServe(path configPath) error {
	app := fx.New(
		fx.Supply(path),
		fx.Provide(
			provideConfig,
			provideLogger,
			providePersister,
			providePolicyStore,
			provideCatalog,
			provideIdentity,
			providePrefix,
			provideBroadcast,
			provideRestarter,
			provideCommands,
			provideServices,
			provideRouter,
			local.NewLocalAdapter,
			provideChannelRegistry,
			provideChannelManager,
			provideScheduleService,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideStateHandler),
			provideServerHandler(provideHealthHandler),
			provideServerHandler(handlers.NewLocalChannelHandler),
			provideServer,
		),
		fx.Invoke(
			startScheduleService,
			startChannelManager,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path configPath) (config.Config, error) {
	cfg, err := config.Load(string(path))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

// openPersister builds the storage backend named in cfg. The returned close
// func releases backend resources and is never nil.
func openPersister(ctx context.Context, log *slog.Logger, cfg config.StorageConfig) (policy.Persister, func(), error) {
	switch cfg.Backend {
	case "badger":
		store, err := badgerstore.Open(log, cfg.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		store, pool, err := postgres.Connect(ctx, log, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		return file.New(log, cfg.FilePath), func() {}, nil
	}
}

func providePersister(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (policy.Persister, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	persister, closeFn, err := openPersister(ctx, log, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { closeFn(); return nil }})
	return persister, nil
}

func providePolicyStore(log *slog.Logger, persister policy.Persister) *policy.Store {
	store := policy.NewStore(log, persister)
	if err := store.Load(context.Background()); err != nil {
		log.Error("policy state unavailable, starting empty", slog.Any("error", err))
	}
	return store
}

func provideCatalog(cfg config.Config) (*messages.Catalog, error) {
	if path := strings.TrimSpace(cfg.Messages.Path); path != "" {
		return messages.Load(path)
	}
	return messages.Default()
}

func provideIdentity(log *slog.Logger, cfg config.Config) *identity.Resolver {
	return identity.NewResolver(log, cfg.Bot.Owner)
}

func providePrefix(cfg config.Config) *bot.Prefix {
	return bot.NewPrefix(cfg.Bot.Prefix)
}

func provideBroadcast(log *slog.Logger, store *policy.Store, cfg config.Config) *broadcast.Pipeline {
	return broadcast.New(log, store, cfg.Broadcast.Delay())
}

// restarter stops the application after a delay; the process supervisor is
// expected to start it again.
type restarter struct {
	logger     *slog.Logger
	shutdowner fx.Shutdowner
}

func provideRestarter(log *slog.Logger, shutdowner fx.Shutdowner) actions.Restarter {
	return &restarter{logger: log.With(slog.String("component", "restarter")), shutdowner: shutdowner}
}

func (r *restarter) ScheduleRestart(delay time.Duration) {
	r.logger.Info("restart scheduled", slog.Duration("delay", delay))
	time.AfterFunc(delay, func() {
		if err := r.shutdowner.Shutdown(fx.ExitCode(0)); err != nil {
			r.logger.Error("restart shutdown failed", slog.Any("error", err))
		}
	})
}

func toLinks(in []config.LinkConfig) []actions.Link {
	out := make([]actions.Link, 0, len(in))
	for _, l := range in {
		out = append(out, actions.Link{Label: l.Label, URL: l.URL})
	}
	return out
}

func provideCommands(log *slog.Logger, cfg config.Config, pipeline *broadcast.Pipeline, r actions.Restarter) (*bot.Registry, error) {
	reg := bot.NewRegistry()
	acts := actions.New(log, actions.Config{
		Channel:       cfg.Channel.Type,
		OwnerName:     cfg.Bot.OwnerName,
		GithubURL:     cfg.Bot.GithubURL,
		OwnerContact:  toLinks(cfg.Bot.OwnerContact),
		DonationLinks: toLinks(cfg.Bot.DonationLinks),
		RestartDelay:  cfg.Restart.Delay(),
	}, pipeline, r)
	if err := acts.Register(reg); err != nil {
		return nil, fmt.Errorf("register commands: %w", err)
	}
	return reg, nil
}

func provideServices(cfg config.Config, store *policy.Store, resolver *identity.Resolver, prefix *bot.Prefix, catalog *messages.Catalog, reg *bot.Registry) *bot.Services {
	label := cfg.Bot.VersionLabel
	if label == "" {
		label = version.Version
	}
	return &bot.Services{
		Policy:   store,
		Identity: resolver,
		Prefix:   prefix,
		Messages: catalog,
		Commands: reg,
		Settings: bot.Settings{BotName: cfg.Bot.Name, Version: label},
	}
}

func provideRouter(log *slog.Logger, services *bot.Services, cfg config.Config) (*bot.Router, error) {
	return bot.NewRouter(log, services, cfg.Moderation.LinkPattern)
}

func provideChannelRegistry(log *slog.Logger, cfg config.Config, localAdapter *local.LocalAdapter) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(telegram.NewTelegramAdapter(log, cfg.Channel.TelegramToken))
	registry.MustRegister(discord.NewDiscordAdapter(log, cfg.Channel.DiscordToken))
	registry.MustRegister(localAdapter)
	return registry
}

func provideChannelManager(log *slog.Logger, registry *channel.Registry, router *bot.Router, cfg config.Config) (*channel.Manager, error) {
	active, err := registry.ParseChannelType(cfg.Channel.Type)
	if err != nil {
		return nil, err
	}
	return channel.NewManager(log, registry, router, active), nil
}

func provideScheduleService(log *slog.Logger, store *policy.Store, cfg config.Config) (*schedule.Service, error) {
	return schedule.NewService(log, store, cfg.Storage.BackupDir, cfg.Storage.BackupCron)
}

func provideStateHandler(log *slog.Logger, store *policy.Store, prefix *bot.Prefix, manager *channel.Manager) *handlers.StateHandler {
	return handlers.NewStateHandler(log, store, prefix, manager)
}

func provideHealthHandler(log *slog.Logger, store *policy.Store, manager *channel.Manager) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log,
		channelchecker.NewChecker(log, manager),
		statechecker.NewChecker(log, store),
	)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startScheduleService(lc fx.Lifecycle, scheduleService *schedule.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return scheduleService.Start(ctx) },
		OnStop:  func(ctx context.Context) error { return scheduleService.Stop(ctx) },
	})
}

func startChannelManager(lc fx.Lifecycle, channelManager *channel.Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return channelManager.Start(ctx) },
		OnStop:  func(ctx context.Context) error { return channelManager.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	logger.Info("starting warden",
		slog.String("version", version.Version),
		slog.String("channel", cfg.Channel.Type),
		slog.String("storage", cfg.Storage.Backend),
	)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
