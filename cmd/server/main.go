package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"farmdispatch/internal/app"
	"farmdispatch/internal/config"
	"farmdispatch/internal/geo"
	"farmdispatch/internal/handler"
	"farmdispatch/internal/logging"
	"farmdispatch/internal/messaging"
	"farmdispatch/internal/realtime"
	internalRedis "farmdispatch/internal/redis"
	"farmdispatch/internal/repository/postgres"
	"farmdispatch/internal/routing"
	"farmdispatch/internal/service"
)

func main() {
	cliApp := &cli.App{
		Name:  "farmdispatch",
		Usage: "order-to-rider dispatch for farm deliveries",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "steps",
						Usage: "number of migrations to apply, negative to roll back, 0 for all",
					},
				},
				Action: migrateDB,
			},
			{
				Name:   "sweep",
				Usage:  "expire overdue offers once and exit",
				Action: sweep,
			},
		},
		DefaultCommand: "serve",
	}

	if err := cliApp.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("farmdispatch exited with error")
	}
}

// env holds the process-wide connections shared by all commands.
type env struct {
	cfg   *config.Config
	log   *logrus.Logger
	nrApp *newrelic.Application
	db    *sqlx.DB
	redis *redis.Client
}

func bootstrap(ctx context.Context, withRedis bool) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logging.NewLogger(cfg.Log)
	rt := &env{cfg: cfg, log: log}

	// Initialize New Relic FIRST (before database so we can instrument DB).
	rt.nrApp = app.NewRelicApp(cfg.NewRelic, log)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rt.db, err = app.NewDatabase(connectCtx, cfg.Database, rt.nrApp)
	if err != nil {
		return nil, err
	}
	log.Info("connected to PostgreSQL")

	if withRedis {
		rt.redis, err = app.NewRedisClient(connectCtx, cfg.Redis, rt.nrApp)
		if err != nil {
			_ = rt.db.Close()
			return nil, err
		}
		log.Info("connected to Redis")
	}

	return rt, nil
}

func (rt *env) close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	_ = rt.db.Close()
	if rt.nrApp != nil {
		rt.nrApp.Shutdown(5 * time.Second)
	}
}

func migrateDB(c *cli.Context) error {
	rt, err := bootstrap(c.Context, false)
	if err != nil {
		return err
	}
	defer rt.close()

	return app.Migrate(rt.db, c.Int("steps"), rt.log)
}

func sweep(c *cli.Context) error {
	rt, err := bootstrap(c.Context, true)
	if err != nil {
		return err
	}
	defer rt.close()

	sweeper := service.NewExpirySweeper(
		postgres.NewPingRepository(rt.db),
		internalRedis.NewLockStore(rt.redis),
		rt.cfg.Dispatch.SweeperInterval,
		rt.log,
	)
	n, err := sweeper.SweepOnce(c.Context)
	if err != nil {
		return err
	}
	rt.log.WithField("expired", n).Info("sweep finished")
	return nil
}

func serve(c *cli.Context) error {
	rt, err := bootstrap(c.Context, true)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, background, closeFn, err := wireServer(rt)
	if err != nil {
		return err
	}
	defer closeFn()

	for _, run := range background {
		go run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		rt.log.WithField("port", rt.cfg.Server.Port).Info("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	rt.log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	rt.log.Info("server exited")
	return nil
}

// wireServer wires all dependencies and returns the HTTP server, the background loops to
// start, and a func releasing what was created here.
func wireServer(rt *env) (*http.Server, []func(context.Context), func(), error) {
	cfg := rt.cfg
	log := rt.log

	// Initialize Redis stores.
	locationStore := internalRedis.NewLocationStore(rt.redis)
	lockStore := internalRedis.NewLockStore(rt.redis)
	cacheStore := internalRedis.NewCacheStore(rt.redis)
	idempotencyStore := internalRedis.NewIdempotencyStore(rt.redis)

	// Initialize repositories.
	orderRepo := postgres.NewOrderRepository(rt.db)
	tripRepo := postgres.NewTripRepository(rt.db)
	stopRepo := postgres.NewStopRepository(rt.db)
	pingRepo := postgres.NewPingRepository(rt.db)
	conversationRepo := postgres.NewConversationRepository(rt.db)
	transactor := postgres.NewTransactor(rt.db)

	router, err := routing.New(cfg.Routing)
	if err != nil {
		return nil, nil, nil, err
	}

	// Initialize services.
	hub := realtime.NewHub(log)
	notificationService := service.NewNotificationService(hub, log)
	eligibility := geo.NewEligibilityClient(rt.db)
	pingFactory := service.NewPingFactory(eligibility, orderRepo, pingRepo, notificationService, cfg.Dispatch, log)
	recalculator := service.NewRouteRecalculator(tripRepo, stopRepo, locationStore, router, cacheStore, cfg.Dispatch.MaxDetourRatio, log)
	offerService := service.NewOfferService(pingRepo, orderRepo)
	tripService := service.NewTripService(tripRepo, stopRepo, locationStore, cacheStore, recalculator, log)

	var publisher interface {
		service.EventPublisher
		Close() error
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = messaging.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.WithField("topic", cfg.Kafka.Topic).Info("rider matched tasks go to kafka")
	} else {
		matched := service.NewRiderMatchedHandler(conversationRepo, orderRepo, notificationService, log)
		publisher = messaging.NewAsyncPublisher(matched.Handle, cfg.Dispatch.NotifyQueueSize, log)
		log.Info("rider matched tasks handled in-process")
	}

	responder := service.NewPingResponder(service.PingResponderDeps{
		Tx:        transactor,
		Pings:     pingRepo,
		Capacity:  service.NewCapacityLedger(tripRepo, log),
		Stops:     service.NewStopSequencer(transactor),
		Routes:    recalculator,
		Publisher: publisher,
		Logger:    log,
	})

	var background []func(context.Context)
	if cfg.Dispatch.SweeperEnabled {
		sweeper := service.NewExpirySweeper(pingRepo, lockStore, cfg.Dispatch.SweeperInterval, log)
		background = append(background, sweeper.Run)
	}

	// Create router.
	engine := app.NewRouter(app.RouterDeps{
		PingHandler:      handler.NewPingHandler(responder, offerService, hub, log),
		OrderHandler:     handler.NewOrderHandler(pingFactory, offerService),
		TripHandler:      handler.NewTripHandler(tripService),
		IdempotencyStore: idempotencyStore,
		NewRelicApp:      rt.nrApp,
		Logger:           log,
	})

	// Create HTTP server.
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	closeFn := func() {
		if err := publisher.Close(); err != nil {
			log.WithError(err).Warn("failed to close rider matched publisher")
		}
	}

	return server, background, closeFn, nil
}
