package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"farmdispatch/internal/app"
	"farmdispatch/internal/config"
	"farmdispatch/internal/logging"
	"farmdispatch/internal/messaging"
	"farmdispatch/internal/repository/postgres"
	"farmdispatch/internal/service"
)

func main() {
	cliApp := &cli.App{
		Name:   "farmdispatch-notifier",
		Usage:  "consume rider matched tasks and run their follow-ups",
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("notifier exited with error")
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.NewLogger(cfg.Log)

	if len(cfg.Kafka.Brokers) == 0 {
		return cli.Exit("KAFKA_BROKERS is required", 2)
	}

	nrApp := app.NewRelicApp(cfg.NewRelic, log)
	if nrApp != nil {
		defer nrApp.Shutdown(5 * time.Second)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := app.NewDatabase(connectCtx, cfg.Database, nrApp)
	cancel()
	if err != nil {
		return err
	}
	defer db.Close()

	handler := service.NewRiderMatchedHandler(
		postgres.NewConversationRepository(db),
		postgres.NewOrderRepository(db),
		service.NewNotificationService(nil, log),
		log,
	)

	consumer := messaging.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, log)
	defer consumer.Close()

	log.WithFields(logrus.Fields{
		"topic": cfg.Kafka.Topic,
		"group": cfg.Kafka.GroupID,
	}).Info("notifier consuming")

	return consumer.Run(ctx, handler.Handle)
}
