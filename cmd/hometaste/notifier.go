// README: notifier command; drains the notification queue into FCM pushes.
package main

import (
	"github.com/urfave/cli/v2"

	"hometaste/internal/infra"
	"hometaste/internal/modules/user"
	"hometaste/internal/notify"
)

func notifier(c *cli.Context) error {
	cfg, log, ctx, stop, err := setup(c)
	if err != nil {
		return err
	}
	defer stop()

	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	var sender notify.Sender = notify.LogSender{Log: log}
	if !c.Bool("dry-run") {
		fb, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		client, err := infra.NewFirebaseMessaging(ctx, fb)
		if err != nil {
			return err
		}
		sender = notify.NewFCMSender(client, log)
	}

	mq, err := infra.ConnectRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
	if err != nil {
		return err
	}
	defer mq.Close()
	deliveries, err := mq.Consume(c.Int("prefetch"))
	if err != nil {
		return err
	}

	worker := notify.NewWorker(user.NewStore(pool), sender, log)
	log.WithField("queue", cfg.RabbitMQ.Queue).Info("notifier consuming")
	return worker.Run(ctx, deliveries)
}
