// README: serve command; wires stores, services, event sinks and the HTTP server.
package main

import (
	"errors"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"hometaste/internal/events"
	httpapi "hometaste/internal/http"
	"hometaste/internal/infra"
	"hometaste/internal/maps"
	"hometaste/internal/modules/assignment"
	"hometaste/internal/modules/dispatch"
	"hometaste/internal/modules/earnings"
	"hometaste/internal/modules/location"
	"hometaste/internal/modules/meal"
	"hometaste/internal/modules/order"
	"hometaste/internal/modules/pricing"
	"hometaste/internal/modules/user"
	"hometaste/internal/notify"
)

func serve(c *cli.Context) error {
	cfg, log, ctx, stop, err := setup(c)
	if err != nil {
		return err
	}
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		return errors.New("HOMETASTE_FIREBASE_PROJECT_ID is required")
	}
	fb, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return err
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, fb)
	if err != nil {
		return err
	}

	if c.Bool("migrate") {
		if err := infra.Migrate(cfg.DB.DSN); err != nil {
			return err
		}
	}
	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	mq, err := infra.ConnectRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
	if err != nil {
		return err
	}
	defer mq.Close()

	userStore := user.NewStore(pool)
	mealStore := meal.NewStore(pool)
	orderStore := order.NewPGStore(pool)

	var distancer pricing.Distancer = pricing.Haversine{}
	var geocoder *maps.GeocodeService
	if cfg.Maps.APIKey != "" {
		route, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		distancer = route
		if geocoder, err = maps.NewGeocodeService(cfg.Maps.APIKey); err != nil {
			return err
		}
	} else {
		log.Warn("no maps api key; using straight-line delivery distance")
	}
	pricingSvc := pricing.NewService(pricing.Rates{
		BaseDeliveryFee: cfg.Pricing.BaseDeliveryFee,
		PerKmFee:        cfg.Pricing.PerKmFee,
		FlatDeliveryFee: cfg.Pricing.FlatDeliveryFee,
		VATBasisPoints:  cfg.Pricing.VATBasisPoints,
		Currency:        cfg.Pricing.Currency,
	}, distancer, pricing.NewStore(pool), log)

	publisher := notify.NewPublisher(mq.Channel, infra.NotificationsExchange, cfg.RabbitMQ.Queue, log)
	geoIndex := location.NewGeoIndex(rdb)
	dispatchSvc := dispatch.NewService(dispatch.NewRedisStore(rdb), geoIndex, userStore, orderStore, publisher, cfg.Dispatch, log)

	broadcaster := events.NewRedisBroadcaster(rdb)
	sinks := events.Fanout{broadcaster, publisher, dispatchSvc}
	if w := infra.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic); w != nil {
		defer w.Close()
		sinks = append(sinks, events.NewKafkaExporter(w))
	}
	dispatcher := events.NewDispatcher(sinks, cfg.Events.Buffer, cfg.Events.Workers, log)

	orderSvc := order.NewService(orderStore, mealStore, userStore, pricingSvc, dispatcher, log)
	if geocoder != nil {
		orderSvc.SetGeocoder(geocoder)
	}
	locationSvc := location.NewService(userStore, geoIndex, orderSvc, dispatcher, log)

	server := httpapi.NewServer(cfg.HTTP.Addr, httpapi.ServerDeps{
		Verifier:   verifier,
		Users:      user.NewService(userStore),
		Meals:      meal.NewService(mealStore, userStore, cfg.Pricing.Currency),
		Orders:     orderSvc,
		Assignment: assignment.NewService(orderSvc, log),
		Earnings:   earnings.NewService(earnings.NewStore(pool), userStore, cfg.Pricing.Currency),
		Location:   locationSvc,
		Tracker:    broadcaster,
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		dispatchSvc.RunScheduler(gctx)
		return nil
	})
	g.Go(func() error { return server.Run(gctx) })
	err = g.Wait()
	if dropped := dispatcher.Dropped(); dropped > 0 {
		log.WithField("dropped", dropped).Warn("events dropped while running")
	}
	return err
}
