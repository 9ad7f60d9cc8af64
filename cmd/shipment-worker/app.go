package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/config"
	"github.com/BearBump/ShipBox/internal/broker/kafka"
	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/cache/rediscache"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/network"
	"github.com/BearBump/ShipBox/internal/services/consolidation"
	"github.com/BearBump/ShipBox/internal/services/fleet"
	"github.com/BearBump/ShipBox/internal/services/scheduler"
	"github.com/BearBump/ShipBox/internal/services/shipments"
	"github.com/BearBump/ShipBox/internal/storage/pgshipping"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// storage is everything the worker needs from Postgres.
type storage interface {
	consolidation.Repository
	fleet.Repository
	shipments.Repository
	scheduler.Repository
	UpsertVehicle(ctx context.Context, v *models.Vehicle) error
	GetVehicle(ctx context.Context, id uint64) (*models.Vehicle, error)
	Ping(ctx context.Context) error
}

type publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

type kafkaConsumer interface {
	ConsumeStatusChanges(ctx context.Context, apply kafka.StatusApplier) error
	Close() error
}

type workerFactories struct {
	newStorage  func(cfg *config.Config) (st storage, closeFn func(), err error)
	newProducer func(cfg *config.Config) publisher
	newConsumer func(cfg *config.Config, topic, group string) kafkaConsumer
	newRedis    func(cfg *config.Config) *redis.Client
}

func connString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func brokers(cfg *config.Config) []string {
	return []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (storage, func(), error) {
			st, err := openPostgresWithRetry(connString(cfg), 60*time.Second)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) publisher {
			return kafka.NewProducer(brokers(cfg))
		},
		newConsumer: func(cfg *config.Config, topic, group string) kafkaConsumer {
			return kafka.NewConsumer(brokers(cfg), topic, group).WithSkip(unapplicableStatus)
		},
		newRedis: func(cfg *config.Config) *redis.Client {
			return redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)})
		},
	}
}

func openPostgresWithRetry(connString string, wait time.Duration) (*pgshipping.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgshipping.New(connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	return nil, fmt.Errorf("postgres is not ready after %s: %w", wait, lastErr)
}

type workerOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)
}

// settings are the config values with defaults applied.
type settings struct {
	topicCreated  string
	topicAssigned string
	topicStatus   string
	consumerGroup string

	cacheTTL        time.Duration
	batchInterval   time.Duration
	assignInterval  time.Duration
	assignBatchSize int
	concurrency     int
	lease           time.Duration
	lockTTL         time.Duration
	maxIDAttempts   int
	manualPerMinute int64
	planner         fleet.PlannerConfig
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func resolveSettings(cfg *config.Config) settings {
	s := settings{
		topicCreated:    cfg.Kafka.ShipmentCreatedTopicName,
		topicAssigned:   cfg.Kafka.VehicleAssignedTopicName,
		topicStatus:     cfg.Kafka.ShipmentStatusChangedTopicName,
		consumerGroup:   cfg.ShipBox.KafkaConsumerGroup,
		cacheTTL:        seconds(cfg.ShipBox.CurrentStatusTTLSeconds),
		batchInterval:   seconds(cfg.ShipBox.BatchIntervalSeconds),
		assignInterval:  seconds(cfg.ShipBox.AssignIntervalSeconds),
		assignBatchSize: cfg.ShipBox.AssignBatchSize,
		concurrency:     cfg.ShipBox.AssignConcurrency,
		lease:           seconds(cfg.ShipBox.AssignLeaseSeconds),
		lockTTL:         seconds(cfg.ShipBox.BatchLockTTLSeconds),
		maxIDAttempts:   cfg.ShipBox.MaxIDAttempts,
		manualPerMinute: int64(cfg.ShipBox.ManualBatchesPerMinute),
		planner: fleet.PlannerConfig{
			Backoff1: seconds(cfg.ShipBox.AssignBackoff1Seconds),
			Backoff2: seconds(cfg.ShipBox.AssignBackoff2Seconds),
			Backoff3: seconds(cfg.ShipBox.AssignBackoff3Seconds),
			Backoff4: seconds(cfg.ShipBox.AssignBackoff4Seconds),
			Jitter:   seconds(cfg.ShipBox.AssignJitterSeconds),
		},
	}
	if s.topicCreated == "" {
		s.topicCreated = kafka.TopicShipmentCreated
	}
	if s.topicAssigned == "" {
		s.topicAssigned = kafka.TopicVehicleAssigned
	}
	if s.topicStatus == "" {
		s.topicStatus = kafka.TopicShipmentStatusChanged
	}
	if s.consumerGroup == "" {
		s.consumerGroup = "shipment-worker"
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = 10 * time.Minute
	}
	if s.batchInterval <= 0 {
		s.batchInterval = 5 * time.Minute
	}
	if s.assignInterval <= 0 {
		s.assignInterval = 10 * time.Second
	}
	if s.assignBatchSize <= 0 {
		s.assignBatchSize = 50
	}
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	if s.lease <= 0 {
		s.lease = 2 * time.Minute
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 2 * time.Minute
	}
	if s.maxIDAttempts <= 0 {
		s.maxIDAttempts = 5
	}
	if s.manualPerMinute <= 0 {
		s.manualPerMinute = 6
	}
	return s
}

func buildJobs(cfg *config.Config, net *network.Network) ([]scheduler.Job, error) {
	jobs := make([]scheduler.Job, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		if !net.Has(j.Center) {
			return nil, fmt.Errorf("job %s/%s: %w", j.Center, j.DeliveryType, consolidation.ErrUnknownCenter)
		}
		jobs = append(jobs, scheduler.Job{
			Center:       j.Center,
			DeliveryType: models.DeliveryType(j.DeliveryType),
			StaffID:      j.StaffID,
		})
	}
	return jobs, nil
}

// seedFleet upserts the configured vehicles. New ones start available at home.
func seedFleet(ctx context.Context, st storage, net *network.Network, fleetCfg []config.VehicleConfig) error {
	for _, vc := range fleetCfg {
		if !net.Has(vc.HomeCenter) {
			return fmt.Errorf("vehicle %s: %w", vc.Plate, consolidation.ErrUnknownCenter)
		}
		v := &models.Vehicle{
			Plate:          vc.Plate,
			HomeCenter:     vc.HomeCenter,
			CurrentCenter:  vc.HomeCenter,
			Available:      true,
			WeightCapacity: decimal.NewFromFloat(vc.WeightCapacityKg),
			VolumeCapacity: decimal.NewFromFloat(vc.VolumeCapacityM3),
		}
		if vc.DriverID != "" {
			d := vc.DriverID
			v.DriverID = &d
		}
		if err := st.UpsertVehicle(ctx, v); err != nil {
			return err
		}
	}
	if len(fleetCfg) > 0 {
		slog.Info("fleet seeded", "vehicles", len(fleetCfg))
	}
	return nil
}

// unapplicableStatus reports status messages that can never succeed: they are
// logged and committed so they do not block the partition.
func unapplicableStatus(err error) bool {
	return errors.Is(err, pgshipping.ErrNotFound) || errors.Is(err, shipments.ErrInvalidUpdate)
}

func statusApplier(svc *shipments.Service) kafka.StatusApplier {
	return func(ctx context.Context, m messages.ShipmentStatusChanged) error {
		_, err := svc.ApplyStatusUpdate(ctx, m)
		return err
	}
}

func RunShipmentWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerOpts) error {
	s := resolveSettings(cfg)

	net, err := cfg.BuildNetwork()
	if err != nil {
		return err
	}
	tbl, err := cfg.BuildLimits()
	if err != nil {
		return err
	}
	jobs, err := buildJobs(cfg, net)
	if err != nil {
		return err
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	if err := seedFleet(ctx, st, net, cfg.Fleet); err != nil {
		return err
	}

	producer := f.newProducer(cfg)
	defer func() { _ = producer.Close() }()

	rc := f.newRedis(cfg)
	defer func() { _ = rc.Close() }()
	cache := rediscache.NewWithClient(rc)
	locker := rediscache.NewLocker(rc)
	rl := rediscache.NewRateLimiter(rc)

	batches := consolidation.NewService(consolidation.NewBuilder(net, tbl, nil), st, producer, locker, s.topicCreated).
		WithSettings(s.maxIDAttempts, s.lockTTL)
	shipSvc := shipments.New(st, cache, s.cacheTTL)
	assigner := fleet.NewAssigner(net, tbl, nil, st, batches.Allocator(), producer, s.topicAssigned).
		WithPlanner(fleet.NewPlanner(s.planner, nil)).
		WithInvalidator(shipSvc).
		WithLocker(locker, s.lockTTL)

	sched := scheduler.New(batches, st, assigner, jobs).
		WithSettings(s.batchInterval, s.assignInterval, s.assignBatchSize, s.concurrency, s.lease)

	consumer := f.newConsumer(cfg, s.topicStatus, s.consumerGroup)
	defer func() { _ = consumer.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- sched.Run(ctx) }()
	go func() {
		slog.Info("kafka consumer started", "topic", s.topicStatus, "group", s.consumerGroup)
		errCh <- consumer.ConsumeStatusChanges(ctx, statusApplier(shipSvc))
	}()
	go func() {
		errCh <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    opts.httpAddr,
			swaggerPath: opts.swaggerPath,
			onListen:    opts.onListen,
			scheduler:   sched,
			batches:     batches,
			shipments:   shipSvc,
			vehicles:    st,
			limiter:     rl,
			manualLimit: s.manualPerMinute,
			ready:       st.Ping,
			cfg:         cfg,
		})
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if ctx.Err() == nil {
			return err
		}
	}
	return ctx.Err()
}
