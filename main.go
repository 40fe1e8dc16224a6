package main

import (
	"context"
	"os"
	"time"

	"cleanspot/admission"
	"cleanspot/approval"
	"cleanspot/config"
	"cleanspot/database"
	"cleanspot/events"
	"cleanspot/geo"
	"cleanspot/points"
	"cleanspot/ratelimit"
	"cleanspot/server"
	"cleanspot/status"
	"cleanspot/tasks"
	"cleanspot/verification"

	"github.com/apex/log"
	geojson "github.com/paulmach/go.geojson"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Info("Initializing database schema and running migrations...")
	if err := database.InitializeSchema(db); err != nil {
		log.Fatalf("Failed to initialize database schema: %v", err)
	}

	limiter := ratelimit.NewLimiter(connectRedis(cfg))
	publisher := connectPublisher(cfg)
	defer publisher.Close()

	machine := status.NewMachine(db, publisher)
	pointsSvc := points.NewService(db)
	admissionSvc := admission.NewService(db, limiter, publisher, cfg)
	verificationSvc := verification.NewService(db, machine, cfg)
	approvalSvc := approval.NewService(db, machine, pointsSvc, publisher)
	taskSvc := tasks.NewService(db, loadZones(cfg))

	go reconcileLoop(pointsSvc, cfg.ReconcileInterval)

	srv := server.New(cfg, admissionSvc, machine, verificationSvc, approvalSvc, pointsSvc, taskSvc, limiter)
	if err := srv.Run(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// connectRedis returns nil when Redis is unreachable; the limiter then
// degrades to the transactional checks only.
func connectRedis(cfg *config.Config) ratelimit.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warnf("Redis unavailable at %s, rate limiting degraded: %v", cfg.RedisAddr, err)
		return nil
	}
	log.Infof("Connected to Redis at %s", cfg.RedisAddr)
	return rdb
}

// connectPublisher returns a nil publisher when no broker is configured;
// domain events are then dropped with a log line.
func connectPublisher(cfg *config.Config) *events.Publisher {
	if cfg.AMQPURL == "" {
		log.Warn("AMQP_URL not set, domain events disabled")
		return nil
	}
	pub, err := events.NewPublisher(cfg.AMQPURL, cfg.EventExchange)
	if err != nil {
		log.Warnf("RabbitMQ unavailable, domain events disabled: %v", err)
		return nil
	}
	log.Infof("Connected to RabbitMQ, publishing to exchange %s", cfg.EventExchange)
	return pub
}

// loadZones reads the worker zone polygons. A missing or empty path
// means zone filters match everything.
func loadZones(cfg *config.Config) *geo.ZoneIndex {
	if cfg.ZonesFile == "" {
		return nil
	}
	raw, err := os.ReadFile(cfg.ZonesFile)
	if err != nil {
		log.Fatalf("Failed to read zones file %s: %v", cfg.ZonesFile, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		log.Fatalf("Failed to parse zones file %s: %v", cfg.ZonesFile, err)
	}
	zones, err := geo.NewZoneIndex(fc.Features)
	if err != nil {
		log.Fatalf("Failed to index zones from %s: %v", cfg.ZonesFile, err)
	}
	log.Infof("Loaded %d worker zones from %s", len(fc.Features), cfg.ZonesFile)
	return zones
}

// reconcileLoop retries parked point credits until the process exits.
func reconcileLoop(pointsSvc *points.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := pointsSvc.Reconcile(context.Background()); err != nil {
			log.Errorf("Points reconciliation pass failed: %v", err)
		}
	}
}
