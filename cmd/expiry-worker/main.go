package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-inventory/internal/adapters/crdb"
	"github.com/robertarktes/seat-inventory/internal/adapters/rabbit"
	"github.com/robertarktes/seat-inventory/internal/config"
	"github.com/robertarktes/seat-inventory/internal/inventory"
	"github.com/robertarktes/seat-inventory/internal/observability"
)

// The expiry worker frees expired holds ahead of the next hold attempt so
// seat maps stop showing them as taken. Holds expire lazily without it.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "seats-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	opts := []inventory.Option{
		inventory.WithConfig(cfg),
		inventory.WithLogger(logger),
		inventory.WithPublisher(rabbitPub),
	}
	holds := inventory.NewHoldManager(inventory.NewController(repo, opts...), opts...)
	reaper := inventory.NewReaper(repo, holds, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reaper.Run(ctx, cfg.ReaperInterval)
	logger.WithField("interval", cfg.ReaperInterval.String()).Info("Expiry worker started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}
