package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"example.com/twissandra/cmd/server"
	"example.com/twissandra/cmd/worker"
	appkafka "example.com/twissandra/internal/broker"
	"example.com/twissandra/internal/feed"
	config "example.com/twissandra/internal/init"
	"example.com/twissandra/internal/store"
)

func main() {
	// Initialize application configuration
	cfg := config.Init()
	mode := cfg.Mode

	// Initialize the storage backend (Cassandra unless STORE_BACKEND=memory)
	st, err := store.New(cfg)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()

	// Configure Kafka client parameters
	kafkaCfg := appkafka.KafkaConfig{
		Brokers:      []string{cfg.KafkaBroker},
		Topic:        cfg.KafkaTopic,
		GroupID:      cfg.KafkaGroupID,
		WriteTimeout: cfg.KafkaWriteTO,
		ReadTimeout:  cfg.KafkaReadTO,
	}

	deliverer := feed.NewDeliverer(st, st, cfg.FanoutConcurrency, cfg.FanoutFollowerLimit)

	// Setup OS signal handling for graceful shutdown (SIGINT, SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run application depending on selected mode
	switch mode {
	case "server":
		var dispatcher feed.Dispatcher = deliverer
		if cfg.FanoutMode == config.FanoutQueue {
			kafkaWriter, err := appkafka.NewKafkaWriter(kafkaCfg)
			if err != nil {
				log.Fatalf("Kafka writer init failed: %v", err)
			}
			defer kafkaWriter.Close()
			// Publish fan-out jobs; deliver inline if the broker rejects them
			dispatcher = &feed.QueueDispatcher{Writer: kafkaWriter, Fallback: deliverer}
		}

		s := server.New(server.Options{
			Store:       st,
			Reader:      feed.NewReader(st, st),
			Writer:      feed.NewWriter(st, st, dispatcher),
			PageSize:    cfg.FeedPageSize,
			MaxPageSize: cfg.FeedMaxPageSize,
		})
		server.Run(ctx, s, cfg.ServerAddr, server.TLS{CertFile: cfg.ServerTLSCert, KeyFile: cfg.ServerTLSKey})
	case "worker":
		// Start the worker that reads fan-out jobs from Kafka and writes timelines
		w := worker.New(deliverer, appkafka.NewKafkaReader(kafkaCfg), cfg.WorkerCount, cfg.WorkerQueueSize)
		w.DrainTimeout = cfg.WorkerDrainTimeout
		w.Run(ctx)
		if err := w.Close(); err != nil {
			log.Printf("worker close: %v", err)
		}
	default:
		log.Fatalf("unknown mode: %s", mode)
	}

	log.Println("Shutdown completed")
}
