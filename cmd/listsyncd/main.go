package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hyp3rd/listsync"
	"github.com/hyp3rd/listsync/internal/libs/redisclient"
	"github.com/hyp3rd/listsync/internal/libs/serializer"
	"github.com/hyp3rd/listsync/pkg/buffer"
	"github.com/hyp3rd/listsync/pkg/handoff"
	"github.com/hyp3rd/listsync/pkg/middleware"
	"github.com/hyp3rd/listsync/pkg/notifier"
	"github.com/hyp3rd/listsync/pkg/orchestrator"
	"github.com/hyp3rd/listsync/pkg/queue"
	"github.com/hyp3rd/listsync/pkg/shard"
)

func main() {
	logger := log.New(os.Stderr, "listsyncd ", log.LstdFlags)

	err := run(logger)
	if err != nil {
		logger.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

//nolint:funlen // wiring the full pipeline in one place keeps the startup order readable
func run(logger *log.Logger) error {
	config, err := listsync.NewConfigFromEnv()
	if err != nil {
		return err
	}

	handoffCodec, err := serializer.New("msgpack")
	if err != nil {
		return err
	}

	registry := shard.NewRegistry()

	for _, descriptor := range config.Shards {
		client, err := redisclient.New(redisclient.WithURL(descriptor.ConnectionURL))
		if err != nil {
			return err
		}

		defer client.Close()

		store, err := shard.NewRedisStore(client)
		if err != nil {
			return err
		}

		err = registry.Add(descriptor, store)
		if err != nil {
			return err
		}
	}

	queueClient, err := redisclient.New(redisclient.WithURL(config.QueueURL))
	if err != nil {
		return err
	}

	defer queueClient.Close()

	jobQueue, err := queue.NewRedisQueue(queueClient)
	if err != nil {
		return err
	}

	handoffEnqueuer, err := handoff.NewEnqueuer(jobQueue, handoffCodec)
	if err != nil {
		return err
	}

	router, err := shard.NewRouter(registry,
		shard.WithReplication(config.Replication),
		shard.WithWriteQuorum(config.WriteQuorum),
		shard.WithReadQuorum(config.ReadQuorum),
		shard.WithVirtualNodes(config.VirtualNodes),
		shard.WithHandoff(handoffEnqueuer),
	)
	if err != nil {
		return err
	}

	engine, err := buffer.NewEngine(router, jobQueue)
	if err != nil {
		return err
	}

	service := middleware.NewLoggingMiddleware(engine, logger)

	publisher, err := notifier.NewRedisPublisher(queueClient)
	if err != nil {
		return err
	}

	coordinator, err := orchestrator.New(service, publisher, logger)
	if err != nil {
		return err
	}

	handoffWorker, err := handoff.NewWorker(registry, handoffCodec, logger)
	if err != nil {
		return err
	}

	worker := queue.NewWorker(jobQueue, logger)
	scheduler := queue.NewScheduler(jobQueue, logger)

	handoffWorker.Register(worker)
	coordinator.Register(worker, scheduler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = scheduler.Start(ctx)
	if err != nil {
		return err
	}

	defer scheduler.Stop()

	logger.Printf("listsyncd started with %d shards, replication %d (W=%d R=%d)",
		registry.Len(), config.Replication, config.WriteQuorum, config.ReadQuorum)

	err = worker.Start(ctx)
	if err != nil {
		return err
	}

	<-ctx.Done()

	logger.Printf("shutting down")
	worker.Stop()

	return nil
}
