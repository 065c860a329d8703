// committail follows the commit topic and prints every posting mutation as
// a JSON line, optionally appending to an archive file. Useful for watching
// index writes live and for feeding downstream replicas.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/searchlite/searchlite/internal/commitlog"
	"github.com/searchlite/searchlite/pkg/config"
	pkgkafka "github.com/searchlite/searchlite/pkg/kafka"
	"github.com/searchlite/searchlite/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	archivePath := flag.String("archive", "", "append mutations to this file as JSON lines")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	var archive *os.File
	if *archivePath != "" {
		archive, err = os.OpenFile(*archivePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			slog.Error("failed to open archive file", "path", *archivePath, "error", err)
			os.Exit(1)
		}
		defer archive.Close()
	}

	out := json.NewEncoder(os.Stdout)
	handler := func(ctx context.Context, key, value []byte) error {
		mut, err := pkgkafka.DecodeJSON[commitlog.Mutation](value)
		if err != nil {
			return err
		}
		if err := out.Encode(mut); err != nil {
			return err
		}
		if archive != nil {
			line, _ := json.Marshal(mut)
			if _, err := archive.Write(append(line, '\n')); err != nil {
				return fmt.Errorf("appending to archive: %w", err)
			}
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer := pkgkafka.NewConsumer(cfg.Kafka, cfg.Kafka.CommitTopic, handler)
	slog.Info("tailing commit topic",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.CommitTopic,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
}
