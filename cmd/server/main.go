// Package main runs the replyflow daemon: mailbox polling, the reply
// pipeline, and the metrics endpoint.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/replyflow-io/replyflow/internal/commands"
	"github.com/replyflow-io/replyflow/internal/config"
	"github.com/replyflow-io/replyflow/internal/database"
	"github.com/replyflow-io/replyflow/internal/email/inbound/filters"
	"github.com/replyflow-io/replyflow/internal/email/inbound/postmaster"
	"github.com/replyflow-io/replyflow/internal/repository"
	"github.com/replyflow-io/replyflow/internal/runner"
	"github.com/replyflow-io/replyflow/internal/runner/tasks"
	"github.com/replyflow-io/replyflow/internal/service"
)

func main() {
	configPath := flag.String("config", ".", "Directory containing config.yaml")
	flag.Parse()

	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags)

	if err := config.Load(*configPath); err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.Get()

	if err := database.Init(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	db, err := database.GetDB()
	if err != nil {
		logger.Fatalf("Database unavailable: %v", err)
	}
	defer db.Close()

	pipeline := buildPipeline(cfg, db, logger)

	taskOpts := []tasks.InboundMailTaskOption{}
	if cfg.Redis.Host != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		dedup := service.NewDedupService(client, cfg.Redis.Dedup.Prefix, cfg.Redis.Dedup.TTL)
		taskOpts = append(taskOpts, tasks.WithInboundMailDedup(dedup))
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg, logger)
	}

	r := runner.NewRunner(tasks.NewInboundMailTask(&cfg.Inbound, pipeline, taskOpts...))
	if err := r.Start(context.Background()); err != nil {
		logger.Fatalf("Runner exited: %v", err)
	}
}

func buildPipeline(cfg *config.Config, db *sql.DB, logger *log.Logger) postmaster.Service {
	notifications := repository.NewSentNotificationRepository(db)
	noteables := repository.NewNoteableRepository(db)
	users := repository.NewUserRepository(db)
	notes := repository.NewNoteRepository(db)

	perms := service.NewPermissionService(users, logger)
	cmdOpts := []commands.ProcessorOption{commands.WithLogger(logger)}
	if len(cfg.Inbound.Commands) > 0 {
		cmdOpts = append(cmdOpts, commands.WithVocabulary(commands.RestrictedVocabulary(cfg.Inbound.Commands)))
	}
	runner := commands.NewProcessor(perms, cmdOpts...)

	parserOpts := []postmaster.MessageParserOption{postmaster.WithParserLogger(logger)}
	if cfg.Inbound.BodyLimit > 0 {
		parserOpts = append(parserOpts, postmaster.WithParserBodyLimit(cfg.Inbound.BodyLimit))
	}
	if cfg.Inbound.AttachmentLimit > 0 {
		parserOpts = append(parserOpts, postmaster.WithParserAttachmentLimit(cfg.Inbound.AttachmentLimit))
	}

	procOpts := []postmaster.ReplyProcessorOption{
		postmaster.WithReplyProcessorLogger(logger),
		postmaster.WithReplyProcessorParser(postmaster.NewMessageParser(parserOpts...)),
		postmaster.WithReplyProcessorAttachmentStore(repository.NewAttachmentRepository(db)),
		postmaster.WithReplyProcessorTodoNotifier(service.NewTodoService(repository.NewTodoRepository(db), logger)),
	}
	if cfg.Storage.Path != "" {
		procOpts = append(procOpts, postmaster.WithReplyProcessorStorage(
			service.NewFilesystemStorageService(cfg.Storage.Path, cfg.Storage.BaseURL)))
	}

	processor := postmaster.NewReplyProcessor(notifications, noteables, users, runner, notes, procOpts...)

	chain := filters.NewChain(
		filters.NewAutoReplyFilter(logger, cfg.Inbound.AutoReplyHeaders),
		filters.NewReplyKeyFilter(logger, cfg.Inbound.ReplyAddress, cfg.Inbound.KeyDelimiter),
	)
	return postmaster.Service{FilterChain: chain, Handler: processor}
}

func serveMetrics(cfg *config.Config, logger *log.Logger) {
	path := cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Printf("Serving metrics on %s%s", addr, path)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("Metrics server exited: %v", err)
	}
}
