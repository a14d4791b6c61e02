// Package main is the replyflow CLI: one-shot ingestion of a raw message
// and reply-key management for outbound notifications.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/replyflow-io/replyflow/internal/commands"
	"github.com/replyflow-io/replyflow/internal/config"
	"github.com/replyflow-io/replyflow/internal/database"
	"github.com/replyflow-io/replyflow/internal/email/inbound/connector"
	"github.com/replyflow-io/replyflow/internal/email/inbound/filters"
	"github.com/replyflow-io/replyflow/internal/email/inbound/postmaster"
	"github.com/replyflow-io/replyflow/internal/models"
	"github.com/replyflow-io/replyflow/internal/repository"
	"github.com/replyflow-io/replyflow/internal/service"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPathFlag string

var rootCmd = &cobra.Command{
	Use:   "replyflow",
	Short: "Reply-by-email ingestion for tracked work items",
	Long: `replyflow turns inbound email replies into comments on the issues and
merge requests the original notifications were sent for, including any
slash commands embedded in the reply body.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var processCmd = &cobra.Command{
	Use:   "process <message-file>",
	Short: "Run one raw RFC 5322 message through the reply pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcess,
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Mint a reply key for an outbound notification",
	Long: `Mint records a sent notification and prints the reply key and the
sub-addressed reply address to stamp on the outgoing email.`,
	RunE: runNotify,
}

var (
	noteableTypeFlag string
	noteableIDFlag   int
	recipientFlag    int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", ".", "Directory containing config.yaml")

	notifyCmd.Flags().StringVar(&noteableTypeFlag, "noteable-type", "issue", "Noteable kind: issue or merge_request")
	notifyCmd.Flags().IntVar(&noteableIDFlag, "noteable-id", 0, "Noteable id (required)")
	notifyCmd.Flags().IntVar(&recipientFlag, "recipient", 0, "Recipient user id (required)")
	notifyCmd.MarkFlagRequired("noteable-id")
	notifyCmd.MarkFlagRequired("recipient")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(notifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, *sql.DB, error) {
	if err := config.Load(configPathFlag); err != nil {
		return nil, nil, err
	}
	cfg := config.Get()
	if err := database.Init(&cfg.Database); err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	db, err := database.GetDB()
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read message: %w", err)
	}

	logger := log.New(os.Stderr, "[PROCESS] ", log.LstdFlags)
	processor := buildProcessor(cfg, db, logger)
	chain := filters.NewChain(
		filters.NewAutoReplyFilter(logger, cfg.Inbound.AutoReplyHeaders),
		filters.NewReplyKeyFilter(logger, cfg.Inbound.ReplyAddress, cfg.Inbound.KeyDelimiter),
	)

	msg := &connector.FetchedMessage{
		Connector:  "cli",
		UID:        args[0],
		ReceivedAt: time.Now().UTC(),
		SizeBytes:  int64(len(raw)),
		Raw:        raw,
	}
	ctx := context.Background()
	meta := &filters.MessageContext{Message: msg, Annotations: map[string]any{}}
	if err := chain.Run(ctx, meta); err != nil {
		return fmt.Errorf("rejected (%s): %w", postmaster.Classify(err), err)
	}
	result, err := processor.Process(ctx, msg, meta)
	if err != nil {
		return fmt.Errorf("rejected (%s): %w", postmaster.Classify(err), err)
	}
	fmt.Printf("%s: note=%d mutations=%d dropped=%d attachments=%d\n",
		result.Action, result.NoteID, result.MutationsApplied, result.CommandsDropped, result.Attachments)
	return nil
}

func runNotify(cmd *cobra.Command, args []string) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	kind := models.NoteableKind(noteableTypeFlag)
	if kind != models.NoteableKindIssue && kind != models.NoteableKindMergeRequest {
		return fmt.Errorf("unknown noteable type %q", noteableTypeFlag)
	}

	ctx := context.Background()
	noteable, err := repository.NewNoteableRepository(db).Find(ctx, kind, noteableIDFlag)
	if err != nil {
		return fmt.Errorf("find noteable: %w", err)
	}
	recipient, err := repository.NewUserRepository(db).GetByID(ctx, recipientFlag)
	if err != nil {
		return fmt.Errorf("find recipient: %w", err)
	}

	host := replyHost(cfg)
	keys := service.NewReplyKeyService(repository.NewSentNotificationRepository(db), host)
	notification, err := keys.Mint(ctx, noteable, recipient)
	if err != nil {
		return fmt.Errorf("mint reply key: %w", err)
	}

	fmt.Printf("key: %s\n", notification.ReplyKey)
	if cfg.Inbound.SubAddressingEnabled() {
		fmt.Printf("reply-to: %s\n", cfg.Inbound.ReplyAddressFor(notification.ReplyKey))
	}
	fmt.Printf("references: %s\n", keys.ReferenceID(notification.ReplyKey))
	return nil
}

func buildProcessor(cfg *config.Config, db *sql.DB, logger *log.Logger) *postmaster.ReplyProcessor {
	notifications := repository.NewSentNotificationRepository(db)
	noteables := repository.NewNoteableRepository(db)
	users := repository.NewUserRepository(db)
	notes := repository.NewNoteRepository(db)

	perms := service.NewPermissionService(users, logger)
	cmdOpts := []commands.ProcessorOption{commands.WithLogger(logger)}
	if len(cfg.Inbound.Commands) > 0 {
		cmdOpts = append(cmdOpts, commands.WithVocabulary(commands.RestrictedVocabulary(cfg.Inbound.Commands)))
	}

	opts := []postmaster.ReplyProcessorOption{
		postmaster.WithReplyProcessorLogger(logger),
		postmaster.WithReplyProcessorAttachmentStore(repository.NewAttachmentRepository(db)),
		postmaster.WithReplyProcessorTodoNotifier(service.NewTodoService(repository.NewTodoRepository(db), logger)),
	}
	if cfg.Storage.Path != "" {
		opts = append(opts, postmaster.WithReplyProcessorStorage(
			service.NewFilesystemStorageService(cfg.Storage.Path, cfg.Storage.BaseURL)))
	}
	return postmaster.NewReplyProcessor(notifications, noteables, users,
		commands.NewProcessor(perms, cmdOpts...), notes, opts...)
}

func replyHost(cfg *config.Config) string {
	address := cfg.Inbound.ReplyAddress
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == '@' {
			return address[i+1:]
		}
	}
	return "localhost"
}
