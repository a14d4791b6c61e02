package postmaster

import (
	"context"

	"github.com/replyflow-io/replyflow/internal/email/inbound/connector"
	"github.com/replyflow-io/replyflow/internal/email/inbound/filters"
	"github.com/replyflow-io/replyflow/internal/metrics"
)

// Processor handles one filtered inbound message.
type Processor interface {
	Process(ctx context.Context, msg *connector.FetchedMessage, meta *filters.MessageContext) (Result, error)
}

// Result tracks what happened to a message.
type Result struct {
	NoteID           int
	Action           string // note_created, commands_applied, rejected, error
	MutationsApplied int
	CommandsDropped  int
	Attachments      int
}

// Service wires connectors, filters, and the reply processor together. It
// implements connector.Handler.
type Service struct {
	FilterChain filters.Chain
	Handler     Processor
}

// Handle runs the filter chain then the processor, recording the outcome.
func (s Service) Handle(ctx context.Context, msg *connector.FetchedMessage) error {
	ctxMsg := &filters.MessageContext{
		Account:     msg.AccountSnapshot(),
		Message:     msg,
		Annotations: map[string]any{},
	}
	if err := s.FilterChain.Run(ctx, ctxMsg); err != nil {
		metrics.RepliesProcessed.WithLabelValues(Classify(err)).Inc()
		return err
	}
	result, err := s.Handler.Process(ctx, msg, ctxMsg)
	metrics.RepliesProcessed.WithLabelValues(Classify(err)).Inc()
	if result.Attachments > 0 {
		metrics.AttachmentsStored.Add(float64(result.Attachments))
	}
	return err
}
