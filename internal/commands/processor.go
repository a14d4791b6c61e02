package commands

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/replyflow-io/replyflow/internal/models"
)

// PermissionChecker is the single capability question asked per directive.
type PermissionChecker interface {
	CanMutate(ctx context.Context, user *models.User, noteable models.Noteable, kind models.MutationKind) (bool, error)
}

// Result carries what the processor decided for one reply.
type Result struct {
	// Residual is the prose body left after directive removal.
	Residual string
	// Mutations are the authorized state changes, ordered for application.
	// Later directives on the same attribute have already overwritten
	// earlier ones.
	Mutations []models.NoteableMutation
	// CommandsOnly is set when the reply carried directives and no prose.
	CommandsOnly bool
	// Dropped counts directives discarded for missing capability or bad
	// arguments.
	Dropped int
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// Processor turns directive lines into queued noteable mutations, enforcing
// the capability check per directive. Unauthorized directives are dropped
// silently: the note still posts, the directive has no effect.
type Processor struct {
	perms  PermissionChecker
	vocab  Vocabulary
	logger *log.Logger
	now    func() time.Time
}

// NewProcessor builds a command processor around a permission checker.
func NewProcessor(perms PermissionChecker, opts ...ProcessorOption) *Processor {
	p := &Processor{
		perms:  perms,
		vocab:  DefaultVocabulary(),
		logger: log.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// WithVocabulary restricts the recognized directive set.
func WithVocabulary(vocab Vocabulary) ProcessorOption {
	return func(p *Processor) {
		if len(vocab) > 0 {
			p.vocab = vocab
		}
	}
}

// WithLogger overrides the logger used for diagnostics.
func WithLogger(logger *log.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// Process parses the reply text and queues the mutations the identity is
// allowed to apply. Nothing is mutated here; the queue is applied later
// inside the note transaction.
func (p *Processor) Process(ctx context.Context, text string, identity *models.User, noteable models.Noteable) (Result, error) {
	parsed := Parse(text, p.vocab)
	result := Result{
		Residual:     parsed.Residual,
		CommandsOnly: parsed.CommandsOnly,
	}

	var queued []models.NoteableMutation
	for _, cmd := range parsed.Commands {
		mutation, ok := p.buildMutation(cmd)
		if !ok {
			result.Dropped++
			continue
		}
		allowed, err := p.checkCapability(ctx, identity, noteable, mutation.Kind)
		if err != nil || !allowed {
			p.logf("commands: dropping /%s for user %d", cmd.Kind, userID(identity))
			result.Dropped++
			continue
		}
		queued = append(queued, mutation)
	}
	result.Mutations = compressMutations(queued)
	return result, nil
}

func (p *Processor) buildMutation(cmd Command) (models.NoteableMutation, bool) {
	switch cmd.Kind {
	case KindClose:
		return models.NoteableMutation{Kind: models.MutationClose}, true
	case KindReopen:
		return models.NoteableMutation{Kind: models.MutationReopen}, true
	case KindRemoveDue:
		return models.NoteableMutation{Kind: models.MutationRemoveDue}, true
	case KindTitle:
		return models.NoteableMutation{Kind: models.MutationSetTitle, Title: cmd.Arg}, true
	case KindLabel:
		labels := parseLabels(cmd.Arg)
		if len(labels) == 0 {
			return models.NoteableMutation{}, false
		}
		return models.NoteableMutation{Kind: models.MutationAddLabels, Labels: labels}, true
	case KindDue:
		due, err := ParseDueDate(cmd.Arg, p.now())
		if err != nil {
			p.logf("commands: %v", err)
			return models.NoteableMutation{}, false
		}
		return models.NoteableMutation{Kind: models.MutationSetDue, DueDate: &due}, true
	default:
		return models.NoteableMutation{}, false
	}
}

func (p *Processor) checkCapability(ctx context.Context, identity *models.User, noteable models.Noteable, kind models.MutationKind) (bool, error) {
	if p.perms == nil {
		return false, nil
	}
	return p.perms.CanMutate(ctx, identity, noteable, kind)
}

// compressMutations keeps the last mutation per attribute so two due
// directives in one reply yield one write, at the position of the later
// directive.
func compressMutations(mutations []models.NoteableMutation) []models.NoteableMutation {
	if len(mutations) < 2 {
		return mutations
	}
	last := make(map[string]int, len(mutations))
	for i, m := range mutations {
		last[mutationAttribute(m.Kind)] = i
	}
	out := make([]models.NoteableMutation, 0, len(last))
	for i, m := range mutations {
		if last[mutationAttribute(m.Kind)] == i {
			out = append(out, m)
		}
	}
	return out
}

func mutationAttribute(kind models.MutationKind) string {
	switch kind {
	case models.MutationClose, models.MutationReopen:
		return "state"
	case models.MutationSetDue, models.MutationRemoveDue:
		return "due"
	default:
		return string(kind)
	}
}

// parseLabels splits a label directive argument on commas and whitespace.
func parseLabels(arg string) []string {
	fields := strings.FieldsFunc(arg, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	labels := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			labels = append(labels, f)
		}
	}
	return labels
}

func userID(user *models.User) int {
	if user == nil {
		return 0
	}
	return user.ID
}

func (p *Processor) logf(format string, args ...any) {
	if p == nil || p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}
