package commands

import (
	"strings"

	"github.com/replyflow-io/replyflow/internal/models"
)

// Kind names a directive in the reply vocabulary.
type Kind string

const (
	KindClose     Kind = "close"
	KindReopen    Kind = "reopen"
	KindDue       Kind = "due"
	KindRemoveDue Kind = "remove_due"
	KindTitle     Kind = "title"
	KindLabel     Kind = "label"
)

// definition describes one directive: whether it takes arguments and which
// mutation it maps to.
type definition struct {
	kind     Kind
	needsArg bool
	mutation models.MutationKind
}

var builtins = map[string]definition{
	"close":      {kind: KindClose, mutation: models.MutationClose},
	"reopen":     {kind: KindReopen, mutation: models.MutationReopen},
	"due":        {kind: KindDue, needsArg: true, mutation: models.MutationSetDue},
	"remove_due": {kind: KindRemoveDue, mutation: models.MutationRemoveDue},
	"title":      {kind: KindTitle, needsArg: true, mutation: models.MutationSetTitle},
	"label":      {kind: KindLabel, needsArg: true, mutation: models.MutationAddLabels},
}

// Vocabulary is the set of directives a deployment recognizes.
type Vocabulary map[string]definition

// DefaultVocabulary returns the full built-in directive set.
func DefaultVocabulary() Vocabulary {
	vocab := make(Vocabulary, len(builtins))
	for name, def := range builtins {
		vocab[name] = def
	}
	return vocab
}

// RestrictedVocabulary keeps only the named directives. Unknown names are
// ignored; an empty selection falls back to the full set.
func RestrictedVocabulary(names []string) Vocabulary {
	if len(names) == 0 {
		return DefaultVocabulary()
	}
	vocab := make(Vocabulary, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if def, ok := builtins[key]; ok {
			vocab[key] = def
		}
	}
	if len(vocab) == 0 {
		return DefaultVocabulary()
	}
	return vocab
}

// Command is one recognized directive line.
type Command struct {
	Kind Kind
	Arg  string
	// Line is the position in the reply, used to keep mutation order.
	Line int
}
