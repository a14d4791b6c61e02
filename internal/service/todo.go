package service

import (
	"context"
	"log"

	"github.com/replyflow-io/replyflow/internal/models"
	"github.com/replyflow-io/replyflow/internal/repository"
)

// TodoService surfaces follow-up items to users after a reply lands.
// Delivery is fire-and-forget from the pipeline's point of view.
type TodoService struct {
	todos  *repository.TodoRepository
	logger *log.Logger
}

// NewTodoService binds the todo creation to its repository.
func NewTodoService(todos *repository.TodoRepository, logger *log.Logger) *TodoService {
	if logger == nil {
		logger = log.Default()
	}
	return &TodoService{todos: todos, logger: logger}
}

// NotifyNoteCreated records a pending todo for the acting identity. Errors
// are logged, never escalated: a missed todo must not fail the reply.
func (s *TodoService) NotifyNoteCreated(ctx context.Context, noteable models.Noteable, identity *models.User, note *models.Note) {
	if noteable == nil || identity == nil || note == nil {
		return
	}
	todo := &models.Todo{
		UserID:       identity.ID,
		NoteableType: noteable.NoteableKind(),
		NoteableID:   noteable.NoteableID(),
		NoteID:       note.ID,
		Action:       "note_created",
	}
	if err := s.todos.Create(ctx, todo); err != nil {
		s.logger.Printf("todo: create failed for note %d: %v", note.ID, err)
	}
}
