package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task is a read-only snapshot of a task owned by the entity store.
type Task struct {
	ID           uuid.UUID
	ProjectID    uuid.UUID
	SectionID    uuid.UUID
	ParentTaskID *uuid.UUID

	Title     string
	Assignee  string
	Tags      []string
	Completed bool
	DueDate   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsSubtask reports whether the task has a parent.
func (t Task) IsSubtask() bool {
	return t.ParentTaskID != nil
}

type Section struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Name      string
}
