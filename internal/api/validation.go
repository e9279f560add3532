package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-automation/internal/domain"
)

// buildEvent validates req and converts it to a user-initiated domain event
// at depth 0.
func buildEvent(req PublishEventRequest, projectID uuid.UUID, now time.Time) (domain.DomainEvent, error) {
	if req.Type == "" {
		return domain.DomainEvent{}, fmt.Errorf("type is required")
	}
	eventType := domain.EventType(req.Type)
	if !eventType.Triggerable() {
		return domain.DomainEvent{}, fmt.Errorf("unsupported event type %q", req.Type)
	}

	if req.EntityID == "" {
		return domain.DomainEvent{}, fmt.Errorf("entity_id is required")
	}
	entityID, err := uuid.Parse(req.EntityID)
	if err != nil {
		return domain.DomainEvent{}, fmt.Errorf("invalid entity_id")
	}

	event := domain.DomainEvent{
		ID:             uuid.New(),
		Type:           eventType,
		EntityID:       entityID,
		ScopeID:        projectID,
		Changes:        req.Changes,
		PreviousValues: req.PreviousValues,
		OccurredAt:     now,
	}

	if req.SectionID != "" {
		if event.SectionID, err = uuid.Parse(req.SectionID); err != nil {
			return domain.DomainEvent{}, fmt.Errorf("invalid section_id")
		}
	}
	if req.OccurredAt != "" {
		if event.OccurredAt, err = time.Parse(time.RFC3339, req.OccurredAt); err != nil {
			return domain.DomainEvent{}, fmt.Errorf("invalid occurred_at: must be RFC3339")
		}
		event.OccurredAt = event.OccurredAt.UTC()
	}

	if req.Task != nil {
		task, err := buildTask(*req.Task, projectID)
		if err != nil {
			return domain.DomainEvent{}, err
		}
		event.Task = &task
		if event.SectionID == uuid.Nil {
			event.SectionID = task.SectionID
		}
	}
	if req.Section != nil {
		id, err := uuid.Parse(req.Section.ID)
		if err != nil {
			return domain.DomainEvent{}, fmt.Errorf("invalid section.id")
		}
		event.Section = &domain.Section{ID: id, ProjectID: projectID, Name: req.Section.Name}
	}

	return event, nil
}

func buildTask(s TaskSnapshot, projectID uuid.UUID) (domain.Task, error) {
	task := domain.Task{
		ProjectID: projectID,
		Title:     s.Title,
		Assignee:  s.Assignee,
		Tags:      s.Tags,
		Completed: s.Completed,
	}

	var err error
	if task.ID, err = uuid.Parse(s.ID); err != nil {
		return domain.Task{}, fmt.Errorf("invalid task.id")
	}
	if s.SectionID != "" {
		if task.SectionID, err = uuid.Parse(s.SectionID); err != nil {
			return domain.Task{}, fmt.Errorf("invalid task.section_id")
		}
	}
	if s.ParentTaskID != "" {
		parent, err := uuid.Parse(s.ParentTaskID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("invalid task.parent_task_id")
		}
		task.ParentTaskID = &parent
	}
	if s.DueDate != "" {
		due, err := time.Parse(time.RFC3339, s.DueDate)
		if err != nil {
			return domain.Task{}, fmt.Errorf("invalid task.due_date: must be RFC3339")
		}
		due = due.UTC()
		task.DueDate = &due
	}
	return task, nil
}
