package engine

import (
	"context"
	"fmt"

	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/metrics"
)

const nothingToUndo = "Nothing to undo"

// UndoResult reports whether an undo was applied. Not-ok is a normal outcome, not an error.
type UndoResult struct {
	OK      bool
	Message string
	Task    *domain.Task
}

// UndoLastAction reverts the most recent reversible event of the project.
// Events whose shape it cannot reverse, or whose task no longer exists, are skipped.
func (e *Engine) UndoLastAction(ctx context.Context, projectID string) (UndoResult, error) {
	e.mu.Lock()
	res, err := e.undoLocked(ctx, projectID)
	e.mu.Unlock()
	if err != nil {
		return UndoResult{}, err
	}
	metrics.RecordUndo(res.OK)
	if res.OK {
		e.publish(projectID, domain.EventTaskUpdate, *res.Task)
	}
	return res, nil
}

func (e *Engine) undoLocked(ctx context.Context, projectID string) (UndoResult, error) {
	if err := ctx.Err(); err != nil {
		return UndoResult{}, err
	}
	for _, evt := range e.store.RecentProjectEvents(projectID) {
		if !evt.Reversible() {
			continue
		}
		if evt.Type != domain.EventTaskUpdate || evt.Data.Field != "status" {
			continue
		}
		prev, err := domain.ParseStatus(*evt.Data.PreviousValue)
		if err != nil {
			e.logger.Warn().Str("event", evt.ID).Err(err).Msg("skipping unreadable undo candidate")
			continue
		}
		if _, err := e.store.GetTask(evt.Data.TaskID); err != nil {
			continue
		}

		task, err := e.store.SetTaskStatus(evt.Data.TaskID, prev)
		if err != nil {
			return UndoResult{}, err
		}
		if err := e.store.MarkReverted(evt.ID); err != nil {
			return UndoResult{}, err
		}
		if _, err := e.events().Append(ctx, projectID, domain.EventOther, events.UndoMessage(evt.Message), nil); err != nil {
			return UndoResult{}, fmt.Errorf("record undo: %w", err)
		}
		e.logger.Debug().Str("event", evt.ID).Str("task", task.ID).Str("status", string(prev)).Msg("undo applied")
		return UndoResult{OK: true, Message: fmt.Sprintf("Reverted to %s", prev), Task: &task}, nil
	}
	return UndoResult{OK: false, Message: nothingToUndo}, nil
}
