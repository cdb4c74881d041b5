package events

import (
	"context"
	"fmt"
	"time"

	"taskboard/internal/domain"
)

// Log is the append-only sink a Writer stamps events into.
type Log interface {
	AppendEvent(evt domain.ProjectEvent) domain.ProjectEvent
}

type Writer struct {
	Log Log
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, projectID string, evtType domain.EventType, message string, data *domain.EventData) (domain.ProjectEvent, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProjectEvent{}, fmt.Errorf("append event: %w", err)
	}
	if w.Log == nil {
		return domain.ProjectEvent{}, fmt.Errorf("append event: no log configured")
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	return w.Log.AppendEvent(domain.ProjectEvent{
		ProjectID: projectID,
		Type:      evtType,
		Message:   message,
		Timestamp: w.Now().UTC(),
		Data:      data,
	}), nil
}

// StatusMessage is the log line recorded for a successful transition.
func StatusMessage(title string, next domain.Status) string {
	if next == domain.StatusTodo {
		return fmt.Sprintf("Task %q moved to TODO", title)
	}
	return fmt.Sprintf("Task %q moved to %s", title, next)
}

func TaskAddedMessage(title string) string {
	return fmt.Sprintf("New task created: %q", title)
}

func CommentMessage(title string) string {
	return fmt.Sprintf("New comment on %q", title)
}

func UndoMessage(original string) string {
	return "Undid: " + original
}
