package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation marks input that is missing or malformed.
var ErrValidation = errors.New("validation failed")

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// ParseStatus accepts only the three board statuses; anything else is a validation error.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.TrimSpace(raw)); s {
	case StatusTodo, StatusInProgress, StatusDone:
		return s, nil
	case "":
		return "", fmt.Errorf("status is required: %w", ErrValidation)
	default:
		return "", fmt.Errorf("invalid status %q: %w", raw, ErrValidation)
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority defaults an empty value to medium.
func ParsePriority(raw string) (Priority, error) {
	switch p := Priority(strings.TrimSpace(raw)); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	default:
		return "", fmt.Errorf("invalid priority %q: %w", raw, ErrValidation)
	}
}

type EventType string

const (
	EventTaskUpdate EventType = "task_update"
	EventCommentAdd EventType = "comment_add"
	EventTaskAdd    EventType = "task_add"
	EventOther      EventType = "other"
)

type Project struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Tasks       []Task            `json:"tasks"`
}

type TaskConfiguration struct {
	Priority     Priority          `json:"priority" enum:"low,medium,high"`
	Tags         []string          `json:"tags,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

type Task struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"projectId"`
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	Status        Status            `json:"status" enum:"todo,in_progress,done"`
	AssignedTo    []string          `json:"assignedTo"`
	Configuration TaskConfiguration `json:"configuration"`
	Dependencies  []string          `json:"dependencies"`
}

type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp" format:"date-time"`
}

// EventData carries what is needed to reverse a mutation.
type EventData struct {
	TaskID        string  `json:"taskId,omitempty"`
	Field         string  `json:"field,omitempty"`
	PreviousValue *string `json:"previousValue,omitempty"`
	NewValue      *string `json:"newValue,omitempty"`
}

type ProjectEvent struct {
	ID        string     `json:"id"`
	Seq       int64      `json:"seq"`
	ProjectID string     `json:"projectId"`
	Type      EventType  `json:"type" enum:"task_update,comment_add,task_add,other"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp" format:"date-time"`
	Data      *EventData `json:"data,omitempty"`
	Reverted  bool       `json:"reverted"`
}

// Reversible reports whether the event still carries an undoable prior value.
func (e ProjectEvent) Reversible() bool {
	return e.Data != nil && e.Data.PreviousValue != nil && !e.Reverted
}

func (p Project) Clone() Project {
	out := p
	out.Metadata = cloneMap(p.Metadata)
	if p.Tasks != nil {
		out.Tasks = make([]Task, len(p.Tasks))
		for i, t := range p.Tasks {
			out.Tasks[i] = t.Clone()
		}
	}
	return out
}

func (t Task) Clone() Task {
	out := t
	out.AssignedTo = cloneSlice(t.AssignedTo)
	out.Dependencies = cloneSlice(t.Dependencies)
	out.Configuration.Tags = cloneSlice(t.Configuration.Tags)
	out.Configuration.CustomFields = cloneMap(t.Configuration.CustomFields)
	return out
}

func (e ProjectEvent) Clone() ProjectEvent {
	out := e
	if e.Data != nil {
		d := *e.Data
		d.PreviousValue = clonePtr(e.Data.PreviousValue)
		d.NewValue = clonePtr(e.Data.NewValue)
		out.Data = &d
	}
	return out
}

// StatusChange builds the reversible payload for a status transition.
func StatusChange(taskID string, from, to Status) *EventData {
	prev, next := string(from), string(to)
	return &EventData{TaskID: taskID, Field: "status", PreviousValue: &prev, NewValue: &next}
}

func cloneSlice(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clonePtr(in *string) *string {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}
