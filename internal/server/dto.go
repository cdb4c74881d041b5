package server

import (
	"taskboard/internal/domain"
)

// Request payloads

type CreateTaskRequest struct {
	Title        string            `json:"title" minLength:"1"`
	Description  string            `json:"description,omitempty"`
	AssignedTo   []string          `json:"assignedTo,omitempty"`
	Priority     string            `json:"priority,omitempty" enum:"low,medium,high"`
	Tags         []string          `json:"tags,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
}

// CreateTaskWithProjectRequest is the body of POST /tasks, which names the project inline.
type CreateTaskWithProjectRequest struct {
	ProjectID string `json:"projectId" minLength:"1"`
	CreateTaskRequest
}

type UpdateTaskRequest struct {
	Status string `json:"status" doc:"One of todo, in_progress, done"`
}

type CreateCommentRequest struct {
	Content string `json:"content" minLength:"1"`
	Author  string `json:"author,omitempty"`
}

// CreateCommentWithTaskRequest is the body of POST /comments.
type CreateCommentWithTaskRequest struct {
	TaskID string `json:"taskId" minLength:"1"`
	CreateCommentRequest
}

// Response payloads

type projectList struct {
	Items []domain.Project `json:"items"`
}

type taskList struct {
	Items []domain.Task `json:"items"`
}

type commentList struct {
	Items []domain.Comment `json:"items"`
}

type eventList struct {
	Items []domain.ProjectEvent `json:"items"`
}

type UndoResponse struct {
	Message string       `json:"message"`
	Task    *domain.Task `json:"task,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// streamFrame is the websocket message shape; SSE carries the same data as separate fields.
type streamFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}
