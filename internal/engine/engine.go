package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/gate"
	"taskboard/internal/metrics"
	"taskboard/internal/notify"
	"taskboard/internal/seed"
	"taskboard/internal/store"
)

// ErrBlocked classifies transitions refused by the dependency gate.
var ErrBlocked = errors.New("blocked")

// BlockedError carries the unchanged task and the dependencies that are not done.
type BlockedError struct {
	Task  domain.Task
	Unmet []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("Blocked: dependencies not DONE (%s)", strings.Join(e.Unmet, ", "))
}

func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }

// Engine owns one board. Every public method is atomic with respect to the others;
// notifications go out after the engine lock is released.
type Engine struct {
	Now func() time.Time

	mu       sync.Mutex
	store    *store.Store
	notifier *notify.Notifier
	logger   zerolog.Logger
}

func New(ds seed.Dataset, logger zerolog.Logger) *Engine {
	return &Engine{
		Now:      time.Now,
		store:    store.New(ds),
		notifier: notify.New(logger),
		logger:   logger.With().Str("component", "engine").Logger(),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) events() events.Writer {
	return events.Writer{Log: e.store, Now: e.now}
}

// Subscribe attaches sub to the project's change feed.
func (e *Engine) Subscribe(projectID string, sub notify.Subscriber) *notify.Subscription {
	return e.notifier.Subscribe(projectID, sub)
}

func (e *Engine) publish(projectID string, evtType domain.EventType, payload any) {
	metrics.RecordMutation(string(evtType))
	e.notifier.Publish(projectID, evtType, payload)
}

func (e *Engine) ListProjects() []domain.Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ListProjects()
}

func (e *Engine) GetProject(id string) (domain.Project, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.GetProject(id)
}

func (e *Engine) TasksByProject(projectID string) []domain.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.TasksByProject(projectID)
}

func (e *Engine) GetTask(id string) (domain.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.GetTask(id)
}

func (e *Engine) ListComments(taskID string) []domain.Comment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ListComments(taskID)
}

func (e *Engine) ListProjectEvents(projectID string) []domain.ProjectEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ListProjectEvents(projectID)
}

// Reset restores the seed dataset. Subscribers stay attached.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Reset()
	e.logger.Info().Msg("board reset to seed")
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ProjectID    string
	Title        string
	Description  string
	AssignedTo   []string
	Priority     domain.Priority
	Tags         []string
	CustomFields map[string]string
	Dependencies []string
}

// CreateTask appends a todo task. The project is not required to exist.
func (e *Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, fmt.Errorf("title is required: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(opts.ProjectID) == "" {
		return domain.Task{}, fmt.Errorf("projectId is required: %w", domain.ErrValidation)
	}
	priority, err := domain.ParsePriority(string(opts.Priority))
	if err != nil {
		return domain.Task{}, err
	}
	assigned := append([]string{}, opts.AssignedTo...)
	deps := append([]string{}, opts.Dependencies...)

	e.mu.Lock()
	task := e.store.InsertTask(domain.Task{
		ProjectID:   opts.ProjectID,
		Title:       title,
		Description: opts.Description,
		Status:      domain.StatusTodo,
		AssignedTo:  assigned,
		Configuration: domain.TaskConfiguration{
			Priority:     priority,
			Tags:         opts.Tags,
			CustomFields: opts.CustomFields,
		},
		Dependencies: deps,
	})
	_, err = e.events().Append(ctx, task.ProjectID, domain.EventTaskAdd, events.TaskAddedMessage(task.Title), &domain.EventData{TaskID: task.ID})
	e.mu.Unlock()
	if err != nil {
		return task, err
	}

	e.logger.Debug().Str("task", task.ID).Str("project", task.ProjectID).Msg("task created")
	e.publish(task.ProjectID, domain.EventTaskAdd, task)
	return task, nil
}

// UpdateTaskStatus moves a task to target. Leaving todo requires every dependency
// to be done; on refusal the unchanged task is returned with a *BlockedError.
func (e *Engine) UpdateTaskStatus(ctx context.Context, taskID string, target domain.Status) (domain.Task, error) {
	target, err := domain.ParseStatus(string(target))
	if err != nil {
		return domain.Task{}, err
	}

	e.mu.Lock()
	current, err := e.store.GetTask(taskID)
	if err != nil {
		e.mu.Unlock()
		return domain.Task{}, err
	}
	if target != domain.StatusTodo {
		if unmet := gate.Unmet(current, e.store.Lookup); len(unmet) > 0 {
			e.mu.Unlock()
			metrics.RecordBlocked()
			e.logger.Debug().Str("task", taskID).Strs("unmet", unmet).Msg("transition blocked")
			return current, &BlockedError{Task: current, Unmet: unmet}
		}
	}
	updated, err := e.store.SetTaskStatus(taskID, target)
	if err != nil {
		e.mu.Unlock()
		return current, err
	}
	_, err = e.events().Append(ctx, updated.ProjectID, domain.EventTaskUpdate,
		events.StatusMessage(updated.Title, target), domain.StatusChange(taskID, current.Status, target))
	if err != nil {
		if _, rbErr := e.store.SetTaskStatus(taskID, current.Status); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback %s: %w", taskID, rbErr))
		}
		e.mu.Unlock()
		return current, err
	}
	e.mu.Unlock()

	e.publish(updated.ProjectID, domain.EventTaskUpdate, updated)
	return updated, nil
}

// AddComment stores a comment. Comments on unknown tasks are kept but produce
// neither an event nor a notification.
func (e *Engine) AddComment(ctx context.Context, taskID, content, author string) (domain.Comment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Comment{}, err
	}
	if strings.TrimSpace(content) == "" {
		return domain.Comment{}, fmt.Errorf("content is required: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(taskID) == "" {
		return domain.Comment{}, fmt.Errorf("taskId is required: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(author) == "" {
		author = "Anonymous"
	}

	e.mu.Lock()
	comment := e.store.InsertComment(domain.Comment{
		TaskID:    taskID,
		Content:   content,
		Author:    author,
		Timestamp: e.now().UTC(),
	})
	task, lookupErr := e.store.GetTask(taskID)
	if lookupErr != nil {
		e.mu.Unlock()
		return comment, nil
	}
	_, err := e.events().Append(ctx, task.ProjectID, domain.EventCommentAdd, events.CommentMessage(task.Title), &domain.EventData{TaskID: taskID})
	e.mu.Unlock()
	if err != nil {
		return comment, err
	}

	e.publish(task.ProjectID, domain.EventCommentAdd, comment)
	return comment, nil
}
