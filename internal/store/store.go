// Package store keeps the board's projects, tasks, comments and events in memory.
//
// A Store is not safe for concurrent use; the engine serialises access to it.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"taskboard/internal/domain"
	"taskboard/internal/seed"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	seed seed.Dataset

	projects []domain.Project
	tasks    []domain.Task
	comments []domain.Comment
	events   []domain.ProjectEvent

	nextTask    int
	nextComment int
	nextEvent   int
	nextSeq     int64
}

// New builds a store populated with a private copy of ds.
func New(ds seed.Dataset) *Store {
	s := &Store{seed: ds.Clone()}
	s.Reset()
	return s
}

// Reset discards every mutation and restores the seed dataset and id counters.
func (s *Store) Reset() {
	ds := s.seed.Clone()
	s.projects = ds.Projects
	s.tasks = ds.Tasks
	s.comments = ds.Comments
	s.events = ds.Events

	s.nextTask = nextID("t", len(s.tasks), func(i int) string { return s.tasks[i].ID })
	s.nextComment = nextID("c", len(s.comments), func(i int) string { return s.comments[i].ID })
	s.nextEvent = nextID("e", len(s.events), func(i int) string { return s.events[i].ID })
	s.nextSeq = 0
	for _, evt := range s.events {
		if evt.Seq > s.nextSeq {
			s.nextSeq = evt.Seq
		}
	}
	s.nextSeq++
}

// nextID returns the first counter value that cannot collide with an existing id.
func nextID(prefix string, n int, id func(int) string) int {
	next := n + 1
	for i := 0; i < n; i++ {
		raw, ok := strings.CutPrefix(id(i), prefix)
		if !ok {
			continue
		}
		if v, err := strconv.Atoi(raw); err == nil && v >= next {
			next = v + 1
		}
	}
	return next
}

func (s *Store) ListProjects() []domain.Project {
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, s.withTasks(p))
	}
	return out
}

func (s *Store) GetProject(id string) (domain.Project, error) {
	for _, p := range s.projects {
		if p.ID == id {
			return s.withTasks(p), nil
		}
	}
	return domain.Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
}

func (s *Store) withTasks(p domain.Project) domain.Project {
	out := p.Clone()
	out.Tasks = s.TasksByProject(p.ID)
	return out
}

// TasksByProject returns the project's tasks in insertion order. Unknown projects yield an empty list.
func (s *Store) TasksByProject(projectID string) []domain.Task {
	out := []domain.Task{}
	for _, t := range s.tasks {
		if t.ProjectID == projectID {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (s *Store) GetTask(id string) (domain.Task, error) {
	if i := s.taskIndex(id); i >= 0 {
		return s.tasks[i].Clone(), nil
	}
	return domain.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
}

// Lookup is the dependency resolver handed to the gate.
func (s *Store) Lookup(id string) (domain.Task, bool) {
	if i := s.taskIndex(id); i >= 0 {
		return s.tasks[i], true
	}
	return domain.Task{}, false
}

func (s *Store) taskIndex(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// InsertTask assigns the next task id and appends t.
func (s *Store) InsertTask(t domain.Task) domain.Task {
	t.ID = "t" + strconv.Itoa(s.nextTask)
	s.nextTask++
	s.tasks = append(s.tasks, t.Clone())
	return t
}

// SetTaskStatus overwrites a task's status and returns the updated task.
func (s *Store) SetTaskStatus(id string, status domain.Status) (domain.Task, error) {
	i := s.taskIndex(id)
	if i < 0 {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	s.tasks[i].Status = status
	return s.tasks[i].Clone(), nil
}

// ListComments returns a task's comments oldest first; equal timestamps keep insertion order.
func (s *Store) ListComments(taskID string) []domain.Comment {
	out := []domain.Comment{}
	for _, c := range s.comments {
		if c.TaskID == taskID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// InsertComment assigns the next comment id and appends c.
func (s *Store) InsertComment(c domain.Comment) domain.Comment {
	c.ID = "c" + strconv.Itoa(s.nextComment)
	s.nextComment++
	s.comments = append(s.comments, c)
	return c
}

// ListProjectEvents returns a project's events newest first, ties broken by append order.
func (s *Store) ListProjectEvents(projectID string) []domain.ProjectEvent {
	out := []domain.ProjectEvent{}
	for _, e := range s.events {
		if e.ProjectID == projectID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Seq > out[j].Seq
	})
	return out
}

// RecentProjectEvents returns a project's events in reverse append order,
// independent of their timestamps.
func (s *Store) RecentProjectEvents(projectID string) []domain.ProjectEvent {
	out := []domain.ProjectEvent{}
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ProjectID == projectID {
			out = append(out, s.events[i].Clone())
		}
	}
	return out
}

// AppendEvent assigns id and sequence number and appends evt to the log.
func (s *Store) AppendEvent(evt domain.ProjectEvent) domain.ProjectEvent {
	evt.ID = "e" + strconv.Itoa(s.nextEvent)
	s.nextEvent++
	evt.Seq = s.nextSeq
	s.nextSeq++
	evt.Reverted = false
	evt = evt.Clone()
	s.events = append(s.events, evt)
	return evt.Clone()
}

// MarkReverted flags an event as undone. It is the only mutation the log allows.
func (s *Store) MarkReverted(eventID string) error {
	for i := range s.events {
		if s.events[i].ID == eventID {
			s.events[i].Reverted = true
			return nil
		}
	}
	return fmt.Errorf("event %s: %w", eventID, ErrNotFound)
}
