// Package seed holds the dataset a fresh board is populated with.
package seed

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"taskboard/internal/domain"
)

//go:embed seed.yaml
var defaultSeed []byte

// Dataset is the flat form the store keeps: tasks live outside their projects.
type Dataset struct {
	Projects []domain.Project
	Tasks    []domain.Task
	Comments []domain.Comment
	Events   []domain.ProjectEvent
}

type seedFile struct {
	Projects []struct {
		ID          string            `yaml:"id"`
		Name        string            `yaml:"name"`
		Description string            `yaml:"description"`
		Metadata    map[string]string `yaml:"metadata"`
		Tasks       []seedTask        `yaml:"tasks"`
	} `yaml:"projects"`
	Comments []struct {
		ID      string `yaml:"id"`
		TaskID  string `yaml:"task_id"`
		Content string `yaml:"content"`
		Author  string `yaml:"author"`
	} `yaml:"comments"`
	Events []struct {
		ID        string `yaml:"id"`
		ProjectID string `yaml:"project_id"`
		Type      string `yaml:"type"`
		Message   string `yaml:"message"`
	} `yaml:"events"`
}

type seedTask struct {
	ID           string            `yaml:"id"`
	Title        string            `yaml:"title"`
	Description  string            `yaml:"description"`
	Status       string            `yaml:"status"`
	AssignedTo   []string          `yaml:"assigned_to"`
	Priority     string            `yaml:"priority"`
	Tags         []string          `yaml:"tags"`
	CustomFields map[string]string `yaml:"custom_fields"`
	Dependencies []string          `yaml:"dependencies"`
}

// Default returns the embedded dataset, stamping comments and events with now.
func Default(now time.Time) (Dataset, error) {
	return FromYAML(defaultSeed, now)
}

// FromFile reads a dataset from a YAML file on disk.
func FromFile(path string, now time.Time) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("seed: read %s: %w", path, err)
	}
	return FromYAML(data, now)
}

// FromYAML parses and validates a seed document.
func FromYAML(data []byte, now time.Time) (Dataset, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Dataset{}, fmt.Errorf("seed: invalid yaml: %w", err)
	}
	ts := now.UTC()
	var ds Dataset
	seen := map[string]bool{}
	for _, p := range f.Projects {
		if p.ID == "" {
			return Dataset{}, fmt.Errorf("seed: project id is required")
		}
		ds.Projects = append(ds.Projects, domain.Project{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Metadata:    p.Metadata,
		})
		for _, st := range p.Tasks {
			if st.ID == "" || seen[st.ID] {
				return Dataset{}, fmt.Errorf("seed: task id %q missing or duplicated", st.ID)
			}
			seen[st.ID] = true
			task, err := st.toTask(p.ID)
			if err != nil {
				return Dataset{}, err
			}
			ds.Tasks = append(ds.Tasks, task)
		}
	}
	for _, c := range f.Comments {
		author := c.Author
		if author == "" {
			author = "Anonymous"
		}
		ds.Comments = append(ds.Comments, domain.Comment{
			ID:        c.ID,
			TaskID:    c.TaskID,
			Content:   c.Content,
			Author:    author,
			Timestamp: ts,
		})
	}
	for i, e := range f.Events {
		typ := domain.EventType(e.Type)
		if typ == "" {
			typ = domain.EventOther
		}
		ds.Events = append(ds.Events, domain.ProjectEvent{
			ID:        e.ID,
			Seq:       int64(i + 1),
			ProjectID: e.ProjectID,
			Type:      typ,
			Message:   e.Message,
			Timestamp: ts,
		})
	}
	return ds, nil
}

func (st seedTask) toTask(projectID string) (domain.Task, error) {
	status := domain.StatusTodo
	if st.Status != "" {
		parsed, err := domain.ParseStatus(st.Status)
		if err != nil {
			return domain.Task{}, fmt.Errorf("seed: task %s: %w", st.ID, err)
		}
		status = parsed
	}
	priority, err := domain.ParsePriority(st.Priority)
	if err != nil {
		return domain.Task{}, fmt.Errorf("seed: task %s: %w", st.ID, err)
	}
	assigned := st.AssignedTo
	if assigned == nil {
		assigned = []string{}
	}
	deps := st.Dependencies
	if deps == nil {
		deps = []string{}
	}
	return domain.Task{
		ID:          st.ID,
		ProjectID:   projectID,
		Title:       st.Title,
		Description: st.Description,
		Status:      status,
		AssignedTo:  assigned,
		Configuration: domain.TaskConfiguration{
			Priority:     priority,
			Tags:         st.Tags,
			CustomFields: st.CustomFields,
		},
		Dependencies: deps,
	}, nil
}

// Clone returns a deep copy so a store can never mutate the seed it was built from.
func (d Dataset) Clone() Dataset {
	out := Dataset{
		Projects: make([]domain.Project, 0, len(d.Projects)),
		Tasks:    make([]domain.Task, 0, len(d.Tasks)),
		Comments: append(make([]domain.Comment, 0, len(d.Comments)), d.Comments...),
		Events:   make([]domain.ProjectEvent, 0, len(d.Events)),
	}
	for _, p := range d.Projects {
		out.Projects = append(out.Projects, p.Clone())
	}
	for _, t := range d.Tasks {
		out.Tasks = append(out.Tasks, t.Clone())
	}
	for _, e := range d.Events {
		out.Events = append(out.Events, e.Clone())
	}
	return out
}
