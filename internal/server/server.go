package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/metrics"
	"taskboard/internal/ratelimit"
	"taskboard/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine       *engine.Engine
	BasePath     string
	Limiter      ratelimit.Limiter
	AllowReset   bool
	Heartbeat    time.Duration
	StreamBuffer int
	Logger       zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"blocked"`
	Message string         `json:"message" example:"Blocked: dependencies not DONE (t2)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type identityKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the task board API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.Unlimited{}
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 64
	}
	metrics.RegisterMetrics()

	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(requestLogger(cfg.Logger))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), identityKey{}, ratelimit.Identity(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})

	hcfg := huma.DefaultConfig("Taskboard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine, cfg.Limiter)
	registerTasks(group, cfg.Engine, cfg.Limiter)
	registerComments(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	if cfg.AllowReset {
		registerAdmin(group, cfg.Engine)
	}
	if err := registerOpenAPI(router, api, basePath); err != nil {
		return nil, err
	}

	streams := &streamer{
		engine:    cfg.Engine,
		heartbeat: cfg.Heartbeat,
		buffer:    cfg.StreamBuffer,
		logger:    cfg.Logger.With().Str("component", "stream").Logger(),
	}
	router.Get(path.Join(basePath, "projects/{project_id}/stream"), streams.serveSSE)
	router.Get(path.Join(basePath, "projects/{project_id}/ws"), streams.serveWS)
	router.Handle("/metrics", promhttp.Handler())

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var blocked *engine.BlockedError
	switch {
	case errors.As(err, &blocked):
		return newAPIError(http.StatusConflict, "blocked", err.Error(), map[string]any{
			"task":  blocked.Task,
			"unmet": blocked.Unmet,
		})
	case errors.Is(err, store.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrValidation):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, ratelimit.ErrThrottled):
		return newAPIError(http.StatusTooManyRequests, "throttled", "Too many requests", nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "throttled"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// throttle charges one token to the caller's identity.
func throttle(ctx context.Context, limiter ratelimit.Limiter) error {
	identity, _ := ctx.Value(identityKey{}).(string)
	if limiter.Allow(identity) {
		return nil
	}
	metrics.RecordThrottled()
	return fmt.Errorf("identity %s: %w", identity, ratelimit.ErrThrottled)
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

// registerOpenAPI serves the document as it stands once every operation is
// registered. It is rendered here so requests never touch the shared model.
func registerOpenAPI(r chi.Router, api huma.API, basePath string) error {
	oas := api.OpenAPI()
	ensureDefaultErrorResponses(oas)
	spec, err := json.Marshal(oas)
	if err != nil {
		return fmt.Errorf("render openapi: %w", err)
	}
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
	return nil
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil || oas.Components == nil || oas.Components.Schemas == nil {
		return
	}
	errSchema := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: errSchema},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Taskboard API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body statusResponse `json:"body"`
	}, error) {
		return &struct {
			Body statusResponse `json:"body"`
		}{Body: statusResponse{Status: "ok"}}, nil
	})
}

func registerProjects(api huma.API, e *engine.Engine, limiter ratelimit.Limiter) {
	type projectPath struct {
		ProjectID string `path:"project_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects with their tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body projectList `json:"body"`
	}, error) {
		return &struct {
			Body projectList `json:"body"`
		}{Body: projectList{Items: e.ListProjects()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.GetProject(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status"`
	}) (*struct {
		Body taskList `json:"body"`
	}, error) {
		tasks := e.TasksByProject(input.ProjectID)
		if input.Status != "" {
			want, err := domain.ParseStatus(input.Status)
			if err != nil {
				return nil, handleError(err)
			}
			filtered := []domain.Task{}
			for _, t := range tasks {
				if t.Status == want {
					filtered = append(filtered, t)
				}
			}
			tasks = filtered
		}
		return &struct {
			Body taskList `json:"body"`
		}{Body: taskList{Items: tasks}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if err := throttle(ctx, limiter); err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreateTask(ctx, createOptions(input.ProjectID, input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "undo",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/undo",
		Summary:     "Undo the most recent reversible change",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body UndoResponse `json:"body"`
	}, error) {
		res, err := e.UndoLastAction(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if !res.OK {
			return nil, newAPIError(http.StatusBadRequest, "nothing_to_undo", res.Message, nil)
		}
		return &struct {
			Body UndoResponse `json:"body"`
		}{Body: UndoResponse{Message: res.Message, Task: res.Task}}, nil
	})
}

func createOptions(projectID string, body CreateTaskRequest) engine.TaskCreateOptions {
	return engine.TaskCreateOptions{
		ProjectID:    projectID,
		Title:        body.Title,
		Description:  body.Description,
		AssignedTo:   body.AssignedTo,
		Priority:     domain.Priority(body.Priority),
		Tags:         body.Tags,
		CustomFields: body.CustomFields,
		Dependencies: body.Dependencies,
	}
}

func registerTasks(api huma.API, e *engine.Engine, limiter ratelimit.Limiter) {
	type taskPath struct {
		TaskID string `path:"task_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task in the project named by the body",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskWithProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if err := throttle(ctx, limiter); err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreateTask(ctx, createOptions(input.Body.ProjectID, input.Body.CreateTaskRequest))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.GetTask(input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Change task status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusTooManyRequests,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if err := throttle(ctx, limiter); err != nil {
			return nil, handleError(err)
		}
		t, err := e.UpdateTaskStatus(ctx, input.TaskID, domain.Status(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerComments(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-task-comments",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/comments",
		Summary:     "List comments on a task",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body commentList `json:"body"`
	}, error) {
		return &struct {
			Body commentList `json:"body"`
		}{Body: commentList{Items: e.ListComments(input.TaskID)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-task-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/comments",
		Summary:       "Comment on a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   CreateCommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		c, err := e.AddComment(ctx, input.TaskID, input.Body.Content, input.Body.Author)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/comments",
		Summary:     "List comments by task id",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TaskID string `query:"taskId"`
	}) (*struct {
		Body commentList `json:"body"`
	}, error) {
		if strings.TrimSpace(input.TaskID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "taskId is required", map[string]any{"field": "taskId"})
		}
		return &struct {
			Body commentList `json:"body"`
		}{Body: commentList{Items: e.ListComments(input.TaskID)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/comments",
		Summary:       "Comment on the task named by the body",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateCommentWithTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		c, err := e.AddComment(ctx, input.Body.TaskID, input.Body.Content, input.Body.Author)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List project events, most recent first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Type      string `query:"type" enum:"task_update,comment_add,task_add,other"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		items := e.ListProjectEvents(input.ProjectID)
		if input.Type != "" {
			filtered := []domain.ProjectEvent{}
			for _, evt := range items {
				if string(evt.Type) == input.Type {
					filtered = append(filtered, evt)
				}
			}
			items = filtered
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: eventList{Items: items}}, nil
	})
}

func registerAdmin(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "reset",
		Method:      http.MethodPost,
		Path:        "/admin/reset",
		Summary:     "Restore the seed dataset",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body statusResponse `json:"body"`
	}, error) {
		e.Reset()
		return &struct {
			Body statusResponse `json:"body"`
		}{Body: statusResponse{Status: "reset"}}, nil
	})
}
