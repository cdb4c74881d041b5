package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskboard/internal/config"
	"taskboard/internal/engine"
	"taskboard/internal/metrics"
	"taskboard/internal/notify"
)

const (
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookQueue    = 256
	defaultWebhookAttempts = 3
)

// WebhookDispatcher forwards board notifications to configured HTTP endpoints.
// Deliveries run on a single background worker so publishing never waits on the network.
type WebhookDispatcher struct {
	webhooks []config.WebhookConfig
	client   *http.Client
	retryCfg retry.Config
	queue    chan delivery
	subs     []*notify.Subscription
	logger   zerolog.Logger
	done     chan struct{}
}

type delivery struct {
	hook config.WebhookConfig
	msg  notify.Notification
}

type webhookEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// StartWebhookDispatcher subscribes every active hook to its projects, defaulting to
// every project on the board, and runs until ctx is cancelled. It returns nil when no hook is active.
func StartWebhookDispatcher(ctx context.Context, e *engine.Engine, hooks []config.WebhookConfig, logger zerolog.Logger) *WebhookDispatcher {
	var active []config.WebhookConfig
	for _, hook := range hooks {
		if hook.Active() {
			active = append(active, hook)
		}
	}
	if len(active) == 0 {
		return nil
	}
	d := &WebhookDispatcher{
		webhooks: active,
		client:   &http.Client{},
		retryCfg: retry.Config{
			MaxAttempts:   defaultWebhookAttempts,
			InitialDelay:  200 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
		queue:  make(chan delivery, defaultWebhookQueue),
		logger: logger.With().Str("component", "webhooks").Logger(),
		done:   make(chan struct{}),
	}
	var allProjects []string
	for _, p := range e.ListProjects() {
		allProjects = append(allProjects, p.ID)
	}
	for _, hook := range active {
		projects := hook.Projects
		if len(projects) == 0 {
			projects = allProjects
		}
		filter := newEventFilter(hook.Events)
		for _, projectID := range projects {
			hook := hook
			d.subs = append(d.subs, e.Subscribe(projectID, notify.SubscriberFunc(func(n notify.Notification) error {
				if !filter.match(string(n.Type)) {
					return nil
				}
				d.enqueue(delivery{hook: hook, msg: n})
				return nil
			})))
		}
	}
	go d.run(ctx)
	return d
}

func (d *WebhookDispatcher) enqueue(job delivery) {
	select {
	case d.queue <- job:
	default:
		metrics.RecordNotification("dropped")
		d.logger.Warn().Str("url", job.hook.URL).Str("type", string(job.msg.Type)).Msg("webhook queue full, delivery dropped")
	}
}

func (d *WebhookDispatcher) run(ctx context.Context) {
	defer close(d.done)
	defer func() {
		for _, sub := range d.subs {
			sub.Unsubscribe()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			if err := d.post(ctx, job); err != nil {
				d.logger.Warn().Err(err).Str("url", job.hook.URL).Msg("webhook delivery failed")
			}
		}
	}
}

// Done is closed once the dispatcher has stopped and detached its subscriptions.
func (d *WebhookDispatcher) Done() <-chan struct{} { return d.done }

// post delivers one notification, retrying failed attempts with exponential backoff.
// Every attempt is bounded by the hook's timeout.
func (d *WebhookDispatcher) post(ctx context.Context, job delivery) error {
	id := uuid.NewString()
	data, err := json.Marshal(webhookEvent{
		ID:        id,
		Type:      string(job.msg.Type),
		ProjectID: job.msg.ProjectID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      job.msg.Payload,
	})
	if err != nil {
		return err
	}
	limit := defaultWebhookTimeout
	if job.hook.TimeoutSeconds > 0 {
		limit = time.Duration(job.hook.TimeoutSeconds) * time.Second
	}
	t := timeout.New[struct{}](timeout.Config{DefaultTimeout: limit})
	r := retry.New[struct{}](d.retryCfg)
	_, err = r.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return t.Execute(ctx, limit, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, d.send(ctx, job, id, data)
		})
	})
	return err
}

func (d *WebhookDispatcher) send(ctx context.Context, job delivery, id string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Taskboard-Event", string(job.msg.Type))
	req.Header.Set("X-Taskboard-Delivery", id)
	req.Header.Set("X-Taskboard-Project", job.msg.ProjectID)
	if secret := strings.TrimSpace(job.hook.Secret); secret != "" {
		req.Header.Set("X-Taskboard-Signature", sign(data, secret))
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// sign is the HMAC-SHA256 of the body, hex encoded with a sha256= prefix.
func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
