// Package notify fans board changes out to per-project subscribers.
package notify

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskboard/internal/domain"
	"taskboard/internal/metrics"
)

// Notification is one change delivered to subscribers of a project.
// Payload is the post-mutation entity: a domain.Task or domain.Comment.
type Notification struct {
	ProjectID string           `json:"projectId"`
	Type      domain.EventType `json:"type"`
	Payload   any              `json:"data"`
}

type Subscriber interface {
	Receive(n Notification) error
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(n Notification) error

func (f SubscriberFunc) Receive(n Notification) error { return f(n) }

// Notifier holds the subscriber registry. The zero value is not usable; call New.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[string]map[string]Subscriber
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Notifier {
	return &Notifier{
		subs:   map[string]map[string]Subscriber{},
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID        string
	ProjectID string

	n    *Notifier
	once sync.Once
}

// Unsubscribe detaches the subscriber. Safe to call more than once, concurrently
// with Publish, or from inside the subscriber's own callback.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.n.remove(s.ProjectID, s.ID)
	})
}

func (n *Notifier) Subscribe(projectID string, sub Subscriber) *Subscription {
	id := uuid.NewString()
	n.mu.Lock()
	set, ok := n.subs[projectID]
	if !ok {
		set = map[string]Subscriber{}
		n.subs[projectID] = set
	}
	set[id] = sub
	n.mu.Unlock()
	metrics.AddSubscribers(1)
	n.logger.Debug().Str("project", projectID).Str("subscription", id).Msg("subscribed")
	return &Subscription{ID: id, ProjectID: projectID, n: n}
}

func (n *Notifier) remove(projectID, id string) {
	n.mu.Lock()
	set := n.subs[projectID]
	_, ok := set[id]
	delete(set, id)
	if len(set) == 0 {
		delete(n.subs, projectID)
	}
	n.mu.Unlock()
	if ok {
		metrics.AddSubscribers(-1)
		n.logger.Debug().Str("project", projectID).Str("subscription", id).Msg("unsubscribed")
	}
}

// Count returns the number of subscribers attached to projectID.
func (n *Notifier) Count(projectID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[projectID])
}

// Publish delivers synchronously to a snapshot of the project's subscribers.
// Subscriber errors and panics are logged and do not reach the caller.
func (n *Notifier) Publish(projectID string, evtType domain.EventType, payload any) {
	n.mu.RLock()
	set := n.subs[projectID]
	snapshot := make([]Subscriber, 0, len(set))
	for _, sub := range set {
		snapshot = append(snapshot, sub)
	}
	n.mu.RUnlock()

	msg := Notification{ProjectID: projectID, Type: evtType, Payload: payload}
	for _, sub := range snapshot {
		if err := n.deliver(sub, msg); err != nil {
			metrics.RecordNotification("failed")
			n.logger.Warn().Err(err).Str("project", projectID).Str("type", string(evtType)).Msg("subscriber failed")
			continue
		}
		metrics.RecordNotification("delivered")
	}
}

func (n *Notifier) deliver(sub Subscriber, msg Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return sub.Receive(msg)
}
