package notify

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"taskboard/internal/domain"
)

func newTestNotifier() *Notifier {
	return New(zerolog.Nop())
}

func TestPublishScopedToProject(t *testing.T) {
	n := newTestNotifier()
	var got []Notification
	n.Subscribe("p1", SubscriberFunc(func(msg Notification) error {
		got = append(got, msg)
		return nil
	}))
	n.Subscribe("p2", SubscriberFunc(func(Notification) error {
		t.Fatalf("p2 subscriber must not see p1 traffic")
		return nil
	}))
	n.Publish("p1", domain.EventTaskAdd, domain.Task{ID: "t7"})
	if len(got) != 1 || got[0].Type != domain.EventTaskAdd || got[0].Payload.(domain.Task).ID != "t7" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
	n.Publish("p3", domain.EventOther, nil)
}

func TestNoReplayForLateSubscribers(t *testing.T) {
	n := newTestNotifier()
	n.Publish("p1", domain.EventTaskAdd, nil)
	calls := 0
	n.Subscribe("p1", SubscriberFunc(func(Notification) error { calls++; return nil }))
	if calls != 0 {
		t.Fatalf("late subscriber received %d replayed notifications", calls)
	}
}

func TestUnsubscribeInsideCallback(t *testing.T) {
	n := newTestNotifier()
	calls := 0
	var sub *Subscription
	sub = n.Subscribe("p1", SubscriberFunc(func(Notification) error {
		calls++
		sub.Unsubscribe()
		return nil
	}))
	n.Publish("p1", domain.EventTaskUpdate, nil)
	n.Publish("p1", domain.EventTaskUpdate, nil)
	if calls != 1 {
		t.Fatalf("expected 1 delivery, got %d", calls)
	}
	if n.Count("p1") != 0 {
		t.Fatalf("expected no subscribers left")
	}
	sub.Unsubscribe()
}

func TestUnsubscribeRemovesOnlyItsHandle(t *testing.T) {
	n := newTestNotifier()
	var a, b int
	subA := n.Subscribe("p1", SubscriberFunc(func(Notification) error { a++; return nil }))
	n.Subscribe("p1", SubscriberFunc(func(Notification) error { b++; return nil }))
	subA.Unsubscribe()
	n.Publish("p1", domain.EventCommentAdd, nil)
	if a != 0 || b != 1 {
		t.Fatalf("expected only b notified, got a=%d b=%d", a, b)
	}
}

func TestFailingSubscribersAreIsolated(t *testing.T) {
	n := newTestNotifier()
	delivered := 0
	n.Subscribe("p1", SubscriberFunc(func(Notification) error { panic("boom") }))
	n.Subscribe("p1", SubscriberFunc(func(Notification) error { return errors.New("closed") }))
	n.Subscribe("p1", SubscriberFunc(func(Notification) error { delivered++; return nil }))
	n.Publish("p1", domain.EventTaskUpdate, nil)
	if delivered != 1 {
		t.Fatalf("healthy subscriber missed the notification")
	}
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	n := newTestNotifier()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := n.Subscribe("p1", SubscriberFunc(func(Notification) error { return nil }))
			sub.Unsubscribe()
		}()
		go func() {
			defer wg.Done()
			n.Publish("p1", domain.EventOther, nil)
		}()
	}
	wg.Wait()
	if n.Count("p1") != 0 {
		t.Fatalf("expected registry to drain")
	}
}
