package domain

import (
	"errors"
	"testing"
)

func TestParseStatus(t *testing.T) {
	for _, raw := range []string{"todo", "in_progress", "done", " done "} {
		if _, err := ParseStatus(raw); err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
	}
	for _, raw := range []string{"", "TODO", "review", "blocked"} {
		_, err := ParseStatus(raw)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("parse %q: expected validation error, got %v", raw, err)
		}
	}
}

func TestParsePriorityDefaultsToMedium(t *testing.T) {
	p, err := ParsePriority("")
	if err != nil || p != PriorityMedium {
		t.Fatalf("expected medium, got %q %v", p, err)
	}
	if _, err := ParsePriority("urgent"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTaskCloneIsDeep(t *testing.T) {
	orig := Task{
		ID:           "t1",
		AssignedTo:   []string{"Alex"},
		Dependencies: []string{"t0"},
		Configuration: TaskConfiguration{
			Priority:     PriorityHigh,
			Tags:         []string{"paint"},
			CustomFields: map[string]string{"room": "kitchen"},
		},
	}
	cp := orig.Clone()
	cp.AssignedTo[0] = "Sam"
	cp.Dependencies[0] = "t9"
	cp.Configuration.Tags[0] = "tile"
	cp.Configuration.CustomFields["room"] = "bath"
	if orig.AssignedTo[0] != "Alex" || orig.Dependencies[0] != "t0" {
		t.Fatalf("clone shares slices with original")
	}
	if orig.Configuration.Tags[0] != "paint" || orig.Configuration.CustomFields["room"] != "kitchen" {
		t.Fatalf("clone shares configuration with original")
	}
}

func TestEventReversible(t *testing.T) {
	evt := ProjectEvent{Type: EventTaskUpdate, Data: StatusChange("t1", StatusTodo, StatusDone)}
	if !evt.Reversible() {
		t.Fatalf("expected status change to be reversible")
	}
	evt.Reverted = true
	if evt.Reversible() {
		t.Fatalf("reverted event must not be reversible")
	}
	if (ProjectEvent{Type: EventOther}).Reversible() {
		t.Fatalf("event without data must not be reversible")
	}
	cp := ProjectEvent{Data: StatusChange("t1", StatusTodo, StatusDone)}.Clone()
	*cp.Data.PreviousValue = "done"
	if evt.Data.PreviousValue == cp.Data.PreviousValue {
		t.Fatalf("clone shares event data")
	}
}
