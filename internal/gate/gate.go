// Package gate decides whether a task's dependencies allow it to leave todo.
package gate

import "taskboard/internal/domain"

// Lookup resolves a task id. A missing id counts as an unmet dependency.
type Lookup func(id string) (domain.Task, bool)

// Satisfied reports whether every dependency of task is done.
func Satisfied(task domain.Task, lookup Lookup) bool {
	for _, id := range task.Dependencies {
		if !done(id, lookup) {
			return false
		}
	}
	return true
}

// Unmet lists the dependencies that block task, in declaration order.
func Unmet(task domain.Task, lookup Lookup) []string {
	var out []string
	for _, id := range task.Dependencies {
		if !done(id, lookup) {
			out = append(out, id)
		}
	}
	return out
}

func done(id string, lookup Lookup) bool {
	dep, ok := lookup(id)
	return ok && dep.Status == domain.StatusDone
}
