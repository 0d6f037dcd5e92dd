package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/reconpoint/api/pkg/domain/scan"
)

// TaskFunc executes one named recon task.
type TaskFunc func(ctx context.Context, unit scan.WorkUnit) error

// Registry maps task names to their implementations. It implements
// ToolRunner; unknown task names fail the step rather than the worker.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]TaskFunc
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]TaskFunc)}
}

// Register binds a task name to its implementation. Later registrations
// replace earlier ones.
func (r *Registry) Register(name string, fn TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = fn
}

// Run executes the task registered under unit.TaskName.
func (r *Registry) Run(ctx context.Context, unit scan.WorkUnit) error {
	r.mu.RLock()
	fn, ok := r.tasks[unit.TaskName]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no runner registered for task %q", unit.TaskName)
	}
	return fn(ctx, unit)
}
