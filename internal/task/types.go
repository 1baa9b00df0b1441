package task

import (
	"maps"
	"time"

	"github.com/kazz187/taskwire/internal/record"
)

// CreateTaskRequest describes a new task.
type CreateTaskRequest struct {
	Priority          record.Priority
	Headers           map[string]string
	HeadersPersistent map[string]string
	Payload           map[string]any
	PayloadPersistent map[string]any
}

// UpdateTaskRequest changes a task's lifecycle state.
type UpdateTaskRequest struct {
	Status record.Status
	// Error is recorded when the task crashed; typically a formatted traceback.
	Error   []string
	Headers map[string]string
}

// Update applies req and bumps LastUpdate.
func (t *Task) Update(req *UpdateTaskRequest) {
	if req.Status != "" {
		t.Status = req.Status
	}
	if req.Error != nil {
		t.Error = append([]string(nil), req.Error...)
	}
	if req.Headers != nil {
		if t.Headers == nil {
			t.Headers = make(map[string]string)
		}
		maps.Copy(t.Headers, req.Headers)
	}
	t.LastUpdate = time.Now()
}
