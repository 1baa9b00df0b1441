package task

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskwire/internal/record"
)

// Task is the producer/worker side view of a unit of work. Only the fields
// that travel between processes live here.
type Task struct {
	UID       string
	RootUID   string
	ParentUID string // empty for a root task
	// OrigUID is the uid of the task this one was forked from, empty when
	// it was not forked.
	OrigUID           string
	Status            record.Status
	Priority          record.Priority
	Headers           map[string]string
	HeadersPersistent map[string]string
	Payload           map[string]any
	PayloadPersistent map[string]any
	Error             []string
	LastUpdate        time.Time
}

// NewTask creates a root task from req.
func NewTask(req *CreateTaskRequest) *Task {
	uid := ulid.Make().String()
	priority := req.Priority
	if priority == "" {
		priority = record.PriorityNormal
	}
	return &Task{
		UID:               uid,
		RootUID:           uid,
		Status:            record.StatusDeclared,
		Priority:          priority,
		Headers:           cloneOrEmpty(req.Headers),
		HeadersPersistent: maps.Clone(req.HeadersPersistent),
		Payload:           cloneOrEmpty(req.Payload),
		PayloadPersistent: cloneOrEmpty(req.PayloadPersistent),
		LastUpdate:        time.Now(),
	}
}

// Derive creates a child of t. The child inherits the root, the priority and
// every persistent header and payload entry; req adds to them.
func (t *Task) Derive(req *CreateTaskRequest) *Task {
	child := NewTask(req)
	child.RootUID = t.RootUID
	child.ParentUID = t.UID
	if req.Priority == "" {
		child.Priority = t.Priority
	}
	if len(t.HeadersPersistent) > 0 {
		hp := maps.Clone(t.HeadersPersistent)
		maps.Copy(hp, req.HeadersPersistent)
		child.HeadersPersistent = hp
		for k, v := range hp {
			if _, ok := child.Headers[k]; !ok {
				child.Headers[k] = v
			}
		}
	}
	pp := maps.Clone(t.PayloadPersistent)
	if pp == nil {
		pp = map[string]any{}
	}
	maps.Copy(pp, req.PayloadPersistent)
	child.PayloadPersistent = pp
	return child
}

// Fork copies t under a new uid and remembers where it came from.
func (t *Task) Fork() *Task {
	forked := *t
	forked.UID = ulid.Make().String()
	forked.OrigUID = t.UID
	forked.Headers = maps.Clone(t.Headers)
	forked.HeadersPersistent = maps.Clone(t.HeadersPersistent)
	forked.Payload = maps.Clone(t.Payload)
	forked.PayloadPersistent = maps.Clone(t.PayloadPersistent)
	forked.Error = nil
	forked.LastUpdate = time.Now()
	return &forked
}

// Snapshot extracts the transportable fields.
func (t *Task) Snapshot() (*record.TaskRecord, error) {
	payload, err := toValues(t.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	persistent, err := toValues(t.PayloadPersistent)
	if err != nil {
		return nil, fmt.Errorf("payload_persistent: %w", err)
	}
	r := &record.TaskRecord{
		UID:               t.UID,
		RootUID:           t.RootUID,
		Status:            t.Status,
		Priority:          t.Priority,
		Payload:           payload,
		PayloadPersistent: persistent,
		Headers:           cloneOrEmpty(t.Headers),
		HeadersPersistent: maps.Clone(t.HeadersPersistent),
		Error:             slices.Clone(t.Error),
	}
	if t.ParentUID != "" {
		r.ParentUID = record.Ptr(t.ParentUID)
	}
	if t.OrigUID != "" {
		r.OrigUID = record.Ptr(t.OrigUID)
	}
	if !t.LastUpdate.IsZero() {
		r.LastUpdate = record.Ptr(float64(t.LastUpdate.UnixMicro()) / 1e6)
	}
	return r, nil
}

// FromRecord rebuilds a Task from a decoded record.
func FromRecord(r *record.TaskRecord) *Task {
	t := &Task{
		UID:               r.UID,
		RootUID:           r.RootUID,
		Status:            r.Status,
		Priority:          r.Priority,
		Headers:           cloneOrEmpty(r.Headers),
		HeadersPersistent: maps.Clone(r.HeadersPersistent),
		Payload:           fromValues(r.Payload),
		PayloadPersistent: fromValues(r.PayloadPersistent),
		Error:             slices.Clone(r.Error),
	}
	if r.ParentUID != nil {
		t.ParentUID = *r.ParentUID
	}
	if r.OrigUID != nil {
		t.OrigUID = *r.OrigUID
	}
	if r.LastUpdate != nil {
		t.LastUpdate = time.UnixMicro(int64(math.Round(*r.LastUpdate * 1e6)))
	}
	return t
}

func toValues(m map[string]any) (map[string]record.Value, error) {
	out := make(map[string]record.Value, len(m))
	for k, v := range m {
		rv, err := record.ValueOf(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = rv
	}
	return out, nil
}

func fromValues(m map[string]record.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Any()
	}
	return out
}

func cloneOrEmpty[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return maps.Clone(m)
}
