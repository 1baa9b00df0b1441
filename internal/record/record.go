// Package record defines TaskRecord, the flat snapshot of a task that
// producers and workers exchange, and the ordered field table every wire
// codec follows.
//
// The field table is append-only. Peers running older or newer releases
// decode each other's messages only as long as no field is ever removed,
// renamed or moved; new fields go to the end of the legacy tail and must
// default to absent.
package record

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusDeclared Status = "declared"
	StatusSpawned  Status = "spawned"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusCrashed  Status = "crashed"
)

var statuses = []Status{StatusDeclared, StatusSpawned, StatusStarted, StatusFinished, StatusCrashed}

func (s Status) Valid() bool { return slices.Contains(statuses, s) }

// Priority is the scheduling priority label of a task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

var priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) Valid() bool { return slices.Contains(priorities, p) }

// TaskRecord is a transient snapshot of one task's transportable state.
// It is built right before encoding or right after decoding and is not the
// task's authoritative state.
//
// Legacy fields use nil as their default. A non-nil empty map or slice is a
// value and is encoded.
type TaskRecord struct {
	UID               string            `yaml:"uid"`
	RootUID           string            `yaml:"root_uid"`
	ParentUID         *string           `yaml:"parent_uid"`
	Status            Status            `yaml:"status"`
	Priority          Priority          `yaml:"priority"`
	Payload           map[string]Value  `yaml:"payload"`
	PayloadPersistent map[string]Value  `yaml:"payload_persistent"`
	Headers           map[string]string `yaml:"headers"`

	HeadersPersistent map[string]string `yaml:"headers_persistent,omitempty"`
	Error             []string          `yaml:"error,omitempty"`
	LastUpdate        *float64          `yaml:"last_update,omitempty"`
	OrigUID           *string           `yaml:"orig_uid,omitempty"`
}

// LegacyTail returns how many legacy fields an encoder has to write so that
// only the trailing run of defaulted fields is dropped.
func (r *TaskRecord) LegacyTail() int {
	set := [LegacyFieldCount]bool{
		r.HeadersPersistent != nil,
		r.Error != nil,
		r.LastUpdate != nil,
		r.OrigUID != nil,
	}
	for n := LegacyFieldCount; n > 0; n-- {
		if set[n-1] {
			return n
		}
	}
	return 0
}

// Equal compares two records field by field. Required maps compare nil and
// empty as equal since decoders always produce non-nil maps; legacy fields
// distinguish nil from empty.
func (r *TaskRecord) Equal(o *TaskRecord) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.UID == o.UID &&
		r.RootUID == o.RootUID &&
		equalPtr(r.ParentUID, o.ParentUID) &&
		r.Status == o.Status &&
		r.Priority == o.Priority &&
		EqualValueMaps(r.Payload, o.Payload) &&
		EqualValueMaps(r.PayloadPersistent, o.PayloadPersistent) &&
		equalStringMaps(r.Headers, o.Headers, false) &&
		equalStringMaps(r.HeadersPersistent, o.HeadersPersistent, true) &&
		(r.Error == nil) == (o.Error == nil) && slices.Equal(r.Error, o.Error) &&
		equalPtr(r.LastUpdate, o.LastUpdate) &&
		equalPtr(r.OrigUID, o.OrigUID)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalStringMaps(a, b map[string]string, strictNil bool) bool {
	if strictNil && (a == nil) != (b == nil) {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		if bv, ok := b[k]; !ok || av != bv {
			return false
		}
	}
	return true
}

var _ yaml.Marshaler = TaskRecord{}

// MarshalYAML writes the fields in wire order. Like the wire codecs it
// omits nil legacy fields but keeps empty ones.
func (r TaskRecord) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	add := func(name string, v any) error {
		var vn yaml.Node
		if err := vn.Encode(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}, &vn)
		return nil
	}
	r.Normalize()
	fields := []struct {
		name string
		v    any
		set  bool
	}{
		{FieldUID, r.UID, true},
		{FieldRootUID, r.RootUID, true},
		{FieldParentUID, r.ParentUID, true},
		{FieldStatus, string(r.Status), true},
		{FieldPriority, string(r.Priority), true},
		{FieldPayload, Map(r.Payload), true},
		{FieldPayloadPersistent, Map(r.PayloadPersistent), true},
		{FieldHeaders, r.Headers, true},
		{FieldHeadersPersistent, r.HeadersPersistent, r.HeadersPersistent != nil},
		{FieldError, r.Error, r.Error != nil},
		{FieldLastUpdate, r.LastUpdate, r.LastUpdate != nil},
		{FieldOrigUID, r.OrigUID, r.OrigUID != nil},
	}
	for _, f := range fields {
		if !f.set {
			continue
		}
		if err := add(f.name, f.v); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Normalize replaces nil required maps with empty ones, matching what every
// decoder returns.
func (r *TaskRecord) Normalize() {
	if r.Payload == nil {
		r.Payload = map[string]Value{}
	}
	if r.PayloadPersistent == nil {
		r.PayloadPersistent = map[string]Value{}
	}
	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
}

// Ptr is a helper for filling optional string and float fields.
func Ptr[T any](v T) *T { return &v }
