package task

import (
	"fmt"

	"github.com/kazz187/taskwire/internal/record"
	"github.com/kazz187/taskwire/internal/serializer"
	"github.com/kazz187/taskwire/pkg/cerr"
)

// Snapshotter is anything that can extract a task's transportable fields.
type Snapshotter interface {
	Snapshot() (*record.TaskRecord, error)
}

var _ Snapshotter = (*Task)(nil)

// EncodeTask snapshots t and encodes it with s. A snapshot missing a
// required field is a caller bug and comes back as cerr.Internal; it is
// never filled in with a default.
func EncodeTask(s *serializer.Serializer, t Snapshotter) ([]byte, error) {
	_, data, err := SnapshotAndEncode(s, t)
	return data, err
}

// SnapshotAndEncode is EncodeTask for callers that also need the record,
// for example to label the encoded bytes with the task uid.
func SnapshotAndEncode(s *serializer.Serializer, t Snapshotter) (*record.TaskRecord, []byte, error) {
	r, err := t.Snapshot()
	if err != nil {
		return nil, nil, cerr.NewError(cerr.InvalidArgument, "task payload cannot be encoded", err)
	}
	if err := checkRequired(r); err != nil {
		return nil, nil, cerr.NewError(cerr.Internal, "incomplete task snapshot", err)
	}
	data, err := s.Encode(r)
	if err != nil {
		return nil, nil, cerr.NewError(cerr.Internal, "failed to encode task", err)
	}
	return r, data, nil
}

// DecodeTask decodes a record. Turning it back into a Task is up to the
// caller, see FromRecord.
func DecodeTask(s *serializer.Serializer, data []byte) (*record.TaskRecord, error) {
	return s.Decode(data)
}

func checkRequired(r *record.TaskRecord) error {
	switch {
	case r == nil:
		return fmt.Errorf("snapshot is nil")
	case r.UID == "":
		return fmt.Errorf("missing %s", record.FieldUID)
	case r.RootUID == "":
		return fmt.Errorf("missing %s", record.FieldRootUID)
	case r.Status == "":
		return fmt.Errorf("missing %s", record.FieldStatus)
	case r.Priority == "":
		return fmt.Errorf("missing %s", record.FieldPriority)
	}
	return nil
}
