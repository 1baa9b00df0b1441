package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskwire/internal/codec"
	"github.com/kazz187/taskwire/internal/record"
	"github.com/kazz187/taskwire/internal/serializer"
	"github.com/kazz187/taskwire/pkg/cerr"
)

type snapshotFunc func() (*record.TaskRecord, error)

func (f snapshotFunc) Snapshot() (*record.TaskRecord, error) { return f() }

func newSerializer(t *testing.T, f serializer.Format) *serializer.Serializer {
	t.Helper()
	s := serializer.New()
	require.NoError(t, s.Configure(f))
	return s
}

func TestEncodeDecodeTask(t *testing.T) {
	for _, f := range []serializer.Format{serializer.FormatSelfDescribing, serializer.FormatCompactBinary} {
		t.Run(string(f), func(t *testing.T) {
			s := newSerializer(t, f)
			root := NewTask(&CreateTaskRequest{
				Headers:           map[string]string{"type": "sample", "kind": "raw"},
				HeadersPersistent: map[string]string{"origin": "feed"},
				Payload:           map[string]any{"sample": "4d5a", "size": 4096},
				PayloadPersistent: map[string]any{"campaign": "q3"},
			})
			child := root.Derive(&CreateTaskRequest{
				Headers: map[string]string{"type": "analysis"},
				Payload: map[string]any{"score": 0.9},
			})
			child.Update(&UpdateTaskRequest{Status: record.StatusStarted})

			data, err := EncodeTask(s, child)
			require.NoError(t, err)

			got, err := DecodeTask(s, data)
			require.NoError(t, err)

			want, err := child.Snapshot()
			require.NoError(t, err)
			assert.True(t, want.Equal(got))

			back := FromRecord(got)
			assert.Equal(t, child.UID, back.UID)
			assert.Equal(t, root.UID, back.RootUID)
			assert.Equal(t, root.UID, back.ParentUID)
			assert.Equal(t, record.StatusStarted, back.Status)
			assert.Equal(t, "feed", back.Headers["origin"])
			assert.Equal(t, "q3", back.PayloadPersistent["campaign"])
			assert.Equal(t, 0.9, back.Payload["score"])
			assert.Empty(t, back.OrigUID)
			assert.WithinDuration(t, child.LastUpdate, back.LastUpdate, time.Microsecond)
		})
	}
}

func TestEncodeTask_MissingRequiredField(t *testing.T) {
	s := serializer.New()
	tests := []struct {
		name   string
		modify func(*Task)
	}{
		{"uid", func(t *Task) { t.UID = "" }},
		{"root_uid", func(t *Task) { t.RootUID = "" }},
		{"status", func(t *Task) { t.Status = "" }},
		{"priority", func(t *Task) { t.Priority = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := NewTask(&CreateTaskRequest{})
			tt.modify(task)
			data, err := EncodeTask(s, task)
			require.Error(t, err)
			assert.Nil(t, data)
			assert.True(t, cerr.IsCode(err, cerr.Internal))
			assert.Contains(t, err.Error(), "missing "+tt.name)
		})
	}

	_, err := EncodeTask(s, snapshotFunc(func() (*record.TaskRecord, error) { return nil, nil }))
	assert.True(t, cerr.IsCode(err, cerr.Internal))
}

func TestEncodeTask_UnsupportedPayload(t *testing.T) {
	task := NewTask(&CreateTaskRequest{Payload: map[string]any{"ch": make(chan int)}})
	_, err := EncodeTask(serializer.New(), task)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestDecodeTask_Corrupt(t *testing.T) {
	_, err := DecodeTask(newSerializer(t, serializer.FormatCompactBinary), []byte{0x93, 0x01})
	require.Error(t, err)
	assert.True(t, codec.IsDecodeError(err))
}

func TestTask_Fork(t *testing.T) {
	orig := NewTask(&CreateTaskRequest{Payload: map[string]any{"n": 1}})
	orig.Update(&UpdateTaskRequest{Status: record.StatusCrashed, Error: []string{"boom"}})

	forked := orig.Fork()
	assert.NotEqual(t, orig.UID, forked.UID)
	assert.Equal(t, orig.UID, forked.OrigUID)
	assert.Equal(t, orig.RootUID, forked.RootUID)
	assert.Nil(t, forked.Error)

	r, err := forked.Snapshot()
	require.NoError(t, err)
	require.NotNil(t, r.OrigUID)
	assert.Equal(t, orig.UID, *r.OrigUID)
}

func TestTask_SnapshotDefaults(t *testing.T) {
	task := NewTask(&CreateTaskRequest{})
	task.LastUpdate = time.Time{}

	r, err := task.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, task.UID, r.RootUID)
	assert.Nil(t, r.ParentUID)
	assert.Equal(t, record.StatusDeclared, r.Status)
	assert.Equal(t, record.PriorityNormal, r.Priority)
	assert.Zero(t, r.LegacyTail(), "a fresh task carries no legacy fields")
}

func TestTask_SnapshotCopiesError(t *testing.T) {
	task := NewTask(&CreateTaskRequest{})
	task.Update(&UpdateTaskRequest{Status: record.StatusCrashed, Error: []string{"Traceback"}})

	r, err := task.Snapshot()
	require.NoError(t, err)
	r.Error[0] = "changed"
	assert.Equal(t, []string{"Traceback"}, task.Error)

	back := FromRecord(r)
	r.Error[0] = "changed again"
	assert.Equal(t, []string{"changed"}, back.Error)

	r.Error = []string{}
	assert.NotNil(t, FromRecord(r).Error, "an empty error list stays set")
}
