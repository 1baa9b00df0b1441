package codec

import (
	"bytes"
	"encoding/json"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kazz187/taskwire/internal/record"
	"github.com/kazz187/taskwire/pkg/cerr"
)

func minimalRecord() *record.TaskRecord {
	return &record.TaskRecord{
		UID:               "a1",
		RootUID:           "a1",
		Status:            record.StatusStarted,
		Priority:          record.PriorityNormal,
		Payload:           map[string]record.Value{},
		PayloadPersistent: map[string]record.Value{},
		Headers:           map[string]string{},
	}
}

func fullRecord() *record.TaskRecord {
	return &record.TaskRecord{
		UID:       "01J9Z8K1",
		RootUID:   "01J9Z8K0",
		ParentUID: record.Ptr("01J9Z8K0"),
		Status:    record.StatusSpawned,
		Priority:  record.PriorityHigh,
		Payload: map[string]record.Value{
			"sample": record.MustValueOf(map[string]any{"sha256": "e3b0c442", "size": 4096}),
			"score":  record.Float(0.5),
			"tags":   record.MustValueOf([]any{"pe", true, nil}),
		},
		PayloadPersistent: map[string]record.Value{
			"analysis_id": record.Int(77),
		},
		Headers:           map[string]string{"type": "sample", "kind": "runnable"},
		HeadersPersistent: map[string]string{"origin": "feed"},
		Error:             []string{"Traceback", "TimeoutError"},
		LastUpdate:        record.Ptr(1716220800.25),
		OrigUID:           record.Ptr("01J9Z8JZ"),
	}
}

func codecs() map[string]Codec {
	return map[string]Codec{
		"json":    JSON(),
		"msgpack": MsgPack(),
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	withError := minimalRecord()
	withError.Error = []string{"timeout"}

	gap := minimalRecord()
	gap.OrigUID = record.Ptr("o1")

	empties := minimalRecord()
	empties.HeadersPersistent = map[string]string{}
	empties.Error = []string{}

	records := map[string]*record.TaskRecord{
		"minimal":         minimalRecord(),
		"full":            fullRecord(),
		"error only":      withError,
		"gap before last": gap,
		"empty legacy":    empties,
	}
	for name, c := range codecs() {
		for rname, r := range records {
			t.Run(name+"/"+rname, func(t *testing.T) {
				data, err := c.Encode(r)
				require.NoError(t, err)

				got, err := c.Decode(data)
				require.NoError(t, err)
				if diff := cmp.Diff(r, got); diff != "" {
					t.Errorf("round trip mismatch (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestCodec_Deterministic(t *testing.T) {
	for name, c := range codecs() {
		t.Run(name, func(t *testing.T) {
			first, err := c.Encode(fullRecord())
			require.NoError(t, err)
			for range 20 {
				again, err := c.Encode(fullRecord())
				require.NoError(t, err)
				assert.Equal(t, first, again)
			}
		})
	}
}

func TestCodec_SpaceOptimization(t *testing.T) {
	for name, c := range codecs() {
		t.Run(name, func(t *testing.T) {
			plain, err := c.Encode(minimalRecord())
			require.NoError(t, err)

			r := minimalRecord()
			r.HeadersPersistent = map[string]string{"k": "v"}
			r.Error = []string{"e"}
			r.LastUpdate = record.Ptr(1.0)
			r.OrigUID = record.Ptr("o")
			withLegacy, err := c.Encode(r)
			require.NoError(t, err)

			assert.Less(t, len(plain), len(withLegacy))
		})
	}
}

func TestCodec_NilRequiredMapsEncodeEmpty(t *testing.T) {
	for name, c := range codecs() {
		t.Run(name, func(t *testing.T) {
			r := minimalRecord()
			r.Payload, r.PayloadPersistent, r.Headers = nil, nil, nil
			data, err := c.Encode(r)
			require.NoError(t, err)

			got, err := c.Decode(data)
			require.NoError(t, err)
			assert.NotNil(t, got.Payload)
			assert.NotNil(t, got.PayloadPersistent)
			assert.NotNil(t, got.Headers)
		})
	}
}

func TestJSON_MinimalScenario(t *testing.T) {
	data, err := JSON().Encode(minimalRecord())
	require.NoError(t, err)
	assert.Equal(t,
		`{"uid":"a1","root_uid":"a1","parent_uid":null,"status":"started","priority":"normal","payload":{},"payload_persistent":{},"headers":{}}`,
		string(data),
	)

	var keys map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &keys))
	assert.Len(t, keys, record.RequiredFieldCount)

	got, err := JSON().Decode(data)
	require.NoError(t, err)
	assert.True(t, minimalRecord().Equal(got))
	assert.Nil(t, got.HeadersPersistent)
	assert.Nil(t, got.Error)
	assert.Nil(t, got.LastUpdate)
	assert.Nil(t, got.OrigUID)
}

func TestJSON_ErrorScenario(t *testing.T) {
	r := minimalRecord()
	r.Error = []string{"timeout"}

	data, err := JSON().Encode(r)
	require.NoError(t, err)

	var keys map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &keys))
	assert.Contains(t, keys, "error")
	assert.NotContains(t, keys, "headers_persistent")
	assert.NotContains(t, keys, "last_update")
	assert.NotContains(t, keys, "orig_uid")

	got, err := JSON().Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"timeout"}, got.Error)
	assert.Nil(t, got.HeadersPersistent)
	assert.Nil(t, got.LastUpdate)
	assert.Nil(t, got.OrigUID)
}

func TestMsgPack_Layout(t *testing.T) {
	minimal := []byte{
		0x98,
		0xa2, 'a', '1',
		0xa2, 'a', '1',
		0xc0,
		0xa7, 's', 't', 'a', 'r', 't', 'e', 'd',
		0xa6, 'n', 'o', 'r', 'm', 'a', 'l',
		0x80, 0x80, 0x80,
	}
	data, err := MsgPack().Encode(minimalRecord())
	require.NoError(t, err)
	assert.Equal(t, minimal, data)

	r := minimalRecord()
	r.Error = []string{"timeout"}
	data, err = MsgPack().Encode(r)
	require.NoError(t, err)

	want := append([]byte{0x9a}, minimal[1:]...)
	want = append(want, 0xc0, 0x91, 0xa7, 't', 'i', 'm', 'e', 'o', 'u', 't')
	assert.Equal(t, want, data, "headers_persistent is a nil placeholder, the rest of the tail is dropped")

	got, err := MsgPack().Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"timeout"}, got.Error)
	assert.Nil(t, got.HeadersPersistent)
	assert.Nil(t, got.LastUpdate)
	assert.Nil(t, got.OrigUID)
}

// olderPeerMsgPack writes only the required fields, the way a peer that
// predates every legacy field would.
func olderPeerMsgPack(t *testing.T, extra ...any) []byte {
	t.Helper()
	fields := []any{
		"a1", "a1", nil, "started", "normal",
		map[string]any{"n": 1}, map[string]any{}, map[string]string{"type": "sample"},
	}
	fields = append(fields, extra...)
	data, err := msgpack.Marshal(fields)
	require.NoError(t, err)
	return data
}

func TestCodec_BackwardCompatibility(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		data := []byte(`{"uid":"a1","root_uid":"a1","parent_uid":null,"status":"started",
			"priority":"normal","payload":{"n":1},"payload_persistent":{},"headers":{"type":"sample"}}`)
		got, err := JSON().Decode(data)
		require.NoError(t, err)
		assertDefaults(t, got)
	})
	t.Run("msgpack", func(t *testing.T) {
		got, err := MsgPack().Decode(olderPeerMsgPack(t))
		require.NoError(t, err)
		assertDefaults(t, got)
	})
	t.Run("msgpack partial tail", func(t *testing.T) {
		got, err := MsgPack().Decode(olderPeerMsgPack(t, map[string]string{"h": "v"}))
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"h": "v"}, got.HeadersPersistent)
		assert.Nil(t, got.Error)
		assert.Nil(t, got.LastUpdate)
		assert.Nil(t, got.OrigUID)
	})
	t.Run("msgpack integer last_update", func(t *testing.T) {
		got, err := MsgPack().Decode(olderPeerMsgPack(t, nil, nil, 1700000000))
		require.NoError(t, err)
		require.NotNil(t, got.LastUpdate)
		assert.Equal(t, 1700000000.0, *got.LastUpdate)
	})
}

func assertDefaults(t *testing.T, got *record.TaskRecord) {
	t.Helper()
	assert.Equal(t, "a1", got.UID)
	assert.Nil(t, got.ParentUID)
	assert.True(t, record.Int(1).Equal(got.Payload["n"]))
	assert.Equal(t, "sample", got.Headers["type"])
	assert.Nil(t, got.HeadersPersistent)
	assert.Nil(t, got.Error)
	assert.Nil(t, got.LastUpdate)
	assert.Nil(t, got.OrigUID)
}

func TestCodec_ForwardCompatibility(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		data, err := JSON().Encode(fullRecord())
		require.NoError(t, err)
		data = append(data[:len(data)-1], []byte(`,"routing_key":{"queue":"fast"}}`)...)

		got, err := JSON().Decode(data)
		require.NoError(t, err)
		assert.True(t, fullRecord().Equal(got))
	})
	t.Run("msgpack", func(t *testing.T) {
		newer := olderPeerMsgPack(t, nil, nil, nil, "o1", map[string]any{"queue": []any{"fast", 1}})
		got, err := MsgPack().Decode(newer)
		require.NoError(t, err)
		assert.Equal(t, record.Ptr("o1"), got.OrigUID)
	})
}

func TestCodec_DecodeErrors(t *testing.T) {
	mustMsgPack := func(v any) []byte {
		data, err := msgpack.Marshal(v)
		require.NoError(t, err)
		return data
	}
	valid, err := MsgPack().Encode(fullRecord())
	require.NoError(t, err)

	// head is a record array header of n elements followed by uid, root_uid,
	// parent_uid, status and priority.
	head := func(n byte) []byte {
		b := []byte{0x90 | n, 0xa2, 'a', '1', 0xa2, 'a', '1', 0xc0}
		b = append(b, 0xa7)
		b = append(b, "started"...)
		b = append(b, 0xa6)
		return append(b, "normal"...)
	}
	hugeMap := []byte{0xdf, 0x7f, 0xff, 0xff, 0xff}
	hugeArray := []byte{0xdd, 0x7f, 0xff, 0xff, 0xff}

	tests := []struct {
		name  string
		codec Codec
		data  []byte
	}{
		{"json empty", JSON(), nil},
		{"json truncated", JSON(), []byte(`{"uid":"a1","root_uid"`)},
		{"json not an object", JSON(), []byte(`["a1","a1"]`)},
		{"json null", JSON(), []byte(`null`)},
		{"json trailing", JSON(), []byte(`{} {}`)},
		{"json missing parent_uid", JSON(), []byte(`{"uid":"a1","root_uid":"a1","status":"started","priority":"normal","payload":{},"payload_persistent":{},"headers":{}}`)},
		{"json null uid", JSON(), []byte(`{"uid":null,"root_uid":"a1","parent_uid":null,"status":"started","priority":"normal","payload":{},"payload_persistent":{},"headers":{}}`)},
		{"json wrong type", JSON(), []byte(`{"uid":1,"root_uid":"a1","parent_uid":null,"status":"started","priority":"normal","payload":{},"payload_persistent":{},"headers":{}}`)},
		{"json unknown status", JSON(), []byte(`{"uid":"a1","root_uid":"a1","parent_uid":null,"status":"Started","priority":"normal","payload":{},"payload_persistent":{},"headers":{}}`)},
		{"json bad legacy type", JSON(), []byte(`{"uid":"a1","root_uid":"a1","parent_uid":null,"status":"started","priority":"normal","payload":{},"payload_persistent":{},"headers":{},"error":"x"}`)},
		{"msgpack empty", MsgPack(), nil},
		{"msgpack not an array", MsgPack(), mustMsgPack(map[string]any{"uid": "a1"})},
		{"msgpack nil", MsgPack(), []byte{0xc0}},
		{"msgpack too short", MsgPack(), mustMsgPack([]any{"a1", "a1", nil, "started"})},
		{"msgpack truncated", MsgPack(), valid[:len(valid)-3]},
		{"msgpack trailing", MsgPack(), append(bytes.Clone(valid), 0x01)},
		{"msgpack nil uid", MsgPack(), mustMsgPack([]any{nil, "a1", nil, "started", "normal", map[string]any{}, map[string]any{}, map[string]any{}})},
		{"msgpack nil payload", MsgPack(), mustMsgPack([]any{"a1", "a1", nil, "started", "normal", nil, map[string]any{}, map[string]any{}})},
		{"msgpack unknown priority", MsgPack(), mustMsgPack([]any{"a1", "a1", nil, "started", "urgent", map[string]any{}, map[string]any{}, map[string]any{}})},
		{"msgpack huge payload header", MsgPack(), slices.Concat(head(8), hugeMap)},
		{"msgpack huge headers header", MsgPack(), slices.Concat(head(8), []byte{0x80, 0x80}, hugeMap)},
		{"msgpack huge headers_persistent header", MsgPack(), slices.Concat(head(9), []byte{0x80, 0x80, 0x80}, hugeMap)},
		{"msgpack huge error header", MsgPack(), slices.Concat(head(10), []byte{0x80, 0x80, 0x80, 0xc0}, hugeArray)},
		{"msgpack header not string", MsgPack(), mustMsgPack([]any{"a1", "a1", nil, "started", "normal", map[string]any{}, map[string]any{}, map[string]any{"n": 1}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.codec.Decode(tt.data)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, IsDecodeError(err), "want DecodeError, got %v", err)
		})
	}
}

func TestJSON_RejectsInvalidUTF8(t *testing.T) {
	const bad = "caf\xe9"
	tests := map[string]func(r *record.TaskRecord){
		"uid":          func(r *record.TaskRecord) { r.UID = bad },
		"header value": func(r *record.TaskRecord) { r.Headers["h"] = bad },
		"header key":   func(r *record.TaskRecord) { r.Headers[bad] = "v" },
		"error":        func(r *record.TaskRecord) { r.Error = []string{"ok", bad} },
		"orig_uid":     func(r *record.TaskRecord) { r.OrigUID = record.Ptr(bad) },
		"nested payload": func(r *record.TaskRecord) {
			r.Payload["p"] = record.List(record.Map(map[string]record.Value{"k": record.String(bad)}))
		},
	}
	for name, modify := range tests {
		t.Run(name, func(t *testing.T) {
			r := minimalRecord()
			modify(r)

			_, err := JSON().Encode(r)
			require.Error(t, err)
			assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
			assert.False(t, IsDecodeError(err))

			// The compact form carries the bytes as they are.
			data, err := MsgPack().Encode(r)
			require.NoError(t, err)
			got, err := MsgPack().Decode(data)
			require.NoError(t, err)
			assert.True(t, r.Equal(got))
		})
	}
}

func TestForContentType(t *testing.T) {
	c, ok := ForContentType("application/json; charset=utf-8")
	require.True(t, ok)
	assert.Equal(t, ContentTypeJSON, c.ContentType())

	c, ok = ForContentType("application/x-msgpack")
	require.True(t, ok)
	assert.Equal(t, ContentTypeMsgPack, c.ContentType())

	_, ok = ForContentType("application/cbor")
	assert.False(t, ok)

	c, ok = ForExtension(".msgpack")
	require.True(t, ok)
	assert.Equal(t, "msgpack", c.Extension())
}
