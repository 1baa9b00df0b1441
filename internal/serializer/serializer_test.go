package serializer

import (
	"bytes"
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskwire/internal/codec"
	"github.com/kazz187/taskwire/internal/config"
	"github.com/kazz187/taskwire/internal/record"
)

func testRecord() *record.TaskRecord {
	return &record.TaskRecord{
		UID:               "a1",
		RootUID:           "a1",
		Status:            record.StatusStarted,
		Priority:          record.PriorityNormal,
		Payload:           map[string]record.Value{"n": record.Int(3)},
		PayloadPersistent: map[string]record.Value{},
		Headers:           map[string]string{"type": "sample"},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"self-describing", FormatSelfDescribing},
		{"default-self-describing", FormatSelfDescribing},
		{"json", FormatSelfDescribing},
		{"compact-binary", FormatCompactBinary},
		{"compact-positional", FormatCompactBinary},
		{" MsgPack ", FormatCompactBinary},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseFormat("cbor")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestSerializer_DefaultIsSelfDescribing(t *testing.T) {
	s := New()
	assert.Equal(t, FormatSelfDescribing, s.Format())
	assert.Equal(t, codec.ContentTypeJSON, s.ContentType())

	data, err := s.Encode(testRecord())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte(`{"uid":"a1"`)))
}

func TestSerializer_FormatSwitch(t *testing.T) {
	def := New()
	jsonBytes, err := def.Encode(testRecord())
	require.NoError(t, err)

	compact := New()
	require.NoError(t, compact.Configure(FormatCompactBinary))
	assert.Equal(t, FormatCompactBinary, compact.Format())

	packed, err := compact.Encode(testRecord())
	require.NoError(t, err)
	assert.NotEqual(t, jsonBytes, packed)
	assert.Less(t, len(packed), len(jsonBytes))

	got, err := compact.Decode(packed)
	require.NoError(t, err)
	assert.True(t, testRecord().Equal(got))

	// The formats are not negotiated; a JSON reader rejects compact bytes.
	_, err = def.Decode(packed)
	assert.True(t, codec.IsDecodeError(err))
}

func TestSerializer_ConfigureOnce(t *testing.T) {
	s := New()
	require.NoError(t, s.Configure(FormatCompactBinary))

	err := s.Configure(FormatSelfDescribing)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Equal(t, FormatCompactBinary, s.Format())
}

func TestSerializer_ConfigureAfterUse(t *testing.T) {
	s := New()
	_, err := s.Encode(testRecord())
	require.NoError(t, err)

	err = s.Configure(FormatCompactBinary)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Equal(t, FormatSelfDescribing, s.Format())

	s = New()
	_, _ = s.Decode([]byte("{}"))
	assert.True(t, IsConfigurationError(s.Configure(FormatCompactBinary)))
}

func TestSerializer_ConfigureUnknown(t *testing.T) {
	s := New()
	err := s.Configure(Format("xml"))
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	// A rejected name does not use up the one configuration.
	require.NoError(t, s.Configure(Format("msgpack")))
	assert.Equal(t, FormatCompactBinary, s.Format())
}

func TestNewFromEnv(t *testing.T) {
	s, err := NewFromEnv(&config.SerializationEnv{Format: "compact-binary"})
	require.NoError(t, err)
	assert.Equal(t, FormatCompactBinary, s.Format())

	s, err = NewFromEnv(nil)
	require.NoError(t, err)
	assert.Equal(t, FormatSelfDescribing, s.Format())

	_, err = NewFromEnv(&config.SerializationEnv{Format: "yaml"})
	assert.True(t, IsConfigurationError(err))
}

func TestSerializer_ConcurrentUse(t *testing.T) {
	for _, f := range []Format{FormatSelfDescribing, FormatCompactBinary} {
		t.Run(string(f), func(t *testing.T) {
			s := New()
			require.NoError(t, s.Configure(f))
			want, err := s.Encode(testRecord())
			require.NoError(t, err)

			var wg conc.WaitGroup
			for range 32 {
				wg.Go(func() {
					for range 100 {
						data, err := s.Encode(testRecord())
						assert.NoError(t, err)
						assert.Equal(t, want, data)
						got, err := s.Decode(data)
						assert.NoError(t, err)
						assert.True(t, testRecord().Equal(got))
					}
				})
			}
			wg.Wait()
		})
	}
}
