package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Deployed peers depend on this exact order. Extend it at the end, never edit it.
var pinnedFields = []string{
	"uid",
	"root_uid",
	"parent_uid",
	"status",
	"priority",
	"payload",
	"payload_persistent",
	"headers",
	"headers_persistent",
	"error",
	"last_update",
	"orig_uid",
}

func TestFields_AppendOnly(t *testing.T) {
	require.GreaterOrEqual(t, len(Fields), len(pinnedFields), "fields must never be removed")
	for i, name := range pinnedFields {
		assert.Equal(t, name, Fields[i].Name, "field %d moved or renamed", i)
	}

	required := 0
	for _, f := range Fields {
		if f.Required {
			required++
		}
	}
	assert.Equal(t, RequiredFieldCount, required)
	assert.Equal(t, RequiredFieldCount+LegacyFieldCount, len(Fields))
}

func TestCheckFieldOrder(t *testing.T) {
	tests := []struct {
		name    string
		fields  []FieldSpec
		wantErr string
	}{
		{
			name:   "current table",
			fields: Fields[:],
		},
		{
			name: "required after legacy",
			fields: []FieldSpec{
				{Name: "uid", Required: true},
				{Name: "error"},
				{Name: "status", Required: true},
			},
			wantErr: `required record field "status" follows a legacy field`,
		},
		{
			name: "duplicate",
			fields: []FieldSpec{
				{Name: "uid", Required: true},
				{Name: "uid"},
			},
			wantErr: `record field "uid" declared twice`,
		},
		{
			name:    "unnamed",
			fields:  []FieldSpec{{Required: true}},
			wantErr: "record field 0 has no name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFieldOrder(tt.fields)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestFieldIndex(t *testing.T) {
	assert.Equal(t, 0, FieldIndex(FieldUID))
	assert.Equal(t, 9, FieldIndex(FieldError))
	assert.Equal(t, -1, FieldIndex("routing_key"))
}
