package record

import "fmt"

// FieldSpec describes one position of the record.
type FieldSpec struct {
	Name     string
	Required bool
	// Compat names the oldest peer generation the field exists for. It is
	// documentation only.
	Compat string
}

const (
	RequiredFieldCount = 8
	LegacyFieldCount   = 4
)

// Field names as they appear on the wire.
const (
	FieldUID               = "uid"
	FieldRootUID           = "root_uid"
	FieldParentUID         = "parent_uid"
	FieldStatus            = "status"
	FieldPriority          = "priority"
	FieldPayload           = "payload"
	FieldPayloadPersistent = "payload_persistent"
	FieldHeaders           = "headers"
	FieldHeadersPersistent = "headers_persistent"
	FieldError             = "error"
	FieldLastUpdate        = "last_update"
	FieldOrigUID           = "orig_uid"
)

// Fields is the wire order of TaskRecord. Append new legacy fields at the
// end only.
var Fields = [RequiredFieldCount + LegacyFieldCount]FieldSpec{
	{Name: FieldUID, Required: true},
	{Name: FieldRootUID, Required: true},
	{Name: FieldParentUID, Required: true},
	{Name: FieldStatus, Required: true},
	{Name: FieldPriority, Required: true},
	{Name: FieldPayload, Required: true},
	{Name: FieldPayloadPersistent, Required: true},
	{Name: FieldHeaders, Required: true},
	{Name: FieldHeadersPersistent, Compat: "<= 5.2.0"},
	{Name: FieldError, Compat: "<= 3.x.x"},
	{Name: FieldLastUpdate, Compat: "<= 2.x.x"},
	{Name: FieldOrigUID, Compat: "<= 3.x.x"},
}

// FieldIndex returns the wire position of name, or -1.
func FieldIndex(name string) int {
	for i, f := range Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func init() {
	if err := checkFieldOrder(Fields[:]); err != nil {
		panic(err)
	}
}

// checkFieldOrder enforces the layout the compact codec depends on: unique
// names, every required field ahead of every legacy field.
func checkFieldOrder(fields []FieldSpec) error {
	seen := make(map[string]struct{}, len(fields))
	legacy := false
	for i, f := range fields {
		if f.Name == "" {
			return fmt.Errorf("record field %d has no name", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("record field %q declared twice", f.Name)
		}
		seen[f.Name] = struct{}{}
		if !f.Required {
			legacy = true
		} else if legacy {
			return fmt.Errorf("required record field %q follows a legacy field", f.Name)
		}
	}
	return nil
}
