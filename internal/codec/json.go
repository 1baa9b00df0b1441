package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/kazz187/taskwire/internal/record"
	"github.com/kazz187/taskwire/pkg/cerr"
)

type jsonCodec struct{}

// JSON returns the self-describing codec. Records are JSON objects keyed by
// field name, written in record.Fields order; legacy keys are left out while
// they hold their default. Unknown keys are ignored on decode.
//
// Every string must be valid UTF-8. Encode rejects anything else instead of
// letting encoding/json swap it for U+FFFD, so the bytes a record carries
// are the same in both forms.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) ContentType() string { return ContentTypeJSON }
func (jsonCodec) Extension() string   { return "json" }

func (jsonCodec) Encode(r *record.TaskRecord) ([]byte, error) {
	w := objectWriter{}
	w.buf.WriteByte('{')
	w.field(record.FieldUID, r.UID)
	w.field(record.FieldRootUID, r.RootUID)
	w.field(record.FieldParentUID, r.ParentUID)
	w.field(record.FieldStatus, r.Status)
	w.field(record.FieldPriority, r.Priority)
	w.field(record.FieldPayload, record.Map(r.Payload))
	w.field(record.FieldPayloadPersistent, record.Map(r.PayloadPersistent))
	w.field(record.FieldHeaders, nonNil(r.Headers))
	if r.HeadersPersistent != nil {
		w.field(record.FieldHeadersPersistent, r.HeadersPersistent)
	}
	if r.Error != nil {
		w.field(record.FieldError, r.Error)
	}
	if r.LastUpdate != nil {
		w.field(record.FieldLastUpdate, *r.LastUpdate)
	}
	if r.OrigUID != nil {
		w.field(record.FieldOrigUID, *r.OrigUID)
	}
	w.buf.WriteByte('}')
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// objectWriter keeps keys in the order they are written, which
// encoding/json does not do for maps.
type objectWriter struct {
	buf bytes.Buffer
	n   int
	err error
}

func (w *objectWriter) field(name string, v any) {
	if w.err != nil {
		return
	}
	if bad, ok := invalidUTF8(v); ok {
		w.err = cerr.NewError(cerr.InvalidArgument, "record is not valid UTF-8",
			fmt.Errorf("field %q: %q", name, bad))
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		w.err = err
		return
	}
	if w.n > 0 {
		w.buf.WriteByte(',')
	}
	w.n++
	w.buf.WriteByte('"')
	w.buf.WriteString(name)
	w.buf.WriteString(`":`)
	w.buf.Write(b)
}

func (jsonCodec) Decode(data []byte) (*record.TaskRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, wrapDecodeError(err, "malformed json")
	}
	if fields == nil {
		return nil, newDecodeError("record is null")
	}

	r := &record.TaskRecord{}
	required := []struct {
		name     string
		dst      any
		nullable bool
	}{
		{record.FieldUID, &r.UID, false},
		{record.FieldRootUID, &r.RootUID, false},
		{record.FieldParentUID, &r.ParentUID, true},
		{record.FieldStatus, &r.Status, false},
		{record.FieldPriority, &r.Priority, false},
		{record.FieldPayload, &r.Payload, false},
		{record.FieldPayloadPersistent, &r.PayloadPersistent, false},
		{record.FieldHeaders, &r.Headers, false},
	}
	for _, f := range required {
		raw, ok := fields[f.name]
		if !ok {
			return nil, newDecodeError("missing required field %q", f.name)
		}
		if !f.nullable && isNull(raw) {
			return nil, newDecodeError("required field %q is null", f.name)
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return nil, wrapDecodeError(err, "field %q", f.name)
		}
	}

	legacy := []struct {
		name string
		dst  any
	}{
		{record.FieldHeadersPersistent, &r.HeadersPersistent},
		{record.FieldError, &r.Error},
		{record.FieldLastUpdate, &r.LastUpdate},
		{record.FieldOrigUID, &r.OrigUID},
	}
	for _, f := range legacy {
		raw, ok := fields[f.name]
		if !ok || isNull(raw) {
			continue
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return nil, wrapDecodeError(err, "field %q", f.name)
		}
	}

	if err := validate(r); err != nil {
		return nil, err
	}
	r.Normalize()
	return r, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// invalidUTF8 returns the first string in v that is not valid UTF-8.
func invalidUTF8(v any) (string, bool) {
	check := func(s string) (string, bool) { return s, !utf8.ValidString(s) }
	switch t := v.(type) {
	case string:
		return check(t)
	case *string:
		if t != nil {
			return check(*t)
		}
	case record.Status:
		return check(string(t))
	case record.Priority:
		return check(string(t))
	case []string:
		for _, s := range t {
			if bad, ok := check(s); ok {
				return bad, true
			}
		}
	case map[string]string:
		for k, s := range t {
			if bad, ok := check(k); ok {
				return bad, true
			}
			if bad, ok := check(s); ok {
				return bad, true
			}
		}
	case record.Value:
		if s, ok := t.AsString(); ok {
			return check(s)
		}
		if list, ok := t.AsList(); ok {
			for _, e := range list {
				if bad, ok := invalidUTF8(e); ok {
					return bad, true
				}
			}
		}
		if m, ok := t.AsMap(); ok {
			for k, e := range m {
				if bad, ok := check(k); ok {
					return bad, true
				}
				if bad, ok := invalidUTF8(e); ok {
					return bad, true
				}
			}
		}
	}
	return "", false
}
