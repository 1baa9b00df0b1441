// Package codec turns a record.TaskRecord into bytes and back. JSON is the
// self-describing form: named keys, larger, readable when inspecting a
// broker by hand. MsgPack is the compact positional form: an array in
// record.Fields order with the defaulted legacy suffix dropped.
//
// Both codecs are stateless and safe for concurrent use.
package codec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kazz187/taskwire/internal/record"
	"github.com/kazz187/taskwire/pkg/cerr"
)

// Codec is a matched encode/decode pair bound to one wire representation.
type Codec interface {
	ContentType() string
	// Extension is the file suffix used when records are written to disk.
	Extension() string
	// Encode is deterministic: equal records produce equal bytes.
	Encode(r *record.TaskRecord) ([]byte, error)
	// Decode returns a complete record or a DecodeError, never both.
	Decode(data []byte) (*record.TaskRecord, error)
}

const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgPack = "application/msgpack"
)

var builtin = []Codec{JSON(), MsgPack()}

// ForContentType returns the built-in codec for a content type. Parameters
// such as "; charset=utf-8" are ignored.
func ForContentType(contentType string) (Codec, bool) {
	ct, _, _ := strings.Cut(contentType, ";")
	ct = strings.TrimSpace(strings.ToLower(ct))
	if ct == "application/x-msgpack" {
		ct = ContentTypeMsgPack
	}
	for _, c := range builtin {
		if c.ContentType() == ct {
			return c, true
		}
	}
	return nil, false
}

// ForExtension returns the built-in codec for a file suffix such as ".json".
func ForExtension(ext string) (Codec, bool) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, c := range builtin {
		if c.Extension() == ext {
			return c, true
		}
	}
	return nil, false
}

func newDecodeError(format string, args ...any) error {
	return cerr.NewError(cerr.DataLoss, "invalid task record", fmt.Errorf(format, args...))
}

func wrapDecodeError(err error, format string, args ...any) error {
	return cerr.NewError(cerr.DataLoss, "invalid task record",
		fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err))
}

// IsDecodeError reports whether err means the bytes were not a valid record
// in the codec's representation.
func IsDecodeError(err error) bool {
	return cerr.IsCode(err, cerr.DataLoss)
}

// validate checks the enumerated fields after the structure has been parsed.
func validate(r *record.TaskRecord) error {
	if !r.Status.Valid() {
		return newDecodeError("unknown status %q", r.Status)
	}
	if !r.Priority.Valid() {
		return newDecodeError("unknown priority %q", r.Priority)
	}
	return nil
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
