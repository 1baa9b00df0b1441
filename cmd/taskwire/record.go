package main

import (
	"bytes"
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskwire/internal/record"
	"github.com/kazz187/taskwire/internal/serializer"
	"github.com/kazz187/taskwire/pkg/cerr"
)

// detectFormat resolves the wire format of data: the explicit flag wins,
// then the file extension, then the first byte.
func detectFormat(flag, file string, data []byte) (serializer.Format, error) {
	if flag != "" {
		return serializer.ParseFormat(flag)
	}
	switch filepath.Ext(file) {
	case ".json":
		return serializer.FormatSelfDescribing, nil
	case ".msgpack", ".mpk":
		return serializer.FormatCompactBinary, nil
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return "", cerr.NewError(cerr.InvalidArgument, "empty input", nil)
	}
	switch b := trimmed[0]; {
	case b == '{':
		return serializer.FormatSelfDescribing, nil
	case b >= 0x90 && b <= 0x9f, b == 0xdc, b == 0xdd:
		return serializer.FormatCompactBinary, nil
	}
	return "", cerr.NewError(cerr.InvalidArgument, "cannot detect wire format, pass --format", nil)
}

func newSerializer(f serializer.Format) (*serializer.Serializer, error) {
	s := serializer.New()
	if err := s.Configure(f); err != nil {
		return nil, err
	}
	return s, nil
}

// decodeBytes decodes data whose format is given by flag or detected.
func decodeBytes(flag, file string, data []byte) (*record.TaskRecord, serializer.Format, error) {
	f, err := detectFormat(flag, file, data)
	if err != nil {
		return nil, "", err
	}
	s, err := newSerializer(f)
	if err != nil {
		return nil, "", err
	}
	r, err := s.Decode(data)
	if err != nil {
		return nil, "", err
	}
	return r, f, nil
}

func renderYAML(r *record.TaskRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("failed to render record: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to render record: %w", err)
	}
	return buf.Bytes(), nil
}

// parseYAML reads a record written the way renderYAML prints one.
func parseYAML(data []byte) (*record.TaskRecord, error) {
	var r record.TaskRecord
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "invalid YAML record", err)
	}
	switch {
	case r.UID == "":
		return nil, cerr.NewError(cerr.InvalidArgument, "record has no uid", nil)
	case r.RootUID == "":
		return nil, cerr.NewError(cerr.InvalidArgument, "record has no root_uid", nil)
	case !r.Status.Valid():
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown status %q", r.Status), nil)
	case !r.Priority.Valid():
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown priority %q", r.Priority), nil)
	}
	r.Normalize()
	return &r, nil
}
