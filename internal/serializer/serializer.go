// Package serializer holds the codec a process uses for every task record
// it sends or receives. The format is chosen once at startup; mixing formats
// between peers of one deployment is not supported.
package serializer

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/kazz187/taskwire/internal/codec"
	"github.com/kazz187/taskwire/internal/config"
	"github.com/kazz187/taskwire/internal/record"
	"github.com/kazz187/taskwire/pkg/cerr"
)

// Format names a wire representation.
type Format string

const (
	FormatSelfDescribing Format = "self-describing"
	FormatCompactBinary  Format = "compact-binary"
)

var formatAliases = map[string]Format{
	"self-describing":         FormatSelfDescribing,
	"default-self-describing": FormatSelfDescribing,
	"json":                    FormatSelfDescribing,
	"compact-binary":          FormatCompactBinary,
	"compact-positional":      FormatCompactBinary,
	"msgpack":                 FormatCompactBinary,
}

// ParseFormat accepts the canonical names plus the aliases older
// configuration files use ("json", "msgpack").
func ParseFormat(s string) (Format, error) {
	f, ok := formatAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", cerr.NewError(cerr.InvalidArgument,
			fmt.Sprintf("unknown serialization format %q", s), nil)
	}
	return f, nil
}

// Codec returns the codec implementing f.
func (f Format) Codec() codec.Codec {
	if f == FormatCompactBinary {
		return codec.MsgPack()
	}
	return codec.JSON()
}

// FormatOf maps a codec back to its format name.
func FormatOf(c codec.Codec) Format {
	if c.ContentType() == codec.ContentTypeMsgPack {
		return FormatCompactBinary
	}
	return FormatSelfDescribing
}

// IsConfigurationError reports whether err came from ParseFormat or
// Configure.
func IsConfigurationError(err error) bool {
	return cerr.IsCode(err, cerr.FailedPrecondition) || cerr.IsCode(err, cerr.InvalidArgument)
}

// Serializer is the process-wide encode/decode facade. Build one with New at
// startup, call Configure at most once before any traffic, then share it by
// pointer. Encode and Decode are safe for concurrent use; Configure is not
// safe to call concurrently with anything.
type Serializer struct {
	codec      codec.Codec
	configured atomic.Bool
	used       atomic.Bool
}

// New returns a Serializer using the self-describing format.
func New() *Serializer {
	return &Serializer{codec: codec.JSON()}
}

// NewFromEnv builds a Serializer for the configured serialization.format.
func NewFromEnv(env *config.SerializationEnv) (*Serializer, error) {
	s := New()
	if env == nil || env.Format == "" {
		return s, nil
	}
	f, err := ParseFormat(env.Format)
	if err != nil {
		return nil, err
	}
	if err := s.Configure(f); err != nil {
		return nil, err
	}
	return s, nil
}

// Configure selects the wire format. It fails once the serializer has been
// configured or has encoded or decoded anything.
func (s *Serializer) Configure(f Format) error {
	f, err := ParseFormat(string(f))
	if err != nil {
		return err
	}
	if s.used.Load() {
		return cerr.NewError(cerr.FailedPrecondition,
			"serializer configured after first use", nil)
	}
	if !s.configured.CompareAndSwap(false, true) {
		return cerr.NewError(cerr.FailedPrecondition,
			"serializer already configured", nil)
	}
	s.codec = f.Codec()
	return nil
}

// Format reports the active format.
func (s *Serializer) Format() Format {
	return FormatOf(s.codec)
}

// ContentType reports the active codec's content type.
func (s *Serializer) ContentType() string {
	return s.codec.ContentType()
}

// Codec returns the active codec.
func (s *Serializer) Codec() codec.Codec {
	return s.codec
}

func (s *Serializer) markUsed() {
	if !s.used.Load() {
		s.used.Store(true)
	}
}

func (s *Serializer) Encode(r *record.TaskRecord) ([]byte, error) {
	s.markUsed()
	return s.codec.Encode(r)
}

func (s *Serializer) Decode(data []byte) (*record.TaskRecord, error) {
	s.markUsed()
	return s.codec.Decode(data)
}
