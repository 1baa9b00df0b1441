package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/kazz187/taskwire/internal/record"
)

type msgpackCodec struct{}

// MsgPack returns the compact positional codec. A record is a msgpack array
// holding the eight required fields followed by as many legacy fields as are
// needed to carry the last non-default one. A default legacy field in front
// of a set one is written as nil.
//
// Decode accepts shorter arrays from older peers and skips extra trailing
// elements from newer ones.
func MsgPack() Codec { return msgpackCodec{} }

func (msgpackCodec) ContentType() string { return ContentTypeMsgPack }
func (msgpackCodec) Extension() string   { return "msgpack" }

func (msgpackCodec) Encode(r *record.TaskRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	legacy := r.LegacyTail()
	if err := enc.EncodeArrayLen(record.RequiredFieldCount + legacy); err != nil {
		return nil, err
	}
	steps := []func() error{
		func() error { return enc.EncodeString(r.UID) },
		func() error { return enc.EncodeString(r.RootUID) },
		func() error { return encodeOptionalString(enc, r.ParentUID) },
		func() error { return enc.EncodeString(string(r.Status)) },
		func() error { return enc.EncodeString(string(r.Priority)) },
		func() error { return encodeValueMap(enc, r.Payload) },
		func() error { return encodeValueMap(enc, r.PayloadPersistent) },
		func() error { return encodeStringMap(enc, nonNil(r.Headers)) },
		func() error { return encodeStringMap(enc, r.HeadersPersistent) },
		func() error { return encodeStringList(enc, r.Error) },
		func() error {
			if r.LastUpdate == nil {
				return enc.EncodeNil()
			}
			return enc.EncodeFloat64(*r.LastUpdate)
		},
		func() error { return encodeOptionalString(enc, r.OrigUID) },
	}
	for i, step := range steps[:record.RequiredFieldCount+legacy] {
		if err := step(); err != nil {
			return nil, fmt.Errorf("encode %s: %w", record.Fields[i].Name, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeOptionalString(enc *msgpack.Encoder, s *string) error {
	if s == nil {
		return enc.EncodeNil()
	}
	return enc.EncodeString(*s)
}

func encodeValueMap(enc *msgpack.Encoder, m map[string]record.Value) error {
	return record.Map(m).EncodeMsgpack(enc)
}

// encodeStringMap writes nil for a nil map and sorts keys otherwise.
func encodeStringMap(enc *msgpack.Encoder, m map[string]string) error {
	if m == nil {
		return enc.EncodeNil()
	}
	if err := enc.EncodeMapLen(len(m)); err != nil {
		return err
	}
	for _, k := range sortedStringKeys(m) {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := enc.EncodeString(m[k]); err != nil {
			return err
		}
	}
	return nil
}

func encodeStringList(enc *msgpack.Encoder, list []string) error {
	if list == nil {
		return enc.EncodeNil()
	}
	if err := enc.EncodeArrayLen(len(list)); err != nil {
		return err
	}
	for _, s := range list {
		if err := enc.EncodeString(s); err != nil {
			return err
		}
	}
	return nil
}

func (msgpackCodec) Decode(data []byte) (*record.TaskRecord, error) {
	rd := bytes.NewReader(data)
	dec := msgpack.NewDecoder(rd)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, wrapDecodeError(err, "record is not an array")
	}
	if n < 0 {
		return nil, newDecodeError("record is nil")
	}
	if n < record.RequiredFieldCount {
		return nil, newDecodeError("missing required field %q", record.Fields[n].Name)
	}

	r := &record.TaskRecord{}
	for i := range n {
		if i >= len(record.Fields) {
			// Written by a newer peer.
			if err := dec.Skip(); err != nil {
				return nil, wrapDecodeError(err, "unknown field %d", i)
			}
			continue
		}
		if err := decodeField(dec, r, i); err != nil {
			return nil, wrapDecodeError(err, "field %q", record.Fields[i].Name)
		}
	}
	if rd.Len() > 0 {
		return nil, newDecodeError("%d trailing bytes after record", rd.Len())
	}

	if err := validate(r); err != nil {
		return nil, err
	}
	r.Normalize()
	return r, nil
}

func decodeField(dec *msgpack.Decoder, r *record.TaskRecord, i int) error {
	var err error
	switch i {
	case 0:
		r.UID, err = decodeString(dec)
	case 1:
		r.RootUID, err = decodeString(dec)
	case 2:
		r.ParentUID, err = decodeOptionalString(dec)
	case 3:
		var s string
		s, err = decodeString(dec)
		r.Status = record.Status(s)
	case 4:
		var s string
		s, err = decodeString(dec)
		r.Priority = record.Priority(s)
	case 5:
		r.Payload, err = decodeValueMap(dec)
	case 6:
		r.PayloadPersistent, err = decodeValueMap(dec)
	case 7:
		r.Headers, err = decodeStringMap(dec)
		if err == nil && r.Headers == nil {
			err = errNil
		}
	case 8:
		r.HeadersPersistent, err = decodeStringMap(dec)
	case 9:
		r.Error, err = decodeStringList(dec)
	case 10:
		r.LastUpdate, err = decodeOptionalFloat(dec)
	case 11:
		r.OrigUID, err = decodeOptionalString(dec)
	default:
		err = dec.Skip()
	}
	return err
}

var errNil = errors.New("unexpected nil")

func isNil(dec *msgpack.Decoder) (bool, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return false, err
	}
	if c != msgpcode.Nil {
		return false, nil
	}
	return true, dec.DecodeNil()
}

func decodeString(dec *msgpack.Decoder) (string, error) {
	if null, err := isNil(dec); err != nil || null {
		if err == nil {
			err = errNil
		}
		return "", err
	}
	return dec.DecodeString()
}

func decodeOptionalString(dec *msgpack.Decoder) (*string, error) {
	if null, err := isNil(dec); err != nil || null {
		return nil, err
	}
	s, err := dec.DecodeString()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func decodeOptionalFloat(dec *msgpack.Decoder) (*float64, error) {
	if null, err := isNil(dec); err != nil || null {
		return nil, err
	}
	raw, err := dec.DecodeInterface()
	if err != nil {
		return nil, err
	}
	v, err := record.ValueOf(raw)
	if err != nil {
		return nil, err
	}
	if f, ok := v.AsFloat(); ok {
		return &f, nil
	}
	if i, ok := v.AsInt(); ok {
		f := float64(i)
		return &f, nil
	}
	return nil, fmt.Errorf("expected number, got %s", v.Kind())
}

// maxPrealloc caps the capacity taken from a length header. The header is
// untrusted; a short input announcing 2^31 entries must fail on EOF, not
// exhaust memory first.
const maxPrealloc = 1024

func decodeValueMap(dec *msgpack.Decoder) (map[string]record.Value, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errNil
	}
	m := make(map[string]record.Value, min(n, maxPrealloc))
	for range n {
		k, err := decodeString(dec)
		if err != nil {
			return nil, fmt.Errorf("key: %w", err)
		}
		var v record.Value
		if err := v.DecodeMsgpack(dec); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		m[k] = v
	}
	return m, nil
}

// decodeStringMap returns nil for a msgpack nil.
func decodeStringMap(dec *msgpack.Decoder) (map[string]string, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	m := make(map[string]string, min(n, maxPrealloc))
	for range n {
		k, err := decodeString(dec)
		if err != nil {
			return nil, fmt.Errorf("key: %w", err)
		}
		v, err := decodeString(dec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		m[k] = v
	}
	return m, nil
}

func decodeStringList(dec *msgpack.Decoder) ([]string, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	list := make([]string, 0, min(n, maxPrealloc))
	for i := range n {
		v, err := decodeString(dec)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		list = append(list, v)
	}
	return list, nil
}
