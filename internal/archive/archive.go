// Package archive keeps encoded task records in a storage.Storage so they can
// be inspected after the fact. Accepted records are stored by task uid;
// bytes that failed to decode are kept under a generated id together with
// the reason they were rejected.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc/iter"

	"github.com/kazz187/taskwire/internal/codec"
	"github.com/kazz187/taskwire/internal/record"
	"github.com/kazz187/taskwire/pkg/cerr"
	"github.com/kazz187/taskwire/pkg/storage"
)

const (
	recordsPrefix  = "records"
	rejectedPrefix = "rejected"
	reasonExt      = "reason"

	listConcurrency = 8
)

type Archive struct {
	storage storage.Storage
}

func New(s storage.Storage) *Archive {
	return &Archive{storage: s}
}

func recordPath(uid string, c codec.Codec) string {
	return fmt.Sprintf("%s/%s.%s", recordsPrefix, uid, c.Extension())
}

func rejectedPath(id, ext string) string {
	return fmt.Sprintf("%s/%s.%s", rejectedPrefix, id, ext)
}

func codecFor(contentType string) (codec.Codec, error) {
	c, ok := codec.ForContentType(contentType)
	if !ok {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown content type %q", contentType), nil)
	}
	return c, nil
}

// Put stores data, an encoded record for task uid, replacing whatever was
// archived for that uid before in either format.
func (a *Archive) Put(ctx context.Context, uid string, data []byte, contentType string) error {
	if uid == "" || strings.ContainsAny(uid, "/\\") {
		return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("invalid task uid %q", uid), nil)
	}
	c, err := codecFor(contentType)
	if err != nil {
		return err
	}
	if err := a.storage.Write(ctx, recordPath(uid, c), data); err != nil {
		return cerr.WrapStorageWriteError("task record", err)
	}
	for _, other := range []codec.Codec{codec.JSON(), codec.MsgPack()} {
		if other.Extension() == c.Extension() {
			continue
		}
		if err := a.storage.Delete(ctx, recordPath(uid, other)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return cerr.WrapStorageDeleteError("task record", err)
		}
	}
	return nil
}

// Reject stores bytes that could not be decoded and returns the id they
// were filed under. An unknown content type is stored with a "bin" suffix.
func (a *Archive) Reject(ctx context.Context, data []byte, contentType, reason string) (string, error) {
	ext := "bin"
	if c, ok := codec.ForContentType(contentType); ok {
		ext = c.Extension()
	}
	id := ulid.Make().String()
	if err := a.storage.Write(ctx, rejectedPath(id, ext), data); err != nil {
		return "", cerr.WrapStorageWriteError("rejected record", err)
	}
	if err := a.storage.Write(ctx, rejectedPath(id, reasonExt), []byte(reason+"\n")); err != nil {
		return "", cerr.WrapStorageWriteError("rejected record", err)
	}
	return id, nil
}

// Raw returns the archived bytes for uid and the content type they are
// encoded with.
func (a *Archive) Raw(ctx context.Context, uid string) ([]byte, string, error) {
	for _, c := range []codec.Codec{codec.JSON(), codec.MsgPack()} {
		data, err := a.storage.Read(ctx, recordPath(uid, c))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", cerr.WrapStorageReadError("task record", err)
		}
		return data, c.ContentType(), nil
	}
	return nil, "", cerr.NewError(cerr.NotFound, "task record not found", fmt.Errorf("%s: %w", uid, storage.ErrNotFound))
}

// Get decodes the archived record for uid.
func (a *Archive) Get(ctx context.Context, uid string) (*record.TaskRecord, error) {
	data, contentType, err := a.Raw(ctx, uid)
	if err != nil {
		return nil, err
	}
	c, err := codecFor(contentType)
	if err != nil {
		return nil, err
	}
	return c.Decode(data)
}

// List decodes every archived record, ordered by uid. Since uids are ULIDs
// this is creation order.
func (a *Archive) List(ctx context.Context) ([]*record.TaskRecord, error) {
	paths, err := a.storage.List(ctx, recordsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("task records", err)
	}
	mapper := iter.Mapper[string, *record.TaskRecord]{MaxGoroutines: listConcurrency}
	records, err := mapper.MapErr(paths, func(p *string) (*record.TaskRecord, error) {
		c, ok := codec.ForExtension(path.Ext(*p))
		if !ok {
			return nil, nil
		}
		data, err := a.storage.Read(ctx, *p)
		if err != nil {
			return nil, cerr.WrapStorageReadError(*p, err)
		}
		r, err := c.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", *p, err)
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	records = slices.DeleteFunc(records, func(r *record.TaskRecord) bool { return r == nil })
	slices.SortStableFunc(records, func(x, y *record.TaskRecord) int { return strings.Compare(x.UID, y.UID) })
	return records, nil
}

// Rejection is one entry of the rejected area.
type Rejection struct {
	ID     string
	Data   []byte
	Ext    string
	Reason string
}

// Time is when the rejection was filed, taken from its id.
func (r *Rejection) Time() time.Time {
	id, err := ulid.ParseStrict(r.ID)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(id.Time())
}

// Rejected lists the rejected area, oldest first.
func (a *Archive) Rejected(ctx context.Context) ([]*Rejection, error) {
	paths, err := a.storage.List(ctx, rejectedPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("rejected records", err)
	}
	var out []*Rejection
	for _, p := range paths {
		ext := strings.TrimPrefix(path.Ext(p), ".")
		if ext == reasonExt {
			continue
		}
		id := strings.TrimSuffix(path.Base(p), "."+ext)
		data, err := a.storage.Read(ctx, p)
		if err != nil {
			return nil, cerr.WrapStorageReadError(p, err)
		}
		rj := &Rejection{ID: id, Data: data, Ext: ext}
		reason, err := a.storage.Read(ctx, rejectedPath(id, reasonExt))
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, cerr.WrapStorageReadError(p, err)
		}
		rj.Reason = strings.TrimSuffix(string(reason), "\n")
		out = append(out, rj)
	}
	return out, nil
}
