package clog

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/kazz187/taskwire/pkg/cerr"
)

const (
	ErrorAttributeKey = "error.message"
	StackAttributeKey = "error.stack"
	CodeAttributeKey  = "error.code"

	TaskUIDAttributeKey = "task.uid"
	TopicAttributeKey   = "topic"
	HandlerAttributeKey = "handler"
	FormatAttributeKey  = "format"
)

type ctxSlog struct {
	mu         sync.RWMutex
	attributes map[string]any
}

type ctxSlogKey struct{}

// ContextWithSlog returns a context carrying a fresh, mutable attribute set.
// Attributes added later through any derived context show up on every
// record logged with it.
func ContextWithSlog(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxSlogKey{}, &ctxSlog{
		attributes: make(map[string]any),
	})
}

func fromContext(ctx context.Context) *ctxSlog {
	l, _ := ctx.Value(ctxSlogKey{}).(*ctxSlog)
	return l
}

func AddAttribute(ctx context.Context, key string, value any) {
	l := fromContext(ctx)
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attributes[key] = value
}

func AddAttributes(ctx context.Context, attributes map[string]any) {
	l := fromContext(ctx)
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	mergeMaps(l.attributes, attributes)
}

func GetAttribute[T any](ctx context.Context, key string) T {
	var zero T
	l := fromContext(ctx)
	if l == nil {
		return zero
	}
	l.mu.RLock()
	v, ok := l.attributes[key]
	l.mu.RUnlock()
	if !ok {
		return zero
	}
	tv, ok := v.(T)
	if !ok {
		return zero
	}
	return tv
}

func GetAttributes(ctx context.Context) map[string]any {
	l := fromContext(ctx)
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.attributes)
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		vMap, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		if dstMap, ok := dst[k].(map[string]any); ok {
			mergeMaps(dstMap, vMap)
		} else {
			dst[k] = vMap
		}
	}
}

// AddError records err on ctx. A *cerr.Error also contributes its code and,
// when one was captured, its stack.
func AddError(ctx context.Context, err error) {
	AddAttribute(ctx, ErrorAttributeKey, err)
	var ce *cerr.Error
	if !errors.As(err, &ce) {
		return
	}
	AddAttribute(ctx, CodeAttributeKey, ce.Code.String())
	if ce.Stack != "" {
		AddStack(ctx, ce.Stack)
	}
}

func GetError(ctx context.Context) error {
	return GetAttribute[error](ctx, ErrorAttributeKey)
}

func AddStack(ctx context.Context, stack string) {
	AddAttribute(ctx, StackAttributeKey, stack)
}

func GetStack(ctx context.Context) string {
	return GetAttribute[string](ctx, StackAttributeKey)
}

func AddTaskUID(ctx context.Context, uid string) {
	AddAttribute(ctx, TaskUIDAttributeKey, uid)
}
