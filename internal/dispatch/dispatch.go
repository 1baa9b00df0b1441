// Package dispatch moves tasks between producers and workers over a
// watermill pub/sub. Outgoing tasks are encoded through the task bridge and
// labelled with their content type and uid; incoming messages are decoded
// back into records before the handler sees them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskwire/internal/archive"
	"github.com/kazz187/taskwire/internal/codec"
	"github.com/kazz187/taskwire/internal/config"
	"github.com/kazz187/taskwire/internal/record"
	"github.com/kazz187/taskwire/internal/serializer"
	"github.com/kazz187/taskwire/internal/task"
	"github.com/kazz187/taskwire/pkg/cerr"
	"github.com/kazz187/taskwire/pkg/clog"
	"github.com/kazz187/taskwire/pkg/panicerr"
)

// Message metadata keys.
const (
	MetadataContentType = "content-type"
	MetadataTaskUID     = "task-uid"
)

type PubSub interface {
	message.Publisher
	message.Subscriber
}

// HandlerFunc processes one decoded task.
type HandlerFunc func(ctx context.Context, r *record.TaskRecord) error

type Dispatcher struct {
	serializer  *serializer.Serializer
	pubSub      PubSub
	router      *message.Router
	archive     *archive.Archive
	poisonTopic string
}

type Option func(*Dispatcher)

// WithPubSub replaces the in-process gochannel pub/sub.
func WithPubSub(ps PubSub) Option {
	return func(d *Dispatcher) {
		d.pubSub = ps
	}
}

// WithArchive stores rejected messages in a.
func WithArchive(a *archive.Archive) Option {
	return func(d *Dispatcher) {
		d.archive = a
	}
}

// New builds a Dispatcher encoding and decoding with s. Undecodable
// messages, and messages whose handler panicked, go to env.PoisonTopic.
func New(s *serializer.Serializer, env *config.BrokerEnv, opts ...Option) (*Dispatcher, error) {
	logger := watermill.NewSlogLogger(slog.Default())
	d := &Dispatcher{
		serializer:  s,
		poisonTopic: env.PoisonTopic,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.pubSub == nil {
		d.pubSub = gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: env.OutputBuffer,
			},
			logger,
		)
	}

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}
	poison, err := middleware.PoisonQueueWithFilter(d.pubSub, d.poisonTopic, shouldPoison)
	if err != nil {
		return nil, fmt.Errorf("failed to create poison queue: %w", err)
	}
	router.AddMiddleware(poison)
	d.router = router
	return d, nil
}

// Redelivering these cannot help: the bytes will not decode next time
// either, and a panicking handler would spin on the same message.
func shouldPoison(err error) bool {
	return codec.IsDecodeError(err) || panicerr.IsPanic(err)
}

// PoisonTopic is where rejected messages are republished.
func (d *Dispatcher) PoisonTopic() string {
	return d.poisonTopic
}

// Send encodes t and publishes it on topic.
func (d *Dispatcher) Send(ctx context.Context, topic string, t task.Snapshotter) error {
	r, data, err := task.SnapshotAndEncode(d.serializer, t)
	if err != nil {
		return err
	}
	msg := message.NewMessage(ulid.Make().String(), data)
	msg.Metadata.Set(MetadataContentType, d.serializer.ContentType())
	msg.Metadata.Set(MetadataTaskUID, r.UID)
	msg.SetContext(ctx)

	if err := d.pubSub.Publish(topic, msg); err != nil {
		return cerr.NewError(cerr.Unavailable, "failed to publish task", err)
	}
	return nil
}

// Handle registers fn for messages on topic under handler name. Handlers
// registered after Run start right away.
func (d *Dispatcher) Handle(topic, name string, fn HandlerFunc) {
	d.router.AddNoPublisherHandler(name, topic, d.pubSub, func(msg *message.Message) error {
		ctx := clog.ContextWithSlog(msg.Context())
		clog.AddAttributes(ctx, map[string]any{
			clog.TopicAttributeKey:   topic,
			clog.HandlerAttributeKey: name,
		})
		if uid := msg.Metadata.Get(MetadataTaskUID); uid != "" {
			clog.AddTaskUID(ctx, uid)
		}

		r, err := d.decode(msg)
		if err != nil {
			d.reject(ctx, msg, err)
			return err
		}
		clog.AddTaskUID(ctx, r.UID)

		if err := panicerr.Safe(func() error { return fn(ctx, r) })(); err != nil {
			clog.LogError(ctx, "task handler failed", err)
			return err
		}
		slog.DebugContext(ctx, "task handled")
		return nil
	})
	if d.router.IsRunning() {
		if err := d.router.RunHandlers(context.Background()); err != nil {
			slog.Error("failed to start handler", clog.HandlerAttributeKey, name, "error", err)
		}
	}
}

// decode picks the codec named by the message's content type so a consumer
// can still read messages produced before a format switch. Messages
// without a content type are decoded with the active format.
func (d *Dispatcher) decode(msg *message.Message) (*record.TaskRecord, error) {
	ct := msg.Metadata.Get(MetadataContentType)
	if ct == "" || ct == d.serializer.ContentType() {
		return task.DecodeTask(d.serializer, msg.Payload)
	}
	c, ok := codec.ForContentType(ct)
	if !ok {
		return nil, cerr.NewError(cerr.DataLoss, "invalid task record", fmt.Errorf("unsupported content type %q", ct))
	}
	return c.Decode(msg.Payload)
}

func (d *Dispatcher) reject(ctx context.Context, msg *message.Message, err error) {
	clog.AddError(ctx, err)
	if d.archive != nil {
		id, aerr := d.archive.Reject(ctx, msg.Payload, msg.Metadata.Get(MetadataContentType), err.Error())
		if aerr != nil {
			clog.AddAttribute(ctx, "archive.error", aerr)
		} else {
			clog.AddAttribute(ctx, "archive.id", id)
		}
	}
	slog.WarnContext(ctx, "rejected undecodable task")
}

// Run starts the router and blocks until ctx is done or Close is called.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.router.Run(ctx)
}

// Running is closed once every handler registered before Run subscribed.
func (d *Dispatcher) Running() chan struct{} {
	return d.router.Running()
}

// Subscribe exposes raw messages on topic, for example the poison topic.
func (d *Dispatcher) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return d.pubSub.Subscribe(ctx, topic)
}

func (d *Dispatcher) Close() error {
	return errors.Join(d.router.Close(), d.pubSub.Close())
}
