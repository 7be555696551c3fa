// Package reload decides what a file change costs and tells connected
// browsers about the result.
package reload

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/metrics"
	"github.com/conneroisu/quill/internal/watcher"
	"github.com/conneroisu/quill/internal/websocket"
)

// DefaultDebounce is the minimum gap between two delivered notifications.
const DefaultDebounce = 300 * time.Millisecond

// Builder runs a site build.
type Builder interface {
	Build(ctx context.Context) error
}

// AssetSyncer copies a single static file into the output tree.
type AssetSyncer interface {
	SyncAsset(ctx context.Context, path string) error
}

// Invalidator forgets a path and everything that depends on it.
type Invalidator interface {
	InvalidateCascading(path string) []string
}

// Broadcaster delivers messages to connected clients.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg *websocket.Message) int
	HasConnections() bool
}

// Decision records what OnChange did with a change.
type Decision int

const (
	DecisionIgnored Decision = iota
	DecisionDebounced
	DecisionNoClients
	DecisionFullReload
	DecisionAssetReload
)

func (d Decision) String() string {
	switch d {
	case DecisionIgnored:
		return "ignored"
	case DecisionDebounced:
		return "debounced"
	case DecisionNoClients:
		return "no_clients"
	case DecisionFullReload:
		return "full_reload"
	case DecisionAssetReload:
		return "asset_reload"
	default:
		return "unknown"
	}
}

// Options wires a Coordinator. Classifier, Cache and Builder are required.
// Assets defaults to no copying, Channel to no clients.
type Options struct {
	Classifier *Classifier
	Cache      Invalidator
	Builder    Builder
	Assets     AssetSyncer
	Channel    Broadcaster
	Debounce   time.Duration
	Now        func() time.Time
}

// Coordinator turns single file changes into rebuilds and reload
// notifications. Calls to OnChange are serialized.
type Coordinator struct {
	classifier *Classifier
	cache      Invalidator
	builder    Builder
	assets     AssetSyncer
	channel    Broadcaster
	debounce   time.Duration
	now        func() time.Time
	logger     logging.Logger
	metrics    *metrics.Metrics

	mu           sync.Mutex
	lastNotified time.Time
}

// NewCoordinator creates a coordinator. A zero Debounce uses
// DefaultDebounce; pass a negative value to disable debouncing.
func NewCoordinator(opts Options, logger logging.Logger, m *metrics.Metrics) *Coordinator {
	debounce := opts.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	if debounce < 0 {
		debounce = 0
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		classifier: opts.Classifier,
		cache:      opts.Cache,
		builder:    opts.Builder,
		assets:     opts.Assets,
		channel:    opts.Channel,
		debounce:   debounce,
		now:        now,
		logger:     logging.OrNop(logger).WithComponent("reload"),
		metrics:    m,
	}
}

// OnChange handles one changed path and returns the message it broadcast,
// if any.
//
// A change that arrives within the debounce window of the last delivered
// notification is dropped. Full rebuilds always end in a full_reload, even
// when the build fails, so the browser shows the error page. A changed
// asset is always copied to the output; the patch notification is skipped
// while nobody is connected.
func (c *Coordinator) OnChange(ctx context.Context, path string) (*websocket.Message, Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	class := c.classifier.Classify(path)
	if class.Kind == KindIgnored {
		c.logger.Debug(ctx, "ignoring change", "path", path)
		return nil, DecisionIgnored
	}

	arrived := c.now()
	if !c.lastNotified.IsZero() && arrived.Sub(c.lastNotified) < c.debounce {
		c.logger.Debug(ctx, "change debounced", "path", path, "since_last", arrived.Sub(c.lastNotified))
		c.metrics.ReloadDropped("debounced")
		return nil, DecisionDebounced
	}

	if class.Kind == KindAssetPatch {
		if err := c.syncAsset(ctx, path); err != nil {
			c.logger.Warn(ctx, err, "asset copy failed, falling back to full rebuild", "path", path)
			return c.fullReload(ctx, path), DecisionFullReload
		}
		if !c.hasClients() {
			c.logger.Debug(ctx, "asset copied, no clients to patch", "path", path)
			c.metrics.ReloadDropped("no_clients")
			return nil, DecisionNoClients
		}
		msg := websocket.NewAssetReload(class.Message, class.URL, c.now())
		c.deliver(ctx, msg)
		return msg, DecisionAssetReload
	}

	return c.fullReload(ctx, path), DecisionFullReload
}

// HandleChanges feeds a detector batch through OnChange in order. It has
// the watcher.ChangeHandler signature.
func (c *Coordinator) HandleChanges(ctx context.Context, events []watcher.ChangeEvent) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, decision := c.OnChange(ctx, event.Path)
		if msg != nil {
			c.logger.Info(ctx, "reload sent", "path", event.Path, "type", msg.Type, "change", event.Type)
		} else {
			c.logger.Debug(ctx, "no reload", "path", event.Path, "decision", decision)
		}
	}
	return nil
}

func (c *Coordinator) fullReload(ctx context.Context, path string) *websocket.Message {
	invalidated := c.cache.InvalidateCascading(path)
	c.logger.Debug(ctx, "invalidated", "path", path, "count", len(invalidated))

	op := logging.StartOperation(c.logger, "rebuild")
	if err := c.builder.Build(ctx); err != nil {
		c.metrics.BuildFailed()
		op.EndWithError(ctx, errors.WrapBuild(err, errors.ErrCodeBuildFailed, "rebuild failed", path),
			"rebuild failed, sending full reload anyway", "trigger", path)
	} else {
		op.End(ctx, "trigger", path, "invalidated", len(invalidated))
	}

	msg := websocket.NewFullReload(c.now())
	c.deliver(ctx, msg)
	return msg
}

func (c *Coordinator) syncAsset(ctx context.Context, path string) error {
	if c.assets == nil {
		return nil
	}
	return c.assets.SyncAsset(ctx, path)
}

func (c *Coordinator) hasClients() bool {
	return c.channel != nil && c.channel.HasConnections()
}

func (c *Coordinator) deliver(ctx context.Context, msg *websocket.Message) {
	if c.channel != nil {
		c.channel.Broadcast(ctx, msg)
	}
	c.metrics.ReloadSent(string(msg.Type))
	c.lastNotified = c.now()
}
