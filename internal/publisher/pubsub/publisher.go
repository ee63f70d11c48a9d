// Package pubsub announces training phase changes on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/training-status/internal/progress"
)

// Config identifies the topic notifications are sent to.
type Config struct {
	ProjectID string
	Topic     string
	RunID     string
}

type sendFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Notifier is a progress.Sink that publishes one message per phase change
// rather than per snapshot, so subscribers see transitions without the
// iteration chatter. Message data is the status document.
type Notifier struct {
	send  sendFunc
	stop  func() error
	runID string

	mu        sync.Mutex
	lastPhase progress.Phase
}

var _ progress.Sink = (*Notifier)(nil)

// New creates a Pub/Sub client and publisher for cfg.Topic.
func New(ctx context.Context, cfg Config) (*Notifier, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("pubsub project id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	publisher := client.Publisher(cfg.Topic)
	send := func(ctx context.Context, msg *pubsub.Message) (string, error) {
		return publisher.Publish(ctx, msg).Get(ctx)
	}
	stop := func() error {
		publisher.Stop()
		return client.Close()
	}
	return newNotifier(cfg.RunID, send, stop), nil
}

func newNotifier(runID string, send sendFunc, stop func() error) *Notifier {
	return &Notifier{send: send, stop: stop, runID: runID}
}

// Publish sends snap when its phase differs from the last one announced.
func (n *Notifier) Publish(ctx context.Context, snap progress.Snapshot) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if snap.Phase == n.lastPhase {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: %w", progress.ErrEncode, err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id": n.runID,
			"status": string(snap.Phase),
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	if _, err := n.send(ctx, msg); err != nil {
		return fmt.Errorf("publish phase %s: %w", snap.Phase, err)
	}
	n.lastPhase = snap.Phase
	return nil
}

// Close flushes outstanding messages and closes the client.
func (n *Notifier) Close(context.Context) error {
	if n == nil || n.stop == nil {
		return nil
	}
	if err := n.stop(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
