package notify

import (
	"context"
	"fmt"

	"github.com/zulandar/misunderstood/internal/config"
	"github.com/zulandar/misunderstood/internal/misunderstood"
	"go.uber.org/zap"
)

// DefaultQueueSize is the change buffer used when NotifierOpts.QueueSize is 0.
const DefaultQueueSize = 100

// Notifier turns store changes into chat messages. It implements
// misunderstood.Hook; AfterChange never blocks the store; changes are queued
// and sent by Run.
type Notifier struct {
	adapter   Adapter
	channelID string
	events    config.EventsConfig
	queue     chan misunderstood.Change
	onDrop    func()
	log       *zap.Logger
}

// NotifierOpts holds parameters for creating a Notifier.
type NotifierOpts struct {
	Adapter   Adapter
	ChannelID string
	Events    config.EventsConfig
	QueueSize int         // defaults to DefaultQueueSize
	OnDrop    func()      // optional; called when a change is dropped
	Logger    *zap.Logger // defaults to a no-op logger
}

// NewNotifier creates a Notifier with the given options.
func NewNotifier(opts NotifierOpts) (*Notifier, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("notify: adapter is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: channel ID is required")
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		adapter:   opts.Adapter,
		channelID: opts.ChannelID,
		events:    opts.Events,
		queue:     make(chan misunderstood.Change, size),
		onDrop:    opts.OnDrop,
		log:       log.Named("notify"),
	}, nil
}

// AfterChange queues c if it is worth announcing. When the queue is full the
// change is dropped and logged.
func (n *Notifier) AfterChange(_ context.Context, c misunderstood.Change) {
	if !n.wants(c) {
		return
	}
	select {
	case n.queue <- c:
	default:
		n.log.Warn("queue full, dropping change",
			zap.String("op", string(c.Op)),
			zap.String("bot_id", c.BotID),
			zap.Uint("id", c.ID))
		if n.onDrop != nil {
			n.onDrop()
		}
	}
}

// wants applies the event toggles. Schema changes and updates that matched
// no row are never announced.
func (n *Notifier) wants(c misunderstood.Change) bool {
	switch c.Op {
	case misunderstood.OpAdd:
		return n.events.FlaggedEnabled()
	case misunderstood.OpUpdateStatus:
		return c.RowsAffected > 0 && n.events.StatusChangesEnabled()
	default:
		return false
	}
}

// Run sends queued changes until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-n.queue:
			n.handleChange(ctx, c)
		}
	}
}

// handleChange formats and sends a single change.
func (n *Notifier) handleChange(ctx context.Context, c misunderstood.Change) {
	var formatted FormattedEvent
	switch c.Op {
	case misunderstood.OpAdd:
		formatted = FormatFlagged(c)
	case misunderstood.OpUpdateStatus:
		formatted = FormatStatusChange(c)
	default:
		return
	}
	if err := n.Send(ctx, formatted); err != nil {
		n.log.Error("send change",
			zap.String("op", string(c.Op)),
			zap.Uint("id", c.ID),
			zap.Error(err))
	}
}

// Send posts one formatted event to the configured channel.
func (n *Notifier) Send(ctx context.Context, event FormattedEvent) error {
	return n.adapter.Send(ctx, OutboundMessage{
		ChannelID: n.channelID,
		Events:    []FormattedEvent{event},
	})
}
