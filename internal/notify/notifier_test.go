package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/misunderstood/internal/config"
	"github.com/zulandar/misunderstood/internal/misunderstood"
	"github.com/zulandar/misunderstood/internal/models"
)

func boolPtr(b bool) *bool { return &b }

func newTestNotifier(t *testing.T, opts NotifierOpts) (*Notifier, *MockAdapter) {
	t.Helper()
	adapter := NewMockAdapter()
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	opts.Adapter = adapter
	if opts.ChannelID == "" {
		opts.ChannelID = "C1"
	}
	n, err := NewNotifier(opts)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	return n, adapter
}

func waitSent(t *testing.T, a *MockAdapter) {
	t.Helper()
	select {
	case <-a.Sent():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send")
	}
}

func TestNewNotifier_Validation(t *testing.T) {
	if _, err := NewNotifier(NotifierOpts{ChannelID: "C1"}); err == nil {
		t.Error("expected error for nil adapter")
	}
	if _, err := NewNotifier(NotifierOpts{Adapter: NewMockAdapter()}); err == nil {
		t.Error("expected error for empty channel")
	}
}

func TestNotifier_SendsFlaggedAndStatusChanges(t *testing.T) {
	n, adapter := newTestNotifier(t, NotifierOpts{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.AfterChange(ctx, misunderstood.Change{Op: misunderstood.OpAdd, BotID: "b1", ID: 7, Reason: models.ReasonManual, Preview: "hello"})
	waitSent(t, adapter)
	n.AfterChange(ctx, misunderstood.Change{Op: misunderstood.OpUpdateStatus, BotID: "b1", ID: 7, Status: models.StatusResolved, RowsAffected: 1})
	waitSent(t, adapter)

	sent := adapter.AllSent()
	if len(sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(sent))
	}
	if sent[0].ChannelID != "C1" {
		t.Errorf("ChannelID = %q, want C1", sent[0].ChannelID)
	}
	if got := sent[0].Events[0].Title; got != "New flag #7 for b1" {
		t.Errorf("Title = %q", got)
	}
	if got := sent[1].Events[0].Title; got != "Flag #7 resolved" {
		t.Errorf("Title = %q", got)
	}
}

func TestNotifier_Filters(t *testing.T) {
	tests := []struct {
		name   string
		events config.EventsConfig
		change misunderstood.Change
		want   bool
	}{
		{"add enabled", config.EventsConfig{}, misunderstood.Change{Op: misunderstood.OpAdd}, true},
		{"add disabled", config.EventsConfig{Flagged: boolPtr(false)}, misunderstood.Change{Op: misunderstood.OpAdd}, false},
		{"update enabled", config.EventsConfig{}, misunderstood.Change{Op: misunderstood.OpUpdateStatus, RowsAffected: 1}, true},
		{"update disabled", config.EventsConfig{StatusChanges: boolPtr(false)}, misunderstood.Change{Op: misunderstood.OpUpdateStatus, RowsAffected: 1}, false},
		{"update no rows", config.EventsConfig{}, misunderstood.Change{Op: misunderstood.OpUpdateStatus}, false},
		{"initialize", config.EventsConfig{}, misunderstood.Change{Op: misunderstood.OpInitialize}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := newTestNotifier(t, NotifierOpts{Events: tt.events})
			if got := n.wants(tt.change); got != tt.want {
				t.Errorf("wants = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotifier_DropsWhenFull(t *testing.T) {
	dropped := 0
	n, _ := newTestNotifier(t, NotifierOpts{QueueSize: 1, OnDrop: func() { dropped++ }})

	ctx := context.Background()
	c := misunderstood.Change{Op: misunderstood.OpAdd, BotID: "b1"}
	n.AfterChange(ctx, c)
	n.AfterChange(ctx, c)
	n.AfterChange(ctx, c)

	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if len(n.queue) != 1 {
		t.Errorf("queue len = %d, want 1", len(n.queue))
	}
}

func TestNotifier_SendErrorDoesNotStopRun(t *testing.T) {
	n, adapter := newTestNotifier(t, NotifierOpts{})
	adapter.SetSendError(errors.New("boom"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	n.AfterChange(ctx, misunderstood.Change{Op: misunderstood.OpAdd, BotID: "b1"})
	adapter.SetSendError(nil)
	// The first change may or may not have failed; the second must arrive.
	n.AfterChange(ctx, misunderstood.Change{Op: misunderstood.OpAdd, BotID: "b2"})
	waitSent(t, adapter)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
