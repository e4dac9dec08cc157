package misunderstood

import (
	"context"

	"github.com/zulandar/misunderstood/internal/models"
)

// Op names the mutating operation that produced a Change.
type Op string

const (
	OpInitialize   Op = "initialize"
	OpAdd          Op = "add"
	OpUpdateStatus Op = "update_status"
)

// Change describes a completed mutation of the flagged event table.
type Change struct {
	BotID        string // empty for schema operations
	Table        string
	Op           Op
	ID           uint
	Status       models.Status
	Reason       models.Reason
	Preview      string
	RowsAffected int64
}

// Hook is notified after every successful mutating store operation.
// Implementations must not block for long; the store calls them inline.
type Hook interface {
	AfterChange(ctx context.Context, change Change)
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, change Change)

// AfterChange calls f.
func (f HookFunc) AfterChange(ctx context.Context, change Change) { f(ctx, change) }

// Hooks fans a change out to several hooks in order.
type Hooks []Hook

// AfterChange calls each hook in turn.
func (hs Hooks) AfterChange(ctx context.Context, change Change) {
	for _, h := range hs {
		if h != nil {
			h.AfterChange(ctx, change)
		}
	}
}
