// Package eventlog provides read-only access to the bot runtime's
// conversation event log.
package eventlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/misunderstood/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAmbiguousAnchor is returned when more than one incoming event carries
// the same external event ID. The log should make that impossible; seeing
// it means the upstream data is inconsistent.
var ErrAmbiguousAnchor = errors.New("eventlog: ambiguous anchor event")

// Reader is the read-only view of the event log that context
// reconstruction needs.
type Reader interface {
	// FindIncomingByExternalID returns the incoming event whose
	// incomingEventId equals eventID, or nil when there is none.
	FindIncomingByExternalID(ctx context.Context, botID, eventID string) (*models.ConversationEvent, error)

	// BeforeOrAt returns up to limit events of the anchor's thread/session
	// created at or before the anchor, newest first (createdOn desc, id desc).
	BeforeOrAt(ctx context.Context, anchor *models.ConversationEvent, limit int) ([]models.ConversationEvent, error)

	// After returns up to limit events of the anchor's thread/session
	// created strictly after the anchor, oldest first (createdOn asc, id asc).
	After(ctx context.Context, anchor *models.ConversationEvent, limit int) ([]models.ConversationEvent, error)
}

// GormReader implements Reader over the events table.
type GormReader struct {
	db *gorm.DB
}

// NewGormReader creates a GormReader.
func NewGormReader(db *gorm.DB) (*GormReader, error) {
	if db == nil {
		return nil, fmt.Errorf("eventlog: db is required")
	}
	return &GormReader{db: db}, nil
}

var (
	colID        = clause.Column{Name: "id"}
	colCreatedOn = clause.Column{Name: "createdOn"}
)

// FindIncomingByExternalID looks up the anchor event for a flagged message.
func (r *GormReader) FindIncomingByExternalID(ctx context.Context, botID, eventID string) (*models.ConversationEvent, error) {
	if botID == "" {
		return nil, fmt.Errorf("eventlog: botID is required")
	}

	var events []models.ConversationEvent
	err := r.db.WithContext(ctx).
		Where(map[string]interface{}{
			"botId":           botID,
			"incomingEventId": eventID,
			"direction":       models.DirectionIncoming,
		}).
		Order(clause.OrderByColumn{Column: colID}).
		Limit(2).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("eventlog: find incoming %s/%s: %w", botID, eventID, err)
	}

	switch len(events) {
	case 0:
		return nil, nil
	case 1:
		return &events[0], nil
	default:
		return nil, fmt.Errorf("%w: bot %s event %s matches ids %d and %d",
			ErrAmbiguousAnchor, botID, eventID, events[0].ID, events[1].ID)
	}
}

// BeforeOrAt returns the newest events at or before the anchor.
func (r *GormReader) BeforeOrAt(ctx context.Context, anchor *models.ConversationEvent, limit int) ([]models.ConversationEvent, error) {
	if anchor == nil {
		return nil, fmt.Errorf("eventlog: anchor is required")
	}
	var events []models.ConversationEvent
	err := r.thread(ctx, anchor).
		Where(clause.Lte{Column: colCreatedOn, Value: r.storedCreatedOn(ctx, anchor.ID)}).
		Order(clause.OrderByColumn{Column: colCreatedOn, Desc: true}).
		Order(clause.OrderByColumn{Column: colID, Desc: true}).
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("eventlog: events before %d: %w", anchor.ID, err)
	}
	return events, nil
}

// After returns the oldest events strictly after the anchor.
func (r *GormReader) After(ctx context.Context, anchor *models.ConversationEvent, limit int) ([]models.ConversationEvent, error) {
	if anchor == nil {
		return nil, fmt.Errorf("eventlog: anchor is required")
	}
	var events []models.ConversationEvent
	err := r.thread(ctx, anchor).
		Where(clause.Gt{Column: colCreatedOn, Value: r.storedCreatedOn(ctx, anchor.ID)}).
		Order(clause.OrderByColumn{Column: colCreatedOn}).
		Order(clause.OrderByColumn{Column: colID}).
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("eventlog: events after %d: %w", anchor.ID, err)
	}
	return events, nil
}

// storedCreatedOn selects the anchor's createdOn as the log stores it, so
// window bounds compare in the column's own representation.
func (r *GormReader) storedCreatedOn(ctx context.Context, id uint64) clause.Expr {
	sub := r.db.WithContext(ctx).
		Model(&models.ConversationEvent{}).
		Clauses(clause.Select{Columns: []clause.Column{colCreatedOn}}).
		Where(clause.Eq{Column: colID, Value: id})
	return gorm.Expr("(?)", sub)
}

// thread scopes a query to the anchor's conversation.
func (r *GormReader) thread(ctx context.Context, anchor *models.ConversationEvent) *gorm.DB {
	return r.db.WithContext(ctx).Where(map[string]interface{}{
		"botId":     anchor.BotID,
		"threadId":  anchor.ThreadID,
		"sessionId": anchor.SessionID,
	})
}
