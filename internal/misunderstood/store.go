// Package misunderstood stores messages the NLU engine failed to understand
// and rebuilds the conversation around each one for human review.
package misunderstood

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/misunderstood/internal/eventlog"
	"github.com/zulandar/misunderstood/internal/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TableName is the flagged event table.
const TableName = "misunderstood"

var (
	ErrNotFound              = errors.New("misunderstood: flagged event not found")
	ErrMissingField          = errors.New("misunderstood: missing required field")
	ErrInvalidStatus         = errors.New("misunderstood: invalid status")
	ErrInvalidReason         = errors.New("misunderstood: invalid reason")
	ErrInvalidResolutionType = errors.New("misunderstood: invalid resolution type")
	ErrInvalidRange          = errors.New("misunderstood: invalid date range")
	ErrInvalidParams         = errors.New("misunderstood: invalid resolutionParams")
)

var (
	colID        = clause.Column{Name: "id"}
	colUpdatedAt = clause.Column{Name: "updatedAt"}
)

// Resolution carries the only fields a pending status may set.
type Resolution struct {
	ResolutionType   *models.ResolutionType `json:"resolutionType"`
	Resolution       *string                `json:"resolution"`
	ResolutionParams json.RawMessage        `json:"resolutionParams"`
}

// DateRange bounds listing and counting by updatedAt, inclusive at both ends.
// A nil bound is open.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// DateLayout is the bare-date form accepted by ParseDateRange.
const DateLayout = "2006-01-02"

// ParseDateRange parses optional start and end bounds given as RFC3339 or
// DateLayout. A bare end date covers the whole day.
func ParseDateRange(start, end string) (DateRange, error) {
	var rng DateRange
	var err error
	if rng.Start, err = parseDate(start, false); err != nil {
		return rng, fmt.Errorf("%w: start: %v", ErrInvalidRange, err)
	}
	if rng.End, err = parseDate(end, true); err != nil {
		return rng, fmt.Errorf("%w: end: %v", ErrInvalidRange, err)
	}
	return rng, rng.validate()
}

func parseDate(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("%q is neither RFC3339 nor %s", s, DateLayout)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func (r DateRange) validate() error {
	if r.Start != nil && r.End != nil && r.Start.After(*r.End) {
		return ErrInvalidRange
	}
	return nil
}

// apply adds the window to q. Bounds are converted to UTC so they compare
// correctly against text-encoded timestamps written by this store.
func (r DateRange) apply(q *gorm.DB) *gorm.DB {
	if r.Start != nil {
		q = q.Where(clause.Gte{Column: colUpdatedAt, Value: r.Start.UTC()})
	}
	if r.End != nil {
		q = q.Where(clause.Lte{Column: colUpdatedAt, Value: r.End.UTC()})
	}
	return q
}

// Store owns the misunderstood table.
type Store struct {
	db     *gorm.DB
	events eventlog.Reader
	hooks  Hook
	log    *zap.Logger
	now    func() time.Time
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB     *gorm.DB
	Events eventlog.Reader  // defaults to an eventlog.GormReader on DB
	Hooks  []Hook           // called after each successful mutation
	Logger *zap.Logger      // defaults to a no-op logger
	Now    func() time.Time // defaults to time.Now in UTC
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("misunderstood: db is required")
	}
	events := opts.Events
	if events == nil {
		r, err := eventlog.NewGormReader(opts.DB)
		if err != nil {
			return nil, fmt.Errorf("misunderstood: %w", err)
		}
		events = r
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		db:     opts.DB,
		events: events,
		hooks:  Hooks(opts.Hooks),
		log:    log.Named("misunderstood"),
		now:    now,
	}, nil
}

// Initialize creates the misunderstood table if it does not exist yet.
func (s *Store) Initialize(ctx context.Context) error {
	m := s.db.WithContext(ctx).Migrator()
	if m.HasTable(&models.FlaggedEvent{}) {
		return nil
	}
	if err := m.CreateTable(&models.FlaggedEvent{}); err != nil {
		return fmt.Errorf("misunderstood: create table: %w", err)
	}
	s.log.Info("created table", zap.String("table", TableName))
	s.hooks.AfterChange(ctx, Change{Table: TableName, Op: OpInitialize})
	return nil
}

// AddEvent inserts a new flagged event. Status defaults to new; resolution
// fields are kept only when the initial status is pending.
func (s *Store) AddEvent(ctx context.Context, event *models.FlaggedEvent) error {
	if event == nil {
		return fmt.Errorf("%w: event", ErrMissingField)
	}
	switch {
	case event.BotID == "":
		return fmt.Errorf("%w: botId", ErrMissingField)
	case event.EventID == "":
		return fmt.Errorf("%w: eventId", ErrMissingField)
	case event.Language == "":
		return fmt.Errorf("%w: language", ErrMissingField)
	}
	if !event.Reason.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, event.Reason)
	}
	if event.Status == "" {
		event.Status = models.StatusNew
	}
	if !event.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, event.Status)
	}

	if event.Status == models.StatusPending {
		if event.ResolutionType != nil && !event.ResolutionType.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidResolutionType, *event.ResolutionType)
		}
		params, err := models.DecodeJSON(event.ResolutionParams)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		event.ResolutionParams = datatypes.JSON(params)
	} else {
		event.ResolutionType = nil
		event.Resolution = nil
		event.ResolutionParams = nil
	}

	now := s.now()
	event.CreatedAt = now
	event.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("misunderstood: add event: %w", err)
	}

	s.log.Debug("flag added",
		zap.String("bot_id", event.BotID),
		zap.Uint("id", event.ID),
		zap.String("reason", string(event.Reason)))
	s.hooks.AfterChange(ctx, Change{
		BotID:        event.BotID,
		Table:        TableName,
		Op:           OpAdd,
		ID:           event.ID,
		Status:       event.Status,
		Reason:       event.Reason,
		Preview:      event.Preview,
		RowsAffected: 1,
	})
	return nil
}

// UpdateStatus moves a flagged event to status and refreshes updatedAt.
// Any status other than pending clears the resolution fields whatever res
// holds. A pending update writes only the resolution fields res sets and
// leaves the others as stored. It returns the number of rows changed; an unknown {botID, id} is
// a no-op, not an error.
func (s *Store) UpdateStatus(ctx context.Context, botID string, id uint, status models.Status, res *Resolution) (int64, error) {
	if botID == "" {
		return 0, fmt.Errorf("%w: botId", ErrMissingField)
	}
	if !status.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	values := map[string]interface{}{
		"status":    string(status),
		"updatedAt": s.now(),
	}

	if status != models.StatusPending {
		values["resolutionType"] = nil
		values["resolution"] = nil
		values["resolutionParams"] = nil
	} else if res != nil {
		if res.ResolutionType != nil {
			if !res.ResolutionType.Valid() {
				return 0, fmt.Errorf("%w: %q", ErrInvalidResolutionType, *res.ResolutionType)
			}
			values["resolutionType"] = string(*res.ResolutionType)
		}
		if res.Resolution != nil {
			values["resolution"] = *res.Resolution
		}
		params, err := models.DecodeJSON(res.ResolutionParams)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		if params != nil {
			values["resolutionParams"] = datatypes.JSON(params)
		}
	}

	result := s.db.WithContext(ctx).Model(&models.FlaggedEvent{}).
		Where(map[string]interface{}{"botId": botID, "id": id}).
		Updates(values)
	if result.Error != nil {
		return 0, fmt.Errorf("misunderstood: update status %s/%d: %w", botID, id, result.Error)
	}

	s.log.Debug("status updated",
		zap.String("bot_id", botID),
		zap.Uint("id", id),
		zap.String("status", string(status)),
		zap.Int64("rows", result.RowsAffected))
	s.hooks.AfterChange(ctx, Change{
		BotID:        botID,
		Table:        TableName,
		Op:           OpUpdateStatus,
		ID:           id,
		Status:       status,
		RowsAffected: result.RowsAffected,
	})
	return result.RowsAffected, nil
}

// ListEvents returns the flagged events matching {botID, language, status},
// most recently updated first.
func (s *Store) ListEvents(ctx context.Context, botID, language string, status models.Status, rng DateRange) ([]models.FlaggedEvent, error) {
	if err := rng.validate(); err != nil {
		return nil, err
	}

	var events []models.FlaggedEvent
	q := s.db.WithContext(ctx).Where(map[string]interface{}{
		"botId":    botID,
		"language": language,
		"status":   string(status),
	})
	err := rng.apply(q).
		Order(clause.OrderByColumn{Column: colUpdatedAt, Desc: true}).
		Order(clause.OrderByColumn{Column: colID, Desc: true}).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("misunderstood: list %s/%s/%s: %w", botID, language, status, err)
	}

	for i := range events {
		if err := normalizeParams(&events[i]); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// CountEvents returns the number of flagged events per status for
// {botID, language}. Statuses without rows are absent from the map.
func (s *Store) CountEvents(ctx context.Context, botID, language string, rng DateRange) (map[models.Status]int, error) {
	if err := rng.validate(); err != nil {
		return nil, err
	}

	type row struct {
		Status models.Status
		Total  int
	}
	var rows []row
	q := s.db.WithContext(ctx).Model(&models.FlaggedEvent{}).
		Where(map[string]interface{}{"botId": botID, "language": language})
	err := rng.apply(q).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("misunderstood: count %s/%s: %w", botID, language, err)
	}

	counts := make(map[models.Status]int, len(rows))
	for _, r := range rows {
		if r.Total > 0 {
			counts[r.Status] = r.Total
		}
	}
	return counts, nil
}

// getEvent fetches one flagged event.
func (s *Store) getEvent(ctx context.Context, botID string, id uint) (*models.FlaggedEvent, error) {
	var event models.FlaggedEvent
	err := s.db.WithContext(ctx).
		Where(map[string]interface{}{"botId": botID, "id": id}).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%d", ErrNotFound, botID, id)
	}
	if err != nil {
		return nil, fmt.Errorf("misunderstood: get %s/%d: %w", botID, id, err)
	}
	if err := normalizeParams(&event); err != nil {
		return nil, err
	}
	return &event, nil
}

// normalizeParams unwraps string-encoded resolutionParams in place.
func normalizeParams(event *models.FlaggedEvent) error {
	params, err := models.DecodeJSON(event.ResolutionParams)
	if err != nil {
		return fmt.Errorf("misunderstood: event %d resolutionParams: %w", event.ID, err)
	}
	event.ResolutionParams = datatypes.JSON(params)
	return nil
}
