package misunderstood

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"

	"github.com/zulandar/misunderstood/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Context window sizes around the anchor event. The anchor itself counts
// toward ContextBefore.
const (
	ContextBefore = 6
	ContextAfter  = 3
)

var markupTag = regexp.MustCompile(`<[^>]*>`)

// ContextMessage is one turn of the conversation shown to a reviewer.
type ContextMessage struct {
	Direction      string      `json:"direction"`
	Preview        string      `json:"preview"`
	PayloadMessage interface{} `json:"payloadMessage,omitempty"`
	IsCurrent      bool        `json:"isCurrent"`
}

// EventDetails is a flagged event together with its conversation context.
type EventDetails struct {
	models.FlaggedEvent
	Context     []ContextMessage `json:"context"`
	NLUContexts []string         `json:"nluContexts"`
}

// GetEventDetails returns the flagged event {botID, id} with the turns
// surrounding the message it references. It returns ErrNotFound when the
// flagged event does not exist, and nil without error when the referenced
// incoming event is missing from the event log.
func (s *Store) GetEventDetails(ctx context.Context, botID string, id uint) (*EventDetails, error) {
	event, err := s.getEvent(ctx, botID, id)
	if err != nil {
		return nil, err
	}

	anchor, err := s.events.FindIncomingByExternalID(ctx, botID, event.EventID)
	if err != nil {
		return nil, fmt.Errorf("misunderstood: anchor for %s/%d: %w", botID, id, err)
	}
	if anchor == nil {
		s.log.Debug("no anchor event",
			zap.String("bot_id", botID),
			zap.Uint("id", id),
			zap.String("event_id", event.EventID))
		return nil, nil
	}

	window, err := s.contextWindow(ctx, anchor)
	if err != nil {
		return nil, err
	}

	messages := make([]ContextMessage, 0, len(window))
	for i := range window {
		msg, err := toContextMessage(&window[i], anchor.ID)
		if err != nil {
			return nil, fmt.Errorf("misunderstood: context for %s/%d: %w", botID, id, err)
		}
		messages = append(messages, msg)
	}

	anchorPayload, err := anchor.Payload()
	if err != nil {
		return nil, fmt.Errorf("misunderstood: context for %s/%d: %w", botID, id, err)
	}

	return &EventDetails{
		FlaggedEvent: *event,
		Context:      messages,
		NLUContexts:  anchorPayload.IncludedContexts(),
	}, nil
}

// contextWindow fetches up to ContextBefore events at or before the anchor
// and ContextAfter events after it, and returns them in chronological
// order with id as the tiebreak.
func (s *Store) contextWindow(ctx context.Context, anchor *models.ConversationEvent) ([]models.ConversationEvent, error) {
	var before, after []models.ConversationEvent
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		before, err = s.events.BeforeOrAt(gctx, anchor, ContextBefore)
		return err
	})
	g.Go(func() error {
		var err error
		after, err = s.events.After(gctx, anchor, ContextAfter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("misunderstood: context window: %w", err)
	}

	return mergeWindow(before, after), nil
}

// mergeWindow unions both windows, drops duplicate ids, and sorts by
// (createdOn, id) ascending.
func mergeWindow(before, after []models.ConversationEvent) []models.ConversationEvent {
	seen := make(map[uint64]bool, len(before)+len(after))
	merged := make([]models.ConversationEvent, 0, len(before)+len(after))
	for _, batch := range [][]models.ConversationEvent{before, after} {
		for _, e := range batch {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			merged = append(merged, e)
		}
	}
	slices.SortFunc(merged, func(a, b models.ConversationEvent) int {
		if c := a.CreatedOn.Compare(b.CreatedOn.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return merged
}

func toContextMessage(e *models.ConversationEvent, anchorID uint64) (ContextMessage, error) {
	payload, err := e.Payload()
	if err != nil {
		return ContextMessage{}, err
	}
	return ContextMessage{
		Direction:      e.Direction,
		Preview:        StripMarkup(payload.Preview),
		PayloadMessage: payload.Payload.Message,
		IsCurrent:      e.ID == anchorID,
	}, nil
}

// StripMarkup removes anything that looks like a markup tag.
func StripMarkup(s string) string {
	return markupTag.ReplaceAllString(s, "")
}
