package notify

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zulandar/misunderstood/internal/misunderstood"
	"github.com/zulandar/misunderstood/internal/models"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// previewLimit caps how much of a flagged message is quoted in chat.
const previewLimit = 200

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// statusVerb returns a human-friendly verb for a status transition.
func statusVerb(status models.Status) string {
	switch status {
	case models.StatusNew:
		return "reopened"
	case models.StatusPending:
		return "queued for resolution"
	case models.StatusResolved:
		return "resolved"
	case models.StatusApplied:
		return "applied"
	case models.StatusDeleted:
		return "deleted"
	default:
		return string(status)
	}
}

// statusSeverity returns the severity for a status transition.
func statusSeverity(status models.Status) string {
	switch status {
	case models.StatusResolved, models.StatusApplied:
		return "success"
	case models.StatusPending:
		return "warning"
	default:
		return "info"
	}
}

// reasonLabel describes why a message was flagged.
func reasonLabel(reason models.Reason) string {
	switch reason {
	case models.ReasonAutoHook:
		return "flagged automatically"
	case models.ReasonAction:
		return "flagged by a bot action"
	case models.ReasonManual:
		return "flagged manually"
	case models.ReasonThumbsDown:
		return "user gave a thumbs down"
	case models.ReasonBelowThreshold:
		return "NLU confidence below threshold"
	default:
		return string(reason)
	}
}

// FormatFlagged formats a newly flagged message.
func FormatFlagged(c misunderstood.Change) FormattedEvent {
	severity := "warning"
	if c.Reason == models.ReasonThumbsDown {
		severity = "error"
	}

	var body []string
	if p := strings.TrimSpace(misunderstood.StripMarkup(c.Preview)); p != "" {
		body = append(body, "> "+truncate(p, previewLimit))
	}
	body = append(body, reasonLabel(c.Reason))

	return FormattedEvent{
		Title:    fmt.Sprintf("New flag #%d for %s", c.ID, c.BotID),
		Body:     strings.Join(body, "\n"),
		Severity: severity,
		Color:    severityColor(severity),
		Fields: []Field{
			{Name: "Bot", Value: c.BotID, Short: true},
			{Name: "Reason", Value: string(c.Reason), Short: true},
		},
	}
}

// FormatStatusChange formats a status update.
func FormatStatusChange(c misunderstood.Change) FormattedEvent {
	severity := statusSeverity(c.Status)
	return FormattedEvent{
		Title:    fmt.Sprintf("Flag #%d %s", c.ID, statusVerb(c.Status)),
		Severity: severity,
		Color:    severityColor(severity),
		Fields: []Field{
			{Name: "Bot", Value: c.BotID, Short: true},
			{Name: "Status", Value: string(c.Status), Short: true},
		},
	}
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
