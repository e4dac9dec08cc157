package notify

import (
	"strings"
	"testing"

	"github.com/zulandar/misunderstood/internal/misunderstood"
	"github.com/zulandar/misunderstood/internal/models"
)

func TestSeverityColor(t *testing.T) {
	tests := map[string]string{
		"success": ColorSuccess,
		"info":    ColorInfo,
		"warning": ColorWarning,
		"error":   ColorError,
		"other":   ColorInfo,
	}
	for sev, want := range tests {
		if got := severityColor(sev); got != want {
			t.Errorf("severityColor(%q) = %q, want %q", sev, got, want)
		}
	}
}

func TestFormatFlagged(t *testing.T) {
	ev := FormatFlagged(misunderstood.Change{
		ID:      42,
		BotID:   "support",
		Reason:  models.ReasonBelowThreshold,
		Preview: "<b>where is</b> my order",
	})

	if ev.Title != "New flag #42 for support" {
		t.Errorf("Title = %q", ev.Title)
	}
	if !strings.Contains(ev.Body, "> where is my order") {
		t.Errorf("Body = %q, want stripped quote", ev.Body)
	}
	if !strings.Contains(ev.Body, "NLU confidence below threshold") {
		t.Errorf("Body = %q, want reason label", ev.Body)
	}
	if ev.Severity != "warning" || ev.Color != ColorWarning {
		t.Errorf("Severity/Color = %q/%q", ev.Severity, ev.Color)
	}
	if len(ev.Fields) != 2 || ev.Fields[1].Value != "below_threshold" {
		t.Errorf("Fields = %+v", ev.Fields)
	}
}

func TestFormatFlagged_ThumbsDownIsError(t *testing.T) {
	ev := FormatFlagged(misunderstood.Change{ID: 1, BotID: "b", Reason: models.ReasonThumbsDown})
	if ev.Severity != "error" {
		t.Errorf("Severity = %q, want error", ev.Severity)
	}
	if strings.Contains(ev.Body, ">") {
		t.Errorf("Body = %q, want no quote for empty preview", ev.Body)
	}
}

func TestFormatStatusChange(t *testing.T) {
	tests := []struct {
		status   models.Status
		title    string
		severity string
	}{
		{models.StatusNew, "Flag #3 reopened", "info"},
		{models.StatusPending, "Flag #3 queued for resolution", "warning"},
		{models.StatusResolved, "Flag #3 resolved", "success"},
		{models.StatusApplied, "Flag #3 applied", "success"},
		{models.StatusDeleted, "Flag #3 deleted", "info"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			ev := FormatStatusChange(misunderstood.Change{ID: 3, BotID: "b", Status: tt.status})
			if ev.Title != tt.title {
				t.Errorf("Title = %q, want %q", ev.Title, tt.title)
			}
			if ev.Severity != tt.severity {
				t.Errorf("Severity = %q, want %q", ev.Severity, tt.severity)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	got := truncate("héllo wörld", 5)
	if got != "héll…" {
		t.Errorf("truncate = %q, want %q", got, "héll…")
	}
}
