package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/misunderstood/internal/config"
	"github.com/zulandar/misunderstood/internal/misunderstood"
	"github.com/zulandar/misunderstood/internal/models"
	"go.uber.org/zap"
)

// Counter is the part of the store a digest reads.
type Counter interface {
	CountEvents(ctx context.Context, botID, language string, rng misunderstood.DateRange) (map[models.Status]int, error)
}

// ScopeDigest holds per-status counts for one {bot, language} scope.
type ScopeDigest struct {
	BotID    string
	Language string
	Counts   map[models.Status]int
}

// Open returns the flags still awaiting review (new and pending).
func (s ScopeDigest) Open() int {
	return s.Counts[models.StatusNew] + s.Counts[models.StatusPending]
}

// Total returns the number of flags in the scope.
func (s ScopeDigest) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// DigestReport is a snapshot of the review backlog.
type DigestReport struct {
	GeneratedAt time.Time
	Scopes      []ScopeDigest
}

// Open returns the open flags across all scopes.
func (r *DigestReport) Open() int {
	n := 0
	for _, s := range r.Scopes {
		n += s.Open()
	}
	return n
}

// BuildDigest counts flags for every scope. It returns nil when no scope
// has any flag.
func BuildDigest(ctx context.Context, counter Counter, scopes []config.ScopeConfig, now time.Time) (*DigestReport, error) {
	report := &DigestReport{GeneratedAt: now}
	total := 0
	for _, sc := range scopes {
		counts, err := counter.CountEvents(ctx, sc.BotID, sc.Language, misunderstood.DateRange{})
		if err != nil {
			return nil, fmt.Errorf("notify: digest %s/%s: %w", sc.BotID, sc.Language, err)
		}
		sd := ScopeDigest{BotID: sc.BotID, Language: sc.Language, Counts: counts}
		total += sd.Total()
		report.Scopes = append(report.Scopes, sd)
	}
	if total == 0 {
		return nil, nil
	}
	return report, nil
}

// FormatDigest formats a digest report as a FormattedEvent.
func FormatDigest(report *DigestReport) FormattedEvent {
	var lines []string
	lines = append(lines, fmt.Sprintf("**As of**: %s", report.GeneratedAt.Format("Jan 2 15:04 MST")))
	for _, s := range report.Scopes {
		var parts []string
		for _, st := range models.Statuses {
			if n := s.Counts[st]; n > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", n, st))
			}
		}
		if len(parts) == 0 {
			parts = append(parts, "no flags")
		}
		lines = append(lines, fmt.Sprintf("  %s (%s): %s", s.BotID, s.Language, strings.Join(parts, ", ")))
	}

	severity := "info"
	if report.Open() > 0 {
		severity = "warning"
	}
	return FormattedEvent{
		Title:    "Misunderstood Digest",
		Body:     strings.Join(lines, "\n"),
		Severity: severity,
		Color:    severityColor(severity),
		Fields: []Field{
			{Name: "Open", Value: fmt.Sprintf("%d", report.Open()), Short: true},
			{Name: "Scopes", Value: fmt.Sprintf("%d", len(report.Scopes)), Short: true},
		},
	}
}

// SendDigest builds a digest and posts it through n. It reports whether a
// message was sent; empty digests are suppressed.
func SendDigest(ctx context.Context, n *Notifier, counter Counter, scopes []config.ScopeConfig, now time.Time) (bool, error) {
	report, err := BuildDigest(ctx, counter, scopes, now)
	if err != nil {
		return false, err
	}
	if report == nil {
		return false, nil
	}
	if err := n.Send(ctx, FormatDigest(report)); err != nil {
		return false, fmt.Errorf("notify: send digest: %w", err)
	}
	return true, nil
}

// DigestOpts holds parameters for RunDigestScheduler.
type DigestOpts struct {
	Notifier *Notifier
	Counter  Counter
	Config   config.DigestConfig
	Logger   *zap.Logger
}

// RunDigestScheduler posts a digest on the configured cron schedule until
// ctx is cancelled. It returns immediately if the digest is disabled or the
// schedule cannot be parsed.
func RunDigestScheduler(ctx context.Context, opts DigestOpts) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := opts.Config
	if !cfg.Enabled || cfg.Cron == "" {
		return
	}

	d := nextCronDuration(cfg.Cron, time.Now())
	if d <= 0 {
		log.Warn("digest disabled: bad cron expression", zap.String("cron", cfg.Cron))
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-timer.C:
			sent, err := SendDigest(ctx, opts.Notifier, opts.Counter, cfg.Scopes, now)
			if err != nil {
				log.Error("digest", zap.Error(err))
			} else if !sent {
				log.Debug("digest suppressed: no flags")
			}
			if d := nextCronDuration(cfg.Cron, time.Now()); d > 0 {
				timer.Reset(d)
			}
		}
	}
}
