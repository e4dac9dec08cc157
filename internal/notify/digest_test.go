package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/misunderstood/internal/config"
	"github.com/zulandar/misunderstood/internal/misunderstood"
	"github.com/zulandar/misunderstood/internal/models"
)

type fakeCounter struct {
	counts map[string]map[models.Status]int // key: bot/lang
	err    error
}

func (f fakeCounter) CountEvents(_ context.Context, botID, language string, _ misunderstood.DateRange) (map[models.Status]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.counts[botID+"/"+language], nil
}

var digestNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func TestBuildDigest(t *testing.T) {
	counter := fakeCounter{counts: map[string]map[models.Status]int{
		"b1/en": {models.StatusNew: 3, models.StatusPending: 1, models.StatusResolved: 5},
		"b1/fr": {models.StatusApplied: 2},
	}}
	scopes := []config.ScopeConfig{{BotID: "b1", Language: "en"}, {BotID: "b1", Language: "fr"}, {BotID: "b2", Language: "en"}}

	report, err := BuildDigest(context.Background(), counter, scopes, digestNow)
	if err != nil {
		t.Fatalf("BuildDigest: %v", err)
	}
	if report == nil {
		t.Fatal("expected report")
	}
	if len(report.Scopes) != 3 {
		t.Fatalf("scopes = %d, want 3", len(report.Scopes))
	}
	if got := report.Open(); got != 4 {
		t.Errorf("Open = %d, want 4", got)
	}
	if got := report.Scopes[0].Total(); got != 9 {
		t.Errorf("Scopes[0].Total = %d, want 9", got)
	}

	ev := FormatDigest(report)
	if ev.Title != "Misunderstood Digest" {
		t.Errorf("Title = %q", ev.Title)
	}
	for _, want := range []string{"b1 (en): 3 new, 1 pending, 5 resolved", "b1 (fr): 2 applied", "b2 (en): no flags"} {
		if !strings.Contains(ev.Body, want) {
			t.Errorf("Body missing %q:\n%s", want, ev.Body)
		}
	}
	if ev.Severity != "warning" {
		t.Errorf("Severity = %q, want warning", ev.Severity)
	}
}

func TestBuildDigest_EmptySuppressed(t *testing.T) {
	report, err := BuildDigest(context.Background(), fakeCounter{}, []config.ScopeConfig{{BotID: "b1", Language: "en"}}, digestNow)
	if err != nil {
		t.Fatalf("BuildDigest: %v", err)
	}
	if report != nil {
		t.Errorf("report = %+v, want nil", report)
	}
}

func TestBuildDigest_Error(t *testing.T) {
	_, err := BuildDigest(context.Background(), fakeCounter{err: errors.New("db down")}, []config.ScopeConfig{{BotID: "b1", Language: "en"}}, digestNow)
	if err == nil || !strings.Contains(err.Error(), "notify: digest b1/en") {
		t.Errorf("err = %v", err)
	}
}

func TestSendDigest(t *testing.T) {
	n, adapter := newTestNotifier(t, NotifierOpts{ChannelID: "C9"})
	counter := fakeCounter{counts: map[string]map[models.Status]int{"b1/en": {models.StatusNew: 1}}}
	scopes := []config.ScopeConfig{{BotID: "b1", Language: "en"}}

	sent, err := SendDigest(context.Background(), n, counter, scopes, digestNow)
	if err != nil {
		t.Fatalf("SendDigest: %v", err)
	}
	if !sent {
		t.Fatal("sent = false, want true")
	}
	msg, ok := adapter.LastSent()
	if !ok || msg.ChannelID != "C9" || msg.Events[0].Title != "Misunderstood Digest" {
		t.Errorf("last sent = %+v", msg)
	}

	sent, err = SendDigest(context.Background(), n, fakeCounter{}, scopes, digestNow)
	if err != nil {
		t.Fatalf("SendDigest empty: %v", err)
	}
	if sent {
		t.Error("empty digest should be suppressed")
	}
	if adapter.SentCount() != 1 {
		t.Errorf("SentCount = %d, want 1", adapter.SentCount())
	}
}

func TestRunDigestScheduler_DisabledReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		RunDigestScheduler(context.Background(), DigestOpts{Config: config.DigestConfig{Enabled: false, Cron: "0 9 * * *"}})
		RunDigestScheduler(context.Background(), DigestOpts{Config: config.DigestConfig{Enabled: true, Cron: "bogus"}})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunDigestScheduler did not return")
	}
}

func TestRunDigestScheduler_StopsOnCancel(t *testing.T) {
	n, _ := newTestNotifier(t, NotifierOpts{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunDigestScheduler(ctx, DigestOpts{
			Notifier: n,
			Counter:  fakeCounter{},
			Config:   config.DigestConfig{Enabled: true, Cron: "0 0 1 1 *"},
		})
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunDigestScheduler did not stop")
	}
}
