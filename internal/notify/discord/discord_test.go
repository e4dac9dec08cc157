package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/misunderstood/internal/misunderstood"
	"github.com/zulandar/misunderstood/internal/models"
	"github.com/zulandar/misunderstood/internal/notify"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// --- Mock Discord session ---

type mockSession struct {
	mu           sync.Mutex
	opened       bool
	closeCalled  int
	openErr      error
	closeErr     error
	sentMessages []sentMessage
	sendErrs     []error // returned in order, one per call
}

type sentMessage struct {
	channelID string
	data      *discordgo.MessageSend
}

func (m *mockSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	return nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled++
	return m.closeErr
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.sentMessages = append(m.sentMessages, sentMessage{channelID: channelID, data: data})
	return &discordgo.Message{ID: "msg-123"}, nil
}

func (m *mockSession) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sentMessages)
}

func (m *mockSession) lastSent() sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sentMessages[len(m.sentMessages)-1]
}

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"}}
}

// --- Helper to create a connected adapter ---

func newTestAdapter(t *testing.T) (*Adapter, *mockSession) {
	t.Helper()
	sess := &mockSession{}

	a, err := New(AdapterOpts{
		Session:   sess,
		ChannelID: "C_DEFAULT",
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	a.baseBackoff = time.Millisecond
	a.maxBackoff = 10 * time.Millisecond
	return a, sess
}

// --- New / Connect / Close ---

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(AdapterOpts{})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
	if !strings.Contains(err.Error(), "bot token") {
		t.Errorf("error = %q, want to mention bot token", err.Error())
	}
}

func TestNew_WithBotToken(t *testing.T) {
	a, err := New(AdapterOpts{BotToken: "test-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.sess != nil {
		t.Error("session should be created lazily on Connect")
	}
}

func TestConnect_OpensSession(t *testing.T) {
	_, sess := newTestAdapter(t)
	if !sess.opened {
		t.Error("expected session to be opened")
	}
}

func TestConnect_OpenError(t *testing.T) {
	sess := &mockSession{openErr: fmt.Errorf("gateway error")}
	a, _ := New(AdapterOpts{Session: sess})

	err := a.Connect(context.Background())
	if err == nil {
		t.Fatal("expected open error")
	}
	if !strings.Contains(err.Error(), "open gateway") {
		t.Errorf("error = %q, want open gateway error", err.Error())
	}
}

func TestConnect_AlreadyClosed(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.Close()
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected error for closed adapter")
	}
}

func TestConnect_Idempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("second connect should not error: %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, sess := newTestAdapter(t)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if sess.closeCalled != 1 {
		t.Errorf("session closed %d times, want 1", sess.closeCalled)
	}
}

func TestClose_NeverConnected(t *testing.T) {
	sess := &mockSession{}
	a, _ := New(AdapterOpts{Session: sess})
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sess.closeCalled != 0 {
		t.Errorf("unopened session closed %d times", sess.closeCalled)
	}
}

// --- Send ---

func TestSend_EventsAsEmbeds(t *testing.T) {
	a, sess := newTestAdapter(t)

	err := a.Send(context.Background(), notify.OutboundMessage{
		ChannelID: "C_FLAGS",
		Events: []notify.FormattedEvent{
			notify.FormatFlagged(misunderstood.Change{
				BotID:   "b1",
				Op:      misunderstood.OpAdd,
				ID:      7,
				Reason:  models.ReasonThumbsDown,
				Preview: "<b>cancel</b> my order",
			}),
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	sent := sess.lastSent()
	if sent.channelID != "C_FLAGS" {
		t.Errorf("channel = %q, want %q", sent.channelID, "C_FLAGS")
	}
	if len(sent.data.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(sent.data.Embeds))
	}
	embed := sent.data.Embeds[0]
	if embed.Title != "New flag #7 for b1" {
		t.Errorf("Title = %q", embed.Title)
	}
	if embed.Color == 0 {
		t.Error("expected embed color to be set")
	}
}

func TestSend_DefaultChannel(t *testing.T) {
	a, sess := newTestAdapter(t)
	if err := a.Send(context.Background(), notify.OutboundMessage{Text: "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := sess.lastSent().channelID; got != "C_DEFAULT" {
		t.Errorf("channel = %q, want C_DEFAULT", got)
	}
	if got := sess.lastSent().data.Content; got != "hello" {
		t.Errorf("Content = %q, want hello", got)
	}
}

func TestSend_ThreadIDWins(t *testing.T) {
	a, sess := newTestAdapter(t)
	err := a.Send(context.Background(), notify.OutboundMessage{ChannelID: "C1", ThreadID: "T1", Text: "x"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := sess.lastSent().channelID; got != "T1" {
		t.Errorf("channel = %q, want T1", got)
	}
}

func TestSend_NoChannel(t *testing.T) {
	sess := &mockSession{}
	a, _ := New(AdapterOpts{Session: sess})
	a.Connect(context.Background())

	err := a.Send(context.Background(), notify.OutboundMessage{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "no channel") {
		t.Errorf("error = %v, want no channel", err)
	}
}

func TestSend_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Session: &mockSession{}, ChannelID: "C"})
	err := a.Send(context.Background(), notify.OutboundMessage{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Errorf("error = %v, want not connected", err)
	}
}

func TestSend_RetriesRateLimit(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.sendErrs = []error{rateLimited(), rateLimited()}

	if err := a.Send(context.Background(), notify.OutboundMessage{Text: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sess.sentCount() != 1 {
		t.Errorf("sent = %d, want 1", sess.sentCount())
	}
}

func TestSend_PostError(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.sendErrs = []error{errors.New("missing access")}

	err := a.Send(context.Background(), notify.OutboundMessage{Text: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "discord: send message") {
		t.Errorf("error = %q", err.Error())
	}
}

// --- Formatting ---

func TestBuildMessageSend_TextOnly(t *testing.T) {
	data := buildMessageSend(notify.OutboundMessage{Text: "plain"})
	if data.Content != "plain" {
		t.Errorf("Content = %q, want plain", data.Content)
	}
	if len(data.Embeds) != 0 {
		t.Errorf("embeds = %d, want 0", len(data.Embeds))
	}
}

func TestEventToEmbed(t *testing.T) {
	embed := eventToEmbed(notify.FormattedEvent{
		Title: "Flag #1 resolved",
		Body:  "done",
		Color: "#36a64f",
		Fields: []notify.Field{
			{Name: "Bot", Value: "b1", Short: true},
			{Name: "Status", Value: "resolved"},
		},
	})
	if embed.Title != "Flag #1 resolved" || embed.Description != "done" {
		t.Errorf("embed = %+v", embed)
	}
	if embed.Color != 0x36a64f {
		t.Errorf("Color = %#x, want 0x36a64f", embed.Color)
	}
	if len(embed.Fields) != 2 {
		t.Fatalf("fields = %d, want 2", len(embed.Fields))
	}
	if !embed.Fields[0].Inline || embed.Fields[1].Inline {
		t.Errorf("Inline = %v/%v, want true/false", embed.Fields[0].Inline, embed.Fields[1].Inline)
	}
}

func TestEventToEmbed_NoColor(t *testing.T) {
	if embed := eventToEmbed(notify.FormattedEvent{Title: "x"}); embed.Color != 0 {
		t.Errorf("Color = %d, want 0", embed.Color)
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"#36a64f", 0x36a64f},
		{"36a64f", 0x36a64f},
		{"#ffffff", 0xffffff},
		{"#000000", 0x000000},
		{"#FF0000", 0xff0000},
		{"#fff", 0xfff},
		{"#zz12", 0x12},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseHexColor(tt.input); got != tt.want {
			t.Errorf("parseHexColor(%q) = %#x, want %#x", tt.input, got, tt.want)
		}
	}
}

// --- retryOnRateLimit ---

func TestRetryOnRateLimit_NonRateLimitError(t *testing.T) {
	a, _ := newTestAdapter(t)
	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden, Status: "403 Forbidden"}}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("should not retry non-rate-limit errors, calls = %d", calls)
	}
}

func TestRetryOnRateLimit_ExhaustsRetries(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	a, _ := newTestAdapter(t)
	a.log = zap.New(core)

	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		return rateLimited()
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != maxRetries+1 {
		t.Errorf("expected %d calls, got %d", maxRetries+1, calls)
	}
	if logs.Len() != maxRetries {
		t.Errorf("warnings = %d, want %d", logs.Len(), maxRetries)
	}
}

func TestRetryOnRateLimit_RespectsContext(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.baseBackoff = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := a.retryOnRateLimit(ctx, func() error {
		calls++
		return rateLimited()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before context cancel, got %d", calls)
	}
}
