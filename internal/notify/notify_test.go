package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"scalper/pkg/utils"
)

type recordSink struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (s *recordSink) Name() string { return "record" }

func (s *recordSink) Deliver(_ context.Context, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *recordSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func TestDispatcher_DeliversToAllSinks(t *testing.T) {
	a := &recordSink{}
	b := &recordSink{err: errors.New("boom")}
	d := NewDispatcher(10, utils.NewNopLogger(), a, b)

	d.Send("first")
	d.Send("second")
	d.Send("") // пустые сообщения игнорируются

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for len(a.Messages()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-d.Done()

	if got := a.Messages(); len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("sink a got %v", got)
	}
	// ошибка одного sink не мешает остальным
	if got := b.Messages(); len(got) != 2 {
		t.Errorf("sink b got %v", got)
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(2, utils.NewNopLogger())
	before := testutil.ToFloat64(Dropped)

	if !d.tryEnqueue("a") || !d.tryEnqueue("b") {
		t.Fatal("first two messages must be enqueued")
	}
	if d.tryEnqueue("c") {
		t.Error("third message must be dropped")
	}

	if got := testutil.ToFloat64(Dropped) - before; got != 1 {
		t.Errorf("dropped counter delta = %v, want 1", got)
	}
}

func TestDispatcher_DrainOnShutdown(t *testing.T) {
	sink := &recordSink{}
	d := NewDispatcher(10, utils.NewNopLogger(), sink)
	d.Send("pending")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	if got := sink.Messages(); len(got) != 1 || got[0] != "pending" {
		t.Errorf("queued message must be delivered on shutdown, got %v", got)
	}
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	n.Send("ignored")
}

// ============ Telegram ============

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func TestTelegramSink_Deliver(t *testing.T) {
	bot := &fakeBot{}
	sink := newTelegramSink(bot, 42)

	if err := sink.Deliver(context.Background(), "daily stop reached"); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(bot.sent))
	}
	if bot.sent[0].ChatID != 42 || bot.sent[0].Text != "daily stop reached" {
		t.Errorf("unexpected message %+v", bot.sent[0])
	}

	bot.err = errors.New("forbidden")
	if err := sink.Deliver(context.Background(), "x"); err == nil {
		t.Error("expected send error")
	}
}

func TestNewTelegramSink_RequiresCredentials(t *testing.T) {
	if _, err := NewTelegramSink("", 1); err == nil {
		t.Error("empty token must fail")
	}
	if _, err := NewTelegramSink("token", 0); err == nil {
		t.Error("zero chat id must fail")
	}
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		limit  int
		chunks int
	}{
		{"empty", "   ", 10, 0},
		{"short", "hello", 10, 1},
		{"split on newline", "aaaaaa\nbbbbbb", 10, 2},
		{"hard split", strings.Repeat("x", 25), 10, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitChunks(tt.text, tt.limit)
			if len(got) != tt.chunks {
				t.Fatalf("got %d chunks %q, want %d", len(got), got, tt.chunks)
			}
			for _, c := range got {
				if len([]rune(c)) > tt.limit {
					t.Errorf("chunk %q longer than %d", c, tt.limit)
				}
			}
		})
	}
}
