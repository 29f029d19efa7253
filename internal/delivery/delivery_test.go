package delivery_test

import (
	"testing"
	"time"

	"github.com/0xPD33/sonori-platform/internal/delivery"
	"github.com/0xPD33/sonori-platform/internal/transcription"
)

func TestPublish_DeliversToSubscriber(t *testing.T) {
	b := delivery.New(10)
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(transcription.Message{Text: "hello"})

	select {
	case msg := <-ch:
		if msg.Text != "hello" {
			t.Errorf("Text = %q, want %q", msg.Text, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestPublish_NoSubscribers_DoesNotBlock(t *testing.T) {
	b := delivery.New(10)
	done := make(chan struct{})
	go func() {
		b.Publish(transcription.Message{Text: "unheard"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no subscribers")
	}
}

func TestPublish_SlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	b := delivery.New(0)
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	// Fill the subscriber's buffer without draining it, then publish one
	// more than capacity fits — Publish must not block on the full channel.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(transcription.Message{Text: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
	_ = ch
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := delivery.New(10)
	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	select {
	case _, open := <-ch:
		if open {
			t.Error("channel should be closed after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestHistory_CapsAtMaxAndKeepsMostRecent(t *testing.T) {
	b := delivery.New(3)
	for i := 0; i < 5; i++ {
		b.Publish(transcription.Message{Text: string(rune('a' + i))})
	}

	hist := b.History()
	if len(hist) != 3 {
		t.Fatalf("History() len = %d, want 3", len(hist))
	}
	want := []string{"c", "d", "e"}
	for i, e := range hist {
		if e.Message.Text != want[i] {
			t.Errorf("History()[%d].Text = %q, want %q", i, e.Message.Text, want[i])
		}
	}
}

func TestHistory_DisabledWhenMaxHistoryZero(t *testing.T) {
	b := delivery.New(0)
	b.Publish(transcription.Message{Text: "ignored"})

	if hist := b.History(); len(hist) != 0 {
		t.Errorf("History() len = %d, want 0 when history disabled", len(hist))
	}
}

func TestRecent_JoinsWithinWindow(t *testing.T) {
	b := delivery.New(10)
	b.Publish(transcription.Message{Text: "one"})
	b.Publish(transcription.Message{Text: "two"})

	got := b.Recent(time.Minute)
	if got != "one two" {
		t.Errorf("Recent() = %q, want %q", got, "one two")
	}
}

func TestRecent_ExcludesOlderThanWindow(t *testing.T) {
	b := delivery.New(10)
	b.Publish(transcription.Message{Text: "stale"})

	if got := b.Recent(-time.Second); got != "" {
		t.Errorf("Recent() = %q, want empty for a window that excludes everything", got)
	}
}
